package artifact

import (
	"fmt"
	"os"
	"path/filepath"
)

// Meta is the minimal frontmatter slice the causal index needs from any
// artifact: identity, status, and causal parents. External references carry
// their created_after from external.yaml and are always tip-eligible.
type Meta struct {
	Name         string
	Type         Type
	Status       string
	CreatedAfter []string
	External     bool
}

// LoadMeta reads the causal metadata for one artifact directory. External
// references take precedence over a main file when both exist.
func LoadMeta(repoRoot string, t Type, name string) (*Meta, error) {
	if IsExternal(repoRoot, t, name) {
		ref, err := LoadExternalRef(repoRoot, t, name)
		if err != nil {
			return nil, err
		}
		return &Meta{
			Name:         name,
			Type:         t,
			CreatedAfter: ref.CreatedAfter,
			External:     true,
		}, nil
	}

	path := filepath.Join(repoRoot, t.Dir(), name, t.MainFile())
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := ParseDoc(content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &Meta{
		Name:         name,
		Type:         t,
		Status:       doc.GetString("status"),
		CreatedAfter: doc.GetStringList("created_after"),
	}, nil
}

// Eligible reports whether the artifact passes tip eligibility.
func (m *Meta) Eligible() bool {
	if m.External {
		return true
	}
	return TipEligible(m.Type, m.Status)
}
