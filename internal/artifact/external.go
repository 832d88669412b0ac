package artifact

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ExternalRef is an external.yaml file standing in for an artifact that
// physically lives in another repository.
type ExternalRef struct {
	ArtifactType string   `yaml:"artifact_type"`
	ArtifactID   string   `yaml:"artifact_id"`
	Repo         string   `yaml:"repo"`
	Track        string   `yaml:"track,omitempty"`
	Pinned       string   `yaml:"pinned,omitempty"`
	CreatedAfter []string `yaml:"created_after,omitempty"`
}

// ExternalRefPath returns the external.yaml path inside an artifact directory.
func ExternalRefPath(repoRoot string, t Type, name string) string {
	return filepath.Join(repoRoot, t.Dir(), name, "external.yaml")
}

// IsExternal reports whether the artifact directory is an external reference.
func IsExternal(repoRoot string, t Type, name string) bool {
	_, err := os.Stat(ExternalRefPath(repoRoot, t, name))
	return err == nil
}

// LoadExternalRef reads and validates an external.yaml.
func LoadExternalRef(repoRoot string, t Type, name string) (*ExternalRef, error) {
	path := ExternalRefPath(repoRoot, t, name)
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var ref ExternalRef
	if err := yaml.Unmarshal(content, &ref); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := ref.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &ref, nil
}

// Validate checks the external reference schema.
func (r *ExternalRef) Validate() error {
	if r.ArtifactType == "" {
		return fmt.Errorf("external reference missing artifact_type")
	}
	if r.ArtifactID == "" {
		return fmt.Errorf("external reference missing artifact_id")
	}
	if r.Repo == "" {
		return fmt.Errorf("external reference missing repo")
	}
	if r.Pinned != "" && !ValidSHA(r.Pinned) {
		return fmt.Errorf("external reference pinned %q is not a full commit SHA", r.Pinned)
	}
	return nil
}
