package artifact

import (
	"fmt"
	"path/filepath"
	"strings"
)

// CodeRef is a parsed code reference of the form
//
//	[org/repo::]file[#symbol[::symbol...]]
//
// Project is empty for references into the local repository.
type CodeRef struct {
	Project string
	File    string
	Symbols []string
}

// ParseCodeRef parses the reference grammar. The symbol path, when present,
// follows the first '#'; nested symbols are joined with '::'.
func ParseCodeRef(ref string) (CodeRef, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return CodeRef{}, fmt.Errorf("empty code reference")
	}

	var out CodeRef
	location := ref
	if idx := strings.Index(ref, "#"); idx >= 0 {
		location = ref[:idx]
		symbolPath := ref[idx+1:]
		if symbolPath == "" {
			return CodeRef{}, fmt.Errorf("code reference %q has empty symbol path", ref)
		}
		out.Symbols = strings.Split(symbolPath, "::")
		for _, s := range out.Symbols {
			if s == "" {
				return CodeRef{}, fmt.Errorf("code reference %q has empty symbol segment", ref)
			}
		}
	}

	if idx := strings.Index(location, "::"); idx >= 0 {
		out.Project = location[:idx]
		out.File = location[idx+2:]
		if out.Project == "" || !strings.Contains(out.Project, "/") {
			return CodeRef{}, fmt.Errorf("code reference %q has malformed project qualifier", ref)
		}
	} else {
		out.File = location
	}

	if out.File == "" {
		return CodeRef{}, fmt.Errorf("code reference %q has no file path", ref)
	}
	return out, nil
}

// String reassembles the canonical reference text.
func (r CodeRef) String() string {
	var b strings.Builder
	if r.Project != "" {
		b.WriteString(r.Project)
		b.WriteString("::")
	}
	b.WriteString(r.File)
	if len(r.Symbols) > 0 {
		b.WriteString("#")
		b.WriteString(strings.Join(r.Symbols, "::"))
	}
	return b.String()
}

// FileKey normalises the reference to a comparable file identity. Local
// references resolve against repoRoot; project-qualified references resolve
// against projectRoots when the project is known, and otherwise keep the
// project qualifier so refs into distinct repositories never collide.
func (r CodeRef) FileKey(repoRoot string, projectRoots map[string]string) string {
	if r.Project == "" {
		return filepath.Clean(filepath.Join(repoRoot, r.File))
	}
	if root, ok := projectRoots[r.Project]; ok {
		return filepath.Clean(filepath.Join(root, r.File))
	}
	return r.Project + "::" + filepath.Clean(r.File)
}

// SymbolsOverlap reports whether two symbol paths on the same file conflict:
// either names the whole file (no symbols), or one path equals or is a
// '::'-prefix of the other.
func SymbolsOverlap(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	for i, s := range shorter {
		if longer[i] != s {
			return false
		}
	}
	return true
}
