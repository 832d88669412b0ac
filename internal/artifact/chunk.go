package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrChunkNotFound indicates the chunk directory or GOAL.md is missing.
var ErrChunkNotFound = errors.New("chunk not found")

// CodeReference is one entry of a chunk's code_references frontmatter.
type CodeReference struct {
	Ref        string `yaml:"ref"`
	Implements string `yaml:"implements"`
	Compliance string `yaml:"compliance,omitempty"`
}

// ChunkGoal is the typed view of a chunk's GOAL.md frontmatter, keeping the
// parsed document so status mutations can be written back without churn.
type ChunkGoal struct {
	Name           string
	Status         ChunkStatus
	CreatedAfter   []string
	CodeReferences []CodeReference
	Ticket         string
	BugType        string
	Subsystems     []string
	Narrative      string
	Investigation  string

	doc  *Doc
	path string
}

// goalFrontmatter mirrors the GOAL.md frontmatter schema for decoding.
type goalFrontmatter struct {
	Status         string          `yaml:"status"`
	CreatedAfter   []string        `yaml:"created_after"`
	CodeReferences []CodeReference `yaml:"code_references"`
	Ticket         string          `yaml:"ticket"`
	BugType        string          `yaml:"bug_type"`
	Subsystems     []string        `yaml:"subsystems"`
	Narrative      string          `yaml:"narrative"`
	Investigation  string          `yaml:"investigation"`
}

// ChunkDir returns the chunk's artifact directory.
func ChunkDir(repoRoot, chunk string) string {
	return filepath.Join(repoRoot, TypeChunk.Dir(), chunk)
}

// GoalPath returns the path of a chunk's GOAL.md.
func GoalPath(repoRoot, chunk string) string {
	return filepath.Join(ChunkDir(repoRoot, chunk), "GOAL.md")
}

// PlanPath returns the path of a chunk's PLAN.md.
func PlanPath(repoRoot, chunk string) string {
	return filepath.Join(ChunkDir(repoRoot, chunk), "PLAN.md")
}

// LoadChunkGoal reads and parses a chunk's GOAL.md.
func LoadChunkGoal(repoRoot, chunk string) (*ChunkGoal, error) {
	path := GoalPath(repoRoot, chunk)
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrChunkNotFound, chunk)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	doc, err := ParseDoc(content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	var fm goalFrontmatter
	if err := doc.Decode(&fm); err != nil {
		return nil, fmt.Errorf("decode %s frontmatter: %w", path, err)
	}

	status := ChunkStatus(fm.Status)
	if !ValidChunkStatus(status) {
		return nil, fmt.Errorf("chunk %s has invalid status %q", chunk, fm.Status)
	}

	return &ChunkGoal{
		Name:           chunk,
		Status:         status,
		CreatedAfter:   fm.CreatedAfter,
		CodeReferences: fm.CodeReferences,
		Ticket:         fm.Ticket,
		BugType:        fm.BugType,
		Subsystems:     fm.Subsystems,
		Narrative:      fm.Narrative,
		Investigation:  fm.Investigation,
		doc:            doc,
		path:           path,
	}, nil
}

// SetStatus transitions the chunk and rewrites GOAL.md. Orchestration callers
// may demote IMPLEMENTING→FUTURE (displacement); all other transitions follow
// the normal status machine.
func (g *ChunkGoal) SetStatus(to ChunkStatus, orchestration bool) error {
	if !ValidChunkStatus(to) {
		return fmt.Errorf("invalid chunk status %q", to)
	}
	if g.Status == to {
		return nil
	}
	if !AllowTransition(g.Status, to, orchestration) {
		return fmt.Errorf("invalid chunk status transition %s -> %s", g.Status, to)
	}

	g.doc.SetString("status", string(to))
	out, err := g.doc.Marshal()
	if err != nil {
		return fmt.Errorf("serialise %s: %w", g.path, err)
	}
	if err := os.WriteFile(g.path, out, 0644); err != nil {
		return fmt.Errorf("write %s: %w", g.path, err)
	}
	g.Status = to
	return nil
}

// ParsedRefs parses all code references, collecting per-ref errors instead of
// failing the whole chunk.
func (g *ChunkGoal) ParsedRefs() ([]CodeRef, []error) {
	refs := make([]CodeRef, 0, len(g.CodeReferences))
	var errs []error
	for _, cr := range g.CodeReferences {
		ref, err := ParseCodeRef(cr.Ref)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		refs = append(refs, ref)
	}
	return refs, errs
}

// HasPlan reports whether PLAN.md exists for the chunk.
func HasPlan(repoRoot, chunk string) bool {
	_, err := os.Stat(PlanPath(repoRoot, chunk))
	return err == nil
}

// HasGoal reports whether GOAL.md exists for the chunk.
func HasGoal(repoRoot, chunk string) bool {
	_, err := os.Stat(GoalPath(repoRoot, chunk))
	return err == nil
}

// PlanPopulated reports whether the chunk's PLAN.md carries a real approach:
// the "## Approach" section contains at least one line that is neither blank
// nor an HTML comment. A missing PLAN.md is unpopulated.
func PlanPopulated(repoRoot, chunk string) bool {
	content, err := os.ReadFile(PlanPath(repoRoot, chunk))
	if err != nil {
		return false
	}

	body := StripFrontmatter(content)
	lines := strings.Split(body, "\n")

	inApproach := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "## ") {
			inApproach = strings.EqualFold(trimmed, "## Approach")
			continue
		}
		if !inApproach || trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "<!--") {
			continue
		}
		return true
	}
	return false
}

// ListChunks returns the sorted directory listing of docs/chunks.
func ListChunks(repoRoot string) ([]string, error) {
	return listArtifactDir(filepath.Join(repoRoot, TypeChunk.Dir()))
}

func listArtifactDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
