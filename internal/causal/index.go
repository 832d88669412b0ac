// Package causal maintains the topological ordering of workflow artifacts by
// their created_after edges, with status-aware tip selection. The ordering is
// persisted as a single JSON document at the repository root and invalidated
// by directory-membership changes only: created_after is immutable once
// written, so content edits never stale the index.
package causal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/vesys/ve/internal/artifact"
	"github.com/vesys/ve/internal/common/logger"
)

// IndexFile is the persisted index document, relative to the repo root.
const IndexFile = ".artifact-order.json"

// typeIndex is the persisted state for one artifact type.
type typeIndex struct {
	Ordered     []string `json:"ordered"`
	Tips        []string `json:"tips"`
	Directories []string `json:"directories"`
	Version     int      `json:"version"`
}

// document is the on-disk shape of the whole index.
type document struct {
	Types map[artifact.Type]*typeIndex `json:"types"`
}

// Index answers ordering, tip, and ancestry queries over the artifact DAG.
// Queries rebuild lazily when directory membership changed since the last
// persist.
type Index struct {
	repoRoot string
	path     string
	log      *logger.Logger

	mu      sync.Mutex
	types   map[artifact.Type]*typeIndex
	parents map[artifact.Type]map[string][]string
}

// NewIndex loads the persisted index if present.
func NewIndex(repoRoot string, log *logger.Logger) *Index {
	idx := &Index{
		repoRoot: repoRoot,
		path:     filepath.Join(repoRoot, IndexFile),
		log:      log.WithFields(zap.String("component", "causal-index")),
		types:    make(map[artifact.Type]*typeIndex),
		parents:  make(map[artifact.Type]map[string][]string),
	}
	idx.load()
	return idx
}

func (idx *Index) load() {
	content, err := os.ReadFile(idx.path)
	if err != nil {
		return
	}
	var doc document
	if err := json.Unmarshal(content, &doc); err != nil {
		idx.log.Warn("Discarding unreadable artifact index", zap.Error(err))
		return
	}
	if doc.Types != nil {
		idx.types = doc.Types
	}
}

// persist writes the index atomically via a temp file rename.
func (idx *Index) persist() error {
	doc := document{Types: idx.types}
	content, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(idx.path), ".artifact-order-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(content, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), idx.path)
}

// GetOrdered returns the topological order for a type, rebuilding when stale.
func (idx *Index) GetOrdered(t artifact.Type) ([]string, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	ti, err := idx.refresh(t)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), ti.Ordered...), nil
}

// FindTips returns the current tips for a type: tip-eligible artifacts that
// no other artifact lists in its created_after.
func (idx *Index) FindTips(t artifact.Type) ([]string, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	ti, err := idx.refresh(t)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), ti.Tips...), nil
}

// GetAncestors returns the transitive created_after closure of one artifact.
func (idx *Index) GetAncestors(t artifact.Type, name string) (map[string]bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, err := idx.refresh(t); err != nil {
		return nil, err
	}

	parents := idx.parents[t]
	ancestors := make(map[string]bool)
	queue := append([]string(nil), parents[name]...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if ancestors[cur] {
			continue
		}
		if _, known := parents[cur]; !known {
			// parent referenced but deleted from the repository
			continue
		}
		ancestors[cur] = true
		queue = append(queue, parents[cur]...)
	}
	return ancestors, nil
}

// Rebuild forces a rebuild for every artifact type.
func (idx *Index) Rebuild() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, t := range artifact.Types {
		if err := idx.rebuildType(t); err != nil {
			return err
		}
	}
	return idx.persist()
}

// refresh returns the type index, rebuilding and persisting when the
// directory listing diverged from the stored snapshot or edges were never
// loaded this process.
func (idx *Index) refresh(t artifact.Type) (*typeIndex, error) {
	names, err := idx.listDir(t)
	if err != nil {
		return nil, err
	}

	ti, ok := idx.types[t]
	if ok && equalStrings(ti.Directories, names) {
		if _, loaded := idx.parents[t]; loaded {
			return ti, nil
		}
		// fresh on disk but edges not in memory yet
		if err := idx.loadParents(t, names); err != nil {
			return nil, err
		}
		return ti, nil
	}

	if err := idx.rebuildType(t); err != nil {
		return nil, err
	}
	if err := idx.persist(); err != nil {
		return nil, err
	}
	return idx.types[t], nil
}

func (idx *Index) listDir(t artifact.Type) ([]string, error) {
	dir := filepath.Join(idx.repoRoot, t.Dir())
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (idx *Index) loadParents(t artifact.Type, names []string) error {
	parents := make(map[string][]string, len(names))
	for _, name := range names {
		meta, err := artifact.LoadMeta(idx.repoRoot, t, name)
		if err != nil {
			idx.log.Warn("Skipping unreadable artifact",
				zap.String("type", string(t)), zap.String("name", name), zap.Error(err))
			continue
		}
		parents[name] = meta.CreatedAfter
	}
	idx.parents[t] = parents
	return nil
}

func (idx *Index) rebuildType(t artifact.Type) error {
	names, err := idx.listDir(t)
	if err != nil {
		return err
	}

	metas := make(map[string]*artifact.Meta, len(names))
	for _, name := range names {
		meta, err := artifact.LoadMeta(idx.repoRoot, t, name)
		if err != nil {
			idx.log.Warn("Skipping unreadable artifact",
				zap.String("type", string(t)), zap.String("name", name), zap.Error(err))
			continue
		}
		metas[name] = meta
	}

	parents := make(map[string][]string, len(metas))
	for name, meta := range metas {
		parents[name] = meta.CreatedAfter
	}
	idx.parents[t] = parents

	ordered := topoSort(metas)
	tips := findTips(metas)

	prev := idx.types[t]
	version := 1
	if prev != nil {
		version = prev.Version + 1
	}
	idx.types[t] = &typeIndex{
		Ordered:     ordered,
		Tips:        tips,
		Directories: names,
		Version:     version,
	}
	idx.log.Debug("Rebuilt artifact index",
		zap.String("type", string(t)),
		zap.Int("artifacts", len(ordered)),
		zap.Int("tips", len(tips)),
		zap.Int("version", version))
	return nil
}

// topoSort orders artifacts so every created_after parent precedes its
// children, breaking ties lexicographically. Parents missing from the
// repository are skipped. When no artifact has any causal edge the order is
// the sorted directory listing.
func topoSort(metas map[string]*artifact.Meta) []string {
	names := make([]string, 0, len(metas))
	anyEdges := false
	for name, meta := range metas {
		names = append(names, name)
		if len(meta.CreatedAfter) > 0 {
			anyEdges = true
		}
	}
	sort.Strings(names)
	if !anyEdges {
		return names
	}

	indegree := make(map[string]int, len(metas))
	children := make(map[string][]string, len(metas))
	for _, name := range names {
		indegree[name] = 0
	}
	for _, name := range names {
		for _, parent := range metas[name].CreatedAfter {
			if _, ok := metas[parent]; !ok {
				continue
			}
			indegree[name]++
			children[parent] = append(children[parent], name)
		}
	}

	var ready []string
	for _, name := range names {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	ordered := make([]string, 0, len(names))
	for len(ready) > 0 {
		sort.Strings(ready)
		cur := ready[0]
		ready = ready[1:]
		ordered = append(ordered, cur)
		for _, child := range children[cur] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}

	// a created_after cycle leaves nodes behind; append them so every
	// artifact still appears in the ordering
	if len(ordered) < len(names) {
		seen := make(map[string]bool, len(ordered))
		for _, name := range ordered {
			seen[name] = true
		}
		for _, name := range names {
			if !seen[name] {
				ordered = append(ordered, name)
			}
		}
	}
	return ordered
}

func findTips(metas map[string]*artifact.Meta) []string {
	referenced := make(map[string]bool)
	for _, meta := range metas {
		for _, parent := range meta.CreatedAfter {
			referenced[parent] = true
		}
	}

	var tips []string
	for name, meta := range metas {
		if referenced[name] {
			continue
		}
		if meta.Eligible() {
			tips = append(tips, name)
		}
	}
	sort.Strings(tips)
	return tips
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
