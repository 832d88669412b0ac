// Package conflict classifies chunk pairs as INDEPENDENT, SERIALIZE, or
// ASK_OPERATOR from their code references and causal ancestry. Verdicts are
// cached per canonical pair in the state store and cleared when a chunk
// advances phase.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/vesys/ve/internal/artifact"
	"github.com/vesys/ve/internal/causal"
	"github.com/vesys/ve/internal/common/logger"
	"github.com/vesys/ve/internal/store"
	v1 "github.com/vesys/ve/pkg/api/v1"
)

// Oracle answers conflict queries over chunk pairs.
type Oracle struct {
	repoRoot     string
	index        *causal.Index
	store        store.Store
	projectRoots map[string]string
	logger       *logger.Logger
}

// NewOracle creates an oracle. projectRoots maps org/repo qualifiers of
// cross-repository code references to local checkout paths; it may be nil.
func NewOracle(repoRoot string, index *causal.Index, st store.Store, projectRoots map[string]string, log *logger.Logger) *Oracle {
	return &Oracle{
		repoRoot:     repoRoot,
		index:        index,
		store:        st,
		projectRoots: projectRoots,
		logger:       log.WithFields(zap.String("component", "conflict-oracle")),
	}
}

// chunkRef is one normalised code reference of a chunk.
type chunkRef struct {
	fileKey string
	symbols []string
	display string
}

// Analyze returns the cached verdict for a pair, computing and caching it on
// a miss.
func (o *Oracle) Analyze(ctx context.Context, chunkA, chunkB string) (*v1.ConflictAnalysis, error) {
	a, b := store.CanonicalPair(chunkA, chunkB)

	cached, err := o.store.GetConflict(ctx, a, b)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	analysis, err := o.compute(ctx, a, b)
	if err != nil {
		return nil, err
	}
	if err := o.store.SaveConflict(ctx, analysis); err != nil {
		return nil, err
	}

	o.logger.Debug("Analyzed chunk pair",
		zap.String("chunk_a", a),
		zap.String("chunk_b", b),
		zap.String("verdict", string(analysis.Verdict)))
	return analysis, nil
}

func (o *Oracle) compute(ctx context.Context, a, b string) (*v1.ConflictAnalysis, error) {
	refsA, err := o.loadRefs(a)
	if err != nil {
		return nil, err
	}
	refsB, err := o.loadRefs(b)
	if err != nil {
		return nil, err
	}

	overlaps := overlapPairs(refsA, refsB)
	if len(overlaps) == 0 {
		reason := "no file overlap"
		if sharesFiles(refsA, refsB) {
			reason = "no symbol overlap"
		}
		return &v1.ConflictAnalysis{
			ChunkA: a, ChunkB: b,
			Verdict: v1.VerdictIndependent,
			Reason:  reason,
		}, nil
	}

	related, err := o.causallyRelated(a, b)
	if err != nil {
		return nil, err
	}
	if related {
		return &v1.ConflictAnalysis{
			ChunkA: a, ChunkB: b,
			Verdict: v1.VerdictSerialize,
			Reason:  "causal ancestor",
		}, nil
	}

	return &v1.ConflictAnalysis{
		ChunkA: a, ChunkB: b,
		Verdict: v1.VerdictAskOperator,
		Reason:  "overlapping references: " + strings.Join(overlaps, ", "),
	}, nil
}

// loadRefs parses a chunk's code references. Individual malformed refs are
// skipped with a log; a chunk whose GOAL.md cannot be read at all fails.
func (o *Oracle) loadRefs(chunk string) ([]chunkRef, error) {
	goal, err := artifact.LoadChunkGoal(o.repoRoot, chunk)
	if err != nil {
		return nil, fmt.Errorf("load chunk %s: %w", chunk, err)
	}

	refs, parseErrs := goal.ParsedRefs()
	for _, perr := range parseErrs {
		o.logger.Warn("Skipping malformed code reference",
			zap.String("chunk", chunk), zap.Error(perr))
	}

	out := make([]chunkRef, 0, len(refs))
	for _, r := range refs {
		out = append(out, chunkRef{
			fileKey: r.FileKey(o.repoRoot, o.projectRoots),
			symbols: r.Symbols,
			display: r.String(),
		})
	}
	return out, nil
}

func sharesFiles(refsA, refsB []chunkRef) bool {
	files := make(map[string]bool, len(refsA))
	for _, r := range refsA {
		files[r.fileKey] = true
	}
	for _, r := range refsB {
		if files[r.fileKey] {
			return true
		}
	}
	return false
}

// overlapPairs enumerates the conflicting reference pairs for the
// ASK_OPERATOR reason, deduplicated and sorted.
func overlapPairs(refsA, refsB []chunkRef) []string {
	seen := make(map[string]bool)
	var out []string
	for _, ra := range refsA {
		for _, rb := range refsB {
			if ra.fileKey != rb.fileKey {
				continue
			}
			if !artifact.SymbolsOverlap(ra.symbols, rb.symbols) {
				continue
			}
			pair := ra.display + " / " + rb.display
			if !seen[pair] {
				seen[pair] = true
				out = append(out, pair)
			}
		}
	}
	sort.Strings(out)
	return out
}

func (o *Oracle) causallyRelated(a, b string) (bool, error) {
	ancestorsA, err := o.index.GetAncestors(artifact.TypeChunk, a)
	if err != nil {
		return false, err
	}
	if ancestorsA[b] {
		return true, nil
	}
	ancestorsB, err := o.index.GetAncestors(artifact.TypeChunk, b)
	if err != nil {
		return false, err
	}
	return ancestorsB[a], nil
}
