// Package store persists orchestrator state: work units, their status
// history, cached conflict analyses, and operator-tunable config. Writes that
// change a work unit's status atomically append a history row and fan out an
// event-bus notification for the WebSocket broker.
package store

import (
	"context"
	"errors"
	"fmt"

	v1 "github.com/vesys/ve/pkg/api/v1"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists indicates a work unit for the chunk already exists.
	ErrAlreadyExists = errors.New("work unit already exists")
	// ErrTerminalStatus indicates an attempt to move a DONE unit.
	ErrTerminalStatus = errors.New("work unit is DONE")
	// ErrInvalidUnit indicates the work unit violates a model invariant.
	ErrInvalidUnit = errors.New("invalid work unit")
)

// Store is the orchestrator state store.
type Store interface {
	CreateWorkUnit(ctx context.Context, u *v1.WorkUnit) error
	GetWorkUnit(ctx context.Context, chunk string) (*v1.WorkUnit, error)
	// ListWorkUnits returns all units, optionally filtered by status.
	ListWorkUnits(ctx context.Context, status v1.UnitStatus) ([]*v1.WorkUnit, error)
	UpdateWorkUnit(ctx context.Context, u *v1.WorkUnit) error
	DeleteWorkUnit(ctx context.Context, chunk string) error

	// ReadyQueue returns READY units ordered by priority DESC, created_at ASC.
	// A non-positive limit returns the whole queue.
	ReadyQueue(ctx context.Context, limit int) ([]*v1.WorkUnit, error)
	// AttentionQueue returns NEEDS_ATTENTION units enriched with blocks_count
	// and time_waiting, ordered by blocks_count DESC, updated_at ASC.
	AttentionQueue(ctx context.Context) ([]*v1.AttentionItem, error)
	History(ctx context.Context, chunk string) ([]*v1.StatusTransition, error)
	StatusCounts(ctx context.Context) (map[v1.UnitStatus]int, error)

	SaveConflict(ctx context.Context, c *v1.ConflictAnalysis) error
	GetConflict(ctx context.Context, chunkA, chunkB string) (*v1.ConflictAnalysis, error)
	ListConflicts(ctx context.Context, verdict v1.Verdict) ([]*v1.ConflictAnalysis, error)
	ConflictsFor(ctx context.Context, chunk string) ([]*v1.ConflictAnalysis, error)
	ClearConflictsFor(ctx context.Context, chunk string) error

	LoadConfig(ctx context.Context) (*v1.OrchestratorConfig, error)
	SaveConfig(ctx context.Context, cfg *v1.OrchestratorConfig) error
	// EnsureConfig persists defaults for any missing key and returns the
	// effective config.
	EnsureConfig(ctx context.Context, defaults *v1.OrchestratorConfig) (*v1.OrchestratorConfig, error)

	Close() error
}

// CanonicalPair orders two chunk names into the canonical conflict key.
func CanonicalPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// validateUnit checks the model invariants shared by both implementations.
func validateUnit(u *v1.WorkUnit) error {
	if u.Chunk == "" {
		return fmt.Errorf("%w: empty chunk name", ErrInvalidUnit)
	}
	if !v1.ValidPhase(u.Phase) {
		return fmt.Errorf("%w: invalid phase %q", ErrInvalidUnit, u.Phase)
	}
	if !v1.ValidUnitStatus(u.Status) {
		return fmt.Errorf("%w: invalid status %q", ErrInvalidUnit, u.Status)
	}
	if u.ConflictOverride != "" && !v1.ValidVerdict(u.ConflictOverride) {
		return fmt.Errorf("%w: invalid conflict override %q", ErrInvalidUnit, u.ConflictOverride)
	}
	for _, b := range u.BlockedBy {
		if b == u.Chunk {
			return fmt.Errorf("%w: blocked_by contains self", ErrInvalidUnit)
		}
	}
	if u.Status == v1.StatusBlocked && len(u.BlockedBy) == 0 {
		return fmt.Errorf("%w: BLOCKED with empty blocked_by", ErrInvalidUnit)
	}
	if u.Status == v1.StatusReady && len(u.BlockedBy) > 0 {
		return fmt.Errorf("%w: READY with non-empty blocked_by", ErrInvalidUnit)
	}
	if u.Status == v1.StatusRunning && u.Worktree == "" {
		return fmt.Errorf("%w: RUNNING without worktree", ErrInvalidUnit)
	}
	return nil
}
