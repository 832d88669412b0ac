package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vesys/ve/internal/common/logger"
	"github.com/vesys/ve/internal/events"
	"github.com/vesys/ve/internal/events/bus"
	v1 "github.com/vesys/ve/pkg/api/v1"
)

// MemoryStore is an in-memory Store used by handler and scheduler tests.
// It mirrors the SQLite implementation's semantics, including history rows
// and event fan-out.
type MemoryStore struct {
	mu        sync.Mutex
	units     map[string]*v1.WorkUnit
	history   map[string][]*v1.StatusTransition
	conflicts map[string]*v1.ConflictAnalysis
	config    *v1.OrchestratorConfig
	n         *notifier
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store. The event bus may be nil.
func NewMemoryStore(eventBus bus.EventBus, log *logger.Logger) *MemoryStore {
	return &MemoryStore{
		units:     make(map[string]*v1.WorkUnit),
		history:   make(map[string][]*v1.StatusTransition),
		conflicts: make(map[string]*v1.ConflictAnalysis),
		n:         &notifier{bus: eventBus, log: log.WithFields(zap.String("component", "store"))},
	}
}

func (s *MemoryStore) Close() error { return nil }

func cloneUnit(u *v1.WorkUnit) *v1.WorkUnit {
	c := *u
	c.BlockedBy = append([]string(nil), u.BlockedBy...)
	if u.ConflictVerdicts != nil {
		c.ConflictVerdicts = make(map[string]v1.Verdict, len(u.ConflictVerdicts))
		for k, v := range u.ConflictVerdicts {
			c.ConflictVerdicts[k] = v
		}
	}
	return &c
}

func (s *MemoryStore) CreateWorkUnit(ctx context.Context, u *v1.WorkUnit) error {
	if err := validateUnit(u); err != nil {
		return err
	}

	s.mu.Lock()
	if _, ok := s.units[u.Chunk]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyExists, u.Chunk)
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	s.units[u.Chunk] = cloneUnit(u)
	s.history[u.Chunk] = append(s.history[u.Chunk], &v1.StatusTransition{
		Chunk: u.Chunk, NewStatus: u.Status, At: now,
	})
	s.mu.Unlock()

	s.n.unitChanged(ctx, events.WorkUnitCreated, u, "")
	return nil
}

func (s *MemoryStore) GetWorkUnit(ctx context.Context, chunk string) (*v1.WorkUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[chunk]
	if !ok {
		return nil, fmt.Errorf("%w: work unit %s", ErrNotFound, chunk)
	}
	return cloneUnit(u), nil
}

func (s *MemoryStore) ListWorkUnits(ctx context.Context, status v1.UnitStatus) ([]*v1.WorkUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var units []*v1.WorkUnit
	for _, u := range s.units {
		if status != "" && u.Status != status {
			continue
		}
		units = append(units, cloneUnit(u))
	}
	sort.Slice(units, func(i, j int) bool {
		if !units[i].CreatedAt.Equal(units[j].CreatedAt) {
			return units[i].CreatedAt.Before(units[j].CreatedAt)
		}
		return units[i].Chunk < units[j].Chunk
	})
	return units, nil
}

func (s *MemoryStore) UpdateWorkUnit(ctx context.Context, u *v1.WorkUnit) error {
	if err := validateUnit(u); err != nil {
		return err
	}

	s.mu.Lock()
	current, ok := s.units[u.Chunk]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: work unit %s", ErrNotFound, u.Chunk)
	}
	oldStatus := current.Status
	if oldStatus == v1.StatusDone && u.Status != v1.StatusDone {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTerminalStatus, u.Chunk)
	}

	now := time.Now().UTC()
	u.CreatedAt = current.CreatedAt
	u.UpdatedAt = now
	s.units[u.Chunk] = cloneUnit(u)
	if oldStatus != u.Status {
		s.history[u.Chunk] = append(s.history[u.Chunk], &v1.StatusTransition{
			Chunk: u.Chunk, OldStatus: oldStatus, NewStatus: u.Status, At: now,
		})
	}
	s.mu.Unlock()

	if oldStatus != u.Status {
		s.n.unitChanged(ctx, events.WorkUnitStatusChanged, u, oldStatus)
	} else {
		s.n.unitChanged(ctx, events.WorkUnitUpdated, u, oldStatus)
	}
	return nil
}

func (s *MemoryStore) DeleteWorkUnit(ctx context.Context, chunk string) error {
	s.mu.Lock()
	u, ok := s.units[chunk]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: work unit %s", ErrNotFound, chunk)
	}
	deleted := cloneUnit(u)
	delete(s.units, chunk)
	delete(s.history, chunk)
	for key, c := range s.conflicts {
		if c.ChunkA == chunk || c.ChunkB == chunk {
			delete(s.conflicts, key)
		}
	}
	s.mu.Unlock()

	s.n.unitDeleted(ctx, deleted)
	return nil
}

func (s *MemoryStore) ReadyQueue(ctx context.Context, limit int) ([]*v1.WorkUnit, error) {
	units, err := s.ListWorkUnits(ctx, v1.StatusReady)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(units, func(i, j int) bool {
		if units[i].Priority != units[j].Priority {
			return units[i].Priority > units[j].Priority
		}
		return units[i].CreatedAt.Before(units[j].CreatedAt)
	})
	if limit > 0 && len(units) > limit {
		units = units[:limit]
	}
	return units, nil
}

func (s *MemoryStore) AttentionQueue(ctx context.Context) ([]*v1.AttentionItem, error) {
	all, err := s.ListWorkUnits(ctx, "")
	if err != nil {
		return nil, err
	}
	return buildAttentionQueue(all, time.Now().UTC()), nil
}

func (s *MemoryStore) History(ctx context.Context, chunk string) ([]*v1.StatusTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.history[chunk]
	out := make([]*v1.StatusTransition, len(rows))
	for i, r := range rows {
		c := *r
		out[i] = &c
	}
	return out, nil
}

func (s *MemoryStore) StatusCounts(ctx context.Context) (map[v1.UnitStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[v1.UnitStatus]int)
	for _, u := range s.units {
		counts[u.Status]++
	}
	return counts, nil
}

func conflictKey(a, b string) string {
	a, b = CanonicalPair(a, b)
	return a + "\x00" + b
}

func (s *MemoryStore) SaveConflict(ctx context.Context, c *v1.ConflictAnalysis) error {
	if !v1.ValidVerdict(c.Verdict) {
		return fmt.Errorf("invalid verdict %q", c.Verdict)
	}
	c.ChunkA, c.ChunkB = CanonicalPair(c.ChunkA, c.ChunkB)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	stored := *c
	s.conflicts[conflictKey(c.ChunkA, c.ChunkB)] = &stored
	s.mu.Unlock()

	s.n.publish(ctx, events.ConflictAnalyzed, map[string]interface{}{
		"chunk_a": c.ChunkA,
		"chunk_b": c.ChunkB,
		"verdict": string(c.Verdict),
	})
	return nil
}

func (s *MemoryStore) GetConflict(ctx context.Context, chunkA, chunkB string) (*v1.ConflictAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conflicts[conflictKey(chunkA, chunkB)]
	if !ok {
		a, b := CanonicalPair(chunkA, chunkB)
		return nil, fmt.Errorf("%w: conflict (%s, %s)", ErrNotFound, a, b)
	}
	copied := *c
	return &copied, nil
}

func (s *MemoryStore) ListConflicts(ctx context.Context, verdict v1.Verdict) ([]*v1.ConflictAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*v1.ConflictAnalysis
	for _, c := range s.conflicts {
		if verdict != "" && c.Verdict != verdict {
			continue
		}
		copied := *c
		out = append(out, &copied)
	}
	sortConflicts(out)
	return out, nil
}

func (s *MemoryStore) ConflictsFor(ctx context.Context, chunk string) ([]*v1.ConflictAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*v1.ConflictAnalysis
	for _, c := range s.conflicts {
		if c.ChunkA != chunk && c.ChunkB != chunk {
			continue
		}
		copied := *c
		out = append(out, &copied)
	}
	sortConflicts(out)
	return out, nil
}

func (s *MemoryStore) ClearConflictsFor(ctx context.Context, chunk string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, c := range s.conflicts {
		if c.ChunkA == chunk || c.ChunkB == chunk {
			delete(s.conflicts, key)
		}
	}
	return nil
}

func (s *MemoryStore) LoadConfig(ctx context.Context) (*v1.OrchestratorConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		return nil, fmt.Errorf("%w: config", ErrNotFound)
	}
	copied := *s.config
	return &copied, nil
}

func (s *MemoryStore) SaveConfig(ctx context.Context, cfg *v1.OrchestratorConfig) error {
	if cfg.MaxAgents < 1 {
		return fmt.Errorf("max_agents must be >= 1")
	}
	if cfg.DispatchInterval <= 0 {
		return fmt.Errorf("dispatch_interval must be > 0")
	}
	if cfg.MaxCompletionRetries < 0 {
		return fmt.Errorf("max_completion_retries must be >= 0")
	}
	if cfg.BaseBranch == "" {
		return fmt.Errorf("base_branch must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *cfg
	s.config = &copied
	return nil
}

func (s *MemoryStore) EnsureConfig(ctx context.Context, defaults *v1.OrchestratorConfig) (*v1.OrchestratorConfig, error) {
	cfg, err := s.LoadConfig(ctx)
	if errors.Is(err, ErrNotFound) {
		cfg = &v1.OrchestratorConfig{}
	} else if err != nil {
		return nil, err
	}
	if cfg.MaxAgents == 0 {
		cfg.MaxAgents = defaults.MaxAgents
	}
	if cfg.DispatchInterval == 0 {
		cfg.DispatchInterval = defaults.DispatchInterval
	}
	if cfg.MaxCompletionRetries == 0 && defaults.MaxCompletionRetries != 0 {
		cfg.MaxCompletionRetries = defaults.MaxCompletionRetries
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = defaults.BaseBranch
	}
	if err := s.SaveConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func sortConflicts(out []*v1.ConflictAnalysis) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChunkA != out[j].ChunkA {
			return out[i].ChunkA < out[j].ChunkA
		}
		return out[i].ChunkB < out[j].ChunkB
	})
}
