// Package scheduler drives work units through their phases. Each dispatch
// tick reaps finished agent tasks, admits READY units against the cached
// conflict verdicts of their running peers, and spawns one task per admitted
// unit that activates the chunk, runs the agent phase, and advances or parks
// the unit on the outcome.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vesys/ve/internal/agent"
	"github.com/vesys/ve/internal/common/config"
	"github.com/vesys/ve/internal/common/logger"
	"github.com/vesys/ve/internal/store"
	v1 "github.com/vesys/ve/pkg/api/v1"
)

var (
	// ErrSchedulerAlreadyRunning indicates Start was called twice.
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	// ErrSchedulerNotRunning indicates Stop was called before Start.
	ErrSchedulerNotRunning = errors.New("scheduler is not running")
	// ErrUnitNotRunning indicates a cancel request for a unit with no
	// active agent task.
	ErrUnitNotRunning = errors.New("work unit has no running task")
)

// AgentRunner runs one supervised agent phase. Satisfied by *agent.Supervisor.
type AgentRunner interface {
	RunPhase(ctx context.Context, req *agent.RunPhaseRequest) *agent.Result
	ResumeMaxTurns() int
}

// Worktrees is the slice of the worktree manager the scheduler drives.
// Satisfied by *worktree.Manager.
type Worktrees interface {
	Create(ctx context.Context, chunk string) (string, error)
	Remove(ctx context.Context, chunk string, removeBranch bool) error
	CommitChanges(ctx context.Context, chunk string) (bool, error)
	MergeToBase(ctx context.Context, chunk string, deleteBranch bool) error
	ListWorktrees() ([]string, error)
}

// ConflictAnalyzer classifies chunk pairs. Satisfied by *conflict.Oracle.
type ConflictAnalyzer interface {
	Analyze(ctx context.Context, chunkA, chunkB string) (*v1.ConflictAnalysis, error)
}

// runningTask tracks one in-flight per-unit agent task.
type runningTask struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// Scheduler owns the dispatch loop and the running task set.
type Scheduler struct {
	store     store.Store
	worktrees Worktrees
	oracle    ConflictAnalyzer
	agents    AgentRunner
	cfg       config.OrchestratorConfig
	logger    *logger.Logger

	// tasks is guarded by mu; it is only mutated during a dispatch tick
	// and when a finished task removes itself.
	tasks  map[string]*runningTask
	taskWg sync.WaitGroup

	mu           sync.Mutex
	running      bool
	shuttingDown atomic.Bool
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

// NewScheduler creates a scheduler. cfg supplies the defaults used when the
// state store carries no persisted daemon config yet.
func NewScheduler(
	st store.Store,
	wt Worktrees,
	oracle ConflictAnalyzer,
	agents AgentRunner,
	cfg config.OrchestratorConfig,
	log *logger.Logger,
) *Scheduler {
	return &Scheduler{
		store:     st,
		worktrees: wt,
		oracle:    oracle,
		agents:    agents,
		cfg:       cfg,
		logger:    log.WithFields(zap.String("component", "scheduler")),
		tasks:     make(map[string]*runningTask),
	}
}

// Start recovers stale state and begins the dispatch loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.shuttingDown.Store(false)
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	if err := s.recoverState(ctx); err != nil {
		s.logger.Error("Startup recovery failed", zap.Error(err))
	}

	s.logger.Info("scheduler starting",
		zap.Float64("dispatch_interval", s.cfg.DispatchInterval),
		zap.Int("max_agents", s.cfg.MaxAgents))

	s.wg.Add(1)
	go s.processLoop(ctx)
	return nil
}

// Stop halts dispatching and waits up to the shutdown timeout for running
// agent tasks before cancelling the stragglers.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	done := make(chan struct{})
	go func() {
		s.taskWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownTimeoutDuration()):
		s.logger.Warn("Shutdown timeout reached, cancelling agent tasks")
		s.shuttingDown.Store(true)
		s.mu.Lock()
		for _, t := range s.tasks {
			t.cancelled.Store(true)
			t.cancel()
		}
		s.mu.Unlock()
		<-done
	}

	s.logger.Info("scheduler stopped")
	return nil
}

// IsRunning reports whether the dispatch loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunningChunks lists the chunks with an in-flight agent task.
func (s *Scheduler) RunningChunks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	chunks := make([]string, 0, len(s.tasks))
	for chunk := range s.tasks {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// Cancel interrupts the agent task of a running work unit. The task parks
// the unit in NEEDS_ATTENTION once the interrupt lands.
func (s *Scheduler) Cancel(chunk string) error {
	s.mu.Lock()
	t, ok := s.tasks[chunk]
	s.mu.Unlock()
	if !ok {
		return ErrUnitNotRunning
	}
	t.cancelled.Store(true)
	t.cancel()
	s.logger.Info("Cancelling work unit task", zap.String("chunk", chunk))
	return nil
}

// processLoop is the main dispatch loop.
func (s *Scheduler) processLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := s.cfg.DispatchIntervalDuration()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("scheduler dispatch loop started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping due to context cancellation")
			return
		case <-s.stopCh:
			s.logger.Info("scheduler stopping due to stop signal")
			return
		case <-ticker.C:
			if next := s.dispatch(ctx); next > 0 && next != interval {
				interval = next
				ticker.Reset(next)
			}
		}
	}
}

// dispatch runs one tick under the scheduler lock: reap, capacity check,
// ready-queue query, conflict admission, task spawn. It returns the effective
// dispatch interval so config changes take hold without a restart.
func (s *Scheduler) dispatch(ctx context.Context) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.effectiveConfig(ctx)
	interval := time.Duration(cfg.DispatchInterval * float64(time.Second))

	capacity := cfg.MaxAgents - len(s.tasks)
	if capacity <= 0 {
		return interval
	}

	ready, err := s.store.ReadyQueue(ctx, capacity)
	if err != nil {
		s.logger.Error("Failed to query ready queue", zap.Error(err))
		return interval
	}

	for _, u := range ready {
		if _, active := s.tasks[u.Chunk]; active {
			continue
		}
		admitted, err := s.admit(ctx, u)
		if err != nil {
			s.logger.Error("Conflict admission failed",
				zap.String("chunk", u.Chunk), zap.Error(err))
			continue
		}
		if !admitted {
			continue
		}
		s.spawn(u)
	}
	return interval
}

// admit applies the cached conflict verdicts of u against every RUNNING or
// READY peer. A RUNNING peer with SERIALIZE blocks; a RUNNING peer with an
// unresolved ASK_OPERATOR parks u in NEEDS_ATTENTION; a conflicting READY
// peer only logs a warning.
func (s *Scheduler) admit(ctx context.Context, u *v1.WorkUnit) (bool, error) {
	peers, err := s.store.ListWorkUnits(ctx, "")
	if err != nil {
		return false, err
	}

	for _, p := range peers {
		if p.Chunk == u.Chunk {
			continue
		}
		if p.Status != v1.StatusRunning && p.Status != v1.StatusReady {
			continue
		}

		// oracle verdicts are cached per canonical pair in the conflicts
		// table (inside Analyze); the per-unit ConflictVerdicts maps carry
		// only operator resolutions so a later ConflictOverride is never
		// shadowed by a stale machine verdict
		analysis, err := s.oracle.Analyze(ctx, u.Chunk, p.Chunk)
		if err != nil {
			s.toAttention(ctx, u, "conflict analysis failed: "+err.Error())
			return false, nil
		}
		verdict := effectiveVerdict(u, p, analysis.Verdict)

		switch verdict {
		case v1.VerdictSerialize:
			if p.Status == v1.StatusRunning {
				s.logger.Info("Holding work unit behind serialized peer",
					zap.String("chunk", u.Chunk),
					zap.String("peer", p.Chunk))
				return false, nil
			}
			s.logger.Warn("Ready peers conflict, dispatch order will serialize them",
				zap.String("chunk", u.Chunk),
				zap.String("peer", p.Chunk))
		case v1.VerdictAskOperator:
			if p.Status == v1.StatusRunning {
				s.toAttention(ctx, u,
					"conflict with running chunk "+p.Chunk+" needs a decision ("+analysis.Reason+
						"); resolve it as parallelize or serialize")
				return false, nil
			}
			s.logger.Warn("Ready peers have an unresolved conflict",
				zap.String("chunk", u.Chunk),
				zap.String("peer", p.Chunk),
				zap.String("reason", analysis.Reason))
		}
	}
	return true, nil
}

// effectiveVerdict layers operator overrides on top of the oracle verdict:
// a per-pair verdict on either unit wins, then a unit-wide override.
func effectiveVerdict(u, p *v1.WorkUnit, verdict v1.Verdict) v1.Verdict {
	if v, ok := u.ConflictVerdicts[p.Chunk]; ok {
		return v
	}
	if v, ok := p.ConflictVerdicts[u.Chunk]; ok {
		return v
	}
	if u.ConflictOverride != "" {
		return u.ConflictOverride
	}
	return verdict
}

// spawn registers and launches the per-unit task. Caller holds s.mu.
func (s *Scheduler) spawn(u *v1.WorkUnit) {
	taskCtx, cancel := context.WithCancel(context.Background())
	task := &runningTask{cancel: cancel}
	s.tasks[u.Chunk] = task

	s.taskWg.Add(1)
	go func() {
		defer s.taskWg.Done()
		defer cancel()
		defer func() {
			s.mu.Lock()
			delete(s.tasks, u.Chunk)
			s.mu.Unlock()
		}()
		s.runUnit(taskCtx, u, task)
	}()
}

// recoverState resets units left RUNNING by a previous daemon and removes
// orphan worktrees.
func (s *Scheduler) recoverState(ctx context.Context) error {
	stale, err := s.store.ListWorkUnits(ctx, v1.StatusRunning)
	if err != nil {
		return err
	}
	for _, u := range stale {
		u.Status = v1.StatusReady
		if len(u.BlockedBy) > 0 {
			u.Status = v1.StatusBlocked
		}
		u.Worktree = ""
		if err := s.store.UpdateWorkUnit(ctx, u); err != nil {
			s.logger.Error("Failed to reset stale running unit",
				zap.String("chunk", u.Chunk), zap.Error(err))
			continue
		}
		s.logger.Info("Reset stale running unit to READY", zap.String("chunk", u.Chunk))
	}

	chunks, err := s.worktrees.ListWorktrees()
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		u, err := s.store.GetWorkUnit(ctx, chunk)
		if err == nil && u.Status == v1.StatusRunning {
			continue
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("Failed to look up worktree owner",
				zap.String("chunk", chunk), zap.Error(err))
			continue
		}
		if err := s.worktrees.Remove(ctx, chunk, false); err != nil {
			s.logger.Warn("Failed to remove orphan worktree",
				zap.String("chunk", chunk), zap.Error(err))
			continue
		}
		s.logger.Info("Removed orphan worktree", zap.String("chunk", chunk))
	}
	return nil
}

// effectiveConfig returns the persisted daemon config, falling back to the
// boot defaults when none is stored yet.
func (s *Scheduler) effectiveConfig(ctx context.Context) *v1.OrchestratorConfig {
	cfg, err := s.store.LoadConfig(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("Failed to load daemon config, using defaults", zap.Error(err))
		}
		return &v1.OrchestratorConfig{
			MaxAgents:            s.cfg.MaxAgents,
			DispatchInterval:     s.cfg.DispatchInterval,
			MaxCompletionRetries: s.cfg.MaxCompletionRetries,
			BaseBranch:           s.cfg.BaseBranch,
		}
	}
	return cfg
}

// toAttention parks a unit in NEEDS_ATTENTION with an operator-facing reason.
func (s *Scheduler) toAttention(ctx context.Context, u *v1.WorkUnit, reason string) {
	u.Status = v1.StatusNeedsAttention
	u.AttentionReason = reason
	if err := s.store.UpdateWorkUnit(ctx, u); err != nil {
		s.logger.Error("Failed to park unit in NEEDS_ATTENTION",
			zap.String("chunk", u.Chunk), zap.Error(err))
		return
	}
	s.logger.Warn("Work unit needs attention",
		zap.String("chunk", u.Chunk),
		zap.String("reason", reason))
}
