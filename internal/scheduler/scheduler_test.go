package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vesys/ve/internal/agent"
	"github.com/vesys/ve/internal/artifact"
	"github.com/vesys/ve/internal/common/config"
	"github.com/vesys/ve/internal/common/logger"
	"github.com/vesys/ve/internal/store"
	"github.com/vesys/ve/internal/worktree"
	v1 "github.com/vesys/ve/pkg/api/v1"
)

// fakeWorktrees keeps worktrees as plain directories under a temp root.
type fakeWorktrees struct {
	root     string
	mergeErr error

	mu      sync.Mutex
	list    []string
	removed []string
	merged  []string
	commits int
}

func (f *fakeWorktrees) path(chunk string) string {
	return filepath.Join(f.root, chunk)
}

func (f *fakeWorktrees) Create(ctx context.Context, chunk string) (string, error) {
	path := f.path(chunk)
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeWorktrees) Remove(ctx context.Context, chunk string, removeBranch bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, chunk)
	return nil
}

func (f *fakeWorktrees) CommitChanges(ctx context.Context, chunk string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	return true, nil
}

func (f *fakeWorktrees) MergeToBase(ctx context.Context, chunk string, deleteBranch bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mergeErr != nil {
		return f.mergeErr
	}
	f.merged = append(f.merged, chunk)
	return nil
}

func (f *fakeWorktrees) ListWorktrees() ([]string, error) {
	return f.list, nil
}

// fakeOracle serves fixed verdicts keyed by canonical pair, defaulting to
// INDEPENDENT.
type fakeOracle struct {
	verdicts map[string]v1.Verdict
}

func (f *fakeOracle) Analyze(ctx context.Context, chunkA, chunkB string) (*v1.ConflictAnalysis, error) {
	a, b := store.CanonicalPair(chunkA, chunkB)
	verdict, ok := f.verdicts[a+"/"+b]
	if !ok {
		verdict = v1.VerdictIndependent
	}
	return &v1.ConflictAnalysis{
		ChunkA: a, ChunkB: b,
		Verdict: verdict,
		Reason:  "overlapping references: src/foo.go",
	}, nil
}

// fakeAgents records phase requests and replays canned results.
type fakeAgents struct {
	mu       sync.Mutex
	results  []*agent.Result
	requests []*agent.RunPhaseRequest
	onRun    func(call int, req *agent.RunPhaseRequest)
	blockCh  chan struct{}
}

func (f *fakeAgents) RunPhase(ctx context.Context, req *agent.RunPhaseRequest) *agent.Result {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	call := len(f.requests)
	var res *agent.Result
	if len(f.results) > 0 {
		res = f.results[0]
		f.results = f.results[1:]
	}
	onRun := f.onRun
	block := f.blockCh
	f.mu.Unlock()

	if block != nil {
		select {
		case <-ctx.Done():
			return &agent.Result{Kind: agent.ResultFailed, Error: ctx.Err().Error()}
		case <-block:
		}
	}
	if onRun != nil {
		onRun(call, req)
	}
	if res == nil {
		res = &agent.Result{Kind: agent.ResultCompleted, SessionID: "s1"}
	}
	return res
}

func (f *fakeAgents) ResumeMaxTurns() int { return 20 }

func (f *fakeAgents) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeAgents) request(i int) *agent.RunPhaseRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

type fixture struct {
	s      *Scheduler
	store  store.Store
	wt     *fakeWorktrees
	oracle *fakeOracle
	agents *fakeAgents
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.Default()
	f := &fixture{
		store:  store.NewMemoryStore(nil, log),
		wt:     &fakeWorktrees{root: t.TempDir()},
		oracle: &fakeOracle{verdicts: map[string]v1.Verdict{}},
		agents: &fakeAgents{},
	}
	cfg := config.OrchestratorConfig{
		MaxAgents:            2,
		DispatchInterval:     0.01,
		MaxCompletionRetries: 3,
		ShutdownTimeout:      1,
		BaseBranch:           "main",
	}
	f.s = NewScheduler(f.store, f.wt, f.oracle, f.agents, cfg, log)
	return f
}

// tick runs one dispatch pass and waits for spawned tasks to finish.
func (f *fixture) tick(t *testing.T) {
	t.Helper()
	f.s.dispatch(context.Background())
	f.s.taskWg.Wait()
}

func writeGoal(t *testing.T, root, chunk string, status artifact.ChunkStatus) {
	t.Helper()
	dir := filepath.Join(root, "docs", "chunks", chunk)
	require.NoError(t, os.MkdirAll(dir, 0755))
	content := fmt.Sprintf("---\nstatus: %s\n---\n\n# Goal\n", status)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "GOAL.md"), []byte(content), 0644))
}

func goalStatus(t *testing.T, root, chunk string) artifact.ChunkStatus {
	t.Helper()
	goal, err := artifact.LoadChunkGoal(root, chunk)
	require.NoError(t, err)
	return goal.Status
}

func addUnit(t *testing.T, st store.Store, u *v1.WorkUnit) {
	t.Helper()
	require.NoError(t, st.CreateWorkUnit(context.Background(), u))
}

func getUnit(t *testing.T, st store.Store, chunk string) *v1.WorkUnit {
	t.Helper()
	u, err := st.GetWorkUnit(context.Background(), chunk)
	require.NoError(t, err)
	return u
}

func TestDispatchAdvancesPhase(t *testing.T) {
	f := newFixture(t)
	writeGoal(t, f.wt.path("auth"), "auth", artifact.ChunkFuture)
	addUnit(t, f.store, &v1.WorkUnit{
		Chunk: "auth", Phase: v1.PhaseImplement, Status: v1.StatusReady,
		PendingAnswer: "use postgres",
	})

	f.tick(t)

	u := getUnit(t, f.store, "auth")
	assert.Equal(t, v1.PhaseComplete, u.Phase)
	assert.Equal(t, v1.StatusReady, u.Status)
	assert.Empty(t, u.SessionID)
	assert.Empty(t, u.PendingAnswer)

	// activation flipped the chunk and the answer reached the agent
	assert.Equal(t, artifact.ChunkImplementing, goalStatus(t, f.wt.path("auth"), "auth"))
	require.Equal(t, 1, f.agents.requestCount())
	assert.Equal(t, "use postgres", f.agents.request(0).InjectedAnswer)
}

func TestFinishMergesAndUnblocks(t *testing.T) {
	f := newFixture(t)
	writeGoal(t, f.wt.path("auth"), "auth", artifact.ChunkImplementing)
	addUnit(t, f.store, &v1.WorkUnit{Chunk: "auth", Phase: v1.PhaseComplete, Status: v1.StatusReady})
	addUnit(t, f.store, &v1.WorkUnit{
		Chunk: "billing", Phase: v1.PhasePlan, Status: v1.StatusBlocked, BlockedBy: []string{"auth"},
	})

	f.agents.onRun = func(call int, req *agent.RunPhaseRequest) {
		goal, err := artifact.LoadChunkGoal(req.Worktree, req.Chunk)
		require.NoError(t, err)
		require.NoError(t, goal.SetStatus(artifact.ChunkActive, false))
	}

	f.tick(t)

	u := getUnit(t, f.store, "auth")
	assert.Equal(t, v1.StatusDone, u.Status)
	assert.Empty(t, u.Worktree)
	assert.Empty(t, u.SessionID)
	assert.Contains(t, f.wt.merged, "auth")
	assert.Contains(t, f.wt.removed, "auth")

	dep := getUnit(t, f.store, "billing")
	assert.Equal(t, v1.StatusReady, dep.Status)
	assert.Empty(t, dep.BlockedBy)
}

func TestCompletionReminderResume(t *testing.T) {
	f := newFixture(t)
	writeGoal(t, f.wt.path("auth"), "auth", artifact.ChunkImplementing)
	addUnit(t, f.store, &v1.WorkUnit{Chunk: "auth", Phase: v1.PhaseComplete, Status: v1.StatusReady})

	// the ritual only lands on the reminder resume
	f.agents.onRun = func(call int, req *agent.RunPhaseRequest) {
		if call < 2 {
			return
		}
		goal, err := artifact.LoadChunkGoal(req.Worktree, req.Chunk)
		require.NoError(t, err)
		if goal.Status != artifact.ChunkActive {
			require.NoError(t, goal.SetStatus(artifact.ChunkActive, false))
		}
	}

	f.tick(t)

	u := getUnit(t, f.store, "auth")
	assert.Equal(t, v1.StatusDone, u.Status)
	assert.Equal(t, 1, u.CompletionRetries)

	require.Equal(t, 2, f.agents.requestCount())
	reminder := f.agents.request(1)
	assert.Equal(t, agent.CompletionReminder, reminder.PromptOverride)
	assert.Equal(t, 20, reminder.MaxTurns)
	assert.Equal(t, "s1", reminder.ResumeSession)
}

func TestCompletionRetriesExhausted(t *testing.T) {
	f := newFixture(t)
	writeGoal(t, f.wt.path("auth"), "auth", artifact.ChunkImplementing)
	addUnit(t, f.store, &v1.WorkUnit{Chunk: "auth", Phase: v1.PhaseComplete, Status: v1.StatusReady})
	require.NoError(t, f.store.SaveConfig(context.Background(), &v1.OrchestratorConfig{
		MaxAgents: 2, DispatchInterval: 1, MaxCompletionRetries: 2, BaseBranch: "main",
	}))

	f.tick(t)

	u := getUnit(t, f.store, "auth")
	assert.Equal(t, v1.StatusNeedsAttention, u.Status)
	assert.Contains(t, u.AttentionReason, "completion attempts")
	assert.Equal(t, 2, u.CompletionRetries)
	assert.Equal(t, 3, f.agents.requestCount(), "initial run plus two reminders")
}

func TestMergeConflictParksUnit(t *testing.T) {
	f := newFixture(t)
	writeGoal(t, f.wt.path("auth"), "auth", artifact.ChunkImplementing)
	addUnit(t, f.store, &v1.WorkUnit{Chunk: "auth", Phase: v1.PhaseComplete, Status: v1.StatusReady})
	f.wt.mergeErr = &worktree.MergeError{Branch: "chunk/auth", Paths: []string{"README.md"}}
	f.agents.onRun = func(call int, req *agent.RunPhaseRequest) {
		goal, err := artifact.LoadChunkGoal(req.Worktree, req.Chunk)
		require.NoError(t, err)
		require.NoError(t, goal.SetStatus(artifact.ChunkActive, false))
	}

	f.tick(t)

	u := getUnit(t, f.store, "auth")
	assert.Equal(t, v1.StatusNeedsAttention, u.Status)
	assert.Contains(t, u.AttentionReason, "merge to base failed: ")
	assert.Contains(t, u.AttentionReason, "README.md")
	assert.Empty(t, u.SessionID)
}

func TestSuspendedQuestionParksUnit(t *testing.T) {
	f := newFixture(t)
	writeGoal(t, f.wt.path("auth"), "auth", artifact.ChunkFuture)
	addUnit(t, f.store, &v1.WorkUnit{Chunk: "auth", Phase: v1.PhaseImplement, Status: v1.StatusReady})
	f.agents.results = []*agent.Result{{
		Kind: agent.ResultSuspended, SessionID: "s1",
		Question: &v1.Question{Text: "Which DB?"},
	}}

	f.tick(t)

	u := getUnit(t, f.store, "auth")
	assert.Equal(t, v1.StatusNeedsAttention, u.Status)
	assert.Equal(t, "Question: Which DB?", u.AttentionReason)
	assert.Equal(t, "s1", u.SessionID)
}

func TestFailedRunParksUnit(t *testing.T) {
	f := newFixture(t)
	writeGoal(t, f.wt.path("auth"), "auth", artifact.ChunkFuture)
	addUnit(t, f.store, &v1.WorkUnit{Chunk: "auth", Phase: v1.PhaseImplement, Status: v1.StatusReady})
	f.agents.results = []*agent.Result{{Kind: agent.ResultFailed, Error: "boom"}}

	f.tick(t)

	u := getUnit(t, f.store, "auth")
	assert.Equal(t, v1.StatusNeedsAttention, u.Status)
	assert.Equal(t, "boom", u.AttentionReason)
}

func TestSerializeHoldsBehindRunningPeer(t *testing.T) {
	f := newFixture(t)
	addUnit(t, f.store, &v1.WorkUnit{
		Chunk: "peer", Phase: v1.PhaseImplement, Status: v1.StatusRunning, Worktree: "/wt/peer",
	})
	addUnit(t, f.store, &v1.WorkUnit{Chunk: "auth", Phase: v1.PhaseImplement, Status: v1.StatusReady})
	f.s.tasks["peer"] = &runningTask{cancel: func() {}}
	f.oracle.verdicts["auth/peer"] = v1.VerdictSerialize

	f.tick(t)

	u := getUnit(t, f.store, "auth")
	assert.Equal(t, v1.StatusReady, u.Status)
	assert.Zero(t, f.agents.requestCount())
}

func TestAskOperatorParksCandidate(t *testing.T) {
	f := newFixture(t)
	addUnit(t, f.store, &v1.WorkUnit{
		Chunk: "peer", Phase: v1.PhaseImplement, Status: v1.StatusRunning, Worktree: "/wt/peer",
	})
	addUnit(t, f.store, &v1.WorkUnit{Chunk: "auth", Phase: v1.PhaseImplement, Status: v1.StatusReady})
	f.s.tasks["peer"] = &runningTask{cancel: func() {}}
	f.oracle.verdicts["auth/peer"] = v1.VerdictAskOperator

	f.tick(t)

	u := getUnit(t, f.store, "auth")
	assert.Equal(t, v1.StatusNeedsAttention, u.Status)
	assert.Contains(t, u.AttentionReason, "peer")
	assert.Contains(t, u.AttentionReason, "resolve")
	assert.Zero(t, f.agents.requestCount())
}

func TestOperatorOverrideAdmits(t *testing.T) {
	f := newFixture(t)
	writeGoal(t, f.wt.path("auth"), "auth", artifact.ChunkFuture)
	addUnit(t, f.store, &v1.WorkUnit{
		Chunk: "peer", Phase: v1.PhaseImplement, Status: v1.StatusRunning, Worktree: "/wt/peer",
	})
	addUnit(t, f.store, &v1.WorkUnit{
		Chunk: "auth", Phase: v1.PhaseImplement, Status: v1.StatusReady,
		ConflictVerdicts: map[string]v1.Verdict{"peer": v1.VerdictIndependent},
	})
	f.s.tasks["peer"] = &runningTask{cancel: func() {}}
	f.oracle.verdicts["auth/peer"] = v1.VerdictAskOperator

	f.tick(t)

	u := getUnit(t, f.store, "auth")
	assert.Equal(t, v1.PhaseComplete, u.Phase)
	assert.Equal(t, v1.StatusReady, u.Status)
}

func TestActivationDisplacesAndRestores(t *testing.T) {
	f := newFixture(t)
	writeGoal(t, f.wt.path("auth"), "auth", artifact.ChunkFuture)
	writeGoal(t, f.wt.path("auth"), "legacy", artifact.ChunkImplementing)
	addUnit(t, f.store, &v1.WorkUnit{Chunk: "auth", Phase: v1.PhaseComplete, Status: v1.StatusReady})

	f.agents.onRun = func(call int, req *agent.RunPhaseRequest) {
		assert.Equal(t, artifact.ChunkFuture, goalStatus(t, req.Worktree, "legacy"))
		goal, err := artifact.LoadChunkGoal(req.Worktree, req.Chunk)
		require.NoError(t, err)
		require.NoError(t, goal.SetStatus(artifact.ChunkActive, false))
	}

	f.tick(t)

	u := getUnit(t, f.store, "auth")
	assert.Equal(t, v1.StatusDone, u.Status)
	assert.Empty(t, u.DisplacedChunk)
	assert.Equal(t, artifact.ChunkImplementing, goalStatus(t, f.wt.path("auth"), "legacy"))
}

func TestActivationRejectsWrongStatus(t *testing.T) {
	f := newFixture(t)
	writeGoal(t, f.wt.path("auth"), "auth", artifact.ChunkHistorical)
	addUnit(t, f.store, &v1.WorkUnit{Chunk: "auth", Phase: v1.PhaseImplement, Status: v1.StatusReady})

	f.tick(t)

	u := getUnit(t, f.store, "auth")
	assert.Equal(t, v1.StatusNeedsAttention, u.Status)
	assert.Contains(t, u.AttentionReason, "chunk activation failed")
	assert.Zero(t, f.agents.requestCount())
}

func TestRecoverState(t *testing.T) {
	f := newFixture(t)
	addUnit(t, f.store, &v1.WorkUnit{
		Chunk: "auth", Phase: v1.PhaseImplement, Status: v1.StatusRunning, Worktree: "/wt/auth",
	})
	f.wt.list = []string{"auth", "stray"}

	require.NoError(t, f.s.recoverState(context.Background()))

	u := getUnit(t, f.store, "auth")
	assert.Equal(t, v1.StatusReady, u.Status)
	assert.Empty(t, u.Worktree)
	assert.ElementsMatch(t, []string{"auth", "stray"}, f.wt.removed)
}

func TestCancelRunningUnit(t *testing.T) {
	f := newFixture(t)
	writeGoal(t, f.wt.path("auth"), "auth", artifact.ChunkFuture)
	addUnit(t, f.store, &v1.WorkUnit{Chunk: "auth", Phase: v1.PhaseImplement, Status: v1.StatusReady})
	f.agents.blockCh = make(chan struct{})

	f.s.dispatch(context.Background())
	require.Eventually(t, func() bool {
		return f.agents.requestCount() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.s.Cancel("auth"))
	f.s.taskWg.Wait()

	u := getUnit(t, f.store, "auth")
	assert.Equal(t, v1.StatusNeedsAttention, u.Status)
	assert.Equal(t, "cancelled by operator", u.AttentionReason)

	assert.ErrorIs(t, f.s.Cancel("auth"), ErrUnitNotRunning)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.s.Start(ctx))
	assert.True(t, f.s.IsRunning())
	assert.ErrorIs(t, f.s.Start(ctx), ErrSchedulerAlreadyRunning)

	require.NoError(t, f.s.Stop())
	assert.False(t, f.s.IsRunning())
	assert.ErrorIs(t, f.s.Stop(), ErrSchedulerNotRunning)
}

func TestEffectiveConfigFallsBackToBootDefaults(t *testing.T) {
	f := newFixture(t)

	// nothing seeded the config table; dispatch must still admit work
	// with the boot capacity instead of a zero-valued config
	cfg := f.s.effectiveConfig(context.Background())
	assert.Equal(t, 2, cfg.MaxAgents)
	assert.Equal(t, 0.01, cfg.DispatchInterval)

	writeGoal(t, f.wt.path("auth"), "auth", artifact.ChunkFuture)
	addUnit(t, f.store, &v1.WorkUnit{Chunk: "auth", Phase: v1.PhaseImplement, Status: v1.StatusReady})
	f.tick(t)

	assert.Equal(t, 1, f.agents.requestCount())

	// a persisted config takes over from the boot defaults
	require.NoError(t, f.store.SaveConfig(context.Background(), &v1.OrchestratorConfig{
		MaxAgents: 5, DispatchInterval: 2, MaxCompletionRetries: 1, BaseBranch: "main",
	}))
	assert.Equal(t, 5, f.s.effectiveConfig(context.Background()).MaxAgents)
}
