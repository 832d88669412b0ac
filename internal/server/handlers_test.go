package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vesys/ve/internal/artifact"
	"github.com/vesys/ve/internal/common/logger"
	"github.com/vesys/ve/internal/store"
	"github.com/vesys/ve/internal/worktree"
	v1 "github.com/vesys/ve/pkg/api/v1"
)

type fakeSched struct {
	cancelled []string
	err       error
}

func (f *fakeSched) RunningChunks() []string { return []string{"running-chunk"} }
func (f *fakeSched) Cancel(chunk string) error {
	if f.err != nil {
		return f.err
	}
	f.cancelled = append(f.cancelled, chunk)
	return nil
}

type fakeMerger struct {
	err   error
	calls []string
}

func (f *fakeMerger) RetryMerge(ctx context.Context, chunk string) error {
	f.calls = append(f.calls, chunk)
	return f.err
}

type fakeAnalyzer struct {
	analysis *v1.ConflictAnalysis
	err      error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, a, b string) (*v1.ConflictAnalysis, error) {
	return f.analysis, f.err
}

type apiFixture struct {
	srv    *Server
	store  store.Store
	sched  *fakeSched
	merger *fakeMerger
	root   string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	log := logger.Default()
	f := &apiFixture{
		store:  store.NewMemoryStore(nil, log),
		sched:  &fakeSched{},
		merger: &fakeMerger{},
		root:   t.TempDir(),
	}
	f.srv = NewServer(Deps{
		Store:     f.store,
		Oracle:    &fakeAnalyzer{analysis: &v1.ConflictAnalysis{Verdict: v1.VerdictIndependent, Reason: "no file overlap"}},
		Scheduler: f.sched,
		Merges:    f.merger,
		RepoRoot:  f.root,
		Logger:    log,
	})
	_, err := f.store.EnsureConfig(context.Background(), &v1.OrchestratorConfig{
		MaxAgents: 2, DispatchInterval: 1, MaxCompletionRetries: 3, BaseBranch: "main",
	})
	require.NoError(t, err)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func (f *apiFixture) doForm(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func (f *apiFixture) addUnit(t *testing.T, u *v1.WorkUnit) {
	t.Helper()
	require.NoError(t, f.store.CreateWorkUnit(context.Background(), u))
}

func (f *apiFixture) unit(t *testing.T, chunk string) *v1.WorkUnit {
	t.Helper()
	u, err := f.store.GetWorkUnit(context.Background(), chunk)
	require.NoError(t, err)
	return u
}

func (f *apiFixture) writeChunk(t *testing.T, chunk string, status artifact.ChunkStatus, plan string) {
	t.Helper()
	dir := artifact.ChunkDir(f.root, chunk)
	require.NoError(t, os.MkdirAll(dir, 0755))
	goal := fmt.Sprintf("---\nstatus: %s\n---\n\n# Goal\n", status)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "GOAL.md"), []byte(goal), 0644))
	if plan != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "PLAN.md"), []byte(plan), 0644))
	}
}

const populatedPlan = "# Plan\n\n## Approach\n\nSplit the handler and add tests.\n"
const templatePlan = "# Plan\n\n## Approach\n\n<!-- fill in -->\n"

func TestCreateAndDuplicateWorkUnit(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/work-units", CreateWorkUnitRequest{Chunk: "auth", Phase: v1.PhasePlan})
	require.Equal(t, http.StatusCreated, w.Code)

	var u v1.WorkUnit
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &u))
	assert.Equal(t, v1.StatusReady, u.Status)

	w = f.do(t, http.MethodPost, "/work-units", CreateWorkUnitRequest{Chunk: "auth", Phase: v1.PhasePlan})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateBlockedWhenDependenciesGiven(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/work-units", CreateWorkUnitRequest{
		Chunk: "auth", Phase: v1.PhasePlan, BlockedBy: []string{"base"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, v1.StatusBlocked, f.unit(t, "auth").Status)
}

func TestListWorkUnitsFiltered(t *testing.T) {
	f := newAPIFixture(t)
	f.addUnit(t, &v1.WorkUnit{Chunk: "a", Phase: v1.PhasePlan, Status: v1.StatusReady})
	f.addUnit(t, &v1.WorkUnit{Chunk: "b", Phase: v1.PhasePlan, Status: v1.StatusBlocked, BlockedBy: []string{"a"}})

	w := f.do(t, http.MethodGet, "/work-units?status=READY", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var units []*v1.WorkUnit
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &units))
	require.Len(t, units, 1)
	assert.Equal(t, "a", units[0].Chunk)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/work-units?status=NOPE", nil).Code)
}

func TestGetWorkUnitNotFound(t *testing.T) {
	f := newAPIFixture(t)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/work-units/ghost", nil).Code)
}

func TestPatchPriority(t *testing.T) {
	f := newAPIFixture(t)
	f.addUnit(t, &v1.WorkUnit{Chunk: "auth", Phase: v1.PhasePlan, Status: v1.StatusReady})

	w := f.do(t, http.MethodPatch, "/work-units/auth/priority", PriorityRequest{Priority: 7})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7, f.unit(t, "auth").Priority)
}

func TestDeleteWorkUnit(t *testing.T) {
	f := newAPIFixture(t)
	f.addUnit(t, &v1.WorkUnit{Chunk: "auth", Phase: v1.PhasePlan, Status: v1.StatusReady})

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/work-units/auth", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/work-units/auth", nil).Code)
}

func TestInjectPhaseDetection(t *testing.T) {
	f := newAPIFixture(t)

	// chunk dir without GOAL.md starts at GOAL
	require.NoError(t, os.MkdirAll(artifact.ChunkDir(f.root, "bare"), 0755))
	w := f.do(t, http.MethodPost, "/work-units/inject", InjectRequest{Chunk: "bare"})
	require.Equal(t, http.StatusCreated, w.Code)
	var resp InjectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, v1.PhaseGoal, resp.WorkUnit.Phase)

	// FUTURE with template plan starts at PLAN with a warning
	f.writeChunk(t, "future", artifact.ChunkFuture, templatePlan)
	w = f.do(t, http.MethodPost, "/work-units/inject", InjectRequest{Chunk: "future"})
	require.Equal(t, http.StatusCreated, w.Code)
	resp = InjectResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, v1.PhasePlan, resp.WorkUnit.Phase)
	assert.Contains(t, resp.Warning, "PLAN phase")

	// populated plan starts at IMPLEMENT
	f.writeChunk(t, "planned", artifact.ChunkFuture, populatedPlan)
	w = f.do(t, http.MethodPost, "/work-units/inject", InjectRequest{Chunk: "planned"})
	require.Equal(t, http.StatusCreated, w.Code)
	resp = InjectResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, v1.PhaseImplement, resp.WorkUnit.Phase)
	assert.Empty(t, resp.Warning)
}

func TestInjectRejections(t *testing.T) {
	f := newAPIFixture(t)

	// missing chunk directory
	assert.Equal(t, http.StatusNotFound,
		f.do(t, http.MethodPost, "/work-units/inject", InjectRequest{Chunk: "ghost"}).Code)

	// terminal statuses are not injectable
	f.writeChunk(t, "done", artifact.ChunkHistorical, populatedPlan)
	assert.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodPost, "/work-units/inject", InjectRequest{Chunk: "done"}).Code)

	// IMPLEMENTING requires a populated plan
	f.writeChunk(t, "wip", artifact.ChunkImplementing, templatePlan)
	assert.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodPost, "/work-units/inject", InjectRequest{Chunk: "wip"}).Code)

	// duplicate unit
	f.writeChunk(t, "dup", artifact.ChunkFuture, populatedPlan)
	require.Equal(t, http.StatusCreated,
		f.do(t, http.MethodPost, "/work-units/inject", InjectRequest{Chunk: "dup"}).Code)
	assert.Equal(t, http.StatusConflict,
		f.do(t, http.MethodPost, "/work-units/inject", InjectRequest{Chunk: "dup"}).Code)
}

func TestAnswerFlow(t *testing.T) {
	f := newAPIFixture(t)
	f.addUnit(t, &v1.WorkUnit{
		Chunk: "auth", Phase: v1.PhaseImplement, Status: v1.StatusNeedsAttention,
		AttentionReason: "Question: Which DB?", SessionID: "s1",
	})

	w := f.do(t, http.MethodPost, "/work-units/auth/answer", AnswerRequest{Answer: "postgres"})
	require.Equal(t, http.StatusOK, w.Code)

	u := f.unit(t, "auth")
	assert.Equal(t, v1.StatusReady, u.Status)
	assert.Equal(t, "postgres", u.PendingAnswer)
	assert.Empty(t, u.AttentionReason)
	assert.Equal(t, "s1", u.SessionID, "session survives for the resume")

	// the unit is no longer awaiting an answer
	w = f.do(t, http.MethodPost, "/work-units/auth/answer", AnswerRequest{Answer: "mysql"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResolveSerialize(t *testing.T) {
	f := newAPIFixture(t)
	f.addUnit(t, &v1.WorkUnit{
		Chunk: "auth", Phase: v1.PhaseImplement, Status: v1.StatusNeedsAttention,
		AttentionReason: "conflict with running chunk billing needs a decision",
	})
	f.addUnit(t, &v1.WorkUnit{
		Chunk: "billing", Phase: v1.PhaseImplement, Status: v1.StatusRunning, Worktree: "/wt",
	})

	w := f.do(t, http.MethodPost, "/work-units/auth/resolve",
		ResolveRequest{OtherChunk: "billing", Verdict: "serialize"})
	require.Equal(t, http.StatusOK, w.Code)

	u := f.unit(t, "auth")
	assert.Equal(t, v1.StatusBlocked, u.Status)
	assert.Equal(t, []string{"billing"}, u.BlockedBy)
	assert.Equal(t, v1.VerdictSerialize, u.ConflictVerdicts["billing"])
	assert.Empty(t, u.AttentionReason)

	// the verdict is mirrored onto the other side of the pair
	assert.Equal(t, v1.VerdictSerialize, f.unit(t, "billing").ConflictVerdicts["auth"])

	cached, err := f.store.GetConflict(context.Background(), "auth", "billing")
	require.NoError(t, err)
	assert.Equal(t, v1.VerdictSerialize, cached.Verdict)
	assert.Equal(t, "operator resolution", cached.Reason)
}

func TestResolveParallelize(t *testing.T) {
	f := newAPIFixture(t)
	f.addUnit(t, &v1.WorkUnit{
		Chunk: "auth", Phase: v1.PhaseImplement, Status: v1.StatusNeedsAttention,
		AttentionReason: "conflict with running chunk billing needs a decision",
	})

	w := f.do(t, http.MethodPost, "/work-units/auth/resolve",
		ResolveRequest{OtherChunk: "billing", Verdict: "parallelize"})
	require.Equal(t, http.StatusOK, w.Code)

	u := f.unit(t, "auth")
	assert.Equal(t, v1.StatusReady, u.Status)
	assert.Empty(t, u.BlockedBy)
	assert.Equal(t, v1.VerdictIndependent, u.ConflictVerdicts["billing"])

	// bad verdicts are rejected
	w = f.do(t, http.MethodPost, "/work-units/auth/resolve",
		ResolveRequest{OtherChunk: "billing", Verdict: "merge"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRetryMerge(t *testing.T) {
	f := newAPIFixture(t)
	f.addUnit(t, &v1.WorkUnit{
		Chunk: "auth", Phase: v1.PhaseComplete, Status: v1.StatusNeedsAttention,
		AttentionReason: "merge to base failed: merge of chunk/auth conflicts in: README.md",
	})
	f.addUnit(t, &v1.WorkUnit{
		Chunk: "billing", Phase: v1.PhasePlan, Status: v1.StatusBlocked, BlockedBy: []string{"auth"},
	})

	// first retry still conflicts, reason is rewritten
	f.merger.err = &worktree.MergeError{Branch: "chunk/auth", Paths: []string{"main.go"}}
	w := f.do(t, http.MethodPost, "/work-units/auth/retry-merge", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, f.unit(t, "auth").AttentionReason, "main.go")

	// second retry succeeds, unit is DONE and dependents are released
	f.merger.err = nil
	w = f.do(t, http.MethodPost, "/work-units/auth/retry-merge", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, v1.StatusDone, f.unit(t, "auth").Status)
	assert.Equal(t, v1.StatusReady, f.unit(t, "billing").Status)
}

func TestRetryMergeRequiresMergeFailure(t *testing.T) {
	f := newAPIFixture(t)
	f.addUnit(t, &v1.WorkUnit{
		Chunk: "auth", Phase: v1.PhaseComplete, Status: v1.StatusNeedsAttention,
		AttentionReason: "Question: Which DB?",
	})
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/work-units/auth/retry-merge", nil).Code)
	assert.Empty(t, f.merger.calls)
}

func TestCancel(t *testing.T) {
	f := newAPIFixture(t)
	f.addUnit(t, &v1.WorkUnit{
		Chunk: "auth", Phase: v1.PhaseImplement, Status: v1.StatusRunning, Worktree: "/wt",
	})

	assert.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/work-units/auth/cancel", nil).Code)
	assert.Equal(t, []string{"auth"}, f.sched.cancelled)
}

func TestConfigRoundTrip(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/config", nil)
	require.Equal(t, http.StatusOK, w.Code)

	three := 3
	w = f.do(t, http.MethodPatch, "/config", UpdateConfigRequest{MaxAgents: &three})
	require.Equal(t, http.StatusOK, w.Code)

	var cfg v1.OrchestratorConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	assert.Equal(t, 3, cfg.MaxAgents)
	assert.Equal(t, "main", cfg.BaseBranch, "unpatched fields survive")
}

func TestAnalyzeConflict(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/conflicts/analyze", AnalyzeRequest{ChunkA: "a", ChunkB: "b"})
	require.Equal(t, http.StatusOK, w.Code)
	var analysis v1.ConflictAnalysis
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &analysis))
	assert.Equal(t, v1.VerdictIndependent, analysis.Verdict)

	assert.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodPost, "/conflicts/analyze", AnalyzeRequest{ChunkA: "a", ChunkB: "a"}).Code)
}

func TestStatusEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.addUnit(t, &v1.WorkUnit{Chunk: "auth", Phase: v1.PhasePlan, Status: v1.StatusReady})

	w := f.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status v1.DaemonStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, os.Getpid(), status.PID)
	assert.Equal(t, 1, status.StatusCounts[v1.StatusReady])
	assert.Equal(t, []string{"running-chunk"}, status.Running)
}

func TestDashboardRendersAndForms(t *testing.T) {
	f := newAPIFixture(t)
	f.addUnit(t, &v1.WorkUnit{
		Chunk: "auth", Phase: v1.PhaseImplement, Status: v1.StatusNeedsAttention,
		AttentionReason: "Question: Which DB?",
	})

	w := f.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "auth")
	assert.Contains(t, w.Body.String(), "Question: Which DB?")

	// dashboard answer form redirects back to the board
	w = f.doForm(t, "/answer", url.Values{"chunk": {"auth"}, "answer": {"postgres"}})
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "postgres", f.unit(t, "auth").PendingAnswer)
}
