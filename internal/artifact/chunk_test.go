package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeChunk(t *testing.T, root, name, goal string) {
	t.Helper()
	dir := filepath.Join(root, "docs", "chunks", name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "GOAL.md"), []byte(goal), 0644))
}

func TestLoadChunkGoal(t *testing.T) {
	root := t.TempDir()
	writeChunk(t, root, "session-refresh", sampleGoal)

	goal, err := LoadChunkGoal(root, "session-refresh")
	require.NoError(t, err)

	assert.Equal(t, "session-refresh", goal.Name)
	assert.Equal(t, ChunkFuture, goal.Status)
	assert.Equal(t, []string{"auth-base"}, goal.CreatedAfter)
	require.Len(t, goal.CodeReferences, 1)
	assert.Equal(t, "internal/auth/login.go#Handler::ServeHTTP", goal.CodeReferences[0].Ref)
}

func TestLoadChunkGoalNotFound(t *testing.T) {
	_, err := LoadChunkGoal(t.TempDir(), "nope")
	assert.ErrorIs(t, err, ErrChunkNotFound)
}

func TestLoadChunkGoalInvalidStatus(t *testing.T) {
	root := t.TempDir()
	writeChunk(t, root, "bad", "---\nstatus: PENDING\n---\n")

	_, err := LoadChunkGoal(root, "bad")
	assert.ErrorContains(t, err, "invalid status")
}

func TestSetStatusWritesBack(t *testing.T) {
	root := t.TempDir()
	writeChunk(t, root, "session-refresh", sampleGoal)

	goal, err := LoadChunkGoal(root, "session-refresh")
	require.NoError(t, err)
	require.NoError(t, goal.SetStatus(ChunkImplementing, false))

	reloaded, err := LoadChunkGoal(root, "session-refresh")
	require.NoError(t, err)
	assert.Equal(t, ChunkImplementing, reloaded.Status)
	assert.Equal(t, goal.CreatedAfter, reloaded.CreatedAfter)
}

func TestSetStatusRejectsInvalidTransition(t *testing.T) {
	root := t.TempDir()
	writeChunk(t, root, "session-refresh", sampleGoal)

	goal, err := LoadChunkGoal(root, "session-refresh")
	require.NoError(t, err)
	assert.Error(t, goal.SetStatus(ChunkSuperseded, false))
}

func TestSetStatusDisplacementNeedsOrchestration(t *testing.T) {
	root := t.TempDir()
	writeChunk(t, root, "displaced", "---\nstatus: IMPLEMENTING\n---\n")

	goal, err := LoadChunkGoal(root, "displaced")
	require.NoError(t, err)
	assert.Error(t, goal.SetStatus(ChunkFuture, false))
	assert.NoError(t, goal.SetStatus(ChunkFuture, true))
}

func TestPlanPopulated(t *testing.T) {
	root := t.TempDir()
	writeChunk(t, root, "with-plan", sampleGoal)
	dir := filepath.Join(root, "docs", "chunks", "with-plan")

	assert.False(t, PlanPopulated(root, "with-plan"), "missing PLAN.md")

	plan := "---\nstatus: FUTURE\n---\n\n## Approach\n\n<!-- fill in -->\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "PLAN.md"), []byte(plan), 0644))
	assert.False(t, PlanPopulated(root, "with-plan"), "only template comment")

	plan = "---\nstatus: FUTURE\n---\n\n## Approach\n\nRefactor the token store first.\n\n## Risks\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "PLAN.md"), []byte(plan), 0644))
	assert.True(t, PlanPopulated(root, "with-plan"))

	plan = "---\nstatus: FUTURE\n---\n\n## Background\n\nLots of text here.\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "PLAN.md"), []byte(plan), 0644))
	assert.False(t, PlanPopulated(root, "with-plan"), "text outside Approach does not count")
}

func TestListChunks(t *testing.T) {
	root := t.TempDir()
	writeChunk(t, root, "beta", sampleGoal)
	writeChunk(t, root, "alpha", sampleGoal)

	names, err := ListChunks(root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, names)

	empty, err := ListChunks(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, empty)
}
