package worktree

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vesys/ve/internal/common/logger"
)

func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, output)
	return string(output)
}

// initRepo creates a git repository with one commit on main.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	gitCmd(t, dir, "init")
	gitCmd(t, dir, "checkout", "-b", "main")
	gitCmd(t, dir, "config", "user.name", "test")
	gitCmd(t, dir, "config", "user.email", "test@example.com")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0644))
	gitCmd(t, dir, "add", "-A")
	gitCmd(t, dir, "commit", "-m", "initial")
	return dir
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	repo := initRepo(t)
	return NewManager(repo, "main", logger.Default()), repo
}

func TestCreateWorktree(t *testing.T) {
	m, repo := newTestManager(t)
	ctx := context.Background()

	path, err := m.Create(ctx, "auth")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(repo, ".ve", "chunks", "auth", "worktree"), path)
	assert.DirExists(t, path)

	// branch was forked from main
	out := gitCmd(t, repo, "branch", "--list", "chunk/auth")
	assert.Contains(t, out, "chunk/auth")
}

func TestCreateIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.Create(ctx, "auth")
	require.NoError(t, err)
	second, err := m.Create(ctx, "auth")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCreateWrongBranchFails(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	path, err := m.Create(ctx, "auth")
	require.NoError(t, err)

	// move the checkout off its expected branch
	gitCmd(t, path, "checkout", "-b", "rogue")

	_, err = m.Create(ctx, "auth")
	assert.ErrorIs(t, err, ErrWrongBranch)
}

func TestHasUncommittedAndCommitChanges(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	path, err := m.Create(ctx, "auth")
	require.NoError(t, err)

	dirty, err := m.HasUncommittedChanges(ctx, "auth")
	require.NoError(t, err)
	assert.False(t, dirty)

	committed, err := m.CommitChanges(ctx, "auth")
	require.NoError(t, err)
	assert.False(t, committed, "nothing to commit")

	require.NoError(t, os.WriteFile(filepath.Join(path, "auth.go"), []byte("package auth\n"), 0644))
	dirty, err = m.HasUncommittedChanges(ctx, "auth")
	require.NoError(t, err)
	assert.True(t, dirty)

	committed, err = m.CommitChanges(ctx, "auth")
	require.NoError(t, err)
	assert.True(t, committed)

	log := gitCmd(t, path, "log", "-1", "--pretty=%s")
	assert.Contains(t, log, "chore(chunk): auth phase work")
}

func TestHasChanges(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	path, err := m.Create(ctx, "auth")
	require.NoError(t, err)

	ahead, err := m.HasChanges(ctx, "auth")
	require.NoError(t, err)
	assert.False(t, ahead)

	require.NoError(t, os.WriteFile(filepath.Join(path, "auth.go"), []byte("package auth\n"), 0644))
	_, err = m.CommitChanges(ctx, "auth")
	require.NoError(t, err)

	ahead, err = m.HasChanges(ctx, "auth")
	require.NoError(t, err)
	assert.True(t, ahead)

	// unknown branch is simply "no changes"
	ahead, err = m.HasChanges(ctx, "nonexistent")
	require.NoError(t, err)
	assert.False(t, ahead)
}

func TestMergeToBaseFastForward(t *testing.T) {
	m, repo := newTestManager(t)
	ctx := context.Background()

	path, err := m.Create(ctx, "auth")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(path, "auth.go"), []byte("package auth\n"), 0644))
	_, err = m.CommitChanges(ctx, "auth")
	require.NoError(t, err)

	require.NoError(t, m.Remove(ctx, "auth", false))
	require.NoError(t, m.MergeToBase(ctx, "auth", true))

	assert.FileExists(t, filepath.Join(repo, "auth.go"))
	// safe-delete succeeded after the merge
	out := gitCmd(t, repo, "branch", "--list", "chunk/auth")
	assert.NotContains(t, out, "chunk/auth")
}

func TestMergeToBaseConflict(t *testing.T) {
	m, repo := newTestManager(t)
	ctx := context.Background()

	path, err := m.Create(ctx, "auth")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(path, "README.md"), []byte("branch version\n"), 0644))
	_, err = m.CommitChanges(ctx, "auth")
	require.NoError(t, err)

	// diverge the base branch on the same file
	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("base version\n"), 0644))
	gitCmd(t, repo, "add", "-A")
	gitCmd(t, repo, "commit", "-m", "base change")

	require.NoError(t, m.Remove(ctx, "auth", false))
	err = m.MergeToBase(ctx, "auth", false)
	var mergeErr *MergeError
	require.True(t, errors.As(err, &mergeErr))
	assert.Equal(t, []string{"README.md"}, mergeErr.Paths)

	// merge left in progress for operator resolution
	assert.FileExists(t, filepath.Join(repo, ".git", "MERGE_HEAD"))
}

func TestRetryMergeAfterResolution(t *testing.T) {
	m, repo := newTestManager(t)
	ctx := context.Background()

	path, err := m.Create(ctx, "auth")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(path, "README.md"), []byte("branch version\n"), 0644))
	_, err = m.CommitChanges(ctx, "auth")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("base version\n"), 0644))
	gitCmd(t, repo, "add", "-A")
	gitCmd(t, repo, "commit", "-m", "base change")

	require.NoError(t, m.Remove(ctx, "auth", false))
	var mergeErr *MergeError
	require.True(t, errors.As(m.MergeToBase(ctx, "auth", false), &mergeErr))

	// retry with the conflict still unresolved reports it again
	err = m.RetryMerge(ctx, "auth")
	require.True(t, errors.As(err, &mergeErr))
	assert.Equal(t, []string{"README.md"}, mergeErr.Paths)

	// operator resolves and stages the file, retry concludes the merge
	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("merged version\n"), 0644))
	gitCmd(t, repo, "add", "README.md")
	require.NoError(t, m.RetryMerge(ctx, "auth"))
	assert.NoFileExists(t, filepath.Join(repo, ".git", "MERGE_HEAD"))
}

func TestRemoveWorktree(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	path, err := m.Create(ctx, "auth")
	require.NoError(t, err)
	require.NoError(t, m.Remove(ctx, "auth", true))
	assert.NoDirExists(t, path)

	// removing again is fine (prune path)
	require.NoError(t, m.Remove(ctx, "auth", false))
}

func TestListWorktrees(t *testing.T) {
	m, repo := newTestManager(t)
	ctx := context.Background()

	chunks, err := m.ListWorktrees()
	require.NoError(t, err)
	assert.Empty(t, chunks)

	_, err = m.Create(ctx, "auth")
	require.NoError(t, err)
	_, err = m.Create(ctx, "billing")
	require.NoError(t, err)

	// a chunk dir without a worktree is not listed
	require.NoError(t, os.MkdirAll(filepath.Join(repo, ".ve", "chunks", "stale", "logs"), 0755))

	chunks, err = m.ListWorktrees()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"auth", "billing"}, chunks)
}
