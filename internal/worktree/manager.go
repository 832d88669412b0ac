// Package worktree isolates each running chunk in its own git worktree on a
// branch forked from the base branch, and merges finished work back.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/vesys/ve/internal/common/logger"
)

var (
	// ErrGitCommandFailed wraps any git subprocess failure.
	ErrGitCommandFailed = errors.New("git command failed")
	// ErrWrongBranch indicates an existing worktree checked out an
	// unexpected branch.
	ErrWrongBranch = errors.New("worktree is on an unexpected branch")
)

// MergeError is returned when merging a chunk branch into the base branch
// conflicts. The merge is left in progress so the operator can resolve it.
type MergeError struct {
	Branch string
	Paths  []string
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge of %s conflicts in: %s", e.Branch, strings.Join(e.Paths, ", "))
}

// Manager performs all git worktree operations for the orchestrator.
// Operations against the shared host repository are serialised by a single
// repo lock; per-worktree operations only touch their own checkout.
type Manager struct {
	repoRoot   string
	baseBranch string
	logger     *logger.Logger
	repoLock   sync.Mutex
}

// NewManager creates a worktree manager rooted at the host repository.
func NewManager(repoRoot, baseBranch string, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		repoRoot:   repoRoot,
		baseBranch: baseBranch,
		logger:     log.WithFields(zap.String("component", "worktree-manager")),
	}
}

// BranchName returns the branch a chunk's work happens on.
func (m *Manager) BranchName(chunk string) string {
	return "chunk/" + chunk
}

// Path returns the on-disk worktree location for a chunk.
func (m *Manager) Path(chunk string) string {
	return filepath.Join(m.repoRoot, ".ve", "chunks", chunk, "worktree")
}

// runGit runs a git command with its working directory set to dir.
func (m *Manager) runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%w: git %s: %s", ErrGitCommandFailed, strings.Join(args, " "), strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// runGitWorktree runs a git command inside a chunk's worktree with
// GIT_DIR/GIT_WORK_TREE pinned, so an escaped cd inside an agent subprocess
// can never redirect the command at the host repository.
func (m *Manager) runGitWorktree(ctx context.Context, chunk string, args ...string) (string, error) {
	wt := m.Path(chunk)
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = wt
	cmd.Env = append(os.Environ(),
		"GIT_DIR="+filepath.Join(wt, ".git"),
		"GIT_WORK_TREE="+wt,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%w: git %s: %s", ErrGitCommandFailed, strings.Join(args, " "), strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

func (m *Manager) branchExists(ctx context.Context, branch string) bool {
	_, err := m.runGit(ctx, m.repoRoot, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// Create ensures the chunk branch exists (forking it from the base branch
// head if not) and adds a worktree for it. Idempotent: an existing worktree
// on the expected branch is returned as is; one on a different branch fails.
func (m *Manager) Create(ctx context.Context, chunk string) (string, error) {
	m.repoLock.Lock()
	defer m.repoLock.Unlock()

	branch := m.BranchName(chunk)
	path := m.Path(chunk)

	if _, err := os.Stat(path); err == nil {
		current, err := m.runGitWorktree(ctx, chunk, "rev-parse", "--abbrev-ref", "HEAD")
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(current) != branch {
			return "", fmt.Errorf("%w: %s is on %s, expected %s", ErrWrongBranch, path, strings.TrimSpace(current), branch)
		}
		return path, nil
	}

	if !m.branchExists(ctx, branch) {
		if _, err := m.runGit(ctx, m.repoRoot, "branch", branch, m.baseBranch); err != nil {
			return "", err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create worktree parent directory: %w", err)
	}
	if _, err := m.runGit(ctx, m.repoRoot, "worktree", "add", path, branch); err != nil {
		return "", err
	}

	m.logger.Info("Created worktree",
		zap.String("chunk", chunk),
		zap.String("branch", branch),
		zap.String("path", path))
	return path, nil
}

// Remove deletes the worktree directory and, when removeBranch is set,
// safe-deletes the branch. An unmerged branch survives with a warning.
func (m *Manager) Remove(ctx context.Context, chunk string, removeBranch bool) error {
	m.repoLock.Lock()
	defer m.repoLock.Unlock()

	path := m.Path(chunk)
	if _, err := os.Stat(path); err == nil {
		if _, err := m.runGit(ctx, m.repoRoot, "worktree", "remove", "--force", path); err != nil {
			return err
		}
	} else {
		// directory already gone; drop the stale registration
		if _, err := m.runGit(ctx, m.repoRoot, "worktree", "prune"); err != nil {
			return err
		}
	}

	if removeBranch {
		branch := m.BranchName(chunk)
		if m.branchExists(ctx, branch) {
			if _, err := m.runGit(ctx, m.repoRoot, "branch", "-d", branch); err != nil {
				m.logger.Warn("Keeping unmerged branch",
					zap.String("branch", branch), zap.Error(err))
			}
		}
	}

	m.logger.Info("Removed worktree", zap.String("chunk", chunk))
	return nil
}

// HasUncommittedChanges reports whether the worktree has any staged,
// unstaged, or untracked changes.
func (m *Manager) HasUncommittedChanges(ctx context.Context, chunk string) (bool, error) {
	output, err := m.runGitWorktree(ctx, chunk, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(output) != "", nil
}

// CommitChanges stages everything and commits with a mechanical message.
// Returns false when there was nothing to commit.
func (m *Manager) CommitChanges(ctx context.Context, chunk string) (bool, error) {
	dirty, err := m.HasUncommittedChanges(ctx, chunk)
	if err != nil {
		return false, err
	}
	if !dirty {
		return false, nil
	}

	if _, err := m.runGitWorktree(ctx, chunk, "add", "-A"); err != nil {
		return false, err
	}
	message := fmt.Sprintf("chore(chunk): %s phase work", chunk)
	if _, err := m.runGitWorktree(ctx, chunk, "commit", "-m", message); err != nil {
		return false, err
	}

	m.logger.Info("Committed phase work", zap.String("chunk", chunk))
	return true, nil
}

// HasChanges reports whether the chunk branch is ahead of the base branch.
func (m *Manager) HasChanges(ctx context.Context, chunk string) (bool, error) {
	branch := m.BranchName(chunk)
	if !m.branchExists(ctx, branch) {
		return false, nil
	}
	output, err := m.runGit(ctx, m.repoRoot, "rev-list", "--count", m.baseBranch+".."+branch)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(output) != "0", nil
}

// MergeToBase checks out the base branch and merges the chunk branch,
// fast-forwarding when possible. On conflict the merge is left in progress
// and a MergeError carrying the conflicting paths is returned.
func (m *Manager) MergeToBase(ctx context.Context, chunk string, deleteBranch bool) error {
	m.repoLock.Lock()
	defer m.repoLock.Unlock()

	branch := m.BranchName(chunk)
	if _, err := m.runGit(ctx, m.repoRoot, "checkout", m.baseBranch); err != nil {
		return err
	}
	if _, err := m.runGit(ctx, m.repoRoot, "merge", "--no-edit", branch); err != nil {
		conflicts, diffErr := m.runGit(ctx, m.repoRoot, "diff", "--name-only", "--diff-filter=U")
		if diffErr != nil {
			return err
		}
		var paths []string
		for _, line := range strings.Split(strings.TrimSpace(conflicts), "\n") {
			if line != "" {
				paths = append(paths, line)
			}
		}
		return &MergeError{Branch: branch, Paths: paths}
	}

	if deleteBranch {
		if _, err := m.runGit(ctx, m.repoRoot, "branch", "-d", branch); err != nil {
			m.logger.Warn("Keeping branch after merge", zap.String("branch", branch), zap.Error(err))
		}
	}

	m.logger.Info("Merged chunk branch",
		zap.String("chunk", chunk),
		zap.String("base", m.baseBranch))
	return nil
}

// AbortMerge cancels an in-progress merge on the base branch. Used by the
// retry-merge path when the operator wants a clean slate.
func (m *Manager) AbortMerge(ctx context.Context) error {
	m.repoLock.Lock()
	defer m.repoLock.Unlock()
	_, err := m.runGit(ctx, m.repoRoot, "merge", "--abort")
	return err
}

// RetryMerge re-attempts a failed merge after operator intervention. A merge
// left in progress is concluded with a merge commit once its conflicts are
// resolved; otherwise the merge is run from scratch.
func (m *Manager) RetryMerge(ctx context.Context, chunk string) error {
	m.repoLock.Lock()
	mergeInProgress := false
	if _, err := os.Stat(filepath.Join(m.repoRoot, ".git", "MERGE_HEAD")); err == nil {
		mergeInProgress = true
	}
	if mergeInProgress {
		defer m.repoLock.Unlock()
		conflicts, err := m.runGit(ctx, m.repoRoot, "diff", "--name-only", "--diff-filter=U")
		if err != nil {
			return err
		}
		if strings.TrimSpace(conflicts) != "" {
			return &MergeError{
				Branch: m.BranchName(chunk),
				Paths:  strings.Fields(strings.TrimSpace(conflicts)),
			}
		}
		if _, err := m.runGit(ctx, m.repoRoot, "commit", "--no-edit"); err != nil {
			return err
		}
		m.logger.Info("Concluded resolved merge", zap.String("chunk", chunk))
		return nil
	}
	m.repoLock.Unlock()

	return m.MergeToBase(ctx, chunk, true)
}

// ListWorktrees enumerates the chunk names that have an on-disk worktree
// under .ve/chunks. The scheduler's recovery removes the ones whose owning
// work unit is not RUNNING.
func (m *Manager) ListWorktrees() ([]string, error) {
	chunksDir := filepath.Join(m.repoRoot, ".ve", "chunks")
	entries, err := os.ReadDir(chunksDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var chunks []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(chunksDir, e.Name(), "worktree")); err == nil {
			chunks = append(chunks, e.Name())
		}
	}
	return chunks, nil
}
