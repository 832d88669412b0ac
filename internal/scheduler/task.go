package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vesys/ve/internal/agent"
	"github.com/vesys/ve/internal/artifact"
	v1 "github.com/vesys/ve/pkg/api/v1"
)

// runUnit executes one phase of one work unit: worktree, chunk activation,
// agent run, result handling. Failures park the unit in NEEDS_ATTENTION
// rather than erroring out of the task.
func (s *Scheduler) runUnit(ctx context.Context, u *v1.WorkUnit, task *runningTask) {
	log := s.logger.WithChunk(u.Chunk).WithPhase(string(u.Phase))

	wtPath, err := s.worktrees.Create(ctx, u.Chunk)
	if err != nil {
		s.toAttention(ctx, u, "worktree creation failed: "+err.Error())
		return
	}
	u.Worktree = wtPath

	displaced, err := s.activateChunk(wtPath, u.Chunk)
	if err != nil {
		s.toAttention(ctx, u, err.Error())
		return
	}
	if displaced != "" {
		u.DisplacedChunk = displaced
		log.Info("Displaced active chunk", zap.String("displaced", displaced))
	}

	answer := u.PendingAnswer
	u.PendingAnswer = ""
	u.Status = v1.StatusRunning
	u.AttentionReason = ""
	if err := s.store.UpdateWorkUnit(ctx, u); err != nil {
		log.Error("Failed to transition unit to RUNNING", zap.Error(err))
		return
	}

	res := s.agents.RunPhase(ctx, &agent.RunPhaseRequest{
		Chunk:          u.Chunk,
		Phase:          u.Phase,
		Worktree:       wtPath,
		ResumeSession:  u.SessionID,
		InjectedAnswer: answer,
	})
	s.handleResult(ctx, u, task, res)
}

// handleResult routes an agent outcome: suspended and failed runs park the
// unit for the operator, completed runs advance the phase.
func (s *Scheduler) handleResult(ctx context.Context, u *v1.WorkUnit, task *runningTask, res *agent.Result) {
	if task.cancelled.Load() {
		// a shutdown cancel leaves the unit RUNNING for startup recovery
		if s.shuttingDown.Load() {
			s.logger.Info("Agent task interrupted by shutdown", zap.String("chunk", u.Chunk))
			return
		}
		u.SessionID = ""
		s.toAttention(ctx, u, "cancelled by operator")
		return
	}

	switch res.Kind {
	case agent.ResultSuspended:
		u.SessionID = res.SessionID
		s.toAttention(ctx, u, "Question: "+res.Question.Text)
	case agent.ResultFailed:
		if res.SessionID != "" {
			u.SessionID = res.SessionID
		}
		s.toAttention(ctx, u, res.Error)
	case agent.ResultCompleted:
		u.SessionID = res.SessionID
		s.advancePhase(ctx, u, task)
	}
}

// activateChunk marks the target chunk IMPLEMENTING inside the worktree,
// demoting whichever other chunk currently holds that status. Returns the
// demoted chunk name, if any.
func (s *Scheduler) activateChunk(worktreeRoot, chunk string) (string, error) {
	goal, err := artifact.LoadChunkGoal(worktreeRoot, chunk)
	if err != nil {
		return "", fmt.Errorf("chunk activation failed: %w", err)
	}

	switch goal.Status {
	case artifact.ChunkImplementing:
		return "", nil
	case artifact.ChunkFuture:
	default:
		return "", fmt.Errorf("chunk activation failed: %s is %s, expected FUTURE or IMPLEMENTING", chunk, goal.Status)
	}

	displaced := ""
	names, err := artifact.ListChunks(worktreeRoot)
	if err != nil {
		return "", fmt.Errorf("chunk activation failed: %w", err)
	}
	for _, name := range names {
		if name == chunk {
			continue
		}
		other, err := artifact.LoadChunkGoal(worktreeRoot, name)
		if err != nil {
			s.logger.Warn("Skipping unreadable chunk during activation",
				zap.String("chunk", name), zap.Error(err))
			continue
		}
		if other.Status != artifact.ChunkImplementing {
			continue
		}
		if err := other.SetStatus(artifact.ChunkFuture, true); err != nil {
			return "", fmt.Errorf("chunk activation failed: demote %s: %w", name, err)
		}
		displaced = name
		break
	}

	if err := goal.SetStatus(artifact.ChunkImplementing, true); err != nil {
		return "", fmt.Errorf("chunk activation failed: %w", err)
	}
	return displaced, nil
}
