package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vesys/ve/internal/agent"
	"github.com/vesys/ve/internal/artifact"
	v1 "github.com/vesys/ve/pkg/api/v1"
)

// advancePhase moves a unit whose agent run completed. Intermediate phases
// re-queue the unit at the next phase with a fresh conflict slate; finishing
// COMPLETE verifies the chunk ritual, merges the branch back, and marks the
// unit DONE.
func (s *Scheduler) advancePhase(ctx context.Context, u *v1.WorkUnit, task *runningTask) {
	log := s.logger.WithChunk(u.Chunk)

	next, ok := v1.NextPhase(u.Phase)
	if !ok {
		s.finishUnit(ctx, u, task)
		return
	}

	// later phases carry sharper location hints, so cached verdicts
	// against this chunk are recomputed on the next tick
	if err := s.store.ClearConflictsFor(ctx, u.Chunk); err != nil {
		log.Warn("Failed to clear cached conflict analyses", zap.Error(err))
	}

	prev := u.Phase
	u.Phase = next
	u.Status = v1.StatusReady
	if len(u.BlockedBy) > 0 {
		u.Status = v1.StatusBlocked
	}
	u.SessionID = ""
	u.AttentionReason = ""
	u.ConflictVerdicts = nil
	if err := s.store.UpdateWorkUnit(ctx, u); err != nil {
		log.Error("Failed to advance unit phase", zap.Error(err))
		return
	}
	log.Info("Advanced work unit",
		zap.String("from", string(prev)),
		zap.String("to", string(next)))
}

// finishUnit runs the end-of-lifecycle sequence after the COMPLETE phase:
// verify the chunk reached ACTIVE, commit leftovers, restore any displaced
// chunk, drop the worktree, merge to base, mark DONE, unblock dependents.
func (s *Scheduler) finishUnit(ctx context.Context, u *v1.WorkUnit, task *runningTask) {
	log := s.logger.WithChunk(u.Chunk)

	if !s.verifyActive(ctx, u, task) {
		return
	}

	if _, err := s.worktrees.CommitChanges(ctx, u.Chunk); err != nil {
		s.toAttention(ctx, u, "commit failed: "+err.Error())
		return
	}

	if u.DisplacedChunk != "" {
		if err := s.restoreDisplaced(ctx, u); err != nil {
			log.Warn("Failed to restore displaced chunk",
				zap.String("displaced", u.DisplacedChunk), zap.Error(err))
		}
	}

	if err := s.worktrees.Remove(ctx, u.Chunk, false); err != nil {
		log.Warn("Failed to remove worktree before merge", zap.Error(err))
	}

	if err := s.worktrees.MergeToBase(ctx, u.Chunk, true); err != nil {
		u.SessionID = ""
		s.toAttention(ctx, u, "merge to base failed: "+err.Error())
		return
	}

	u.Status = v1.StatusDone
	u.SessionID = ""
	u.Worktree = ""
	u.AttentionReason = ""
	u.DisplacedChunk = ""
	if err := s.store.UpdateWorkUnit(ctx, u); err != nil {
		log.Error("Failed to mark unit DONE", zap.Error(err))
		return
	}
	log.Info("Work unit done")

	s.unblockDependents(ctx, u.Chunk)
}

// verifyActive checks that the chunk-complete ritual marked the chunk ACTIVE,
// resuming the agent session with a reminder while completion retries remain.
// Returns false when the unit was parked instead.
func (s *Scheduler) verifyActive(ctx context.Context, u *v1.WorkUnit, task *runningTask) bool {
	maxRetries := s.effectiveConfig(ctx).MaxCompletionRetries

	for {
		goal, err := artifact.LoadChunkGoal(u.Worktree, u.Chunk)
		if err != nil {
			s.toAttention(ctx, u, "cannot verify chunk status: "+err.Error())
			return false
		}
		if goal.Status == artifact.ChunkActive {
			return true
		}
		if goal.Status != artifact.ChunkImplementing {
			s.toAttention(ctx, u, fmt.Sprintf("unexpected chunk status %s after COMPLETE phase", goal.Status))
			return false
		}
		if u.CompletionRetries >= maxRetries {
			s.toAttention(ctx, u, fmt.Sprintf("chunk still IMPLEMENTING after %d completion attempts", u.CompletionRetries))
			return false
		}

		u.CompletionRetries++
		if err := s.store.UpdateWorkUnit(ctx, u); err != nil {
			s.logger.Error("Failed to record completion retry",
				zap.String("chunk", u.Chunk), zap.Error(err))
			return false
		}
		s.logger.Info("Resuming session with completion reminder",
			zap.String("chunk", u.Chunk),
			zap.Int("attempt", u.CompletionRetries))

		res := s.agents.RunPhase(ctx, &agent.RunPhaseRequest{
			Chunk:          u.Chunk,
			Phase:          u.Phase,
			Worktree:       u.Worktree,
			ResumeSession:  u.SessionID,
			PromptOverride: agent.CompletionReminder,
			MaxTurns:       s.agents.ResumeMaxTurns(),
		})
		if task.cancelled.Load() {
			if s.shuttingDown.Load() {
				s.logger.Info("Completion retry interrupted by shutdown", zap.String("chunk", u.Chunk))
				return false
			}
			u.SessionID = ""
			s.toAttention(ctx, u, "cancelled by operator")
			return false
		}
		switch res.Kind {
		case agent.ResultSuspended:
			u.SessionID = res.SessionID
			s.toAttention(ctx, u, "Question: "+res.Question.Text)
			return false
		case agent.ResultFailed:
			s.toAttention(ctx, u, res.Error)
			return false
		}
		u.SessionID = res.SessionID
	}
}

// restoreDisplaced puts the chunk demoted during activation back to
// IMPLEMENTING and commits the change so it survives the merge.
func (s *Scheduler) restoreDisplaced(ctx context.Context, u *v1.WorkUnit) error {
	goal, err := artifact.LoadChunkGoal(u.Worktree, u.DisplacedChunk)
	if err != nil {
		return err
	}
	if err := goal.SetStatus(artifact.ChunkImplementing, true); err != nil {
		return err
	}
	if _, err := s.worktrees.CommitChanges(ctx, u.Chunk); err != nil {
		return err
	}
	s.logger.Info("Restored displaced chunk",
		zap.String("chunk", u.Chunk),
		zap.String("displaced", u.DisplacedChunk))
	return nil
}

// unblockDependents removes a finished chunk from every blocked_by list and
// releases units whose list drained.
func (s *Scheduler) unblockDependents(ctx context.Context, chunk string) {
	units, err := s.store.ListWorkUnits(ctx, "")
	if err != nil {
		s.logger.Error("Failed to list units for unblocking", zap.Error(err))
		return
	}
	for _, w := range units {
		if !w.IsBlockedBy(chunk) {
			continue
		}
		remaining := make([]string, 0, len(w.BlockedBy)-1)
		for _, b := range w.BlockedBy {
			if b != chunk {
				remaining = append(remaining, b)
			}
		}
		w.BlockedBy = remaining
		if len(remaining) == 0 && w.Status == v1.StatusBlocked {
			w.Status = v1.StatusReady
			s.logger.Info("Unblocked work unit",
				zap.String("chunk", w.Chunk),
				zap.String("completed", chunk))
		}
		if err := s.store.UpdateWorkUnit(ctx, w); err != nil {
			s.logger.Error("Failed to update dependent unit",
				zap.String("chunk", w.Chunk), zap.Error(err))
		}
	}
}
