package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/vesys/ve/internal/common/errors"
	v1 "github.com/vesys/ve/pkg/api/v1"
)

// mergeFailurePrefix marks the attention reason written by a failed
// merge-back; retry-merge is only valid while it is present.
const mergeFailurePrefix = "merge to base failed"

// postAnswer resumes a suspended unit with an operator answer.
// POST /work-units/:chunk/answer
func (s *Server) postAnswer(c *gin.Context) {
	chunk := c.Param("chunk")
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperrors.ValidationError("request", err.Error()))
		return
	}
	u, appErr := s.applyAnswer(c.Request.Context(), chunk, req.Answer)
	if appErr != nil {
		s.respondError(c, appErr)
		return
	}
	c.JSON(http.StatusOK, u)
}

// applyAnswer stores the pending answer and re-queues the unit. Shared by
// the JSON endpoint and the dashboard form.
func (s *Server) applyAnswer(ctx context.Context, chunk, answer string) (*v1.WorkUnit, *apperrors.AppError) {
	if strings.TrimSpace(answer) == "" {
		return nil, apperrors.ValidationError("answer", "answer must not be empty")
	}
	u, err := s.store.GetWorkUnit(ctx, chunk)
	if err != nil {
		return nil, storeError(err, "work unit", chunk)
	}
	if u.Status != v1.StatusNeedsAttention {
		return nil, apperrors.BadRequest("work unit '" + chunk + "' is not awaiting an answer")
	}

	u.PendingAnswer = answer
	u.AttentionReason = ""
	// a unit that picked up blockers while parked waits for them first
	u.Status = v1.StatusReady
	if len(u.BlockedBy) > 0 {
		u.Status = v1.StatusBlocked
	}
	if err := s.store.UpdateWorkUnit(ctx, u); err != nil {
		return nil, storeError(err, "work unit", chunk)
	}
	s.logger.Info("Operator answer queued", zap.String("chunk", chunk))
	return u, nil
}

// postResolve records an operator verdict on a conflict pair.
// POST /work-units/:chunk/resolve
func (s *Server) postResolve(c *gin.Context) {
	chunk := c.Param("chunk")
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperrors.ValidationError("request", err.Error()))
		return
	}
	u, appErr := s.applyResolve(c.Request.Context(), chunk, req.OtherChunk, req.Verdict)
	if appErr != nil {
		s.respondError(c, appErr)
		return
	}
	c.JSON(http.StatusOK, u)
}

// applyResolve applies a parallelize or serialize decision to a unit and
// overwrites the cached pair analysis so the scheduler honours it.
func (s *Server) applyResolve(ctx context.Context, chunk, other, verdictName string) (*v1.WorkUnit, *apperrors.AppError) {
	var verdict v1.Verdict
	switch verdictName {
	case "parallelize":
		verdict = v1.VerdictIndependent
	case "serialize":
		verdict = v1.VerdictSerialize
	default:
		return nil, apperrors.ValidationError("verdict", "must be 'parallelize' or 'serialize'")
	}
	if other == chunk {
		return nil, apperrors.ValidationError("other_chunk", "must differ from the unit's chunk")
	}

	u, err := s.store.GetWorkUnit(ctx, chunk)
	if err != nil {
		return nil, storeError(err, "work unit", chunk)
	}

	if u.ConflictVerdicts == nil {
		u.ConflictVerdicts = make(map[string]v1.Verdict)
	}
	u.ConflictVerdicts[other] = verdict

	switch verdict {
	case v1.VerdictSerialize:
		if !u.IsBlockedBy(other) {
			u.BlockedBy = append(u.BlockedBy, other)
		}
		if u.Status == v1.StatusNeedsAttention {
			u.Status = v1.StatusBlocked
			u.AttentionReason = ""
		}
	case v1.VerdictIndependent:
		remaining := make([]string, 0, len(u.BlockedBy))
		for _, b := range u.BlockedBy {
			if b != other {
				remaining = append(remaining, b)
			}
		}
		u.BlockedBy = remaining
		if len(remaining) == 0 {
			switch {
			case u.Status == v1.StatusNeedsAttention && strings.Contains(u.AttentionReason, "conflict"):
				u.Status = v1.StatusReady
				u.AttentionReason = ""
			case u.Status == v1.StatusBlocked:
				u.Status = v1.StatusReady
			}
		}
	}

	if err := s.store.UpdateWorkUnit(ctx, u); err != nil {
		return nil, storeError(err, "work unit", chunk)
	}

	// the verdict lives on both units so either side of the pair can be
	// admitted against it
	if peer, err := s.store.GetWorkUnit(ctx, other); err == nil {
		if peer.ConflictVerdicts == nil {
			peer.ConflictVerdicts = make(map[string]v1.Verdict)
		}
		peer.ConflictVerdicts[chunk] = verdict
		if err := s.store.UpdateWorkUnit(ctx, peer); err != nil {
			s.logger.Warn("Failed to mirror verdict onto peer unit",
				zap.String("chunk", other), zap.Error(err))
		}
	}

	a, b := canonical(chunk, other)
	if err := s.store.SaveConflict(ctx, &v1.ConflictAnalysis{
		ChunkA:  a,
		ChunkB:  b,
		Verdict: verdict,
		Reason:  "operator resolution",
	}); err != nil {
		s.logger.Warn("Failed to persist operator verdict",
			zap.String("chunk", chunk), zap.Error(err))
	}

	s.logger.Info("Conflict resolved by operator",
		zap.String("chunk", chunk),
		zap.String("other", other),
		zap.String("verdict", string(verdict)))
	return u, nil
}

func canonical(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// postRetryMerge re-attempts a failed merge-back.
// POST /work-units/:chunk/retry-merge
func (s *Server) postRetryMerge(c *gin.Context) {
	chunk := c.Param("chunk")
	ctx := c.Request.Context()

	u, err := s.store.GetWorkUnit(ctx, chunk)
	if err != nil {
		s.respondError(c, storeError(err, "work unit", chunk))
		return
	}
	if !strings.Contains(u.AttentionReason, mergeFailurePrefix) {
		s.respondError(c, apperrors.BadRequest("work unit '"+chunk+"' has no failed merge to retry"))
		return
	}

	if err := s.merges.RetryMerge(ctx, chunk); err != nil {
		u.AttentionReason = mergeFailurePrefix + ": " + err.Error()
		if updateErr := s.store.UpdateWorkUnit(ctx, u); updateErr != nil {
			s.respondError(c, storeError(updateErr, "work unit", chunk))
			return
		}
		s.respondError(c, apperrors.Conflict(u.AttentionReason))
		return
	}

	u.Status = v1.StatusDone
	u.AttentionReason = ""
	u.SessionID = ""
	u.Worktree = ""
	if err := s.store.UpdateWorkUnit(ctx, u); err != nil {
		s.respondError(c, storeError(err, "work unit", chunk))
		return
	}
	s.unblockDependents(ctx, chunk)

	s.logger.Info("Merge retry succeeded", zap.String("chunk", chunk))
	c.JSON(http.StatusOK, u)
}

// unblockDependents mirrors the scheduler's dependent release for units
// finished through the retry-merge path.
func (s *Server) unblockDependents(ctx context.Context, chunk string) {
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
		}
		if err := s.store.UpdateWorkUnit(ctx, w); err != nil {
			s.logger.Error("Failed to update dependent unit",
				zap.String("chunk", w.Chunk), zap.Error(err))
		}
	}
}
