package server

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vesys/ve/internal/artifact"
	apperrors "github.com/vesys/ve/internal/common/errors"
	v1 "github.com/vesys/ve/pkg/api/v1"
)

// injectWorkUnit validates a chunk and creates its work unit at the detected
// starting phase.
// POST /work-units/inject
func (s *Server) injectWorkUnit(c *gin.Context) {
	var req InjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperrors.ValidationError("request", err.Error()))
		return
	}
	if !artifact.ValidName(req.Chunk) {
		s.respondError(c, apperrors.ValidationError("chunk", "invalid chunk name"))
		return
	}

	phase, warning, appErr := s.validateInject(req.Chunk)
	if appErr != nil {
		s.respondError(c, appErr)
		return
	}

	u := &v1.WorkUnit{
		Chunk:     req.Chunk,
		Phase:     phase,
		Status:    v1.StatusReady,
		Priority:  req.Priority,
		BlockedBy: req.BlockedBy,
	}
	if len(req.BlockedBy) > 0 {
		u.Status = v1.StatusBlocked
	}
	if err := s.store.CreateWorkUnit(c.Request.Context(), u); err != nil {
		s.respondError(c, storeError(err, "work unit", req.Chunk))
		return
	}

	s.logger.Info("Injected work unit",
		zap.String("chunk", req.Chunk),
		zap.String("phase", string(phase)))
	c.JSON(http.StatusCreated, &InjectResponse{WorkUnit: u, Warning: warning})
}

// validateInject checks chunk injectability and detects the starting phase.
func (s *Server) validateInject(chunk string) (v1.Phase, string, *apperrors.AppError) {
	if _, err := os.Stat(artifact.ChunkDir(s.repoRoot, chunk)); err != nil {
		return "", "", apperrors.NotFound("chunk", chunk)
	}

	// a chunk directory without a GOAL.md starts at the GOAL phase
	if !artifact.HasGoal(s.repoRoot, chunk) {
		return v1.PhaseGoal, "", nil
	}

	goal, err := artifact.LoadChunkGoal(s.repoRoot, chunk)
	if err != nil {
		return "", "", apperrors.BadRequest("chunk '" + chunk + "' is unreadable: " + err.Error())
	}

	planPopulated := artifact.PlanPopulated(s.repoRoot, chunk)
	warning := ""

	switch goal.Status {
	case artifact.ChunkSuperseded, artifact.ChunkHistorical:
		return "", "", apperrors.BadRequest("chunk '" + chunk + "' is " + string(goal.Status) + " and cannot be injected")
	case artifact.ChunkImplementing, artifact.ChunkActive:
		if !planPopulated {
			return "", "", apperrors.BadRequest("chunk '" + chunk + "' is " + string(goal.Status) + " but its PLAN.md is empty")
		}
	case artifact.ChunkFuture:
		if !planPopulated {
			warning = "chunk '" + chunk + "' has no populated PLAN.md; the agent will start at the PLAN phase"
		}
	}

	switch {
	case (goal.Status == artifact.ChunkFuture || goal.Status == artifact.ChunkImplementing) && !planPopulated:
		return v1.PhasePlan, warning, nil
	case planPopulated:
		return v1.PhaseImplement, warning, nil
	default:
		return v1.PhasePlan, warning, nil
	}
}
