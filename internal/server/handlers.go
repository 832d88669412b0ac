package server

import (
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vesys/ve/internal/agent"
	apperrors "github.com/vesys/ve/internal/common/errors"
	"github.com/vesys/ve/internal/store"
	v1 "github.com/vesys/ve/pkg/api/v1"
)

// respondError writes an AppError response and logs server faults.
func (s *Server) respondError(c *gin.Context, appErr *apperrors.AppError) {
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(appErr))
	}
	c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Message, "code": appErr.Code})
}

// storeError maps store sentinels onto API errors.
func storeError(err error, resource, id string) *apperrors.AppError {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperrors.NotFound(resource, id)
	case errors.Is(err, store.ErrAlreadyExists):
		return apperrors.Conflict("work unit for chunk '" + id + "' already exists")
	case errors.Is(err, store.ErrTerminalStatus):
		return apperrors.Conflict("work unit '" + id + "' is DONE")
	case errors.Is(err, store.ErrInvalidUnit):
		return apperrors.BadRequest(err.Error())
	default:
		return apperrors.Wrap(err, "store operation failed")
	}
}

// listWorkUnits lists all work units, optionally filtered.
// GET /work-units?status=
func (s *Server) listWorkUnits(c *gin.Context) {
	status := v1.UnitStatus(c.Query("status"))
	if status != "" && !v1.ValidUnitStatus(status) {
		s.respondError(c, apperrors.ValidationError("status", "unknown status "+string(status)))
		return
	}
	units, err := s.store.ListWorkUnits(c.Request.Context(), status)
	if err != nil {
		s.respondError(c, storeError(err, "work units", ""))
		return
	}
	c.JSON(http.StatusOK, units)
}

// createWorkUnit creates a work unit without inject validation.
// POST /work-units
func (s *Server) createWorkUnit(c *gin.Context) {
	var req CreateWorkUnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperrors.ValidationError("request", err.Error()))
		return
	}
	if !v1.ValidPhase(req.Phase) {
		s.respondError(c, apperrors.ValidationError("phase", "unknown phase "+string(req.Phase)))
		return
	}

	u := &v1.WorkUnit{
		Chunk:     req.Chunk,
		Phase:     req.Phase,
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
	c.JSON(http.StatusCreated, u)
}

// getWorkUnit returns a single work unit.
// GET /work-units/:chunk
func (s *Server) getWorkUnit(c *gin.Context) {
	chunk := c.Param("chunk")
	u, err := s.store.GetWorkUnit(c.Request.Context(), chunk)
	if err != nil {
		s.respondError(c, storeError(err, "work unit", chunk))
		return
	}
	c.JSON(http.StatusOK, u)
}

// patchWorkUnit applies a partial update.
// PATCH /work-units/:chunk
func (s *Server) patchWorkUnit(c *gin.Context) {
	chunk := c.Param("chunk")
	var req UpdateWorkUnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperrors.ValidationError("request", err.Error()))
		return
	}

	u, err := s.store.GetWorkUnit(c.Request.Context(), chunk)
	if err != nil {
		s.respondError(c, storeError(err, "work unit", chunk))
		return
	}

	if req.Status != nil {
		u.Status = *req.Status
	}
	if req.Priority != nil {
		u.Priority = *req.Priority
	}
	if req.BlockedBy != nil {
		u.BlockedBy = *req.BlockedBy
	}
	if req.ConflictOverride != nil {
		u.ConflictOverride = *req.ConflictOverride
	}
	if req.PendingAnswer != nil {
		u.PendingAnswer = *req.PendingAnswer
	}

	if err := s.store.UpdateWorkUnit(c.Request.Context(), u); err != nil {
		s.respondError(c, storeError(err, "work unit", chunk))
		return
	}
	c.JSON(http.StatusOK, u)
}

// deleteWorkUnit removes a work unit and its history.
// DELETE /work-units/:chunk
func (s *Server) deleteWorkUnit(c *gin.Context) {
	chunk := c.Param("chunk")
	if err := s.store.DeleteWorkUnit(c.Request.Context(), chunk); err != nil {
		s.respondError(c, storeError(err, "work unit", chunk))
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": chunk})
}

// patchPriority sets a unit's priority.
// PATCH /work-units/:chunk/priority
func (s *Server) patchPriority(c *gin.Context) {
	chunk := c.Param("chunk")
	var req PriorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperrors.ValidationError("request", err.Error()))
		return
	}

	u, err := s.store.GetWorkUnit(c.Request.Context(), chunk)
	if err != nil {
		s.respondError(c, storeError(err, "work unit", chunk))
		return
	}
	u.Priority = req.Priority
	if err := s.store.UpdateWorkUnit(c.Request.Context(), u); err != nil {
		s.respondError(c, storeError(err, "work unit", chunk))
		return
	}
	c.JSON(http.StatusOK, u)
}

// getQueue returns the ready queue in dispatch order.
// GET /work-units/queue
func (s *Server) getQueue(c *gin.Context) {
	units, err := s.store.ReadyQueue(c.Request.Context(), 0)
	if err != nil {
		s.respondError(c, storeError(err, "ready queue", ""))
		return
	}
	c.JSON(http.StatusOK, units)
}

// getAttention returns the attention queue in triage order.
// GET /attention
func (s *Server) getAttention(c *gin.Context) {
	items, err := s.store.AttentionQueue(c.Request.Context())
	if err != nil {
		s.respondError(c, storeError(err, "attention queue", ""))
		return
	}
	c.JSON(http.StatusOK, items)
}

// getHistory returns the status-transition log of a unit.
// GET /work-units/:chunk/history
func (s *Server) getHistory(c *gin.Context) {
	chunk := c.Param("chunk")
	if _, err := s.store.GetWorkUnit(c.Request.Context(), chunk); err != nil {
		s.respondError(c, storeError(err, "work unit", chunk))
		return
	}
	history, err := s.store.History(c.Request.Context(), chunk)
	if err != nil {
		s.respondError(c, storeError(err, "history", chunk))
		return
	}
	c.JSON(http.StatusOK, history)
}

// getPhaseLog streams the raw agent message log of one phase.
// GET /work-units/:chunk/log?phase=
func (s *Server) getPhaseLog(c *gin.Context) {
	chunk := c.Param("chunk")
	u, err := s.store.GetWorkUnit(c.Request.Context(), chunk)
	if err != nil {
		s.respondError(c, storeError(err, "work unit", chunk))
		return
	}

	phase := u.Phase
	if q := c.Query("phase"); q != "" {
		phase = v1.Phase(q)
		if !v1.ValidPhase(phase) {
			s.respondError(c, apperrors.ValidationError("phase", "unknown phase "+q))
			return
		}
	}

	path := agent.PhaseLogPath(s.repoRoot, chunk, phase)
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(c, apperrors.NotFound("phase log", chunk+"/"+string(phase)))
			return
		}
		s.respondError(c, apperrors.InternalError("failed to read phase log", err))
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", content)
}

// getConfig returns the effective daemon config.
// GET /config
func (s *Server) getConfig(c *gin.Context) {
	cfg, err := s.store.LoadConfig(c.Request.Context())
	if err != nil {
		s.respondError(c, storeError(err, "config", ""))
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// patchConfig applies a partial config update.
// PATCH /config
func (s *Server) patchConfig(c *gin.Context) {
	var req UpdateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperrors.ValidationError("request", err.Error()))
		return
	}

	cfg, err := s.store.LoadConfig(c.Request.Context())
	if err != nil {
		s.respondError(c, storeError(err, "config", ""))
		return
	}
	if req.MaxAgents != nil {
		cfg.MaxAgents = *req.MaxAgents
	}
	if req.DispatchInterval != nil {
		cfg.DispatchInterval = *req.DispatchInterval
	}
	if req.MaxCompletionRetries != nil {
		cfg.MaxCompletionRetries = *req.MaxCompletionRetries
	}
	if req.BaseBranch != nil {
		cfg.BaseBranch = *req.BaseBranch
	}

	if err := s.store.SaveConfig(c.Request.Context(), cfg); err != nil {
		s.respondError(c, apperrors.BadRequest(err.Error()))
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// postCancel interrupts a unit's running agent task.
// POST /work-units/:chunk/cancel
func (s *Server) postCancel(c *gin.Context) {
	chunk := c.Param("chunk")
	if _, err := s.store.GetWorkUnit(c.Request.Context(), chunk); err != nil {
		s.respondError(c, storeError(err, "work unit", chunk))
		return
	}
	if err := s.sched.Cancel(chunk); err != nil {
		s.respondError(c, apperrors.Conflict(err.Error()))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"cancelling": chunk})
}
