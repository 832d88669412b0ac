package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/vesys/ve/internal/common/errors"
	v1 "github.com/vesys/ve/pkg/api/v1"
)

// listConflicts lists cached analyses, optionally filtered by verdict.
// GET /conflicts?verdict=
func (s *Server) listConflicts(c *gin.Context) {
	verdict := v1.Verdict(c.Query("verdict"))
	if verdict != "" && !v1.ValidVerdict(verdict) {
		s.respondError(c, apperrors.ValidationError("verdict", "unknown verdict "+string(verdict)))
		return
	}
	conflicts, err := s.store.ListConflicts(c.Request.Context(), verdict)
	if err != nil {
		s.respondError(c, storeError(err, "conflicts", ""))
		return
	}
	c.JSON(http.StatusOK, conflicts)
}

// getConflictsFor lists the analyses involving one chunk.
// GET /conflicts/:chunk
func (s *Server) getConflictsFor(c *gin.Context) {
	chunk := c.Param("chunk")
	conflicts, err := s.store.ConflictsFor(c.Request.Context(), chunk)
	if err != nil {
		s.respondError(c, storeError(err, "conflicts", chunk))
		return
	}
	c.JSON(http.StatusOK, conflicts)
}

// analyzeConflict runs the oracle on a pair, serving the cached verdict when
// one exists.
// POST /conflicts/analyze
func (s *Server) analyzeConflict(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperrors.ValidationError("request", err.Error()))
		return
	}
	if req.ChunkA == req.ChunkB {
		s.respondError(c, apperrors.ValidationError("chunk_b", "must differ from chunk_a"))
		return
	}

	analysis, err := s.oracle.Analyze(c.Request.Context(), req.ChunkA, req.ChunkB)
	if err != nil {
		s.respondError(c, apperrors.Wrap(err, "conflict analysis failed"))
		return
	}
	c.JSON(http.StatusOK, analysis)
}
