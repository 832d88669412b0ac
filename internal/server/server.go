// Package server exposes the orchestrator control plane: the JSON API, the
// WebSocket push channel, and the HTML dashboard.
package server

import (
	"context"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vesys/ve/internal/common/httpmw"
	"github.com/vesys/ve/internal/common/logger"
	gwws "github.com/vesys/ve/internal/gateway/websocket"
	"github.com/vesys/ve/internal/store"
	v1 "github.com/vesys/ve/pkg/api/v1"
)

// SchedulerControl is the slice of the scheduler the API drives.
type SchedulerControl interface {
	RunningChunks() []string
	Cancel(chunk string) error
}

// ConflictAnalyzer classifies chunk pairs. Satisfied by *conflict.Oracle.
type ConflictAnalyzer interface {
	Analyze(ctx context.Context, chunkA, chunkB string) (*v1.ConflictAnalysis, error)
}

// MergeRetrier re-attempts failed merges. Satisfied by *worktree.Manager.
type MergeRetrier interface {
	RetryMerge(ctx context.Context, chunk string) error
}

// Deps bundles the collaborators the server needs.
type Deps struct {
	Store     store.Store
	Oracle    ConflictAnalyzer
	Scheduler SchedulerControl
	Merges    MergeRetrier
	WSHandler *gwws.Handler
	RepoRoot  string
	Logger    *logger.Logger
}

// Server is the HTTP control plane of the orchestrator daemon.
type Server struct {
	engine    *gin.Engine
	store     store.Store
	oracle    ConflictAnalyzer
	sched     SchedulerControl
	merges    MergeRetrier
	repoRoot  string
	logger    *logger.Logger
	startedAt time.Time

	host string
	port int
}

// NewServer creates the server and registers all routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		store:     deps.Store,
		oracle:    deps.Oracle,
		sched:     deps.Scheduler,
		merges:    deps.Merges,
		repoRoot:  deps.RepoRoot,
		logger:    deps.Logger.WithFields(zap.String("component", "api-server")),
		startedAt: time.Now().UTC(),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpmw.RequestLogger(deps.Logger, "orchestrator"))
	engine.Use(httpmw.OtelTracing("orchestrator"))

	engine.GET("/", s.dashboard)
	engine.POST("/answer", s.answerForm)
	engine.POST("/resolve", s.resolveForm)
	if deps.WSHandler != nil {
		engine.GET("/ws", deps.WSHandler.HandleConnection)
	}

	engine.GET("/status", s.getStatus)
	engine.GET("/config", s.getConfig)
	engine.PATCH("/config", s.patchConfig)
	engine.GET("/attention", s.getAttention)

	engine.GET("/work-units", s.listWorkUnits)
	engine.POST("/work-units", s.createWorkUnit)
	engine.POST("/work-units/inject", s.injectWorkUnit)
	engine.GET("/work-units/queue", s.getQueue)

	units := engine.Group("/work-units/:chunk")
	{
		units.GET("", s.getWorkUnit)
		units.PATCH("", s.patchWorkUnit)
		units.DELETE("", s.deleteWorkUnit)
		units.PATCH("/priority", s.patchPriority)
		units.GET("/history", s.getHistory)
		units.GET("/log", s.getPhaseLog)
		units.POST("/answer", s.postAnswer)
		units.POST("/resolve", s.postResolve)
		units.POST("/retry-merge", s.postRetryMerge)
		units.POST("/cancel", s.postCancel)
	}

	engine.GET("/conflicts", s.listConflicts)
	engine.GET("/conflicts/:chunk", s.getConflictsFor)
	engine.POST("/conflicts/analyze", s.analyzeConflict)

	s.engine = engine
	return s
}

// Handler returns the HTTP handler for serving.
func (s *Server) Handler() *gin.Engine {
	return s.engine
}

// SetAddr records the bound listen address for /status.
func (s *Server) SetAddr(host string, port int) {
	s.host = host
	s.port = port
}

// getStatus reports daemon liveness.
// GET /status
func (s *Server) getStatus(c *gin.Context) {
	counts, err := s.store.StatusCounts(c.Request.Context())
	if err != nil {
		s.respondError(c, storeError(err, "status counts", ""))
		return
	}

	running := s.sched.RunningChunks()
	if running == nil {
		running = []string{}
	}
	c.JSON(200, &v1.DaemonStatus{
		PID:          os.Getpid(),
		Host:         s.host,
		Port:         s.port,
		StartedAt:    s.startedAt,
		Uptime:       time.Since(s.startedAt).Seconds(),
		StatusCounts: counts,
		Running:      running,
	})
}
