// Package daemon wires the orchestrator components together and runs them
// as one process: state store, event bus, worktree manager, agent
// supervisor, scheduler, WebSocket hub and HTTP control plane.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vesys/ve/internal/agent"
	"github.com/vesys/ve/internal/causal"
	"github.com/vesys/ve/internal/common/config"
	"github.com/vesys/ve/internal/common/logger"
	"github.com/vesys/ve/internal/common/tracing"
	"github.com/vesys/ve/internal/conflict"
	"github.com/vesys/ve/internal/events"
	"github.com/vesys/ve/internal/events/bus"
	gwws "github.com/vesys/ve/internal/gateway/websocket"
	"github.com/vesys/ve/internal/scheduler"
	"github.com/vesys/ve/internal/server"
	"github.com/vesys/ve/internal/store"
	"github.com/vesys/ve/internal/worktree"
	v1 "github.com/vesys/ve/pkg/api/v1"
)

// shutdownGrace bounds the HTTP server drain during shutdown.
const shutdownGrace = 30 * time.Second

// Daemon is the assembled orchestrator process.
type Daemon struct {
	repoRoot string
	cfg      *config.Config
	logger   *logger.Logger

	store    store.Store
	eventBus bus.EventBus
	sched    *scheduler.Scheduler
	hub      *gwws.Hub
	srv      *server.Server
}

// New assembles a daemon for the repository. It refuses to start when the
// pid file names a live process.
func New(repoRoot string, cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if pf, alive := Running(repoRoot); alive {
		return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pf.PID)
	}

	eventBus, err := newEventBus(cfg, log)
	if err != nil {
		return nil, err
	}

	statePath := filepath.Join(repoRoot, ".ve", "orchestrator", "state.db")
	if err := os.MkdirAll(filepath.Dir(statePath), 0755); err != nil {
		eventBus.Close()
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	st, err := store.NewSQLiteStore(statePath, eventBus, log)
	if err != nil {
		eventBus.Close()
		return nil, fmt.Errorf("open state store: %w", err)
	}
	if _, err := st.EnsureConfig(context.Background(), &v1.OrchestratorConfig{
		MaxAgents:            cfg.Orchestrator.MaxAgents,
		DispatchInterval:     cfg.Orchestrator.DispatchInterval,
		MaxCompletionRetries: cfg.Orchestrator.MaxCompletionRetries,
		BaseBranch:           cfg.Orchestrator.BaseBranch,
	}); err != nil {
		st.Close()
		eventBus.Close()
		return nil, fmt.Errorf("seed persisted config: %w", err)
	}

	worktrees := worktree.NewManager(repoRoot, cfg.Orchestrator.BaseBranch, log)
	index := causal.NewIndex(repoRoot, log)
	oracle := conflict.NewOracle(repoRoot, index, st, nil, log)
	runtime := agent.NewCLIRuntime(cfg.Agent, log)
	supervisor := agent.NewSupervisor(cfg.Agent, repoRoot, runtime, log)
	sched := scheduler.NewScheduler(st, worktrees, oracle, supervisor, cfg.Orchestrator, log)

	hub := gwws.NewHub(log)
	wsHandler := gwws.NewHandler(hub, st, log)

	srv := server.NewServer(server.Deps{
		Store:     st,
		Oracle:    oracle,
		Scheduler: sched,
		Merges:    worktrees,
		WSHandler: wsHandler,
		RepoRoot:  repoRoot,
		Logger:    log,
	})

	return &Daemon{
		repoRoot: repoRoot,
		cfg:      cfg,
		logger:   log.WithFields(zap.String("component", "daemon")),
		store:    st,
		eventBus: eventBus,
		sched:    sched,
		hub:      hub,
		srv:      srv,
	}, nil
}

func newEventBus(cfg *config.Config, log *logger.Logger) (bus.EventBus, error) {
	if cfg.NATS.URL == "" {
		return bus.NewMemoryEventBus(log), nil
	}
	eventBus, err := bus.NewNATSEventBus(cfg.NATS, log)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return eventBus, nil
}

// Run starts the daemon and blocks until ctx is cancelled or the HTTP
// server fails. On return all components are stopped and the pid file is
// removed.
func (d *Daemon) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", d.cfg.Server.Host, d.cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	d.srv.SetAddr(d.cfg.Server.Host, port)

	pf := &PIDFile{
		PID:       os.Getpid(),
		Host:      d.cfg.Server.Host,
		Port:      port,
		StartedAt: time.Now().UTC(),
	}
	if err := WritePIDFile(d.repoRoot, pf); err != nil {
		listener.Close()
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() {
		if err := RemovePIDFile(d.repoRoot); err != nil {
			d.logger.Error("Failed to remove pid file", zap.Error(err))
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go d.hub.Run(runCtx)
	broadcaster := gwws.RegisterNotifications(runCtx, d.eventBus, d.hub, d.logger)
	defer broadcaster.Close()

	if err := d.sched.Start(runCtx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	httpSrv := &http.Server{
		Handler:      d.srv.Handler(),
		ReadTimeout:  d.cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: d.cfg.Server.WriteTimeoutDuration(),
	}

	d.publish(runCtx, events.DaemonStarted, map[string]interface{}{
		"pid":  pf.PID,
		"host": pf.Host,
		"port": pf.Port,
	})
	d.logger.Info("Orchestrator daemon started",
		zap.Int("pid", pf.PID),
		zap.String("host", pf.Host),
		zap.Int("port", port))

	g, gCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		if err := httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		d.shutdown(httpSrv)
		return nil
	})

	err = g.Wait()
	d.store.Close()
	d.eventBus.Close()
	if terr := tracing.Shutdown(context.Background()); terr != nil {
		d.logger.Error("Tracing shutdown error", zap.Error(terr))
	}
	d.logger.Info("Orchestrator daemon stopped")
	return err
}

// shutdown drains components in dependency order: scheduler first so agent
// tasks finish or are cancelled, then the HTTP server.
func (d *Daemon) shutdown(httpSrv *http.Server) {
	d.logger.Info("Shutting down orchestrator daemon")
	d.publish(context.Background(), events.DaemonStopping, map[string]interface{}{
		"pid": os.Getpid(),
	})

	if err := d.sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
		d.logger.Error("Scheduler stop error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		d.logger.Error("HTTP server shutdown error", zap.Error(err))
	}
}

func (d *Daemon) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if err := d.eventBus.Publish(ctx, eventType, bus.NewEvent(eventType, "daemon", data)); err != nil {
		d.logger.Warn("Failed to publish daemon event",
			zap.String("type", eventType),
			zap.Error(err))
	}
}
