package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vesys/ve/internal/common/config"
	"github.com/vesys/ve/internal/common/logger"
	"github.com/vesys/ve/internal/daemon"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the orchestrator daemon",
	Long: `Start the orchestrator daemon in the foreground.

The daemon binds 127.0.0.1 on an ephemeral port by default and records
its address in .ve/orchestrator/daemon.pid. SIGINT or SIGTERM stops it
gracefully: running agents get the configured shutdown timeout to
finish before their tasks are cancelled.`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer log.Sync()
	logger.SetDefault(log)

	d, err := daemon.New(repoRoot, cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, "daemon stopped")
	return nil
}
