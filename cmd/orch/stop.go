package main

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vesys/ve/internal/daemon"
)

// stopWait bounds how long stop waits for the daemon to exit.
const stopWait = 60 * time.Second

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the orchestrator daemon",
	Long: `Send SIGTERM to the daemon named by the pid file and wait for it
to exit. Running agents get the configured shutdown timeout to finish.`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	pf, alive := daemon.Running(repoRoot)
	if !alive {
		return errDaemonNotRunning
	}

	proc, err := os.FindProcess(pf.PID)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon (pid %d): %w", pf.PID, err)
	}

	deadline := time.Now().Add(stopWait)
	for time.Now().Before(deadline) {
		if _, alive := daemon.Running(repoRoot); !alive {
			fmt.Printf("daemon stopped (pid %d)\n", pf.PID)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("daemon (pid %d) did not exit within %s", pf.PID, stopWait)
}
