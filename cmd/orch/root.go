package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	jsonOutput bool
	repoRoot   string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "orch",
	Short: "Orchestrator for autonomous coding agents",
	Long: `orch runs and controls the ve orchestrator daemon.

The daemon schedules work units over chunk artifacts, runs one agent per
unit in an isolated git worktree, and merges finished work back to the
base branch.

Typical session:
  orch start            Run the daemon (foreground)
  orch inject auth      Queue the "auth" chunk for implementation
  orch ps               List running agents
  orch status           Daemon health and per-status counts
  orch stop             Stop the daemon`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and maps failure onto exit code 1.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of tables")
	rootCmd.PersistentFlags().StringVar(&repoRoot, "repo", ".", "Repository root")
}
