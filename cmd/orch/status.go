package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	v1 "github.com/vesys/ve/pkg/api/v1"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Display daemon health: address, uptime, per-status work unit
counts and the running set.

Examples:
  orch status
  orch status --json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := daemonClient()
	if err != nil {
		return err
	}
	var status v1.DaemonStatus
	if err := c.get("/status", &status); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(&status)
	}

	uptime := time.Duration(status.Uptime * float64(time.Second)).Round(time.Second)
	fmt.Printf("daemon    pid %d at %s:%d, up %s\n", status.PID, status.Host, status.Port, uptime)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, s := range []v1.UnitStatus{
		v1.StatusReady, v1.StatusRunning, v1.StatusBlocked,
		v1.StatusNeedsAttention, v1.StatusDone,
	} {
		fmt.Fprintf(w, "%s\t%d\n", s, status.StatusCounts[s])
	}
	w.Flush()

	if len(status.Running) > 0 {
		fmt.Printf("running: %s\n", joinComma(status.Running))
	}
	return nil
}

func joinComma(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ", "
		}
		out += item
	}
	return out
}
