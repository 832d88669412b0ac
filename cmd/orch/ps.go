package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	v1 "github.com/vesys/ve/pkg/api/v1"
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List running agents",
	Long: `List RUNNING work units with their phase, worktree and elapsed
time since the last status change.`,
	Args: cobra.NoArgs,
	RunE: runPS,
}

func init() {
	rootCmd.AddCommand(psCmd)
}

func runPS(cmd *cobra.Command, args []string) error {
	c, err := daemonClient()
	if err != nil {
		return err
	}
	var units []*v1.WorkUnit
	if err := c.get("/work-units?status=RUNNING", &units); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(units)
	}
	if len(units) == 0 {
		fmt.Println("no running agents")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CHUNK\tPHASE\tELAPSED\tWORKTREE")
	now := time.Now().UTC()
	for _, u := range units {
		elapsed := now.Sub(u.UpdatedAt).Round(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.Chunk, u.Phase, elapsed, u.Worktree)
	}
	return w.Flush()
}
