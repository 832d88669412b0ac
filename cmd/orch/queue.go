package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	v1 "github.com/vesys/ve/pkg/api/v1"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the ready queue in dispatch order",
	Args:  cobra.NoArgs,
	RunE:  runQueue,
}

func init() {
	rootCmd.AddCommand(queueCmd)
}

func runQueue(cmd *cobra.Command, args []string) error {
	c, err := daemonClient()
	if err != nil {
		return err
	}
	var units []*v1.WorkUnit
	if err := c.get("/work-units/queue", &units); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(units)
	}
	if len(units) == 0 {
		fmt.Println("queue is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "POS\tCHUNK\tPHASE\tPRIORITY")
	for i, u := range units {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", i+1, u.Chunk, u.Phase, u.Priority)
	}
	return w.Flush()
}
