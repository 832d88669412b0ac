package main

import (
	"fmt"

	"github.com/spf13/cobra"

	v1 "github.com/vesys/ve/pkg/api/v1"
)

var retryMergeCmd = &cobra.Command{
	Use:   "retry-merge <chunk>",
	Short: "Retry a failed merge after resolving conflicts by hand",
	Long: `Re-attempt the merge of a chunk branch parked on a merge failure.
Resolve and stage the conflicted files in the repository first; the
daemon concludes the in-progress merge and finishes the unit.`,
	Args: cobra.ExactArgs(1),
	RunE: runRetryMerge,
}

func init() {
	rootCmd.AddCommand(retryMergeCmd)
}

func runRetryMerge(cmd *cobra.Command, args []string) error {
	c, err := daemonClient()
	if err != nil {
		return err
	}
	var u v1.WorkUnit
	if err := c.post("/work-units/"+args[0]+"/retry-merge", nil, &u); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(&u)
	}
	fmt.Printf("%s merged; unit is %s\n", u.Chunk, u.Status)
	return nil
}
