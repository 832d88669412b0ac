package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	injectPriority  int
	injectBlockedBy []string
)

var injectCmd = &cobra.Command{
	Use:   "inject <chunk>",
	Short: "Queue a chunk for implementation",
	Long: `Validate a chunk artifact and create its work unit. The daemon
detects the starting phase from the chunk's GOAL.md status and whether
PLAN.md carries a populated approach.

Examples:
  orch inject auth
  orch inject billing --priority 5 --blocked-by auth`,
	Args: cobra.ExactArgs(1),
	RunE: runInject,
}

func init() {
	injectCmd.Flags().IntVar(&injectPriority, "priority", 0, "Dispatch priority (higher first)")
	injectCmd.Flags().StringSliceVar(&injectBlockedBy, "blocked-by", nil, "Chunks that must finish first")
	rootCmd.AddCommand(injectCmd)
}

type injectRequest struct {
	Chunk     string   `json:"chunk"`
	Priority  int      `json:"priority,omitempty"`
	BlockedBy []string `json:"blocked_by,omitempty"`
}

type injectResponse struct {
	WorkUnit struct {
		Chunk  string `json:"chunk"`
		Phase  string `json:"phase"`
		Status string `json:"status"`
	} `json:"work_unit"`
	Warning string `json:"warning,omitempty"`
}

func runInject(cmd *cobra.Command, args []string) error {
	c, err := daemonClient()
	if err != nil {
		return err
	}

	var resp injectResponse
	err = c.post("/work-units/inject", &injectRequest{
		Chunk:     args[0],
		Priority:  injectPriority,
		BlockedBy: injectBlockedBy,
	}, &resp)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(&resp)
	}

	fmt.Printf("injected %s at phase %s (%s)\n", resp.WorkUnit.Chunk, resp.WorkUnit.Phase, resp.WorkUnit.Status)
	if resp.Warning != "" {
		fmt.Printf("warning: %s\n", resp.Warning)
	}
	return nil
}
