package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	v1 "github.com/vesys/ve/pkg/api/v1"
)

var workUnitCmd = &cobra.Command{
	Use:   "work-unit",
	Short: "Low-level work unit operations",
	Long: `Direct work unit manipulation. Prefer "orch inject" for day to day
use; these subcommands skip chunk validation and phase detection.`,
}

var (
	createPhase     string
	createPriority  int
	createBlockedBy []string
)

var workUnitCreateCmd = &cobra.Command{
	Use:   "create <chunk>",
	Short: "Create a work unit at an explicit phase",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkUnitCreate,
}

var workUnitShowCmd = &cobra.Command{
	Use:   "show <chunk>",
	Short: "Show a work unit and its status history",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkUnitShow,
}

var workUnitStatusCmd = &cobra.Command{
	Use:   "status <chunk> <status>",
	Short: "Force a work unit status",
	Args:  cobra.ExactArgs(2),
	RunE:  runWorkUnitStatus,
}

var workUnitDeleteCmd = &cobra.Command{
	Use:   "delete <chunk>",
	Short: "Delete a work unit",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkUnitDelete,
}

func init() {
	workUnitCreateCmd.Flags().StringVar(&createPhase, "phase", "PLAN", "Starting phase (GOAL, PLAN, IMPLEMENT, COMPLETE)")
	workUnitCreateCmd.Flags().IntVar(&createPriority, "priority", 0, "Dispatch priority (higher first)")
	workUnitCreateCmd.Flags().StringSliceVar(&createBlockedBy, "blocked-by", nil, "Chunks that must finish first")

	workUnitCmd.AddCommand(workUnitCreateCmd)
	workUnitCmd.AddCommand(workUnitShowCmd)
	workUnitCmd.AddCommand(workUnitStatusCmd)
	workUnitCmd.AddCommand(workUnitDeleteCmd)
	rootCmd.AddCommand(workUnitCmd)
}

func runWorkUnitCreate(cmd *cobra.Command, args []string) error {
	c, err := daemonClient()
	if err != nil {
		return err
	}
	var u v1.WorkUnit
	err = c.post("/work-units", map[string]any{
		"chunk":      args[0],
		"phase":      createPhase,
		"priority":   createPriority,
		"blocked_by": createBlockedBy,
	}, &u)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(&u)
	}
	fmt.Printf("created %s at phase %s (%s)\n", u.Chunk, u.Phase, u.Status)
	return nil
}

func runWorkUnitShow(cmd *cobra.Command, args []string) error {
	c, err := daemonClient()
	if err != nil {
		return err
	}
	var u v1.WorkUnit
	if err := c.get("/work-units/"+args[0], &u); err != nil {
		return err
	}
	var history []*v1.StatusTransition
	if err := c.get("/work-units/"+args[0]+"/history", &history); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]any{"work_unit": &u, "history": history})
	}

	fmt.Printf("chunk      %s\n", u.Chunk)
	fmt.Printf("phase      %s\n", u.Phase)
	fmt.Printf("status     %s\n", u.Status)
	fmt.Printf("priority   %d\n", u.Priority)
	if len(u.BlockedBy) > 0 {
		fmt.Printf("blocked_by %s\n", joinComma(u.BlockedBy))
	}
	if u.Worktree != "" {
		fmt.Printf("worktree   %s\n", u.Worktree)
	}
	if u.AttentionReason != "" {
		fmt.Printf("attention  %s\n", u.AttentionReason)
	}

	if len(history) > 0 {
		fmt.Println("\nhistory:")
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, tr := range history {
			fmt.Fprintf(w, "%s\t%s -> %s\n",
				tr.At.Format("2006-01-02 15:04:05"), tr.OldStatus, tr.NewStatus)
		}
		w.Flush()
	}
	return nil
}

func runWorkUnitStatus(cmd *cobra.Command, args []string) error {
	c, err := daemonClient()
	if err != nil {
		return err
	}
	var u v1.WorkUnit
	err = c.patch("/work-units/"+args[0], map[string]string{"status": args[1]}, &u)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(&u)
	}
	fmt.Printf("%s is now %s\n", u.Chunk, u.Status)
	return nil
}

func runWorkUnitDelete(cmd *cobra.Command, args []string) error {
	c, err := daemonClient()
	if err != nil {
		return err
	}
	if err := c.delete("/work-units/" + args[0]); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]string{"deleted": args[0]})
	}
	fmt.Printf("deleted %s\n", args[0])
	return nil
}
