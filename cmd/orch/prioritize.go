package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	v1 "github.com/vesys/ve/pkg/api/v1"
)

var prioritizeCmd = &cobra.Command{
	Use:   "prioritize <chunk> <priority>",
	Short: "Change a work unit's dispatch priority",
	Args:  cobra.ExactArgs(2),
	RunE:  runPrioritize,
}

func init() {
	rootCmd.AddCommand(prioritizeCmd)
}

func runPrioritize(cmd *cobra.Command, args []string) error {
	priority, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("priority must be an integer: %q", args[1])
	}

	c, err := daemonClient()
	if err != nil {
		return err
	}
	var u v1.WorkUnit
	err = c.patch("/work-units/"+args[0]+"/priority",
		map[string]int{"priority": priority}, &u)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(&u)
	}
	fmt.Printf("%s priority set to %d\n", u.Chunk, u.Priority)
	return nil
}
