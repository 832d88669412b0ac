package main

import (
	"fmt"

	"github.com/spf13/cobra"

	v1 "github.com/vesys/ve/pkg/api/v1"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <chunk> <other-chunk> <parallelize|serialize>",
	Short: "Resolve a conflict the oracle deferred to the operator",
	Long: `Record an operator verdict for a chunk pair. "serialize" blocks
<chunk> behind <other-chunk>; "parallelize" lets them run side by side.

Examples:
  orch resolve billing auth serialize
  orch resolve search auth parallelize`,
	Args: cobra.ExactArgs(3),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	c, err := daemonClient()
	if err != nil {
		return err
	}
	var u v1.WorkUnit
	err = c.post("/work-units/"+args[0]+"/resolve", map[string]string{
		"other_chunk": args[1],
		"verdict":     args[2],
	}, &u)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(&u)
	}
	fmt.Printf("%s resolved against %s as %s; unit is %s\n", u.Chunk, args[1], args[2], u.Status)
	return nil
}
