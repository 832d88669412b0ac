package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	v1 "github.com/vesys/ve/pkg/api/v1"
)

var configCmd = &cobra.Command{
	Use:   "config [key=value ...]",
	Short: "Show or change the daemon configuration",
	Long: `Without arguments, print the persisted orchestrator configuration.
With key=value arguments, patch it. Changes take effect on the next
dispatch tick without a restart.

Keys: max_agents, dispatch_interval, max_completion_retries, base_branch

Examples:
  orch config
  orch config max_agents=4 dispatch_interval=0.5`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	c, err := daemonClient()
	if err != nil {
		return err
	}

	var cfg v1.OrchestratorConfig
	if len(args) == 0 {
		if err := c.get("/config", &cfg); err != nil {
			return err
		}
	} else {
		patch, err := parseConfigArgs(args)
		if err != nil {
			return err
		}
		if err := c.patch("/config", patch, &cfg); err != nil {
			return err
		}
	}

	if jsonOutput {
		return printJSON(&cfg)
	}
	fmt.Printf("max_agents             %d\n", cfg.MaxAgents)
	fmt.Printf("dispatch_interval      %g\n", cfg.DispatchInterval)
	fmt.Printf("max_completion_retries %d\n", cfg.MaxCompletionRetries)
	fmt.Printf("base_branch            %s\n", cfg.BaseBranch)
	return nil
}

func parseConfigArgs(args []string) (map[string]any, error) {
	patch := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		switch key {
		case "max_agents", "max_completion_retries":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("%s must be an integer: %q", key, value)
			}
			patch[key] = n
		case "dispatch_interval":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("%s must be a number: %q", key, value)
			}
			patch[key] = f
		case "base_branch":
			patch[key] = value
		default:
			return nil, fmt.Errorf("unknown config key %q", key)
		}
	}
	return patch, nil
}
