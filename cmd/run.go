package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/stampede/api/schemas"
	"github.com/xkilldash9x/stampede/internal/driver"
	"github.com/xkilldash9x/stampede/internal/observability"
	"github.com/xkilldash9x/stampede/internal/orchestrator"
)

// newRunCmd creates the `run` command: register the configured swarm, start
// it staggered, and supervise until interrupted.
func newRunCmd() *cobra.Command {
	var (
		targetURL string
		maxAgents int
		headless  bool
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the configured agent swarm against the target until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := appConfig

			if targetURL != "" {
				cfg.SetTargetBaseURL(targetURL)
			}
			if cmd.Flags().Changed("max-agents") {
				cfg.SetOrchestratorMaxConcurrent(maxAgents)
			}
			if cmd.Flags().Changed("headless") {
				cfg.SetTargetHeadless(headless)
			}
			if cfg.Target().BaseURL == "" {
				return fmt.Errorf("no target configured (set target.base_url or pass --target)")
			}
			if len(cfg.Swarm().Agents) == 0 {
				return fmt.Errorf("no agents configured under swarm.agents")
			}

			factory := func(ctx context.Context, agentName string) (schemas.Driver, error) {
				return driver.New(ctx, agentName, cfg.Target(), logger)
			}
			orch := orchestrator.New(cfg, factory, logger)

			for _, spec := range cfg.Swarm().Agents {
				if err := orch.Register(spec); err != nil {
					return err
				}
			}

			err := orch.Run(ctx)
			if errors.Is(err, context.Canceled) {
				logger.Info("Swarm shut down cleanly")
				return nil
			}
			return err
		},
	}

	runCmd.Flags().StringVarP(&targetURL, "target", "t", "", "base URL of the target application")
	runCmd.Flags().IntVar(&maxAgents, "max-agents", 0, "override the concurrency cap")
	runCmd.Flags().BoolVar(&headless, "headless", true, "run browsers headless")
	return runCmd
}
