package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stampede/api/schemas"
	"github.com/xkilldash9x/stampede/internal/config"
	"github.com/xkilldash9x/stampede/internal/driver"
	"github.com/xkilldash9x/stampede/internal/observability"
	"github.com/xkilldash9x/stampede/internal/probe"
)

// newProbeCmd creates the `probe` command: one agent session running the
// adversarial battery and emitting the aggregate findings report.
func newProbeCmd() *cobra.Command {
	var (
		agentName  string
		targetURL  string
		reportPath string
	)

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Runs the adversarial probe battery through one agent session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := appConfig

			if targetURL != "" {
				cfg.SetTargetBaseURL(targetURL)
			}
			if reportPath != "" {
				cfg.SetProbeReportPath(reportPath)
			}
			if cfg.Target().BaseURL == "" {
				return fmt.Errorf("no target configured (set target.base_url or pass --target)")
			}

			spec, err := selectAgent(cfg, agentName)
			if err != nil {
				return err
			}

			d, err := driver.New(ctx, spec.Name, cfg.Target(), logger)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if cerr := d.Close(closeCtx); cerr != nil {
					logger.Warn("Driver close failed", zap.Error(cerr))
				}
			}()

			creds := schemas.Credentials{Username: spec.Username, Password: spec.Password}
			if err := d.Login(ctx, creds); err != nil {
				return fmt.Errorf("probe session login failed: %w", err)
			}

			harness := probe.NewHarness(spec.Name, creds, d, cfg.Probe(), logger)
			report, err := harness.Run(ctx)
			if err != nil {
				return err
			}

			if werr := probe.WriteReport(report, cfg.Probe().ReportPath); werr != nil {
				return werr
			}
			logger.Info("Probe report written",
				zap.Int("findings", report.FindingsCount),
				zap.Any("summary", report.Summary))
			return nil
		},
	}

	probeCmd.Flags().StringVarP(&agentName, "agent", "a", "", "swarm agent to probe as (default: first configured)")
	probeCmd.Flags().StringVarP(&targetURL, "target", "t", "", "base URL of the target application")
	probeCmd.Flags().StringVarP(&reportPath, "report", "r", "", "report output path (default stdout)")
	return probeCmd
}

// selectAgent resolves which configured identity the probe session uses.
func selectAgent(cfg config.Interface, name string) (config.AgentSpec, error) {
	agents := cfg.Swarm().Agents
	if len(agents) == 0 {
		return config.AgentSpec{}, fmt.Errorf("no agents configured under swarm.agents")
	}
	if name == "" {
		return agents[0], nil
	}
	for _, spec := range agents {
		if spec.Name == name {
			return spec, nil
		}
	}
	return config.AgentSpec{}, fmt.Errorf("unknown agent %q", name)
}
