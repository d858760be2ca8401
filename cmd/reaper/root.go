package main

import (
	"fmt"

	"gpu-reaper/config"
	"gpu-reaper/core/executor"
	"gpu-reaper/core/logging"
	"gpu-reaper/core/monitoring"
	"gpu-reaper/core/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const reapArg = "reap"

type rootOptions struct {
	reap bool
}

// NewRootCmd builds the reaper command. Destructive mode is enabled by the
// positional "reap" or the --reap flag; anything else is a dry run.
func NewRootCmd() *cobra.Command {
	o := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "reaper [reap]",
		Short: "Report idle GPU jobs and optionally cancel them",
		Long: `Evaluates every running GPU job against its trailing GPU utilization and
prints a report. Jobs whose average utilization over the full window is at or
below the threshold are marked REAP. With "reap" they are annotated and cancelled.

Configuration is read from REAPER_* environment variables and the optional
YAML file named by REAPER_CONFIG.`,
		Args:         validateArgs,
		ValidArgs:    []string{reapArg},
		SilenceUsage: true,
		RunE:         o.run,
	}
	cmd.Flags().BoolVar(&o.reap, "reap", false, "cancel jobs judged idle")
	return cmd
}

func validateArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
		return err
	}
	if len(args) == 1 && args[0] != reapArg {
		return fmt.Errorf("invalid argument %q, only %q is accepted", args[0], reapArg)
	}
	return nil
}

func (o *rootOptions) run(cmd *cobra.Command, args []string) error {
	logging.Configure()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	reapEnabled := o.reap || len(args) == 1
	ctx := logging.WithRun(cmd.Context(), uuid.NewString())

	runner := executor.NewLocalRunner()
	sampler, err := monitoring.NewUtilizationSampler(cfg, nil)
	if err != nil {
		return err
	}

	monitor := monitoring.NewJobMonitor(
		repository.NewJobRepository(runner, cfg),
		sampler,
		executor.NewReaper(runner, cfg),
		monitoring.NewReportWriter(cmd.OutOrStdout()),
		nil,
		cfg,
	)

	result := monitor.RunPass(ctx, reapEnabled)

	failed := 0
	for _, r := range result.Results {
		if !r.Success {
			failed++
		}
	}
	log.Ctx(ctx).Info().
		Int("jobs", len(result.Rows)).
		Int("succeeded", len(result.Results)-failed).
		Int("failed", failed).
		Msg("pass complete")
	return nil
}
