package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/fatflowers/membership/internal/app"
	"github.com/fatflowers/membership/internal/app/service/scheduler"
)

// jobCmd runs one cycle of a scheduled job under its job lock, so it is safe
// to invoke while the API's own runners are active.
func jobCmd(use, job, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJob(cmd.Context(), cmd, job)
		},
	}
}

func runJob(ctx context.Context, cmd *cobra.Command, job string) (err error) {
	var jobs *scheduler.Scheduler
	a := fx.New(app.Core, fx.NopLogger, fx.Populate(&jobs))
	if err := a.Err(); err != nil {
		return fmt.Errorf("build app: %w", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, app.DefaultStartTimeout)
	defer cancel()
	if err := a.Start(startCtx); err != nil {
		return fmt.Errorf("start app: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.DefaultStopTimeout)
		defer cancel()
		if stopErr := a.Stop(stopCtx); stopErr != nil && err == nil {
			err = fmt.Errorf("stop app: %w", stopErr)
		}
	}()

	ran, err := jobs.RunByName(ctx, job)
	if err != nil {
		return err
	}
	if !ran {
		fmt.Fprintf(cmd.OutOrStdout(), "%s skipped: another instance holds the job lock\n", job)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s done\n", job)
	return nil
}
