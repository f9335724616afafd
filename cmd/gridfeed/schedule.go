package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newScheduleCmd() *cobra.Command {
	var runOnce bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the cadence scheduler and the read API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if runOnce {
				return a.sched.RunOnce(ctx, 1, false)
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return a.api.ListenAndServe(ctx)
			})
			g.Go(func() error {
				return a.sched.Run(ctx)
			})

			err = g.Wait()
			if errors.Is(err, http.ErrServerClosed) {
				return context.Canceled
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&runOnce, "run-once", false, "run one warm-up sweep and exit")
	return cmd
}
