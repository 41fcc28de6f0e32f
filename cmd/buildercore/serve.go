package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/habitat-sh/builder-sub000/channel"
	"github.com/habitat-sh/builder-sub000/dispatch"
	"github.com/habitat-sh/builder-sub000/internal/lifecycle"
	"github.com/habitat-sh/builder-sub000/scheduler"
	"github.com/habitat-sh/builder-sub000/store"
)

// buildStub is the daemon's stand-in for a real build worker: it is
// where a production deployment would invoke the actual package build
// (shelling out to the teacher's own build pipeline, or dispatching to
// a remote fleet). Here it only demonstrates wiring; it always succeeds.
func buildStub(ctx context.Context, job dispatch.Job) error {
	return nil
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the per-target group schedulers as a long-lived daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := lifecycle.InterruptibleContext()
			defer cancel()

			s, err := store.Open(cfg.StorePath)
			if err != nil {
				return err
			}
			lifecycle.RegisterAtExit(s.Close)

			promoter := channel.NewFilePromoter(cfg.ChannelRoot)

			eg, egCtx := errgroup.WithContext(ctx)
			for _, target := range cfg.Targets {
				target := target
				d := dispatch.NewInProcessDispatcher(egCtx, cfg.DispatchConcurrency, buildStub)
				sched := &scheduler.Scheduler{
					Store:      s,
					Dispatcher: d,
					Promoter:   promoter,
					Target:     target,
					BatchSize:  cfg.DispatchBatchSize,
					Log:        logger,
				}
				eg.Go(func() error {
					err := sched.Run(egCtx)
					if xerrors.Is(err, context.Canceled) {
						return nil
					}
					return err
				})
				eg.Go(func() error {
					<-egCtx.Done()
					return d.Wait()
				})
			}

			if err := eg.Wait(); err != nil {
				return err
			}
			return lifecycle.RunAtExit()
		},
	}
	return cmd
}
