package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand() *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an engine process",
		Long: `Run a long-lived engine process.

The process answers liveness probes from other engines over NATS, so
locks it holds are not stolen while it is running, and serves Prometheus
metrics when they are enabled. It stops on interrupt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				return serve(ctx, rt, shutdownTimeout)
			})
		},
	}

	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "time allowed for a graceful shutdown")

	return cmd
}

func serve(ctx context.Context, rt *runtime, shutdownTimeout time.Duration) error {
	if rt.nc != nil {
		if err := rt.engine.Listen(rt.nc); err != nil {
			return err
		}
	} else {
		rt.logger.Warn().Msg("No NATS URL configured, other engines cannot probe this one")
	}

	g, ctx := errgroup.WithContext(ctx)

	if srv := rt.tel.Metrics.Server(); srv != nil {
		g.Go(func() error {
			rt.logger.Info().Str("addr", srv.Addr).Msg("Serving metrics")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		rt.logger.Info().Msg("Engine running")
		<-ctx.Done()
		rt.logger.Info().Msg("Engine stopping")
		return nil
	})

	return g.Wait()
}
