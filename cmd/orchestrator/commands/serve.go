package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/opst/orchestration/pkg/metrics"
	"github.com/opst/orchestration/pkg/utils/echoutil"
	"github.com/spf13/cobra"
)

// Health is what the server reports on.
type Health interface {
	Ping(ctx context.Context) error
	Metrics() *metrics.Metrics
}

// BuildServer returns a server of /healthz and /metrics.
func BuildServer(h Health, loglevel string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	echoutil.SetLevel(e, loglevel)
	e.Use(echoutil.LogHandlerFunc)

	e.GET("/healthz", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
		defer cancel()
		if err := h.Ping(ctx); err != nil {
			c.Logger().Warnf("health check failed: %s", err)
			return c.String(http.StatusServiceUnavailable, "unhealthy")
		}
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(h.Metrics().Handler()))
	return e
}

func newServeCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve health checks and metrics until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cluster, logger, err := g.attach(ctx, cmd)
			if err != nil {
				return err
			}
			defer cluster.Close()

			server := BuildServer(cluster, cluster.Config().Logging().Level)
			addr := cluster.Config().Metrics().Address()

			ch := make(chan error, 1)
			go func() {
				defer close(ch)
				if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					ch <- err
				}
			}()
			logger.Info().Str("address", addr).Msg("serving")

			var served error
			select {
			case <-ctx.Done():
				logger.Info().Err(context.Cause(ctx)).Msg("shutting down...")
			case served = <-ch:
			}

			qctx, qcancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer qcancel()
			if err := server.Shutdown(qctx); err != nil {
				return errors.Join(served, err)
			}
			return served
		},
	}
}
