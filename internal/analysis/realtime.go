package analysis

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/wildwatch-go/internal/conf"
	"github.com/tphakala/wildwatch-go/internal/httpserver"
	"github.com/tphakala/wildwatch-go/internal/logger"
	"github.com/tphakala/wildwatch-go/internal/monitor"
	"github.com/tphakala/wildwatch-go/internal/observability"
	"github.com/tphakala/wildwatch-go/internal/telemetry"
)

// telemetryFlushTimeout bounds the final Sentry flush on shutdown
const telemetryFlushTimeout = 2 * time.Second

// RealtimeAnalysis runs the detection loop until the source ends, a critical
// error occurs, or SIGINT/SIGTERM is received.
func RealtimeAnalysis(ctx context.Context, settings *conf.Settings) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := GetLogger()

	if err := telemetry.InitSentry(settings); err != nil {
		log.Warn("error reporting disabled", logger.Error(err))
	}
	defer telemetry.Shutdown(telemetryFlushTimeout)

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	c, err := Build(ctx, settings, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Warn("error releasing components", logger.Error(err))
		}
	}()

	return run(ctx, settings, c, metrics)
}

// run drives the agent and, when enabled, the status server. The server
// stops when the agent does.
func run(ctx context.Context, settings *conf.Settings, c *Components, metrics *observability.Metrics) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return c.Agent.Run(gctx)
	})

	if settings.WebServer.Enabled {
		paths := monitor.StoragePaths(settings)
		srv := httpserver.New(httpserver.Config{
			Listen:  settings.WebServer.Listen,
			Version: settings.Version,
			Status:  c.Agent,
			Metrics: metrics.Handler(),
			Disk:    func() ([]monitor.MountStatus, error) { return monitor.DiskStatus(paths) },
		})
		g.Go(func() error { return srv.Run(gctx) })
	}

	err := g.Wait()
	GetLogger().Info("realtime analysis stopped", logger.Int("events", c.Store.Count()))
	return err
}
