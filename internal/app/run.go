package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hrconsole/notifyd/internal/api"
	v1 "github.com/hrconsole/notifyd/internal/api/v1"
	"github.com/hrconsole/notifyd/internal/errors"
	"github.com/hrconsole/notifyd/internal/logger"
	"github.com/hrconsole/notifyd/internal/observability"
	"github.com/hrconsole/notifyd/internal/push"
	"github.com/hrconsole/notifyd/internal/telemetry"
	"github.com/hrconsole/notifyd/internal/unseen"
)

const telemetryFlushTimeout = 2 * time.Second

// Run serves notifyd until ctx is done: it subscribes to the push topic,
// loads the initial snapshot, runs the backstop refresh and serves the local
// API. Shutdown stops the push channel before the engine closes so no
// delivery reaches a closed engine.
func Run(ctx context.Context, c *Context) error {
	log := c.Log("app")
	s := c.Settings

	if s.Telemetry.Enabled {
		reporter, err := telemetry.New(telemetry.Config{
			DSN:         s.Telemetry.DSN,
			Environment: "production",
			Release:     c.Build.GetVersion(),
		})
		if err != nil {
			return err
		}
		errors.SetTelemetryReporter(reporter)
		defer func() {
			errors.SetTelemetryReporter(nil)
			reporter.Flush(telemetryFlushTimeout)
		}()
		log.Info("error telemetry enabled")
	}

	m, err := observability.NewMetrics(push.States()...)
	if err != nil {
		return err
	}

	client, err := c.NewBackend(m.Backend)
	if err != nil {
		return err
	}
	defer client.Close()

	count := unseen.New()
	engine, err := c.NewEngine(client, count, m.Notifications)
	if err != nil {
		return err
	}
	defer engine.Close()

	channel, err := c.NewChannel(engine.HandlePush, m.Push)
	if err != nil {
		return err
	}

	server := api.NewServer(s.HTTP.Listen, api.WithLogger(c.Log("")))
	ctrl := v1.New(server.Echo(), engine, count,
		v1.WithPushStatus(channel),
		v1.WithMetrics(m),
		v1.WithRefreshRate(rate.Limit(s.HTTP.RefreshRate)),
		v1.WithLogger(c.Log("")))
	server.OnShutdown(ctrl.Shutdown)

	log.Info("starting notifyd",
		logger.String("version", c.Build.GetVersion()),
		logger.String("staff_id", s.Session.StaffID),
		logger.String("transport", s.Broker.Transport),
		logger.String("topic", s.Topic()))

	// Subscribe before the first snapshot so pushes sent while it loads
	// are not lost.
	if err := channel.Start(ctx); err != nil {
		return err
	}
	defer channel.Stop()

	loadSnapshot(ctx, engine, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error {
		engine.RunBackstop(gctx, s.Notifications.RefreshInterval)
		return nil
	})

	err = g.Wait()
	log.Info("stopping notifyd")
	return err
}
