package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"bicimon/internal/assetcache"
	"bicimon/internal/config"
	"bicimon/internal/db"
	"bicimon/internal/httpapi"
	"bicimon/internal/logging"
	"bicimon/internal/metrics"
	"bicimon/internal/monitor"
	"bicimon/internal/provider"
	"bicimon/internal/publisher"
	"bicimon/internal/report"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		logrus.Fatalf("logging error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// run has released everything it opened by the time it returns.
	code := exitCode(run(ctx, cfg, log), log)
	cancel()
	os.Exit(code)
}

// exitCode logs how run ended and maps it to a process exit status.
func exitCode(err error, log logrus.FieldLogger) int {
	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("bicimon stopped")
		return 1
	}
	log.Info("bicimon stopped")
	return 0
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	dlog := log.WithField("device", cfg.DeviceID)

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.FixTimeout)
		srv := mcol.Serve(cfg.MetricsAddr, log)
		defer shutdown(srv)
	}

	var nc *nats.Conn
	if cfg.LocationSource == config.SourceNATS || cfg.PublishTelemetry {
		var err error
		name := fmt.Sprintf("bicimon-%s-%s", cfg.DeviceID, uuid.NewString()[:8])
		nc, err = publisher.Connect(cfg.NATSURL, name, publisherMetrics(mcol), log.WithField("component", "nats"))
		if err != nil {
			return fmt.Errorf("nats error: %w", err)
		}
		defer func() {
			_ = nc.Drain()
			nc.Close()
		}()
	}

	src, closeSrc, err := newProvider(ctx, cfg, nc, dlog)
	if err != nil {
		return err
	}
	defer closeSrc()
	src = provider.NewWatchdog(src, cfg.FixTimeout, nil)

	reporters := report.Multi{report.Log{Logger: dlog}}
	var sinks []monitor.Sink
	var api *httpapi.Server
	if cfg.PublishTelemetry {
		pub := publisher.NewNATSPublisher(nc, publisher.Options{
			Prefix:      cfg.NATSSubjectPrefix,
			Device:      cfg.DeviceID,
			Location:    cfg.Location,
			LogSubjects: cfg.LogNATSSubjects,
			WakeLock:    func() bool { return api != nil && api.WakeLock() },
		}, publisherMetrics(mcol), dlog.WithField("component", "publisher"))
		sinks = append(sinks, pub)
		reporters = append(reporters, pub)
	}

	mon := monitor.New(monitor.Config{
		Reporter: reporters,
		Metrics:  monitorMetrics(mcol),
		Sinks:    sinks,
		Log:      dlog.WithField("component", "monitor"),
	})

	var assets http.Handler
	if cfg.AssetOrigin != "" {
		cache, err := assetcache.Open(cfg.AssetCachePath, cfg.AssetOrigin, nil, dlog.WithField("component", "assets"))
		if err != nil {
			return err
		}
		defer cache.Close()
		assets = cache
	}
	api = httpapi.NewServer(mon, cfg.Location, assets, dlog.WithField("component", "http"))

	g, gctx := errgroup.WithContext(ctx)
	events := make(chan provider.Event, 16)

	g.Go(func() error {
		defer close(events)
		err := src.Watch(gctx, events)
		if err != nil && gctx.Err() == nil {
			// A source that gave up is reported; the trip keeps running on
			// the last known state.
			dlog.WithError(err).WithField("source", cfg.LocationSource).Error("location source stopped")
			reporters.Report(err.Error())
		}
		return nil
	})
	g.Go(func() error {
		return mon.Run(gctx, events)
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: api.Handler(), ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		dlog.WithField("addr", cfg.HTTPAddr).Info("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown(srv)
		return nil
	})

	return g.Wait()
}

// newProvider builds the configured location source and returns a cleanup
// for anything it opened.
func newProvider(ctx context.Context, cfg *config.Config, nc *nats.Conn, log logrus.FieldLogger) (provider.Provider, func(), error) {
	opts := provider.Options{HighAccuracy: cfg.HighAccuracy, Timeout: cfg.FixTimeout}
	noop := func() {}
	log = log.WithField("source", cfg.LocationSource)

	switch cfg.LocationSource {
	case config.SourceNATS:
		fix := publisher.Subject(cfg.NATSSubjectPrefix, cfg.DeviceID, "fix")
		watch := publisher.Subject(cfg.NATSSubjectPrefix, cfg.DeviceID, "watch")
		return provider.NewNATS(nc, fix, watch, opts, log), noop, nil
	case config.SourceMQTT:
		return provider.NewMQTT(provider.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: "bicimon-" + cfg.DeviceID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Topic:    cfg.MQTTTopic,
		}, opts, log), noop, nil
	case config.SourceSerial:
		return provider.NewSerial(cfg.SerialPort, cfg.SerialBaud, log), noop, nil
	case config.SourceReplay:
		sqlDB, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("db open error: %w", err)
		}
		if err := db.Ping(ctx, sqlDB); err != nil {
			sqlDB.Close()
			return nil, nil, fmt.Errorf("db ping error: %w", err)
		}
		return provider.NewReplay(sqlDB, cfg.ReplayTrack, cfg.ReplaySpeed, nil, log), func() { sqlDB.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown location source %q", cfg.LocationSource)
}

func shutdown(srv *http.Server) {
	// Shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// publisherMetrics and monitorMetrics keep a nil collector a nil interface.
func publisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return c
}

func monitorMetrics(c *metrics.Collector) monitor.Metrics {
	if c == nil {
		return nil
	}
	return c
}
