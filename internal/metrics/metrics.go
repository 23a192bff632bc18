package metrics

import (
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"bicimon/internal/trip"
)

var nan = math.NaN()

type Collector struct {
	reg *prometheus.Registry

	CurrentSpeed prometheus.Gauge
	MaxSpeed     prometheus.Gauge
	AvgSpeed     prometheus.Gauge
	NowaitSpeed  prometheus.Gauge

	TripSeconds    prometheus.Gauge
	WaitingSeconds prometheus.Gauge
	FixDelay       prometheus.Gauge // seconds, NaN before the first fix

	Fixes          prometheus.Counter
	ProviderErrors prometheus.Counter
	Ticks          prometheus.Counter
	Buckets        prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	TickDuration    prometheus.Histogram
	PublishDuration prometheus.Histogram

	FixTimeout prometheus.Gauge // seconds
}

func NewCollector(fixTimeout time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		CurrentSpeed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bicimon_speed_current_kmh",
			Help: "Speed reported by the last fix, NaN when unknown.",
		}),
		MaxSpeed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bicimon_speed_max_kmh",
			Help: "Highest speed seen this trip.",
		}),
		AvgSpeed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bicimon_speed_avg_kmh",
			Help: "Mean of committed 5s speed buckets.",
		}),
		NowaitSpeed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bicimon_speed_nowait_avg_kmh",
			Help: "Mean of committed buckets at or above the moving threshold.",
		}),
		TripSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bicimon_trip_seconds",
			Help: "Elapsed trip time.",
		}),
		WaitingSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bicimon_waiting_seconds",
			Help: "Seconds spent below the moving threshold.",
		}),
		FixDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bicimon_fix_delay_seconds",
			Help: "Age of the last accepted fix.",
		}),
		Fixes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bicimon_fixes_total",
			Help: "Total fixes accepted.",
		}),
		ProviderErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bicimon_provider_errors_total",
			Help: "Total location provider errors.",
		}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bicimon_ticks_total",
			Help: "Total heartbeats processed.",
		}),
		Buckets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bicimon_buckets_total",
			Help: "Total speed buckets committed.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bicimon_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bicimon_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bicimon_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bicimon_tick_duration_seconds",
			Help:    "Duration of heartbeat processing.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bicimon_publish_duration_seconds",
			Help:    "Duration to publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		FixTimeout: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bicimon_fix_timeout_seconds",
			Help: "Silence after which the location source is reported as timed out.",
		}),
	}

	reg.MustRegister(
		c.CurrentSpeed, c.MaxSpeed, c.AvgSpeed, c.NowaitSpeed,
		c.TripSeconds, c.WaitingSeconds, c.FixDelay,
		c.Fixes, c.ProviderErrors, c.Ticks, c.Buckets,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.TickDuration, c.PublishDuration, c.FixTimeout,
	)

	c.FixTimeout.Set(fixTimeout.Seconds())
	return c
}

func (c *Collector) FixInc()           { c.Fixes.Inc() }
func (c *Collector) ProviderErrorInc() { c.ProviderErrors.Inc() }

// TickObserve records a processed heartbeat and the trip state after it.
func (c *Collector) TickObserve(d time.Duration, s trip.Snapshot, res trip.TickResult) {
	c.Ticks.Inc()
	c.TickDuration.Observe(d.Seconds())
	if res.Committed {
		c.Buckets.Inc()
	}
	c.CurrentSpeed.Set(s.CurrentKmh.Or(nan))
	c.MaxSpeed.Set(s.MaxKmh.Or(0))
	c.AvgSpeed.Set(s.AvgKmh)
	c.NowaitSpeed.Set(s.NowaitKmh)
	c.TripSeconds.Set(s.TripSeconds)
	c.WaitingSeconds.Set(float64(s.WaitingSeconds))
	c.FixDelay.Set(s.DelaySeconds.Or(nan))
}

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, log logrus.FieldLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server error")
		}
	}()
	log.WithField("addr", addr).Info("metrics listening")
	return srv
}
