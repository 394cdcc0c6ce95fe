package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tick results.
const (
	ResultOK         = "ok"
	ResultFetchError = "fetch_error"
	ResultQueryError = "query_error"
	ResultSaveError  = "save_error"
)

// Metrics holds the poller collectors on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	ticks           *prometheus.CounterVec
	tickDuration    prometheus.Histogram
	readingsFetched prometheus.Counter
	readingsStored  prometheus.Counter
	readingsSkipped prometheus.Counter
	notifyErrors    prometheus.Counter
	lastSuccess     prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watcher_ticks_total",
			Help: "Poll ticks by result.",
		}, []string{"result"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "watcher_tick_duration_seconds",
			Help:    "Duration of poll ticks.",
			Buckets: prometheus.DefBuckets,
		}),
		readingsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watcher_readings_fetched_total",
			Help: "Readings returned by the bridge.",
		}),
		readingsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watcher_readings_stored_total",
			Help: "New readings handed to storage.",
		}),
		readingsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watcher_readings_skipped_total",
			Help: "Readings dropped as already stored.",
		}),
		notifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watcher_notify_errors_total",
			Help: "Failed reading notifications.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watcher_last_success_timestamp_seconds",
			Help: "Unix time of the last successful tick.",
		}),
	}

	m.registry.MustRegister(
		m.ticks,
		m.tickDuration,
		m.readingsFetched,
		m.readingsStored,
		m.readingsSkipped,
		m.notifyErrors,
		m.lastSuccess,
	)

	for _, r := range []string{ResultOK, ResultFetchError, ResultQueryError, ResultSaveError} {
		m.ticks.WithLabelValues(r)
	}

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTick records one finished tick.
func (m *Metrics) ObserveTick(result string, started time.Time) {
	m.ticks.WithLabelValues(result).Inc()
	m.tickDuration.Observe(time.Since(started).Seconds())
	if result == ResultOK {
		m.lastSuccess.SetToCurrentTime()
	}
}

// Fetched counts readings returned by the source.
func (m *Metrics) Fetched(n int) { m.readingsFetched.Add(float64(n)) }

// Stored counts readings handed to storage.
func (m *Metrics) Stored(n int) { m.readingsStored.Add(float64(n)) }

// Skipped counts readings filtered as duplicates.
func (m *Metrics) Skipped(n int) { m.readingsSkipped.Add(float64(n)) }

// NotifyFailed counts a failed notification.
func (m *Metrics) NotifyFailed() { m.notifyErrors.Inc() }
