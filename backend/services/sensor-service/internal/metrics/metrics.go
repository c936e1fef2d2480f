package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reading outcomes used as the "outcome" label.
const (
	OutcomeInserted  = "inserted"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	readings      *prometheus.CounterVec
	sourceErrors  *prometheus.CounterVec
	windows       prometheus.Counter
	runDuration   *prometheus.HistogramVec
	indexKeys     prometheus.Gauge
	lastSuccess   prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

// New registers the collectors on reg, or on a fresh registry when reg is nil.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensor_readings_total",
			Help: "Readings handled by ingestion, by outcome.",
		}, []string{"outcome"}),
		sourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensor_source_errors_total",
			Help: "Failed source calls by operation.",
		}, []string{"operation"}),
		windows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensor_ingest_windows_total",
			Help: "Backfill windows processed.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sensor_ingest_run_duration_seconds",
			Help:    "Duration of ingestion runs by mode.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"mode"}),
		indexKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensor_index_keys",
			Help: "Keys loaded into the existing-reading index for the current run.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensor_ingest_last_success_timestamp_seconds",
			Help: "Unix time of the last run that finished without a run-level error.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.readings,
		m.sourceErrors,
		m.windows,
		m.runDuration,
		m.indexKeys,
		m.lastSuccess,
		m.httpRequests,
		m.httpDurations,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Reading(outcome string) {
	if m == nil {
		return
	}
	m.readings.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Readings(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.readings.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) SourceError(operation string) {
	if m == nil {
		return
	}
	m.sourceErrors.WithLabelValues(operation).Inc()
}

func (m *Metrics) Window() {
	if m == nil {
		return
	}
	m.windows.Inc()
}

func (m *Metrics) IndexKeys(n int) {
	if m == nil {
		return
	}
	m.indexKeys.Set(float64(n))
}

// RunFinished records the duration of a run and, on success, its completion time.
func (m *Metrics) RunFinished(mode string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
	if err == nil {
		m.lastSuccess.SetToCurrentTime()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and observes latency under the given route label.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDurations.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}
