// Package metrics exposes forwarder counters on a private Prometheus registry.
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "auditfwd"

// Metrics holds every collector the forwarder updates.
type Metrics struct {
	registry *prometheus.Registry

	cycles          *prometheus.CounterVec
	lokiQueries     *prometheus.CounterVec
	lokiDuration    prometheus.Histogram
	linesFetched    prometheus.Counter
	linesForwarded  *prometheus.CounterVec
	forwardFailures *prometheus.CounterVec
	checkpoint      prometheus.Gauge
	healthy         prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Fetch and forward cycles by result.",
		}, []string{"result"}),
		lokiQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loki_queries_total",
			Help:      "Loki query_range calls by result.",
		}, []string{"result"}),
		lokiDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loki_query_duration_seconds",
			Help:      "Latency of Loki query_range calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		linesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_fetched_total",
			Help:      "Audit lines appended to the buffer.",
		}),
		linesForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_forwarded_total",
			Help:      "Audit lines delivered to a sink.",
		}, []string{"sink"}),
		forwardFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_failures_total",
			Help:      "Failed sink deliveries.",
		}, []string{"sink"}),
		checkpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoint_timestamp_seconds",
			Help:      "Last persisted checkpoint as unix seconds.",
		}),
		healthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "healthy",
			Help:      "1 when the last fetch or forward succeeded.",
		}),
	}
	m.registry.MustRegister(
		m.cycles, m.lokiQueries, m.lokiDuration, m.linesFetched,
		m.linesForwarded, m.forwardFailures, m.checkpoint, m.healthy,
	)
	m.healthy.Set(1)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) CycleDone(result string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
}

func (m *Metrics) LokiQuery(err error, took time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.lokiQueries.WithLabelValues(result).Inc()
	m.lokiDuration.Observe(took.Seconds())
}

func (m *Metrics) LinesFetched(n int) {
	if m == nil {
		return
	}
	m.linesFetched.Add(float64(n))
}

func (m *Metrics) Forwarded(sink string, lines int) {
	if m == nil {
		return
	}
	m.linesForwarded.WithLabelValues(sink).Add(float64(lines))
}

func (m *Metrics) ForwardFailed(sink string) {
	if m == nil {
		return
	}
	m.forwardFailures.WithLabelValues(sink).Inc()
}

func (m *Metrics) Checkpoint(epoch int64) {
	if m == nil {
		return
	}
	m.checkpoint.Set(float64(epoch))
}

func (m *Metrics) Healthy(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.healthy.Set(1)
	} else {
		m.healthy.Set(0)
	}
}
