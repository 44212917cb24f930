// Package metrics exposes bridge instrumentation in Prometheus format.
//
// All collectors live on a private registry owned by Metrics, so several
// instances (for example in tests) never collide.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-teg/internal/tedapi"
)

const namespace = "tegbridge"

// Poll outcomes recorded by ObservePoll.
const (
	OutcomeOK      = "ok"
	OutcomeEmpty   = "empty"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Metrics holds every collector the bridge exports.
type Metrics struct {
	registry *prometheus.Registry

	gatewayRequests *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
	cooldownTrips   prometheus.Counter
	cacheLookups    *prometheus.CounterVec
	legacyPolls     *prometheus.CounterVec
	exportCycles    *prometheus.CounterVec
	gatewayUp       prometheus.Gauge
}

var _ tedapi.Metrics = (*Metrics)(nil)

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		gatewayRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_requests_total",
				Help:      "Requests sent to the gateway by operation and HTTP status (0 = transport error).",
			},
			[]string{"op", "status"},
		),
		gatewayLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_request_duration_seconds",
				Help:      "Latency of gateway requests.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		cooldownTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_cooldown_trips_total",
			Help:      "Times the gateway answered 429 and the cooldown window opened.",
		}),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Document cache lookups by kind and result (hit/miss).",
			},
			[]string{"kind", "result"},
		),
		legacyPolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "legacy_polls_total",
				Help:      "Legacy API polls by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		),
		exportCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "export_cycles_total",
				Help:      "Telemetry export cycles by sink and result.",
			},
			[]string{"sink", "result"},
		),
		gatewayUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_up",
			Help:      "1 if the last gateway request returned HTTP 200, else 0.",
		}),
	}

	m.registry.MustRegister(
		m.gatewayRequests,
		m.gatewayLatency,
		m.cooldownTrips,
		m.cacheLookups,
		m.legacyPolls,
		m.exportCycles,
		m.gatewayUp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRequest records one gateway request.
func (m *Metrics) ObserveRequest(op string, status int, elapsed time.Duration) {
	m.gatewayRequests.WithLabelValues(op, strconv.Itoa(status)).Inc()
	m.gatewayLatency.WithLabelValues(op).Observe(elapsed.Seconds())
	if status == http.StatusOK {
		m.gatewayUp.Set(1)
	} else {
		m.gatewayUp.Set(0)
	}
}

// CacheResult records a document cache hit or miss.
func (m *Metrics) CacheResult(kind tedapi.DocumentKind, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(string(kind), result).Inc()
}

// CooldownTripped records the opening of a cooldown window.
func (m *Metrics) CooldownTripped() {
	m.cooldownTrips.Inc()
}

// ObservePoll records the outcome of one legacy API poll.
func (m *Metrics) ObservePoll(endpoint, outcome string) {
	m.legacyPolls.WithLabelValues(endpoint, outcome).Inc()
}

// ObserveExport records one exporter cycle for a sink.
func (m *Metrics) ObserveExport(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.exportCycles.WithLabelValues(sink, result).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
