// Package metrics exposes Prometheus instrumentation for the analytics server.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors registered on a private registry
type Metrics struct {
	registry        *prometheus.Registry
	eventsRecorded  *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	liveClients     prometheus.Gauge
}

// New creates a registry with the analytics collectors plus Go and process collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ssa",
			Name:      "events_recorded_total",
			Help:      "Tracked events stored, by source and kind.",
		}, []string{"source", "event"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ssa",
			Name:      "events_dropped_total",
			Help:      "Tracking hits that were not stored, by reason.",
		}, []string{"reason"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ssa",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "code"}),
		liveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ssa",
			Name:      "live_clients",
			Help:      "Dashboards connected to the live feed.",
		}),
	}

	m.registry.MustRegister(
		m.eventsRecorded,
		m.eventsDropped,
		m.requestDuration,
		m.liveClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// EventRecorded counts a stored event. Custom event names are collapsed
// to "custom" to keep label cardinality bounded.
func (m *Metrics) EventRecorded(source, eventType string) {
	if m == nil {
		return
	}
	kind := "custom"
	if eventType == "pageview" {
		kind = "pageview"
	}
	m.eventsRecorded.WithLabelValues(source, kind).Inc()
}

// EventDropped counts a hit that was accepted but not stored
func (m *Metrics) EventDropped(reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(reason).Inc()
}

// ObserveRequest records the latency of one HTTP request
func (m *Metrics) ObserveRequest(method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, strconv.Itoa(code)).Observe(d.Seconds())
}

// SetLiveClients reports the number of live dashboard connections
func (m *Metrics) SetLiveClients(n int) {
	if m == nil {
		return
	}
	m.liveClients.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
