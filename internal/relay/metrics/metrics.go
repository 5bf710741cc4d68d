// Package metrics exposes relay counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the relay's collectors on a private registry.
type Metrics struct {
	Connections prometheus.Gauge
	Rooms       prometheus.Gauge
	// Envelopes counts relayed frames by envelope type.
	Envelopes *prometheus.CounterVec
	// Dropped counts rejected frames by reason.
	Dropped *prometheus.CounterVec
	// Admissions counts room requests by endpoint and outcome.
	Admissions *prometheus.CounterVec

	registry *prometheus.Registry
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "oniontalk",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "oniontalk",
			Name:      "active_rooms",
			Help:      "Rooms with at least one joined connection.",
		}),
		Envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oniontalk",
			Name:      "envelopes_relayed_total",
			Help:      "Envelopes fanned out to room members.",
		}, []string{"type"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oniontalk",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames that were not relayed.",
		}, []string{"reason"}),
		Admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oniontalk",
			Name:      "room_requests_total",
			Help:      "Room create and join requests.",
		}, []string{"endpoint", "outcome"}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.Connections,
		m.Rooms,
		m.Envelopes,
		m.Dropped,
		m.Admissions,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
