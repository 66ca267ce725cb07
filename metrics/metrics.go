// Package metrics exposes Prometheus collectors for client handles, the
// orchestrator, the event-stream gateway and the message archive.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zevanoo/baileys-ez/client"
)

const namespace = "ezwa"

var states = []client.State{client.Idle, client.Connecting, client.Connected}

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	reg *prometheus.Registry

	connects       *prometheus.CounterVec
	clientState    *prometheus.GaugeVec
	routed         *prometheus.CounterVec
	normFailures   *prometheus.CounterVec
	clients        prometheus.Gauge
	sessionsClean  prometheus.Counter
	gatewayConns   prometheus.Gauge
	gatewayDropped prometheus.Counter
	archiveAppends *prometheus.CounterVec
}

// New registers every collector plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Connect attempts by client and result.",
		}, []string{"client_id", "result"}),
		clientState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "client_state",
			Help:      "1 for the current connection state of each client.",
		}, []string{"client_id", "state"}),
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_routed_total",
			Help:      "Normalized message events by client and action.",
		}, []string{"client_id", "action"}),
		normFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "normalization_failures_total",
			Help:      "Raw messages dropped because they could not be normalized.",
		}, []string{"client_id"}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clients_registered",
			Help:      "Clients registered with the orchestrator.",
		}),
		sessionsClean: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_cleaned_total",
			Help:      "Invalid session directories removed.",
		}),
		gatewayConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "connections",
			Help:      "Open event-stream connections.",
		}),
		gatewayDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "dropped_frames_total",
			Help:      "Frames dropped because a subscriber queue was full.",
		}),
		archiveAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "appends_total",
			Help:      "Archive appends by outcome.",
		}, []string{"outcome"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connects,
		m.clientState,
		m.routed,
		m.normFailures,
		m.clients,
		m.sessionsClean,
		m.gatewayConns,
		m.gatewayDropped,
		m.archiveAppends,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ConnectFinished implements client.Observer.
func (m *Metrics) ConnectFinished(clientID string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.connects.WithLabelValues(clientID, result).Inc()
}

// StateChanged implements client.Observer.
func (m *Metrics) StateChanged(clientID string, state client.State) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		m.clientState.WithLabelValues(clientID, s.String()).Set(v)
	}
}

// MessageRouted implements client.Observer.
func (m *Metrics) MessageRouted(clientID, action string) {
	m.routed.WithLabelValues(clientID, action).Inc()
}

// NormalizationFailed implements client.Observer.
func (m *Metrics) NormalizationFailed(clientID string) {
	m.normFailures.WithLabelValues(clientID).Inc()
}

// ClientRegistered tracks orchestrator membership.
func (m *Metrics) ClientRegistered(clientID string, added bool) {
	if added {
		m.clients.Inc()
		return
	}
	m.clients.Dec()
	m.clientState.DeletePartialMatch(prometheus.Labels{"client_id": clientID})
}

// SessionsCleaned counts removed session directories.
func (m *Metrics) SessionsCleaned(n int) {
	if n > 0 {
		m.sessionsClean.Add(float64(n))
	}
}

// GatewayConnection adjusts the open-connection gauge by delta.
func (m *Metrics) GatewayConnection(delta int) { m.gatewayConns.Add(float64(delta)) }

// GatewayDropped counts one dropped frame.
func (m *Metrics) GatewayDropped() { m.gatewayDropped.Inc() }

// ArchiveAppended counts one archive append.
func (m *Metrics) ArchiveAppended(inserted bool, err error) {
	outcome := "inserted"
	switch {
	case err != nil:
		outcome = "error"
	case !inserted:
		outcome = "duplicate"
	}
	m.archiveAppends.WithLabelValues(outcome).Inc()
}
