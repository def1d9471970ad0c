// Package metrics exposes Prometheus collectors for conversations and turns.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chadiek/voiceloop/internal/turn"
)

// Metrics holds all Prometheus metrics for the server.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal          *prometheus.CounterVec
	TransitionsTotal    *prometheus.CounterVec
	ServiceDuration     *prometheus.HistogramVec
	ServiceErrorsTotal  *prometheus.CounterVec
	ConversationsActive *prometheus.GaugeVec
	ConversationsTotal  *prometheus.CounterVec
	HTTPRequestsTotal      *prometheus.CounterVec
}

// New creates a Metrics instance with all metrics registered on a private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voiceloop"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Turns finished, by outcome",
		}, []string{"outcome"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Turn controller state transitions",
		}, []string{"from", "to"}),
		ServiceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "service_duration_seconds",
			Help:      "Latency of transcription and dialogue calls",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"op"}),
		ServiceErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_errors_total",
			Help:      "Failed transcription and dialogue calls",
		}, []string{"op"}),
		ConversationsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversations_active",
			Help:      "Live conversations",
		}, []string{"transport"}),
		ConversationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_total",
			Help:      "Conversations started",
		}, []string{"transport"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by route and status",
		}, []string{"route", "status"}),
	}
	registry.MustRegister(
		m.TurnsTotal,
		m.TransitionsTotal,
		m.ServiceDuration,
		m.ServiceErrorsTotal,
		m.ConversationsActive,
		m.ConversationsTotal,
		m.HTTPRequestsTotal,
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ConversationStarted records a new conversation and returns the matching end func.
func (m *Metrics) ConversationStarted(transport string) (end func()) {
	m.ConversationsTotal.WithLabelValues(transport).Inc()
	m.ConversationsActive.WithLabelValues(transport).Inc()
	return func() { m.ConversationsActive.WithLabelValues(transport).Dec() }
}

// RecordRequest counts one stateless API request.
func (m *Metrics) RecordRequest(route, status string) {
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
}

// Observer adapts the metrics to turn.Observer.
func (m *Metrics) Observer() turn.Observer { return observer{m} }

type observer struct{ m *Metrics }

func (o observer) Transition(from, to turn.State) {
	o.m.TransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
}

func (o observer) Outcome(outcome string) {
	o.m.TurnsTotal.WithLabelValues(outcome).Inc()
}

func (o observer) ServiceLatency(op string, d time.Duration, err error) {
	o.m.ServiceDuration.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		o.m.ServiceErrorsTotal.WithLabelValues(op).Inc()
	}
}
