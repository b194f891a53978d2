package oidc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts gate decisions and login round trips.
type Metrics struct {
	gateOutcomes   *prometheus.CounterVec
	loginRedirects *prometheus.CounterVec
	callbacks      *prometheus.CounterVec
}

// NewMetrics registers the counters at reg. A nil reg creates unregistered counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gateOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oauth_gateway_gate_outcomes_total",
			Help: "Decisions of the auth gate for protected routes and the login page",
		}, []string{"outcome"}),
		loginRedirects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oauth_gateway_provider_redirects_total",
			Help: "Redirects from the login entry to the oidc provider",
		}, []string{"mode"}),
		callbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oauth_gateway_callbacks_total",
			Help: "Results of oidc callbacks",
		}, []string{"result"}),
	}
}

func (m *Metrics) outcome(o Outcome) {
	m.gateOutcomes.WithLabelValues(string(o)).Inc()
}

func (m *Metrics) providerRedirect(mode Mode) {
	m.loginRedirects.WithLabelValues(mode.String()).Inc()
}

func (m *Metrics) callback(result string) {
	m.callbacks.WithLabelValues(result).Inc()
}
