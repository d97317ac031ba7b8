package handlers

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	LoginAttempts *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		LoginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_login_attempts_total",
				Help: "Login attempts by outcome.",
			},
			[]string{"outcome"},
		),
	}
	registry.MustRegister(m.LoginAttempts)
	return m
}

func (m *Metrics) observeLogin(outcome string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}
