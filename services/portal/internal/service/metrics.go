package service

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Transitions       *prometheus.CounterVec
	TransitionLatency *prometheus.HistogramVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "access_request_operations_total",
				Help: "Total access request workflow operations.",
			},
			[]string{"operation", "result"},
		),
		TransitionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "access_request_operation_latency_seconds",
				Help:    "Access request workflow operation latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.Transitions,
		m.TransitionLatency,
	)
	return m
}
