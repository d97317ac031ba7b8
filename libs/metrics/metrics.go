package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Audiences split portal HTTP traffic between supervisory staff, regulated
// entity users and unauthenticated callers.
const (
	AudienceInternal  = "internal"
	AudienceExternal  = "external"
	AudienceAnonymous = "anonymous"
)

var (
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_http_requests_total",
			Help: "Portal HTTP requests by route, status and audience.",
		},
		[]string{"method", "route", "status", "audience"},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_http_request_duration_seconds",
			Help:    "Portal HTTP request latency by route and audience.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route", "audience"},
	)
	RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "portal_http_requests_in_flight",
			Help: "Portal HTTP requests currently being served.",
		},
	)
)

// ObserveRequest records one finished request.
func ObserveRequest(method, route string, status int, audience string, latency time.Duration) {
	if audience == "" {
		audience = AudienceAnonymous
	}
	RequestCount.WithLabelValues(method, route, strconv.Itoa(status), audience).Inc()
	RequestDuration.WithLabelValues(method, route, audience).Observe(latency.Seconds())
}

func Register(registry *prometheus.Registry) {
	registry.MustRegister(RequestCount, RequestDuration, RequestsInFlight)
}

// NewRegistry returns a registry with the given collectors and the portal HTTP
// metrics registered.
func NewRegistry(collectors ...prometheus.Collector) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors...)
	Register(registry)
	return registry
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
