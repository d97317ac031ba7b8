package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRequestDefaultsToAnonymous(t *testing.T) {
	before := testutil.ToFloat64(RequestCount.WithLabelValues("GET", "/api/entities", "200", AudienceAnonymous))
	ObserveRequest("GET", "/api/entities", http.StatusOK, "", 10*time.Millisecond)

	after := testutil.ToFloat64(RequestCount.WithLabelValues("GET", "/api/entities", "200", AudienceAnonymous))
	if after != before+1 {
		t.Fatalf("expected anonymous request counted, got %v -> %v", before, after)
	}
}

func TestHandlerExposesPortalMetrics(t *testing.T) {
	registry := NewRegistry()
	ObserveRequest("POST", "/api/access-requests", http.StatusCreated, AudienceExternal, time.Millisecond)

	w := httptest.NewRecorder()
	Handler(registry).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	if !strings.Contains(body, `portal_http_requests_total{audience="external",method="POST",route="/api/access-requests",status="201"}`) {
		t.Fatalf("expected request counter in output:\n%s", body)
	}
}
