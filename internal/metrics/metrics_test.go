package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		// Known exact routes.
		{"/healthz", "/healthz"},
		{"/readyz", "/readyz"},
		{"/metrics", "/metrics"},
		{"/api/v1/extrapolate", "/api/v1/extrapolate"},
		{"/api/v1/polars", "/api/v1/polars"},
		{"/api/v1/polars/stats", "/api/v1/polars/stats"},
		{"/api/v1/runs", "/api/v1/runs"},

		// Parameterized polar routes collapse to one label.
		{"/api/v1/polars/naca0012/100000", "/api/v1/polars/{airfoil}/{reynolds}"},
		{"/api/v1/polars/s809/2000000", "/api/v1/polars/{airfoil}/{reynolds}"},

		// Unknown/bot paths collapse to "other".
		{"/api/v1/polars/naca0012", "other"},
		{"/api/v1/polars/a/b/c", "other"},
		{"/wp-admin", "other"},
		{"/.env", "other"},
		{"/favicon.ico", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := normalizeRoute(tt.path)
			if got != tt.want {
				t.Errorf("normalizeRoute(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

// TestMetricsCardinality verifies that 100 distinct Reynolds numbers produce
// exactly 1 distinct path label, not 100.
func TestMetricsCardinality(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		label := normalizeRoute(fmt.Sprintf("/api/v1/polars/naca0012/%d", 100000+i*1000))
		seen[label] = true
	}
	if len(seen) != 1 {
		t.Errorf("expected 1 unique label for parameterized paths, got %d: %v", len(seen), seen)
	}
}

func TestRecordExtrapolation(t *testing.T) {
	okBefore := testutil.ToFloat64(extrapolationsTotal.WithLabelValues("success"))
	errBefore := testutil.ToFloat64(extrapolationsTotal.WithLabelValues("error"))

	RecordExtrapolation(time.Millisecond, nil)
	RecordExtrapolation(time.Millisecond, errors.New("boom"))
	RecordExtrapolation(time.Millisecond, nil)

	if got := testutil.ToFloat64(extrapolationsTotal.WithLabelValues("success")) - okBefore; got != 2 {
		t.Errorf("success count delta = %v, want 2", got)
	}
	if got := testutil.ToFloat64(extrapolationsTotal.WithLabelValues("error")) - errBefore; got != 1 {
		t.Errorf("error count delta = %v, want 1", got)
	}
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("other", "GET", "418"))

	req := httptest.NewRequest("GET", "/brew", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTeapot)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("other", "GET", "418")) - before; got != 1 {
		t.Errorf("request counter delta = %v, want 1", got)
	}
}
