package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.CycleCompleted("game", 2*time.Second)
	c.CycleCompleted("game", time.Second)
	c.FeedOutcome("game", "ok")
	c.FeedOutcome("game", "terminal")
	c.FeedOutcome("game", "ok")
	c.Delivered("webhook", 3)
	c.Delivered("failed", 1)
	c.CacheResult("hit")

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{name: "game cycles", got: testutil.ToFloat64(c.cycles.WithLabelValues("game")), want: 2},
		{name: "ok outcomes", got: testutil.ToFloat64(c.feedOutcomes.WithLabelValues("game", "ok")), want: 2},
		{name: "terminal outcomes", got: testutil.ToFloat64(c.feedOutcomes.WithLabelValues("game", "terminal")), want: 1},
		{name: "webhook deliveries", got: testutil.ToFloat64(c.notifications.WithLabelValues("webhook")), want: 3},
		{name: "failed deliveries", got: testutil.ToFloat64(c.notifications.WithLabelValues("failed")), want: 1},
		{name: "cache hits", got: testutil.ToFloat64(c.cache.WithLabelValues("hit")), want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.got); diff != "" {
				t.Errorf("counter mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.Delivered("direct", 1)
	h := Router(reg)

	tests := []struct {
		name         string
		path         string
		wantStatus   int
		wantContains string
	}{
		{name: "metrics", path: "/metrics", wantStatus: http.StatusOK, wantContains: "modfeed_notifications_total"},
		{name: "healthz", path: "/healthz", wantStatus: http.StatusOK, wantContains: "ok"},
		{name: "unknown", path: "/nope", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			resp := w.Result()
			if diff := cmp.Diff(tt.wantStatus, resp.StatusCode); diff != "" {
				t.Errorf("status mismatch (-want +got):\n%s", diff)
			}
			body, _ := io.ReadAll(resp.Body)
			if !strings.Contains(string(body), tt.wantContains) {
				t.Errorf("body does not contain %q:\n%s", tt.wantContains, body)
			}
		})
	}
}
