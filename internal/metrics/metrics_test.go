package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRun(t *testing.T) {
	RegisterDefault()
	before := testutil.ToFloat64(Runs.WithLabelValues("greedy", "completed"))
	ObserveRun("greedy", "completed", 20*time.Millisecond, 88.5)
	if got := testutil.ToFloat64(Runs.WithLabelValues("greedy", "completed")); got != before+1 {
		t.Fatalf("runs counter = %v, want %v", got, before+1)
	}
	if got := testutil.ToFloat64(Coverage.WithLabelValues("greedy")); got != 88.5 {
		t.Fatalf("coverage gauge = %v", got)
	}
	ObserveRun("greedy", "failed", time.Millisecond, 0)
	if got := testutil.ToFloat64(Coverage.WithLabelValues("greedy")); got != 88.5 {
		t.Fatalf("failed run must not move the gauge, got %v", got)
	}
}

func TestHandlerExposesRunMetrics(t *testing.T) {
	ObserveWebhook("run.completed", "delivered", 12)
	ObserveRun("simplex", "completed", time.Second, 50)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{"mclp_runs_total", "mclp_run_duration_seconds", "webhook_deliveries_total"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("metric %s missing from output", name)
		}
	}
}
