package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var testCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "metrics_test_events_total",
	Help: "Counter used by the metrics package tests",
}, []string{"kind"})

func TestRegistry(t *testing.T) {
	if Registry == nil {
		t.Error("Registry should not be nil")
	}

	if Registry != prometheus.DefaultRegisterer {
		t.Error("Registry should be the default Prometheus registerer")
	}
}

func TestCounterValue(t *testing.T) {
	before := CounterValue("metrics_test_events_total")
	testCounter.WithLabelValues("a").Inc()
	testCounter.WithLabelValues("b").Add(2)

	if got := CounterValue("metrics_test_events_total") - before; got != 3 {
		t.Errorf("CounterValue delta = %v, want 3", got)
	}
	if got := CounterValue("metrics_test_unknown_total"); got != 0 {
		t.Errorf("CounterValue(unknown) = %v, want 0", got)
	}
}

func TestHandler(t *testing.T) {
	testCounter.WithLabelValues("served").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `metrics_test_events_total{kind="served"}`) {
		t.Errorf("handler output is missing the test counter")
	}
}
