package obs

import (
	"bytes"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestLogger_WritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)
	l.Info("ingest accepted", Fields{"endpoint": "attempts", "status": 202})
	out := buf.String()
	if !strings.Contains(out, "level=info") || !strings.Contains(out, `msg="ingest accepted"`) {
		t.Fatalf("unexpected log line: %s", out)
	}
	if !strings.Contains(out, "endpoint=attempts") || !strings.Contains(out, "status=202") {
		t.Fatalf("missing fields in log line: %s", out)
	}
}

func TestNewMetrics_RegistersWithoutPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.IngestRequestsTotal.WithLabelValues("attempts", "202").Inc()
	m.IngestRateLimited.Inc()
	m.LearnerStateMutations.Inc()
}

func TestTracer_RecordsAndLimits(t *testing.T) {
	tr := NewTracer(2)
	for i := 0; i < 5; i++ {
		span := tr.StartSpan("suggestNext", nil)
		tr.End(span, nil)
	}
	recent := tr.Recent(10)
	if len(recent) != 2 {
		t.Fatalf("expected ring buffer capped at 2, got %d", len(recent))
	}
}
