// Package obs provides the engine's ambient observability stack:
// structured key=value logging, Prometheus metrics registered via
// promauto, and a lightweight in-memory span tracer: the same
// ring-buffer span shape and promauto wiring pattern, repurposed here
// for the engine's own counters and histograms.
package obs

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Logger writes structured key=value lines. It never panics and never
// returns an error — logging failures are not allowed to interrupt a
// request.
type Logger struct {
	out io.Writer
	mu  sync.Mutex
}

// NewLogger returns a Logger writing to w. Passing nil defaults to
// os.Stderr.
func NewLogger(w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{out: w}
}

// Fields is an ordered set of key=value pairs for a single log line.
type Fields map[string]interface{}

func (l *Logger) write(level, msg string, fields Fields) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "ts=%s level=%s msg=%q", time.Now().UTC().Format(time.RFC3339Nano), level, msg)
	for _, k := range keys {
		fmt.Fprintf(l.out, " %s=%v", k, fields[k])
	}
	fmt.Fprintln(l.out)
}

func (l *Logger) Info(msg string, fields Fields)  { l.write("info", msg, fields) }
func (l *Logger) Warn(msg string, fields Fields)  { l.write("warn", msg, fields) }
func (l *Logger) Error(msg string, fields Fields) { l.write("error", msg, fields) }

// Metrics is the full set of Prometheus collectors the engine exposes.
// A single instance is created at startup and threaded through every
// component that needs to record a measurement.
type Metrics struct {
	IngestRequestsTotal   *prometheus.CounterVec
	IngestRateLimited     prometheus.Counter
	SelectorDuration      prometheus.Histogram
	SchedulerDuration     prometheus.Histogram
	AnalyzerRunDuration   prometheus.Histogram
	LearnerStateMutations prometheus.Counter
}

// NewMetrics registers and returns the engine's metrics against reg. A
// nil reg uses the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IngestRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studyengine",
			Subsystem: "ingest",
			Name:      "requests_total",
			Help:      "Total telemetry ingest requests by endpoint and outcome status.",
		}, []string{"endpoint", "status"}),
		IngestRateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "studyengine",
			Subsystem: "ingest",
			Name:      "rate_limited_total",
			Help:      "Total ingest requests rejected for exceeding the rate limit.",
		}),
		SelectorDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "studyengine",
			Subsystem: "selector",
			Name:      "duration_seconds",
			Help:      "Wall-clock time to pick the next item within a session.",
			Buckets:   prometheus.DefBuckets,
		}),
		SchedulerDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "studyengine",
			Subsystem: "scheduler",
			Name:      "duration_seconds",
			Help:      "Wall-clock time to pick the next LO to study.",
			Buckets:   prometheus.DefBuckets,
		}),
		AnalyzerRunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "studyengine",
			Subsystem: "analyzer",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock time for one offline analytics run.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}),
		LearnerStateMutations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "studyengine",
			Subsystem: "store",
			Name:      "learner_state_mutations_total",
			Help:      "Total learner-state mutations committed by the store.",
		}),
	}
}

// Span is one traced unit of work.
type Span struct {
	ID        string
	Operation string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Err       error
	Attrs     map[string]string
}

// Tracer is a ring-buffer span recorder: no external OpenTelemetry
// dependency, just enough to answer "what did the last N attempts
// look like".
type Tracer struct {
	mu       sync.Mutex
	spans    []Span
	maxSpans int
	counter  atomic.Int64
}

// NewTracer returns a Tracer retaining at most maxSpans spans.
func NewTracer(maxSpans int) *Tracer {
	if maxSpans <= 0 {
		maxSpans = 1000
	}
	return &Tracer{maxSpans: maxSpans}
}

// StartSpan begins timing operation. Call End on the result when done.
func (t *Tracer) StartSpan(operation string, attrs map[string]string) *Span {
	n := t.counter.Add(1)
	return &Span{
		ID:        fmt.Sprintf("span-%d", n),
		Operation: operation,
		StartTime: time.Now(),
		Attrs:     attrs,
	}
}

// End closes span, records err (if any), and appends it to the ring
// buffer.
func (t *Tracer) End(span *Span, err error) {
	if span == nil {
		return
	}
	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	span.Err = err

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.spans) >= t.maxSpans {
		t.spans = t.spans[1:]
	}
	t.spans = append(t.spans, *span)
}

// Recent returns a copy of the last n recorded spans (all of them if n
// <= 0 or n exceeds the buffer).
func (t *Tracer) Recent(n int) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n <= 0 || n > len(t.spans) {
		n = len(t.spans)
	}
	start := len(t.spans) - n
	out := make([]Span, n)
	copy(out, t.spans[start:])
	return out
}
