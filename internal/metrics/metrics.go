// Package metrics defines the Prometheus collectors for dialogue turns.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "parley"

// Metrics groups every collector the service exports.
type Metrics struct {
	turns           *prometheus.CounterVec
	turnLatency     *prometheus.HistogramVec
	classifyLatency *prometheus.HistogramVec
	chunks          prometheus.Counter
	malformed       prometheus.Counter
	hints           *prometheus.CounterVec
	quizGraded      *prometheus.CounterVec
	evicted         prometheus.Counter
	activeStreams   prometheus.Gauge
	rateLimited     prometheus.Counter
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in
// tests to avoid clashing with the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Labels: outcome (ok, classifier_unavailable, generation_unavailable,
		// conflict, incomplete, error), directive.
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "turn",
			Name:      "total",
			Help:      "Dialogue turns by outcome and directive kind",
		}, []string{"outcome", "directive"}),
		turnLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "turn",
			Name:      "duration_seconds",
			Help:      "Time from request to the last streamed unit",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"outcome"}),
		classifyLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "duration_seconds",
			Help:      "Intent classification latency",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"stage"}),
		chunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "chunks_total",
			Help:      "Backend chunks relayed to callers",
		}),
		malformed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "malformed_lines_total",
			Help:      "Backend lines skipped because they did not parse",
		}),
		hints: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "annotate",
			Name:      "hints_total",
			Help:      "Hints appended by detected rhetorical pattern",
		}, []string{"intent"}),
		quizGraded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quiz",
			Name:      "graded_total",
			Help:      "Quiz answers graded",
		}, []string{"correct"}),
		evicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "evicted_total",
			Help:      "Sessions removed by the eviction policy",
		}),
		activeStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active",
			Help:      "Turn streams currently being relayed",
		}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-session rate limiter",
		}),
	}
}

// Every method is nil-safe so components can run without metrics.

func (m *Metrics) ObserveTurn(outcome, directive string, d time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome, directive).Inc()
	m.turnLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveClassify records a classifier call; stage is "input" or "post_hoc".
func (m *Metrics) ObserveClassify(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.classifyLatency.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) AddChunks(relayed, malformed int) {
	if m == nil {
		return
	}
	m.chunks.Add(float64(relayed))
	m.malformed.Add(float64(malformed))
}

func (m *Metrics) IncHint(intent string) {
	if m == nil {
		return
	}
	m.hints.WithLabelValues(intent).Inc()
}

func (m *Metrics) IncQuizGraded(correct bool) {
	if m == nil {
		return
	}
	label := "false"
	if correct {
		label = "true"
	}
	m.quizGraded.WithLabelValues(label).Inc()
}

func (m *Metrics) AddEvicted(n int) {
	if m == nil {
		return
	}
	m.evicted.Add(float64(n))
}

func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.activeStreams.Inc()
}

func (m *Metrics) StreamFinished() {
	if m == nil {
		return
	}
	m.activeStreams.Dec()
}

func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
