// Package metrics exposes run counters as Prometheus collectors.
//
// Collectors are registered on an injected registry rather than the global
// default, so tests and concurrent runs in one process never share state.
// All methods are no-ops on a nil *Metrics.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/chessbench/internal/model"
	"github.com/roach88/chessbench/internal/persist"
	"github.com/roach88/chessbench/internal/queue"
)

// Metrics holds the run's collectors.
type Metrics struct {
	registry *prometheus.Registry

	PredictionsTotal   *prometheus.CounterVec
	FailuresTotal      *prometheus.CounterVec
	SkippedTotal       *prometheus.CounterVec
	RefillsTotal       *prometheus.CounterVec
	FlushesTotal       *prometheus.CounterVec
	FlushDuration      *prometheus.HistogramVec
	LostAttemptsTotal  prometheus.Counter
	EvaluationDuration prometheus.Histogram
	Backlog            prometheus.Gauge
	EmptyStreak        prometheus.Gauge
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := NewWith(reg)
	m.registry = reg
	return m
}

// NewWith registers the collectors on reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PredictionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chessbench_predictions_total",
			Help: "Scored predictions by agreement with the actual outcome",
		}, []string{"result"}),

		FailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chessbench_record_failures_total",
			Help: "Records blacklisted for the run, by reason",
		}, []string{"reason"}),

		SkippedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chessbench_records_skipped_total",
			Help: "Records skipped without processing, by reason",
		}, []string{"reason"}),

		RefillsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chessbench_queue_refills_total",
			Help: "Queue refill attempts by result",
		}, []string{"result"}),

		FlushesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chessbench_flushes_total",
			Help: "Result store flushes by kind and status",
		}, []string{"kind", "status"}),

		FlushDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chessbench_flush_duration_seconds",
			Help:    "Time to flush buffered attempts",
			Buckets: []float64{0.001, 0.01, 0.1, 1, 10},
		}, []string{"kind"}),

		LostAttemptsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "chessbench_lost_attempts_total",
			Help: "Attempts a terminal flush failed to write",
		}),

		EvaluationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chessbench_evaluation_duration_seconds",
			Help:    "Time spent in the evaluator per record",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60},
		}),

		Backlog: f.NewGauge(prometheus.GaugeOpts{
			Name: "chessbench_queue_backlog",
			Help: "Records left in the in-memory backlog",
		}),

		EmptyStreak: f.NewGauge(prometheus.GaugeOpts{
			Name: "chessbench_queue_empty_streak",
			Help: "Consecutive refills that yielded no new records",
		}),
	}
}

// Gatherer returns the registry created by New, or nil for NewWith.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil || m.registry == nil {
		return nil
	}
	return m.registry
}

// ObservePrediction counts one scored attempt.
func (m *Metrics) ObservePrediction(a model.PredictionAttempt) {
	if m == nil {
		return
	}
	m.PredictionsTotal.WithLabelValues(predictionResult(a)).Inc()
}

func predictionResult(a model.PredictionAttempt) string {
	switch {
	case a.PatternCorrect && a.EvaluatorCorrect:
		return "both_correct"
	case a.PatternCorrect:
		return "pattern_only"
	case a.EvaluatorCorrect:
		return "evaluator_only"
	default:
		return "both_wrong"
	}
}

// ObserveFailure counts a blacklisted record.
func (m *Metrics) ObserveFailure(reason string) {
	if m == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(reason).Inc()
}

// ObserveSkip counts a record dropped before processing.
func (m *Metrics) ObserveSkip(reason string) {
	if m == nil {
		return
	}
	m.SkippedTotal.WithLabelValues(reason).Inc()
}

// ObserveEvaluation records evaluator latency in seconds.
func (m *Metrics) ObserveEvaluation(seconds float64) {
	if m == nil {
		return
	}
	m.EvaluationDuration.Observe(seconds)
}

// ObserveRefill is a queue.RefillEvent hook.
func (m *Metrics) ObserveRefill(ev queue.RefillEvent) {
	if m == nil {
		return
	}
	result := "fresh"
	switch {
	case ev.Err != nil && ev.Fresh == 0:
		result = "error"
	case ev.Fresh == 0:
		result = "empty"
	}
	m.RefillsTotal.WithLabelValues(result).Inc()
	m.EmptyStreak.Set(float64(ev.Streak))
	m.Backlog.Set(float64(ev.Fresh))
}

// SetBacklog updates the backlog gauge.
func (m *Metrics) SetBacklog(n int) {
	if m == nil {
		return
	}
	m.Backlog.Set(float64(n))
}

// ObserveFlush is a persist.FlushEvent hook.
func (m *Metrics) ObserveFlush(ev persist.FlushEvent) {
	if m == nil {
		return
	}
	status := "ok"
	if ev.Err != nil {
		status = "error"
	}
	m.FlushesTotal.WithLabelValues(string(ev.Kind), status).Inc()
	m.FlushDuration.WithLabelValues(string(ev.Kind)).Observe(ev.Elapsed.Seconds())
}

// ObserveLost counts attempts a terminal flush gave up on.
func (m *Metrics) ObserveLost(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.LostAttemptsTotal.Add(float64(n))
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	g := m.Gatherer()
	if g == nil {
		return fmt.Errorf("write metrics: no registry")
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
