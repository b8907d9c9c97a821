package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seatwise",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Report pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "seatwise",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "End-to-end report pipeline duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	LLMCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seatwise",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Completion-service calls by purpose and outcome",
		},
		[]string{"purpose", "outcome"},
	)

	DocumentsUploadedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "seatwise",
			Subsystem: "documents",
			Name:      "uploaded_total",
			Help:      "Documents uploaded across all projects",
		},
	)

	ChatTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seatwise",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Chat turns by answer kind",
		},
		[]string{"kind"},
	)
)

// Pipeline outcomes.
const (
	OutcomeComplete     = "complete"
	OutcomeIntervention = "intervention"
	OutcomeError        = "error"
	OutcomeSkipped      = "skipped"
	OutcomeStale        = "stale"
)

// RecordPipelineRun records one pipeline run outcome with its duration.
func RecordPipelineRun(outcome string, durationSec float64) {
	PipelineRunsTotal.WithLabelValues(outcome).Inc()
	PipelineDuration.Observe(durationSec)
}

// RecordLLMCall records one completion-service call.
func RecordLLMCall(purpose string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	LLMCallsTotal.WithLabelValues(purpose, outcome).Inc()
}
