package telemetry

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink turns metric events into Prometheus series.
type PrometheusSink struct {
	executions  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	confidence  *prometheus.HistogramVec
	stages      *prometheus.HistogramVec
	resolutions *prometheus.CounterVec
	warnings    *prometheus.CounterVec
}

// NewPrometheusSink creates the collectors and registers them with reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	s := &PrometheusSink{
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nuka_reason",
				Subsystem: "execution",
				Name:      "total",
				Help:      "Completed reasoning executions.",
			},
			[]string{"task", "path", "validated"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "nuka_reason",
				Subsystem: "execution",
				Name:      "duration_seconds",
				Help:      "Wall time of reasoning executions in seconds.",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"task", "path"},
		),
		confidence: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "nuka_reason",
				Subsystem: "execution",
				Name:      "confidence",
				Help:      "Aggregated confidence of reasoning executions.",
				Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
			},
			[]string{"task"},
		),
		stages: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "nuka_reason",
				Subsystem: "execution",
				Name:      "stages_completed",
				Help:      "Number of canonical stages completed per execution.",
				Buckets:   prometheus.LinearBuckets(0, 1, 6),
			},
			[]string{"task"},
		),
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nuka_reason",
				Subsystem: "dual_path",
				Name:      "resolutions_total",
				Help:      "Dual-path resolutions by method.",
			},
			[]string{"task", "method"},
		),
		warnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nuka_reason",
				Name:      "warnings_total",
				Help:      "Warning events emitted by the engine.",
			},
			[]string{"task"},
		),
	}
	for _, c := range []prometheus.Collector{s.executions, s.duration, s.confidence, s.stages, s.resolutions, s.warnings} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PrometheusSink) Emit(_ context.Context, ev Event) error {
	switch ev.Kind {
	case KindWarn:
		s.warnings.WithLabelValues(ev.TaskName).Inc()
	case KindMetric:
		if ev.Resolution != "" {
			s.resolutions.WithLabelValues(ev.TaskName, ev.Resolution).Inc()
			return nil
		}
		s.executions.WithLabelValues(ev.TaskName, pathLabel(ev.Path), strconv.FormatBool(ev.Validated)).Inc()
		s.duration.WithLabelValues(ev.TaskName, pathLabel(ev.Path)).Observe(float64(ev.ExecutionTimeMs) / 1000)
		s.confidence.WithLabelValues(ev.TaskName).Observe(ev.Confidence)
		s.stages.WithLabelValues(ev.TaskName).Observe(float64(ev.StageCount))
	}
	return nil
}

func pathLabel(p string) string {
	if p == "" {
		return "single"
	}
	return p
}
