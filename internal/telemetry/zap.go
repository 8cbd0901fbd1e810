package telemetry

import (
	"context"

	"go.uber.org/zap"
)

// ZapSink writes events to a zap logger.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a sink that logs every event.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger}
}

func (s *ZapSink) Emit(_ context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("correlation_id", ev.CorrelationID),
		zap.String("task", ev.TaskName),
	}
	if ev.Path != "" {
		fields = append(fields, zap.String("path", ev.Path))
	}

	switch ev.Kind {
	case KindWarn:
		s.logger.Warn(ev.Message, fields...)
	case KindMetric:
		fields = append(fields,
			zap.Int64("execution_time_ms", ev.ExecutionTimeMs),
			zap.Int("stage_count", ev.StageCount),
			zap.Float64("confidence", ev.Confidence),
			zap.Bool("validated", ev.Validated),
		)
		if ev.Resolution != "" {
			fields = append(fields,
				zap.String("resolution", ev.Resolution),
				zap.Float64("agreement_score", ev.AgreementScore))
		}
		msg := ev.Message
		if msg == "" {
			msg = "reasoning metric"
		}
		s.logger.Info(msg, fields...)
	default:
		s.logger.Info(ev.Message, fields...)
	}
	return nil
}
