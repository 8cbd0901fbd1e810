// Package telemetry carries informational, warning and timed-metric events
// from the reasoning engine to pluggable sinks.
package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind classifies an event.
type Kind string

const (
	KindInfo   Kind = "info"
	KindWarn   Kind = "warn"
	KindMetric Kind = "metric"
)

// Event is one telemetry record. Metric events for completed executions fill
// ExecutionTimeMs, StageCount and Confidence.
type Event struct {
	Kind            Kind      `json:"kind"`
	CorrelationID   string    `json:"correlation_id"`
	TaskName        string    `json:"task_name"`
	Path            string    `json:"path,omitempty"`
	Message         string    `json:"message,omitempty"`
	ExecutionTimeMs int64     `json:"execution_time_ms,omitempty"`
	StageCount      int       `json:"stage_count,omitempty"`
	Confidence      float64   `json:"confidence,omitempty"`
	Validated       bool      `json:"validated"`
	Resolution      string    `json:"resolution,omitempty"`
	AgreementScore  float64   `json:"agreement_score,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Sink receives events. Implementations may fail; callers must not let a
// sink failure affect the work being reported.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Nop discards every event.
var Nop Sink = SinkFunc(func(context.Context, Event) error { return nil })

// Fanout emits to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type correlationKey struct{}

// WithCorrelationID attaches a correlation identifier to ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the identifier attached to ctx, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// EnsureCorrelationID returns ctx with a correlation id, generating one when
// absent, and the id itself.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := CorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.New().String()
	return WithCorrelationID(ctx, id), id
}
