package reasoning

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-reason/internal/telemetry"
	"go.uber.org/zap"
)

// RetryPolicy decides whether a completed but unvalidated attempt should be
// re-run. The default never retries. If a retry's generation fails while the
// context is still live, the last assembled attempt is returned instead of
// the error.
type RetryPolicy interface {
	ShouldRetry(attempt int, verdict Verdict) bool
}

// RetryFunc adapts a function to RetryPolicy.
type RetryFunc func(attempt int, verdict Verdict) bool

func (f RetryFunc) ShouldRetry(attempt int, verdict Verdict) bool { return f(attempt, verdict) }

// NoRetry invokes the generation capability exactly once per execution.
var NoRetry RetryPolicy = RetryFunc(func(int, Verdict) bool { return false })

// Executor runs single-path reasoning tasks.
type Executor struct {
	sink   telemetry.Sink
	retry  RetryPolicy
	logger *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithSink sets the telemetry sink.
func WithSink(s telemetry.Sink) Option {
	return func(e *Executor) {
		if s != nil {
			e.sink = s
		}
	}
}

// WithRetryPolicy replaces the default no-retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Executor) {
		if p != nil {
			e.retry = p
		}
	}
}

// NewExecutor creates an Executor.
func NewExecutor(logger *zap.Logger, opts ...Option) *Executor {
	e := &Executor{
		sink:   telemetry.Nop,
		retry:  NoRetry,
		logger: logger,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute invokes the task's generation capability, validates the output and
// assembles a Result. Validation problems are reported on the Result; only a
// failed generation call, a malformed schema or a denied task returns an
// error.
func (e *Executor) Execute(ctx context.Context, task Task) (*Result, error) {
	return e.execute(ctx, task, PathSingle)
}

func (e *Executor) execute(ctx context.Context, task Task, path string) (*Result, error) {
	if task.Generate == nil {
		return nil, fmt.Errorf("task %q: %w: no generate function", task.Name, ErrInvalidTask)
	}
	if err := task.Schema.Check(); err != nil {
		return nil, err
	}
	if err := authorize(ctx, task.Name, task.Authorize); err != nil {
		return nil, err
	}

	ctx, cid := telemetry.EnsureCorrelationID(ctx)
	start := time.Now()
	state := StateNew
	e.emit(ctx, telemetry.Event{
		Kind:          telemetry.KindInfo,
		CorrelationID: cid,
		TaskName:      task.Name,
		Path:          path,
		Message:       "reasoning execution started",
	})

	var (
		res     *Result
		verdict Verdict
		attempt int
	)
	for {
		attempt++
		e.advance(&state, StateExecuting)
		output, err := e.generate(ctx, task)
		if err != nil && res != nil && ctx.Err() == nil {
			e.logger.Warn("retry generation failed, keeping previous attempt",
				zap.String("task", task.Name),
				zap.String("correlation_id", cid),
				zap.Int("attempt", attempt),
				zap.Error(err))
			e.emit(ctx, telemetry.Event{
				Kind:          telemetry.KindWarn,
				CorrelationID: cid,
				TaskName:      task.Name,
				Path:          path,
				Message:       "retry generation failed: " + err.Error(),
			})
			e.advance(&state, StateValidating)
			break
		}
		if err != nil {
			e.advance(&state, StateFailed)
			e.emit(ctx, telemetry.Event{
				Kind:          telemetry.KindWarn,
				CorrelationID: cid,
				TaskName:      task.Name,
				Path:          path,
				Message:       "generation failed: " + err.Error(),
			})
			return nil, &GenerationError{TaskName: task.Name, Path: path, State: StateExecuting, Err: err}
		}

		e.advance(&state, StateValidating)
		res, verdict = assemble(task, output)
		if verdict.Valid || !e.retry.ShouldRetry(attempt, verdict) {
			break
		}
		e.logger.Info("retrying unvalidated reasoning output",
			zap.String("task", task.Name),
			zap.String("correlation_id", cid),
			zap.Int("attempt", attempt),
			zap.Int("issues", len(verdict.Issues)))
	}
	e.advance(&state, StateComplete)

	res.TaskName = task.Name
	res.CorrelationID = cid
	res.Attempts = attempt
	res.ExecutionTimeMs = time.Since(start).Milliseconds()

	if !res.Validated {
		e.emit(ctx, telemetry.Event{
			Kind:          telemetry.KindWarn,
			CorrelationID: cid,
			TaskName:      task.Name,
			Path:          path,
			Message:       fmt.Sprintf("reasoning output failed validation with %d issue(s)", len(res.ValidationIssues)),
		})
	}
	e.emit(ctx, telemetry.Event{
		Kind:            telemetry.KindMetric,
		CorrelationID:   cid,
		TaskName:        task.Name,
		Path:            path,
		Message:         "reasoning execution completed",
		ExecutionTimeMs: res.ExecutionTimeMs,
		StageCount:      len(res.StagesCompleted),
		Confidence:      res.Confidence,
		Validated:       res.Validated,
	})
	return res, nil
}

// generate invokes the capability once on a private copy of the context.
// Cancellation and panics are reported as errors.
func (e *Executor) generate(ctx context.Context, task Task) (out RawOutput, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("generation panicked: %v", r)
		}
	}()

	out, err = task.Generate(ctx, copyMap(task.Context))
	if err != nil {
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if out == nil {
		out = RawOutput{}
	}
	return out, nil
}

// assemble validates output and builds the result. The returned verdict
// combines structural, trace-decoding and business-rule issues.
func assemble(task Task, output RawOutput) (*Result, Verdict) {
	structural := Validate(output, task.Schema)
	passed, attempted := structural.Passed, structural.Attempted
	issues := append([]string{}, structural.Issues...)

	steps, decodeIssues := decodeSteps(output)
	if len(decodeIssues) > 0 {
		attempted++
		issues = append(issues, decodeIssues...)
	}

	if task.Validator != nil {
		attempted++
		biz := runValidator(task.Validator, output)
		issues = append(issues, biz.Issues...)
		if biz.Valid && len(biz.Issues) == 0 {
			passed++
		} else if len(biz.Issues) == 0 {
			issues = append(issues, "output rejected by validator")
		}
	}

	valid := len(issues) == 0
	validationScore := score(passed, attempted, valid)
	if steps == nil {
		steps = []Step{}
	}

	res := &Result{
		FinalAnswer:      extractAnswer(output),
		ReasoningSteps:   steps,
		StagesCompleted:  Completed(steps),
		Confidence:       AggregateConfidence(steps, validationScore),
		ValidationScore:  validationScore,
		Validated:        valid,
		ValidationIssues: issues,
	}
	return res, Verdict{Valid: valid, Issues: issues}
}

// runValidator applies a business validator; a panic becomes a rejection.
func runValidator(fn ValidatorFunc, output RawOutput) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			v = Verdict{Issues: []string{fmt.Sprintf("validator panicked: %v", r)}}
		}
	}()
	return fn(output)
}

func authorize(ctx context.Context, name string, fn AuthorizeFunc) error {
	if fn == nil {
		return nil
	}
	if err := fn(ctx, name); err != nil {
		return fmt.Errorf("task %q: %w: %w", name, ErrUnauthorized, err)
	}
	return nil
}

func (e *Executor) advance(state *State, to State) {
	if err := Transition(*state, to); err != nil {
		e.logger.DPanic("illegal execution state transition", zap.Error(err))
	}
	*state = to
}

// emit forwards ev to the sink. Sink errors and panics are logged and
// dropped.
func (e *Executor) emit(ctx context.Context, ev telemetry.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("telemetry sink panicked",
				zap.String("correlation_id", ev.CorrelationID),
				zap.Any("panic", r))
		}
	}()
	if err := e.sink.Emit(ctx, ev); err != nil {
		e.logger.Warn("telemetry sink failed",
			zap.String("correlation_id", ev.CorrelationID),
			zap.String("kind", string(ev.Kind)),
			zap.Error(err))
	}
}
