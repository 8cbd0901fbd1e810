package reasoning

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nidhogg/nuka-reason/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultConsensusThreshold is the agreement score at or above which two
// answers are merged.
const DefaultConsensusThreshold = 0.8

// PerspectiveKey is the context key a path's perspective is stored under.
const PerspectiveKey = "perspective"

// DualPathReasoner runs two executions of the same task concurrently and
// reconciles their answers.
type DualPathReasoner struct {
	exec       *Executor
	threshold  float64
	scorer     AgreementScorer
	comparator Comparator
	logger     *zap.Logger
}

// DualOption configures a DualPathReasoner.
type DualOption func(*DualPathReasoner)

// WithThreshold sets the consensus threshold.
func WithThreshold(t float64) DualOption {
	return func(r *DualPathReasoner) { r.threshold = t }
}

// WithComparator sets the comparator used for tasks that carry none.
func WithComparator(c Comparator) DualOption {
	return func(r *DualPathReasoner) { r.comparator = c }
}

// WithScorer replaces the default agreement scorer and merger.
func WithScorer(s AgreementScorer) DualOption {
	return func(r *DualPathReasoner) { r.scorer = s }
}

// NewDualPathReasoner creates a reasoner backed by exec.
func NewDualPathReasoner(exec *Executor, logger *zap.Logger, opts ...DualOption) (*DualPathReasoner, error) {
	if exec == nil {
		return nil, errors.New("dual path reasoner: executor is required")
	}
	r := &DualPathReasoner{
		exec:      exec,
		threshold: DefaultConsensusThreshold,
		scorer:    DefaultAgreementScorer(),
		logger:    logger,
	}
	for _, o := range opts {
		o(r)
	}
	if !(r.threshold >= 0 && r.threshold <= 1) {
		return nil, fmt.Errorf("dual path reasoner: threshold %v outside [0, 1]", r.threshold)
	}
	return r, nil
}

// Threshold returns the configured consensus threshold.
func (r *DualPathReasoner) Threshold() float64 { return r.threshold }

type pathOutcome struct {
	res *Result
	err error
}

// ExecuteDualPath runs both paths and waits for both to settle. It fails
// only when the schema is malformed or both paths fail.
func (r *DualPathReasoner) ExecuteDualPath(ctx context.Context, task DualTask) (*DualPathResult, error) {
	return r.ExecuteDualPathWithThreshold(ctx, task, r.threshold)
}

// ExecuteDualPathWithThreshold is ExecuteDualPath with a per-call threshold.
func (r *DualPathReasoner) ExecuteDualPathWithThreshold(ctx context.Context, task DualTask, threshold float64) (*DualPathResult, error) {
	if !(threshold >= 0 && threshold <= 1) {
		return nil, fmt.Errorf("task %q: %w: threshold %v outside [0, 1]", task.Name, ErrInvalidTask, threshold)
	}
	if task.GenerateA == nil || task.GenerateB == nil {
		return nil, fmt.Errorf("task %q: %w: both generate functions are required", task.Name, ErrInvalidTask)
	}
	if err := task.Schema.Check(); err != nil {
		return nil, err
	}
	if err := authorize(ctx, task.Name, task.Authorize); err != nil {
		return nil, err
	}

	ctx, cid := telemetry.EnsureCorrelationID(ctx)
	start := time.Now()

	var a, b pathOutcome
	var g errgroup.Group
	g.Go(func() error {
		a.res, a.err = r.exec.execute(ctx, r.pathTask(task, PathA), PathA)
		return nil
	})
	g.Go(func() error {
		b.res, b.err = r.exec.execute(ctx, r.pathTask(task, PathB), PathB)
		return nil
	})
	_ = g.Wait()

	out := &DualPathResult{
		TaskName:      task.Name,
		CorrelationID: cid,
		ResultA:       a.res,
		ResultB:       b.res,
	}

	switch {
	case a.err != nil && b.err != nil:
		r.logger.Error("both reasoning paths failed",
			zap.String("task", task.Name),
			zap.String("correlation_id", cid),
			zap.NamedError("path_a", a.err),
			zap.NamedError("path_b", b.err))
		return nil, &GenerationError{
			TaskName: task.Name,
			State:    StateExecuting,
			Err:      errors.Join(a.err, b.err),
		}
	case a.err != nil:
		out.ResolutionMethod = ResolutionFailedPartial
		out.FinalAnswer = b.res.FinalAnswer
		out.FailedPath = PathA
		out.Failure = a.err.Error()
	case b.err != nil:
		out.ResolutionMethod = ResolutionFailedPartial
		out.FinalAnswer = a.res.FinalAnswer
		out.FailedPath = PathB
		out.Failure = b.err.Error()
	default:
		r.resolve(out, task.Comparator, threshold)
	}

	out.ExecutionTimeMs = time.Since(start).Milliseconds()
	if out.ResolutionMethod == ResolutionFailedPartial {
		r.exec.emit(ctx, telemetry.Event{
			Kind:          telemetry.KindWarn,
			CorrelationID: cid,
			TaskName:      task.Name,
			Path:          out.FailedPath,
			Message:       "reasoning path failed, continuing with surviving path",
		})
	}
	r.exec.emit(ctx, telemetry.Event{
		Kind:            telemetry.KindMetric,
		CorrelationID:   cid,
		TaskName:        task.Name,
		Message:         "dual path reasoning resolved",
		ExecutionTimeMs: out.ExecutionTimeMs,
		Resolution:      string(out.ResolutionMethod),
		AgreementScore:  out.AgreementScore,
	})
	return out, nil
}

// pathTask binds one side of a dual task into a single-path task with its
// own copy of the context.
func (r *DualPathReasoner) pathTask(task DualTask, path string) Task {
	gen, perspective := task.GenerateA, task.PerspectiveA
	if path == PathB {
		gen, perspective = task.GenerateB, task.PerspectiveB
	}
	ctxCopy := copyMap(task.Context)
	if perspective != "" {
		ctxCopy[PerspectiveKey] = perspective
	}
	return Task{
		Name:      task.Name,
		Context:   ctxCopy,
		Generate:  gen,
		Schema:    task.Schema,
		Validator: task.Validator,
	}
}

func (r *DualPathReasoner) resolve(out *DualPathResult, comparator Comparator, threshold float64) {
	a, b := out.ResultA, out.ResultB
	compare := comparator
	if compare == nil {
		compare = r.comparator
	}
	if compare == nil {
		compare = r.scorer.Compare
	}
	agreement := compare(a.FinalAnswer, b.FinalAnswer)
	if math.IsNaN(agreement) || math.IsInf(agreement, 0) {
		r.logger.Warn("comparator returned a non-finite score, treating as disagreement",
			zap.String("task", out.TaskName),
			zap.String("correlation_id", out.CorrelationID),
			zap.Float64("score", agreement))
		agreement = 0
	}
	out.AgreementScore = clamp01(agreement)

	switch {
	case out.AgreementScore >= threshold:
		out.ResolutionMethod = ResolutionConsensusMerge
		out.FinalAnswer = r.scorer.Merge(a.FinalAnswer, b.FinalAnswer)
	case b.ValidationScore > a.ValidationScore:
		out.ResolutionMethod = ResolutionPreferB
		out.FinalAnswer = b.FinalAnswer
	default:
		out.ResolutionMethod = ResolutionPreferA
		out.FinalAnswer = a.FinalAnswer
	}

	r.logger.Info("dual path resolved",
		zap.String("task", out.TaskName),
		zap.String("correlation_id", out.CorrelationID),
		zap.String("resolution", string(out.ResolutionMethod)),
		zap.Float64("agreement_score", out.AgreementScore),
		zap.Float64("threshold", threshold))
}
