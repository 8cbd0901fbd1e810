package reasoning

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nidhogg/nuka-reason/internal/telemetry"
	"go.uber.org/zap"
)

func newTestReasoner(t *testing.T, sink telemetry.Sink, opts ...DualOption) *DualPathReasoner {
	t.Helper()
	var execOpts []Option
	if sink != nil {
		execOpts = append(execOpts, WithSink(sink))
	}
	r, err := NewDualPathReasoner(NewExecutor(zap.NewNop(), execOpts...), zap.NewNop(), opts...)
	if err != nil {
		t.Fatalf("NewDualPathReasoner: %v", err)
	}
	return r
}

func securityTask() DualTask {
	a, b := securityAnswers()
	return DualTask{
		Name:      "security-audit",
		Context:   map[string]any{"repo": "payments"},
		GenerateA: staticOutput(RawOutput{"final_answer": a, "reasoning_steps": fullTrace()}),
		GenerateB: staticOutput(RawOutput{"final_answer": b, "reasoning_steps": fullTrace()}),
	}
}

func TestDualPathBelowThresholdPrefers(t *testing.T) {
	sink := &recordingSink{}
	r := newTestReasoner(t, sink, WithThreshold(0.8))

	res, err := r.ExecuteDualPath(context.Background(), securityTask())
	if err != nil {
		t.Fatalf("ExecuteDualPath: %v", err)
	}
	if !approx(res.AgreementScore, 0.75) {
		t.Fatalf("agreement = %v, want 0.75", res.AgreementScore)
	}
	if res.ResolutionMethod != ResolutionPreferA {
		t.Fatalf("resolution = %s, want PREFER_A on a validation tie", res.ResolutionMethod)
	}
	if diff := cmp.Diff(res.ResultA.FinalAnswer, res.FinalAnswer); diff != "" {
		t.Fatalf("final answer is not A's (-A +got):\n%s", diff)
	}
	if res.ResultA == nil || res.ResultB == nil {
		t.Fatal("both results must be retained for audit")
	}

	var dual []telemetry.Event
	for _, ev := range sink.byKind(telemetry.KindMetric) {
		if ev.Resolution != "" {
			dual = append(dual, ev)
		}
	}
	if len(dual) != 1 || dual[0].Resolution != string(ResolutionPreferA) {
		t.Fatalf("dual metric events = %+v", dual)
	}
	if n := len(sink.byKind(telemetry.KindMetric)); n != 3 {
		t.Fatalf("got %d metric events, want one per path plus resolution", n)
	}
}

func TestDualPathAboveThresholdMerges(t *testing.T) {
	r := newTestReasoner(t, nil, WithThreshold(0.7))

	res, err := r.ExecuteDualPath(context.Background(), securityTask())
	if err != nil {
		t.Fatalf("ExecuteDualPath: %v", err)
	}
	if res.ResolutionMethod != ResolutionConsensusMerge {
		t.Fatalf("resolution = %s, want CONSENSUS_MERGE", res.ResolutionMethod)
	}
	merged, ok := res.FinalAnswer.(map[string]any)
	if !ok {
		t.Fatalf("final answer = %T, want object", res.FinalAnswer)
	}
	if got := len(merged["findings"].([]any)); got != 4 {
		t.Fatalf("merged findings = %d, want 4", got)
	}
}

func TestDualPathPrefersHigherValidationScore(t *testing.T) {
	r := newTestReasoner(t, nil)
	task := DualTask{
		Name:      "performance",
		GenerateA: staticOutput(RawOutput{"health_score": "bad"}),
		GenerateB: staticOutput(RawOutput{"health_score": 40.0, "bottlenecks": []any{"db"}}),
		Schema:    healthSchema(),
	}

	res, err := r.ExecuteDualPath(context.Background(), task)
	if err != nil {
		t.Fatalf("ExecuteDualPath: %v", err)
	}
	if res.ResolutionMethod != ResolutionPreferB {
		t.Fatalf("resolution = %s, want PREFER_B", res.ResolutionMethod)
	}
	if res.ResultA.Validated || !res.ResultB.Validated {
		t.Fatalf("validated A=%v B=%v", res.ResultA.Validated, res.ResultB.Validated)
	}
}

func TestDualPathOneFailure(t *testing.T) {
	sink := &recordingSink{}
	r := newTestReasoner(t, sink)
	task := securityTask()
	task.GenerateA = func(context.Context, map[string]any) (RawOutput, error) {
		return nil, errors.New("rate limited")
	}

	res, err := r.ExecuteDualPath(context.Background(), task)
	if err != nil {
		t.Fatalf("ExecuteDualPath: %v", err)
	}
	if res.ResolutionMethod != ResolutionFailedPartial {
		t.Fatalf("resolution = %s, want FAILED_PARTIAL", res.ResolutionMethod)
	}
	if res.AgreementScore != 0 {
		t.Fatalf("agreement = %v, want 0", res.AgreementScore)
	}
	_, b := securityAnswers()
	if diff := cmp.Diff(b, res.FinalAnswer); diff != "" {
		t.Fatalf("final answer is not B's (-want +got):\n%s", diff)
	}
	if res.FailedPath != PathA || res.ResultA != nil {
		t.Fatalf("failed path = %q, result A = %v", res.FailedPath, res.ResultA)
	}

	var partialWarn bool
	for _, ev := range sink.byKind(telemetry.KindWarn) {
		if ev.Path == PathA {
			partialWarn = true
		}
	}
	if !partialWarn {
		t.Fatal("expected a warning for the failed path")
	}
}

func TestDualPathPathBFailure(t *testing.T) {
	r := newTestReasoner(t, nil)
	task := securityTask()
	task.GenerateB = func(context.Context, map[string]any) (RawOutput, error) {
		panic("decoder crashed")
	}

	res, err := r.ExecuteDualPath(context.Background(), task)
	if err != nil {
		t.Fatalf("ExecuteDualPath: %v", err)
	}
	if res.ResolutionMethod != ResolutionFailedPartial || res.FailedPath != PathB {
		t.Fatalf("resolution = %s failed = %q", res.ResolutionMethod, res.FailedPath)
	}
	if res.FinalAnswer == nil {
		t.Fatal("final answer must be non-null when one path survives")
	}
}

func TestDualPathBothFail(t *testing.T) {
	r := newTestReasoner(t, nil)
	errA, errB := errors.New("a down"), errors.New("b down")
	task := DualTask{
		Name:      "doomed",
		GenerateA: func(context.Context, map[string]any) (RawOutput, error) { return nil, errA },
		GenerateB: func(context.Context, map[string]any) (RawOutput, error) { return nil, errB },
	}

	res, err := r.ExecuteDualPath(context.Background(), task)
	if res != nil {
		t.Fatalf("expected no result, got %+v", res)
	}
	if !errors.Is(err, ErrGenerationFailure) {
		t.Fatalf("err = %v, want ErrGenerationFailure", err)
	}
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("err = %v, want both causes", err)
	}
}

func TestDualPathSchemaMisuse(t *testing.T) {
	r := newTestReasoner(t, nil)
	calls := 0
	gen := func(context.Context, map[string]any) (RawOutput, error) {
		calls++
		return RawOutput{}, nil
	}
	_, err := r.ExecuteDualPath(context.Background(), DualTask{
		Name:      "bad",
		GenerateA: gen,
		GenerateB: gen,
		Schema:    &Schema{RequiredFields: []string{""}},
	})
	if !errors.Is(err, ErrSchemaMisuse) {
		t.Fatalf("err = %v, want ErrSchemaMisuse", err)
	}
	if calls != 0 {
		t.Fatalf("generation ran %d times for a malformed schema", calls)
	}
}

func TestDualPathRunsConcurrently(t *testing.T) {
	r := newTestReasoner(t, nil)
	var wg sync.WaitGroup
	wg.Add(2)
	// each path blocks until the other has started
	gen := func(out RawOutput) GenerateFunc {
		return func(ctx context.Context, _ map[string]any) (RawOutput, error) {
			wg.Done()
			done := make(chan struct{})
			go func() { wg.Wait(); close(done) }()
			select {
			case <-done:
				return out, nil
			case <-time.After(5 * time.Second):
				return nil, errors.New("paths did not overlap")
			}
		}
	}
	task := DualTask{
		Name:      "overlap",
		GenerateA: gen(RawOutput{"verdict": "pass"}),
		GenerateB: gen(RawOutput{"verdict": "pass"}),
	}
	res, err := r.ExecuteDualPath(context.Background(), task)
	if err != nil {
		t.Fatalf("ExecuteDualPath: %v", err)
	}
	if res.ResolutionMethod != ResolutionConsensusMerge || res.AgreementScore != 1 {
		t.Fatalf("resolution = %s agreement = %v", res.ResolutionMethod, res.AgreementScore)
	}
}

func TestDualPathContextIsolation(t *testing.T) {
	r := newTestReasoner(t, nil)
	shared := map[string]any{"items": []any{"x"}}
	var mu sync.Mutex
	seen := map[string]any{}

	gen := func(label string) GenerateFunc {
		return func(_ context.Context, in map[string]any) (RawOutput, error) {
			mu.Lock()
			seen[label] = in[PerspectiveKey]
			mu.Unlock()
			in["items"].([]any)[0] = label
			return RawOutput{"verdict": "ok"}, nil
		}
	}
	_, err := r.ExecuteDualPath(context.Background(), DualTask{
		Name:         "isolated",
		Context:      shared,
		GenerateA:    gen("a"),
		GenerateB:    gen("b"),
		PerspectiveA: "attacker",
		PerspectiveB: "defender",
	})
	if err != nil {
		t.Fatalf("ExecuteDualPath: %v", err)
	}
	if shared["items"].([]any)[0] != "x" {
		t.Fatal("caller context mutated")
	}
	if _, ok := shared[PerspectiveKey]; ok {
		t.Fatal("perspective leaked into caller context")
	}
	want := map[string]any{"a": "attacker", "b": "defender"}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Fatalf("perspectives mismatch (-want +got):\n%s", diff)
	}
}

func TestDualPathCustomComparator(t *testing.T) {
	r := newTestReasoner(t, nil)
	task := securityTask()
	task.Comparator = func(a, b any) float64 { return 7 }

	res, err := r.ExecuteDualPath(context.Background(), task)
	if err != nil {
		t.Fatalf("ExecuteDualPath: %v", err)
	}
	if res.AgreementScore != 1 {
		t.Fatalf("agreement = %v, want clamped 1", res.AgreementScore)
	}
	if res.ResolutionMethod != ResolutionConsensusMerge {
		t.Fatalf("resolution = %s", res.ResolutionMethod)
	}
}

func TestDualPathNonFiniteComparator(t *testing.T) {
	for _, score := range []float64{math.NaN(), math.Inf(1)} {
		r := newTestReasoner(t, nil, WithThreshold(0.5))
		task := securityTask()
		task.Comparator = func(a, b any) float64 { return score }

		res, err := r.ExecuteDualPath(context.Background(), task)
		if err != nil {
			t.Fatalf("ExecuteDualPath: %v", err)
		}
		if res.AgreementScore != 0 {
			t.Errorf("score %v: agreement = %v, want 0", score, res.AgreementScore)
		}
		if res.ResolutionMethod != ResolutionPreferA {
			t.Errorf("score %v: resolution = %s, want PREFER_A", score, res.ResolutionMethod)
		}
	}
}

func TestDualPathStructAnswers(t *testing.T) {
	r := newTestReasoner(t, nil)
	answer := sealedVerdict{"ship", 0.9}
	task := DualTask{
		Name:      "release-gate",
		GenerateA: staticOutput(RawOutput{"final_answer": answer, "reasoning_steps": fullTrace()}),
		GenerateB: staticOutput(RawOutput{"final_answer": answer, "reasoning_steps": fullTrace()}),
	}

	res, err := r.ExecuteDualPath(context.Background(), task)
	if err != nil {
		t.Fatalf("ExecuteDualPath: %v", err)
	}
	if res.AgreementScore != 1 || res.ResolutionMethod != ResolutionConsensusMerge {
		t.Fatalf("agreement = %v resolution = %s, want 1 and CONSENSUS_MERGE", res.AgreementScore, res.ResolutionMethod)
	}
	if res.FinalAnswer != any(answer) {
		t.Fatalf("final answer = %#v, want %#v", res.FinalAnswer, answer)
	}
}

func TestDualPathSharedCorrelationID(t *testing.T) {
	r := newTestReasoner(t, nil)
	ctx := telemetry.WithCorrelationID(context.Background(), "req-7")
	res, err := r.ExecuteDualPath(ctx, securityTask())
	if err != nil {
		t.Fatalf("ExecuteDualPath: %v", err)
	}
	if res.CorrelationID != "req-7" || res.ResultA.CorrelationID != "req-7" || res.ResultB.CorrelationID != "req-7" {
		t.Fatalf("correlation ids = %q %q %q", res.CorrelationID, res.ResultA.CorrelationID, res.ResultB.CorrelationID)
	}
}

func TestNewDualPathReasonerRejectsBadThreshold(t *testing.T) {
	exec := NewExecutor(zap.NewNop())
	for _, th := range []float64{-0.1, 1.5} {
		if _, err := NewDualPathReasoner(exec, zap.NewNop(), WithThreshold(th)); err == nil {
			t.Errorf("threshold %v accepted", th)
		}
	}
	if _, err := NewDualPathReasoner(nil, zap.NewNop()); err == nil {
		t.Error("nil executor accepted")
	}
	r := newTestReasoner(t, nil)
	if _, err := r.ExecuteDualPathWithThreshold(context.Background(), securityTask(), 2); !errors.Is(err, ErrInvalidTask) {
		t.Errorf("per-call threshold 2: err = %v", err)
	}
}

func TestDualPathAuthorizationCheckedOnce(t *testing.T) {
	r := newTestReasoner(t, nil)
	var checks int
	task := securityTask()
	task.Authorize = func(context.Context, string) error {
		checks++
		return nil
	}
	if _, err := r.ExecuteDualPath(context.Background(), task); err != nil {
		t.Fatalf("ExecuteDualPath: %v", err)
	}
	if checks != 1 {
		t.Fatalf("authorizer ran %d times, want 1", checks)
	}

	calls := 0
	gen := func(context.Context, map[string]any) (RawOutput, error) {
		calls++
		return RawOutput{}, nil
	}
	_, err := r.ExecuteDualPath(context.Background(), DualTask{
		Name:      "denied",
		GenerateA: gen,
		GenerateB: gen,
		Authorize: func(context.Context, string) error { return errors.New("no") },
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if calls != 0 {
		t.Fatalf("generation ran %d times for a denied task", calls)
	}
}
