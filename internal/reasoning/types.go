// Package reasoning drives generation calls through a staged, validated
// protocol: it checks structured replies against declarative schemas, scores
// confidence, and reconciles two independent analyses of the same input.
package reasoning

import (
	"context"
)

// RawOutput is the decoded structured reply of a generation call.
type RawOutput map[string]any

// GenerateFunc is the generation capability bound to a task. It receives its
// own copy of the task context.
type GenerateFunc func(ctx context.Context, input map[string]any) (RawOutput, error)

// Verdict is the outcome of a caller-supplied validator.
type Verdict struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues"`
}

// ValidatorFunc applies business rules to a generation output.
type ValidatorFunc func(output RawOutput) Verdict

// Comparator scores how closely two final answers agree, in [0,1].
type Comparator func(a, b any) float64

// AuthorizeFunc reports whether the named task may run. The decision is
// made by the caller; a non-nil error denies the task.
type AuthorizeFunc func(ctx context.Context, taskName string) error

// Step is one recorded reasoning stage reported by the generation output.
type Step struct {
	Stage      Stage    `json:"stage"`
	Findings   []string `json:"findings"`
	Confidence float64  `json:"confidence"`
}

// Task describes a single-path reasoning request.
type Task struct {
	Name      string
	Context   map[string]any
	Generate  GenerateFunc
	Schema    *Schema
	Validator ValidatorFunc
	Authorize AuthorizeFunc
}

// DualTask describes a dual-path reasoning request. Both paths share the
// same context but never the same map.
type DualTask struct {
	Name         string
	Context      map[string]any
	GenerateA    GenerateFunc
	GenerateB    GenerateFunc
	PerspectiveA string
	PerspectiveB string
	Schema       *Schema
	Validator    ValidatorFunc
	Comparator   Comparator
	Authorize    AuthorizeFunc
}

// Result is the assembled output of one execution.
type Result struct {
	TaskName         string   `json:"task_name"`
	CorrelationID    string   `json:"correlation_id,omitempty"`
	FinalAnswer      any      `json:"final_answer"`
	ReasoningSteps   []Step   `json:"reasoning_steps"`
	StagesCompleted  []Stage  `json:"stages_completed"`
	Confidence       float64  `json:"confidence"`
	ValidationScore  float64  `json:"validation_score"`
	Validated        bool     `json:"validated"`
	ValidationIssues []string `json:"validation_issues"`
	ExecutionTimeMs  int64    `json:"execution_time_ms"`
	Attempts         int      `json:"attempts"`
}

// Resolution names how a dual-path answer was chosen.
type Resolution string

const (
	ResolutionConsensusMerge Resolution = "CONSENSUS_MERGE"
	ResolutionPreferA        Resolution = "PREFER_A"
	ResolutionPreferB        Resolution = "PREFER_B"
	ResolutionFailedPartial  Resolution = "FAILED_PARTIAL"
)

// DualPathResult holds both path results plus the reconciled answer.
type DualPathResult struct {
	TaskName         string     `json:"task_name"`
	CorrelationID    string     `json:"correlation_id,omitempty"`
	ResultA          *Result    `json:"result_a"`
	ResultB          *Result    `json:"result_b"`
	AgreementScore   float64    `json:"agreement_score"`
	ResolutionMethod Resolution `json:"resolution_method"`
	FinalAnswer      any        `json:"final_answer"`
	FailedPath       string     `json:"failed_path,omitempty"`
	Failure          string     `json:"failure,omitempty"`
	ExecutionTimeMs  int64      `json:"execution_time_ms"`
}

// Path labels used in errors and telemetry.
const (
	PathSingle = ""
	PathA      = "A"
	PathB      = "B"
)
