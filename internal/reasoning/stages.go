package reasoning

import (
	"fmt"
	"strings"
)

// Stage identifies one phase of the canonical reasoning taxonomy.
type Stage string

const (
	StageInputGathering           Stage = "input_gathering"
	StageContextualAnalysis       Stage = "contextual_analysis"
	StageProblemIdentification    Stage = "problem_identification"
	StageRecommendationGeneration Stage = "recommendation_generation"
	StageOutputFormatting         Stage = "output_formatting"
)

var canonicalStages = [...]Stage{
	StageInputGathering,
	StageContextualAnalysis,
	StageProblemIdentification,
	StageRecommendationGeneration,
	StageOutputFormatting,
}

var stageDescriptions = map[Stage]string{
	StageInputGathering:           "Collect and restate the relevant inputs and data points",
	StageContextualAnalysis:       "Interpret the inputs against their surrounding context",
	StageProblemIdentification:    "Identify problems, risks and their severity",
	StageRecommendationGeneration: "Propose concrete, prioritised recommendations",
	StageOutputFormatting:         "Assemble the final structured answer",
}

// Stages returns the canonical stage order.
func Stages() []Stage {
	out := make([]Stage, len(canonicalStages))
	copy(out, canonicalStages[:])
	return out
}

// String returns the stage as a string.
func (s Stage) String() string {
	return string(s)
}

// IsValid returns true if s belongs to the canonical taxonomy.
func (s Stage) IsValid() bool {
	_, ok := Index(s)
	return ok
}

// Index returns the position of s in the canonical order.
func Index(s Stage) (int, bool) {
	for i, c := range canonicalStages {
		if c == s {
			return i, true
		}
	}
	return -1, false
}

// Describe returns the human-readable description of a stage.
func Describe(s Stage) string {
	return stageDescriptions[s]
}

// ParseStage normalises a stage label such as "PROBLEM_IDENTIFICATION",
// "Problem identification" or "problem-identification".
func ParseStage(raw string) (Stage, bool) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	s := Stage(norm)
	if !s.IsValid() {
		return s, false
	}
	return s, true
}

// Completed returns the canonical stages present in steps, each once, in
// canonical order. Non-canonical stages are ignored.
func Completed(steps []Step) []Stage {
	seen := make(map[Stage]bool, len(canonicalStages))
	for _, st := range steps {
		if st.Stage.IsValid() {
			seen[st.Stage] = true
		}
	}
	out := make([]Stage, 0, len(seen))
	for _, c := range canonicalStages {
		if seen[c] {
			out = append(out, c)
		}
	}
	return out
}

// Missing returns the canonical stages absent from steps.
func Missing(steps []Step) []Stage {
	done := make(map[Stage]bool)
	for _, s := range Completed(steps) {
		done[s] = true
	}
	var out []Stage
	for _, c := range canonicalStages {
		if !done[c] {
			out = append(out, c)
		}
	}
	return out
}

// InOrder reports whether the canonical stages in steps never move backwards.
// Repeating a stage is allowed.
func InOrder(steps []Step) bool {
	last := -1
	for _, st := range steps {
		idx, ok := Index(st.Stage)
		if !ok {
			continue
		}
		if idx < last {
			return false
		}
		last = idx
	}
	return true
}

// Outline renders the taxonomy as a numbered list for prompt builders.
func Outline() string {
	var b strings.Builder
	for i, s := range canonicalStages {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, s, stageDescriptions[s])
	}
	return b.String()
}
