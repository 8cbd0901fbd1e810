package reasoning

import (
	"fmt"
)

// extractAnswer returns the final_answer field when present, otherwise the
// whole output minus its reasoning trace.
func extractAnswer(output RawOutput) any {
	if v, ok := output[fieldFinalAnswer]; ok && v != nil {
		return v
	}
	answer := make(map[string]any, len(output))
	for k, v := range output {
		if k == fieldReasoningSteps {
			continue
		}
		answer[k] = v
	}
	return answer
}

// decodeSteps reads reasoning_steps from the output. Problems with individual
// entries are returned as issues rather than errors.
func decodeSteps(output RawOutput) ([]Step, []string) {
	raw, ok := lookupField(output, fieldReasoningSteps)
	if !ok {
		return nil, nil
	}
	if typed, ok := raw.([]Step); ok {
		out := make([]Step, len(typed))
		copy(out, typed)
		return out, nil
	}

	var entries []any
	switch s := raw.(type) {
	case []any:
		entries = s
	case []map[string]any:
		for _, m := range s {
			entries = append(entries, m)
		}
	case []RawOutput:
		for _, m := range s {
			entries = append(entries, map[string]any(m))
		}
	default:
		return nil, []string{fmt.Sprintf("field %q: expected array, got %s", fieldReasoningSteps, typeOf(raw))}
	}

	var steps []Step
	var issues []string
	for i, e := range entries {
		m, ok := asMap(e)
		if !ok {
			issues = append(issues, fmt.Sprintf("%s[%d]: expected object, got %s", fieldReasoningSteps, i, typeOf(e)))
			continue
		}
		step := Step{Findings: []string{}}
		label, _ := m["stage"].(string)
		step.Stage, _ = ParseStage(label)
		step.Findings = decodeFindings(m["findings"])
		if c, err := ParseConfidence(m["confidence"]); err != nil {
			issues = append(issues, fmt.Sprintf("%s[%d]: %v", fieldReasoningSteps, i, err))
		} else {
			step.Confidence = c
		}
		steps = append(steps, step)
	}
	return steps, issues
}

func decodeFindings(v any) []string {
	switch f := v.(type) {
	case string:
		if f == "" {
			return []string{}
		}
		return []string{f}
	case []string:
		out := make([]string, len(f))
		copy(out, f)
		return out
	case []any:
		out := make([]string, 0, len(f))
		for _, item := range f {
			switch s := item.(type) {
			case string:
				out = append(out, s)
			case nil:
			default:
				out = append(out, fmt.Sprint(s))
			}
		}
		return out
	}
	return []string{}
}
