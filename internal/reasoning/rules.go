package reasoning

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Business-rule validators run after the structural check and may reject an
// output that is well-formed but semantically out of bounds.

// Compose runs validators in order and folds their issues into one verdict.
func Compose(validators ...ValidatorFunc) ValidatorFunc {
	return func(output RawOutput) Verdict {
		v := Verdict{Valid: true, Issues: []string{}}
		for _, fn := range validators {
			if fn == nil {
				continue
			}
			r := fn(output)
			v.Issues = append(v.Issues, r.Issues...)
			if !r.Valid {
				v.Valid = false
			}
		}
		if len(v.Issues) > 0 {
			v.Valid = false
		}
		return v
	}
}

// RangeRule rejects a numeric field outside [min, max]. An absent field is
// left to the structural presence check.
func RangeRule(field string, min, max float64) ValidatorFunc {
	return func(output RawOutput) Verdict {
		val, ok := lookupField(output, field)
		if !ok {
			return Verdict{Valid: true, Issues: []string{}}
		}
		n, ok := toFloat(val)
		if !ok {
			return Verdict{Issues: []string{fmt.Sprintf("field %q: range check needs a number, got %s", field, typeOf(val))}}
		}
		if n < min || n > max {
			return Verdict{Issues: []string{fmt.Sprintf("field %q: value %s outside range [%s, %s]",
				field, formatNum(n), formatNum(min), formatNum(max))}}
		}
		return Verdict{Valid: true, Issues: []string{}}
	}
}

// StepConfidenceRule rejects any reasoning step whose confidence lies
// outside [0,1], NaN included.
func StepConfidenceRule() ValidatorFunc {
	return func(output RawOutput) Verdict {
		steps, _ := decodeSteps(output)
		v := Verdict{Valid: true, Issues: []string{}}
		for i, s := range steps {
			if !(s.Confidence >= 0 && s.Confidence <= 1) {
				v.Valid = false
				v.Issues = append(v.Issues, fmt.Sprintf("%s[%d]: confidence %s outside range [0, 1]",
					fieldReasoningSteps, i, formatNum(s.Confidence)))
			}
		}
		return v
	}
}

// StageOrderRule rejects unknown stages and steps that move backwards in the
// canonical order.
func StageOrderRule() ValidatorFunc {
	return func(output RawOutput) Verdict {
		steps, _ := decodeSteps(output)
		v := Verdict{Valid: true, Issues: []string{}}
		for i, s := range steps {
			if !s.Stage.IsValid() {
				v.Issues = append(v.Issues, fmt.Sprintf("%s[%d]: unknown stage %q", fieldReasoningSteps, i, s.Stage))
			}
		}
		if !InOrder(steps) {
			v.Issues = append(v.Issues, fmt.Sprintf("%s: stages out of canonical order", fieldReasoningSteps))
		}
		v.Valid = len(v.Issues) == 0
		return v
	}
}

// StageCoverageRule requires every listed stage to appear in the trace. With
// no arguments the whole canonical taxonomy is required.
func StageCoverageRule(stages ...Stage) ValidatorFunc {
	if len(stages) == 0 {
		stages = Stages()
	}
	return func(output RawOutput) Verdict {
		steps, _ := decodeSteps(output)
		done := make(map[Stage]bool)
		for _, s := range Completed(steps) {
			done[s] = true
		}
		v := Verdict{Valid: true, Issues: []string{}}
		for _, s := range stages {
			if !done[s] {
				v.Issues = append(v.Issues, fmt.Sprintf("%s: missing stage %q", fieldReasoningSteps, s))
			}
		}
		v.Valid = len(v.Issues) == 0
		return v
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func formatNum(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
