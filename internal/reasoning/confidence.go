package reasoning

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AggregateConfidence returns the mean step confidence, or fallback when no
// steps are present. The result is clamped to [0,1]; out-of-range step
// values are a business-rule concern (see StepConfidenceRule).
func AggregateConfidence(steps []Step, fallback float64) float64 {
	if len(steps) == 0 {
		return clamp01(fallback)
	}
	var sum float64
	for _, s := range steps {
		sum += s.Confidence
	}
	return clamp01(sum / float64(len(steps)))
}

// clamp01 bounds v to [0,1]; NaN maps to 0.
func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ParseConfidence converts a reported confidence into a float.
// Accepts numbers, numeric strings ("0.8"), percentages ("80%") and
// qualitative levels: high=0.8, medium=0.5, low=0.2. NaN and infinities are
// rejected.
func ParseConfidence(v any) (float64, error) {
	c, err := parseConfidence(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0, fmt.Errorf("confidence must be finite, got %v", c)
	}
	return c, nil
}

func parseConfidence(v any) (float64, error) {
	switch c := v.(type) {
	case float64:
		return c, nil
	case float32:
		return float64(c), nil
	case int:
		return float64(c), nil
	case int64:
		return float64(c), nil
	case json.Number:
		return c.Float64()
	case string:
		return parseConfidenceString(c)
	case nil:
		return 0, fmt.Errorf("confidence is missing")
	}
	return 0, fmt.Errorf("confidence must be a number or string, got %T", v)
}

func parseConfidenceString(s string) (float64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "high":
		return 0.8, nil
	case "medium", "med":
		return 0.5, nil
	case "low":
		return 0.2, nil
	}
	if strings.HasSuffix(s, "%") {
		pct, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid confidence percentage: %q", s)
		}
		return pct / 100, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid confidence value: %q", s)
	}
	return f, nil
}
