package reasoning

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// FieldType is a primitive type tag understood by the structural validator.
type FieldType string

const (
	TypeNumber  FieldType = "number"
	TypeString  FieldType = "string"
	TypeArray   FieldType = "array"
	TypeBoolean FieldType = "boolean"
	TypeObject  FieldType = "object"
)

// IsValid returns true if t is a supported type tag.
func (t FieldType) IsValid() bool {
	switch t {
	case TypeNumber, TypeString, TypeArray, TypeBoolean, TypeObject:
		return true
	default:
		return false
	}
}

const (
	fieldFinalAnswer    = "final_answer"
	fieldReasoningSteps = "reasoning_steps"
)

// Schema is a declarative description of the expected generation output.
type Schema struct {
	RequiredFields        []string             `json:"required_fields,omitempty"`
	FieldTypes            map[string]FieldType `json:"field_types,omitempty"`
	RequireReasoningSteps bool                 `json:"require_reasoning_steps,omitempty"`
}

// Check fails with a *SchemaMisuseError if the schema cannot be applied.
// A nil schema is valid.
func (s *Schema) Check() error {
	if s == nil {
		return nil
	}
	for _, f := range s.RequiredFields {
		if strings.TrimSpace(f) == "" {
			return &SchemaMisuseError{Reason: "required field name is empty"}
		}
	}
	for _, f := range sortedKeys(s.FieldTypes) {
		if strings.TrimSpace(f) == "" {
			return &SchemaMisuseError{Reason: "field type declared for empty field name"}
		}
		if t := s.FieldTypes[f]; !t.IsValid() {
			return &SchemaMisuseError{Field: f, Reason: fmt.Sprintf("unsupported type tag %q", t)}
		}
	}
	return nil
}

// Shape renders the schema as a JSON-schema-like description that a
// generation capability can use to shape its reply.
func (s *Schema) Shape() map[string]any {
	props := map[string]any{
		fieldReasoningSteps: map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []string{"stage", "findings", "confidence"},
				"properties": map[string]any{
					"stage":      map[string]any{"type": "string", "enum": stageNames()},
					"findings":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
				},
			},
		},
	}
	shape := map[string]any{"type": "object", "properties": props}
	if s == nil {
		return shape
	}
	for f, t := range s.FieldTypes {
		props[f] = map[string]any{"type": string(t)}
	}
	required := dedupe(s.RequiredFields)
	if s.RequireReasoningSteps {
		required = append(required, fieldReasoningSteps)
	}
	if len(required) > 0 {
		shape["required"] = required
	}
	return shape
}

// Validation is the structural verdict for one output.
type Validation struct {
	Valid     bool     `json:"valid"`
	Issues    []string `json:"issues"`
	Score     float64  `json:"score"`
	Passed    int      `json:"passed"`
	Attempted int      `json:"attempted"`
}

// Validate checks presence, types and reasoning-step structure of output.
// Fields are looked up at the top level and then inside final_answer. The
// result depends only on its arguments.
func Validate(output RawOutput, schema *Schema) Validation {
	v := Validation{Issues: []string{}}
	if schema == nil {
		v.Valid, v.Score = true, 1.0
		return v
	}

	required := dedupe(schema.RequiredFields)
	missing := make(map[string]bool)
	for _, f := range required {
		v.Attempted++
		if _, ok := lookupField(output, f); !ok {
			missing[f] = true
			v.Issues = append(v.Issues, fmt.Sprintf("missing required field %q", f))
			continue
		}
		v.Passed++
	}

	for _, f := range sortedKeys(schema.FieldTypes) {
		val, ok := lookupField(output, f)
		if !ok {
			// already reported by the presence check when required
			continue
		}
		want := schema.FieldTypes[f]
		v.Attempted++
		if got := typeOf(val); got != want {
			v.Issues = append(v.Issues, fmt.Sprintf("field %q: expected %s, got %s", f, want, got))
			continue
		}
		v.Passed++
	}

	if schema.RequireReasoningSteps {
		v.Attempted++
		val, ok := lookupField(output, fieldReasoningSteps)
		if n, isSlice := sliceLen(val); !ok || !isSlice || n == 0 {
			v.Issues = append(v.Issues, fmt.Sprintf("missing or empty %q", fieldReasoningSteps))
		} else {
			v.Passed++
		}
	}

	v.Valid = len(v.Issues) == 0
	v.Score = score(v.Passed, v.Attempted, v.Valid)
	return v
}

func score(passed, attempted int, valid bool) float64 {
	if attempted == 0 || valid {
		return 1.0
	}
	return float64(passed) / float64(attempted)
}

// lookupField finds a non-null field at the top level, then inside a nested
// final_answer object.
func lookupField(output RawOutput, field string) (any, bool) {
	if val, ok := output[field]; ok && val != nil {
		return val, true
	}
	if inner, ok := asMap(output[fieldFinalAnswer]); ok {
		if val, ok := inner[field]; ok && val != nil {
			return val, true
		}
	}
	return nil, false
}

// typeOf maps a decoded value to its type tag.
func typeOf(v any) FieldType {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return TypeBoolean
	case string:
		return TypeString
	case float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return TypeNumber
	case map[string]any, RawOutput:
		return TypeObject
	}
	if _, ok := sliceLen(v); ok {
		return TypeArray
	}
	return "unknown"
}

func sliceLen(v any) (int, bool) {
	switch s := v.(type) {
	case []any:
		return len(s), true
	case []string:
		return len(s), true
	case []float64:
		return len(s), true
	case []int:
		return len(s), true
	case []bool:
		return len(s), true
	case []map[string]any:
		return len(s), true
	case []RawOutput:
		return len(s), true
	case []Step:
		return len(s), true
	}
	return 0, false
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case RawOutput:
		return map[string]any(m), true
	}
	return nil, false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func stageNames() []string {
	out := make([]string, len(canonicalStages))
	for i, s := range canonicalStages {
		out[i] = string(s)
	}
	return out
}
