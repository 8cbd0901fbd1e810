package reasoning

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func healthSchema() *Schema {
	return &Schema{
		RequiredFields: []string{"health_score", "bottlenecks"},
		FieldTypes: map[string]FieldType{
			"health_score": TypeNumber,
			"bottlenecks":  TypeArray,
		},
	}
}

func TestValidateConformingOutput(t *testing.T) {
	out := RawOutput{"health_score": 72.0, "bottlenecks": []any{"db"}}
	v := Validate(out, healthSchema())
	if !v.Valid {
		t.Fatalf("expected valid, got issues %v", v.Issues)
	}
	if len(v.Issues) != 0 {
		t.Fatalf("expected no issues, got %v", v.Issues)
	}
	if v.Score != 1.0 {
		t.Fatalf("score = %v, want 1.0", v.Score)
	}
}

func TestValidateNilSchema(t *testing.T) {
	v := Validate(RawOutput{"anything": 1}, nil)
	if !v.Valid || v.Score != 1.0 || len(v.Issues) != 0 {
		t.Fatalf("nil schema: got %+v", v)
	}
}

func TestValidateMissingAndMistyped(t *testing.T) {
	out := RawOutput{"health_score": "high"}
	v := Validate(out, healthSchema())
	if v.Valid {
		t.Fatal("expected invalid")
	}
	want := []string{
		`missing required field "bottlenecks"`,
		`field "health_score": expected number, got string`,
	}
	if diff := cmp.Diff(want, v.Issues); diff != "" {
		t.Fatalf("issues mismatch (-want +got):\n%s", diff)
	}
	// two presence checks plus one type check on the present field
	if v.Attempted != 3 || v.Passed != 1 {
		t.Fatalf("passed/attempted = %d/%d, want 1/3", v.Passed, v.Attempted)
	}
	if v.Score < 0 || v.Score > 1 {
		t.Fatalf("score %v outside [0,1]", v.Score)
	}
}

func TestValidateNullCountsAsMissing(t *testing.T) {
	out := RawOutput{"health_score": nil, "bottlenecks": []any{}}
	v := Validate(out, healthSchema())
	if v.Valid {
		t.Fatal("expected invalid for null required field")
	}
	if len(v.Issues) != 1 || !strings.Contains(v.Issues[0], "health_score") {
		t.Fatalf("issues = %v", v.Issues)
	}
}

func TestValidateLooksInsideFinalAnswer(t *testing.T) {
	out := RawOutput{
		"final_answer": map[string]any{"health_score": 10, "bottlenecks": []any{}},
	}
	if v := Validate(out, healthSchema()); !v.Valid {
		t.Fatalf("expected nested fields to satisfy schema, got %v", v.Issues)
	}
}

func TestValidateRequireReasoningSteps(t *testing.T) {
	schema := &Schema{RequireReasoningSteps: true}

	v := Validate(RawOutput{"health_score": 50}, schema)
	if v.Valid {
		t.Fatal("expected invalid without reasoning_steps")
	}
	if len(v.Issues) != 1 || !strings.Contains(v.Issues[0], "reasoning_steps") {
		t.Fatalf("issues = %v", v.Issues)
	}

	v = Validate(RawOutput{"reasoning_steps": []any{}}, schema)
	if v.Valid {
		t.Fatal("expected invalid with empty reasoning_steps")
	}

	v = Validate(RawOutput{"reasoning_steps": []any{map[string]any{"stage": "input_gathering"}}}, schema)
	if !v.Valid {
		t.Fatalf("expected valid, got %v", v.Issues)
	}
}

func TestValidateIsIdempotent(t *testing.T) {
	schema := &Schema{
		RequiredFields: []string{"a", "b", "a"},
		FieldTypes: map[string]FieldType{
			"a": TypeString, "b": TypeNumber, "c": TypeBoolean, "d": TypeObject,
		},
		RequireReasoningSteps: true,
	}
	out := RawOutput{"a": 1, "c": "yes", "d": []any{}}

	first := Validate(out, schema)
	for i := 0; i < 20; i++ {
		if diff := cmp.Diff(first, Validate(out, schema)); diff != "" {
			t.Fatalf("run %d differs (-first +got):\n%s", i, diff)
		}
	}
}

func TestValidateTypeTags(t *testing.T) {
	tests := []struct {
		value any
		want  FieldType
	}{
		{1.5, TypeNumber},
		{7, TypeNumber},
		{"x", TypeString},
		{true, TypeBoolean},
		{[]any{1}, TypeArray},
		{[]string{"a"}, TypeArray},
		{map[string]any{}, TypeObject},
	}
	for _, tt := range tests {
		if got := typeOf(tt.value); got != tt.want {
			t.Errorf("typeOf(%#v) = %s, want %s", tt.value, got, tt.want)
		}
	}
}

func TestSchemaCheck(t *testing.T) {
	tests := []struct {
		name    string
		schema  *Schema
		wantErr bool
	}{
		{"nil", nil, false},
		{"empty", &Schema{}, false},
		{"good", healthSchema(), false},
		{"blank required", &Schema{RequiredFields: []string{" "}}, true},
		{"blank typed", &Schema{FieldTypes: map[string]FieldType{"": TypeString}}, true},
		{"bad tag", &Schema{FieldTypes: map[string]FieldType{"x": "integer"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schema.Check()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Check() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrSchemaMisuse) {
				t.Fatalf("expected ErrSchemaMisuse, got %v", err)
			}
		})
	}
}

func TestSchemaShape(t *testing.T) {
	s := healthSchema()
	s.RequireReasoningSteps = true
	shape := s.Shape()

	props, ok := shape["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties missing: %#v", shape)
	}
	for _, f := range []string{"health_score", "bottlenecks", "reasoning_steps"} {
		if _, ok := props[f]; !ok {
			t.Errorf("shape missing property %q", f)
		}
	}
	want := []string{"health_score", "bottlenecks", "reasoning_steps"}
	if diff := cmp.Diff(want, shape["required"]); diff != "" {
		t.Fatalf("required mismatch (-want +got):\n%s", diff)
	}
}
