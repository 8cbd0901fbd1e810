package reasoning

import (
	"errors"
	"fmt"
)

var (
	// ErrGenerationFailure matches any failure of the generation capability.
	ErrGenerationFailure = errors.New("generation failed")
	// ErrSchemaMisuse matches an internally inconsistent validation schema.
	ErrSchemaMisuse = errors.New("schema misuse")
	// ErrInvalidTask is returned for tasks missing a generate function.
	ErrInvalidTask = errors.New("invalid task")
	// ErrUnauthorized is returned when a task's authorization check denies it.
	ErrUnauthorized = errors.New("task not authorized")
)

// GenerationError reports a failed or cancelled generation call together
// with the task and execution state it happened in.
type GenerationError struct {
	TaskName string
	Path     string
	State    State
	Err      error
}

func (e *GenerationError) Error() string {
	if e.Path != PathSingle {
		return fmt.Sprintf("task %q path %s: generation failed in state %s: %v", e.TaskName, e.Path, e.State, e.Err)
	}
	return fmt.Sprintf("task %q: generation failed in state %s: %v", e.TaskName, e.State, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrGenerationFailure) match.
func (e *GenerationError) Is(target error) bool { return target == ErrGenerationFailure }

// SchemaMisuseError reports a malformed ValidationSchema.
type SchemaMisuseError struct {
	Field  string
	Reason string
}

func (e *SchemaMisuseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema misuse: %s", e.Reason)
	}
	return fmt.Sprintf("schema misuse: field %q: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrSchemaMisuse) match.
func (e *SchemaMisuseError) Is(target error) bool { return target == ErrSchemaMisuse }
