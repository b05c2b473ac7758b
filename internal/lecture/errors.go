package lecture

import (
	"fmt"
	"strings"
)

// FieldError describes one failed validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError lists every metadata rule a draft failed.
type ValidationError struct {
	Problems []FieldError
}

func newValidationError(field, rule, msg string) *ValidationError {
	return &ValidationError{Problems: []FieldError{{Field: field, Rule: rule, Message: msg}}}
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = fmt.Sprintf("%s: %s", p.Field, p.Message)
	}
	return "invalid lecture metadata: " + strings.Join(parts, "; ")
}

// NotStoredError means the analysis completed but its documents could not be
// persisted. Analysis holds everything that was built.
type NotStoredError struct {
	Analysis Analysis
	Err      error
}

func (e *NotStoredError) Error() string {
	return fmt.Sprintf("lecture %s was analyzed but storing the result failed: %v", e.Analysis.Lecture.ID, e.Err)
}

func (e *NotStoredError) Unwrap() error { return e.Err }
