package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline and API failures
type ErrorKind string

const (
	ErrorKindInvalidInput       ErrorKind = "INVALID_INPUT"
	ErrorKindNotFound           ErrorKind = "NOT_FOUND"
	ErrorKindConflict           ErrorKind = "CONFLICT"
	ErrorKindInvariantViolation ErrorKind = "INVARIANT_VIOLATION"
	ErrorKindFetchFailed        ErrorKind = "FETCH_FAILED"
	ErrorKindScorerFailed       ErrorKind = "SCORER_FAILED"
	ErrorKindCancelled          ErrorKind = "CANCELLED"
	ErrorKindInternal           ErrorKind = "INTERNAL"
)

// AnalysisError wraps a pipeline failure with its kind and the step
// that produced it, so handlers and storage can map it without string
// matching.
type AnalysisError struct {
	Kind ErrorKind
	Step string
	Err  error
}

func (e *AnalysisError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s at %s: %v", e.Kind, e.Step, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// NewAnalysisError builds a typed pipeline error
func NewAnalysisError(kind ErrorKind, step string, err error) *AnalysisError {
	return &AnalysisError{Kind: kind, Step: step, Err: err}
}

// KindOf extracts the ErrorKind from an error chain, defaulting to INTERNAL
func KindOf(err error) ErrorKind {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ErrorKindInternal
}

// StepOf extracts the failing pipeline step from an error chain
func StepOf(err error) string {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Step
	}
	return ""
}
