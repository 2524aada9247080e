package segmentation

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedRange        = errors.New("malformed range")
	ErrMalformedCriteria     = errors.New("malformed criteria")
	ErrUnknownRecipientField = errors.New("unknown recipient field")
	ErrMalformedActions      = errors.New("malformed actions")
	ErrUnknownAction         = errors.New("unknown action type")
	ErrEntityNotAllowed      = errors.New("entity not allowed for action")
	ErrSegmentNotFound       = errors.New("segment not found")
)

// CompilationError reports a criteria category that could not be compiled
type CompilationError struct {
	Category Category
	Err      error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("compile %s: %v", e.Category, e.Err)
}

func (e *CompilationError) Unwrap() error { return e.Err }

// EvaluationError reports a failed batch query; it aborts the whole recomputation
type EvaluationError struct {
	Priority Priority
	Batch    int
	Err      error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate group %d batch %d: %v", e.Priority, e.Batch, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// ActionError reports a failed action; sibling actions still run
type ActionError struct {
	Action string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s: %v", e.Action, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

func IsCompilationError(err error) bool {
	var target *CompilationError
	return errors.As(err, &target)
}

func IsEvaluationError(err error) bool {
	var target *EvaluationError
	return errors.As(err, &target)
}
