package logging

import "fmt"

// OperationError annotates an error with the operation it occurred in and the
// request or identity id the operation concerned.
type OperationError struct {
	Operation string
	Ref       string
	Err       error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.Ref != "" {
		return fmt.Sprintf("%s (%s): %v", e.Operation, e.Ref, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps an error with structured context about where it occurred.
func NewOperationError(operation, ref string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, Ref: ref, Err: err}
}
