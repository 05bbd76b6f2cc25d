package adplatform

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrorTransient    ErrorKind = "transient"
	ErrorUnauthorized ErrorKind = "unauthorized"
	ErrorInvalid      ErrorKind = "invalid"
)

// Error classifies a failed mutation. Only transient errors are worth retrying.
type Error struct {
	Kind       ErrorKind
	Action     string
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e == nil {
		return "ad platform call failed"
	}
	if e.Message != "" {
		return fmt.Sprintf("ad platform call failed (action=%s kind=%s status=%d): %s", e.Action, e.Kind, e.StatusCode, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("ad platform call failed (action=%s kind=%s status=%d): %v", e.Action, e.Kind, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("ad platform call failed (action=%s kind=%s status=%d)", e.Action, e.Kind, e.StatusCode)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *Error) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// IsTransient is the retry predicate for platform calls. Unclassified errors are not
// retried: an unknown failure on a mutation is safer to surface than to repeat.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == ErrorTransient
	}
	return false
}

func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
