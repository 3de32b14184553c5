package reportsync

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionUnavailable = errors.New("report store unavailable")
	ErrValidation            = errors.New("validation failed")
	ErrNotFound              = errors.New("report not found")
	ErrRemoteRejected        = errors.New("report store rejected the call")
)

// ValidationError names the offending field of a submission.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// RemoteError carries the message of an {"Err": ...} answer.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Method, e.Message)
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteRejected
}

// unavailable wraps a transport failure so it matches ErrConnectionUnavailable
// while keeping the cause.
type unavailable struct {
	method string
	cause  error
}

func (e *unavailable) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.method, ErrConnectionUnavailable, e.cause)
}

func (e *unavailable) Is(target error) bool {
	return target == ErrConnectionUnavailable
}

func (e *unavailable) Unwrap() error {
	return e.cause
}
