package utils

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can pick a recovery strategy:
// transient store errors are retryable, bad data is logged and skipped,
// config gaps fail closed to defaults.
type Kind string

const (
	KindTransient Kind = "transient"
	KindBadData   Kind = "bad_data"
	KindConfig    Kind = "config"
)

// AppError wraps an operation, error kind, human-facing message, and the
// underlying error.
type AppError struct {
	Op   string
	Kind Kind
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op string, kind Kind, msg string, err error) error {
	return &AppError{Op: op, Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from an error chain, defaulting to transient so
// unknown failures stay retryable rather than silently fatal.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindTransient
}

// IsTransient reports whether the error should be retried.
func IsTransient(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}
