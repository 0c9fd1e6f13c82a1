package objectstore

import (
	"errors"
	"fmt"
)

// Code classifies an object store failure the way apierr.Error classifies
// HTTP-facing failures in the platform package this is grounded on.
type Code string

const (
	CodeNotFound    Code = "not_found"
	CodeUnavailable Code = "unavailable"
	CodeInvalidKey  Code = "invalid_key"
	CodeInternal    Code = "internal"
)

// Error wraps an underlying object-store failure with a retry-relevant
// classification. Supervisor/registry callers branch on Code rather than
// string-matching underlying driver errors.
type Error struct {
	Code Code
	Key  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "objectstore: nil error"
	}
	if e.Key != "" {
		return fmt.Sprintf("objectstore: %s (key=%s): %v", e.Code, e.Key, e.Err)
	}
	return fmt.Sprintf("objectstore: %s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code Code, key string, err error) *Error {
	return &Error{Code: code, Key: key, Err: err}
}

// Retryable reports whether err should be retried under the control-plane
// backoff policy (capped exponential, per spec.md §4.2/§7).
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == CodeUnavailable || e.Code == CodeInternal
	}
	return false
}
