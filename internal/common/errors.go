// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// ErrValidation marks caller input that is malformed or incomplete.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState marks an operation the session's current state forbids.
	ErrInvalidState = errors.New("invalid state")
	// ErrUpstream marks a failed or unparseable collaborator response.
	ErrUpstream = errors.New("upstream failure")
	// ErrNotFound marks an unknown, expired, or deleted session.
	ErrNotFound = errors.New("not found")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Validationf returns an error wrapping ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// InvalidStatef returns an error wrapping ErrInvalidState.
func InvalidStatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// NotFoundf returns an error wrapping ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// UpstreamError wraps a collaborator failure while keeping its message intact.
type UpstreamError struct {
	Err          error
	Collaborator string
}

func (e *UpstreamError) Error() string {
	if e.Collaborator == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Collaborator, e.Err)
}

// Unwrap exposes both the sentinel and the original cause to errors.Is/As.
func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstream, e.Err}
}

// NewUpstreamError wraps err as a failure of the named collaborator.
// Errors that are already upstream errors are returned unchanged.
func NewUpstreamError(collaborator string, err error) error {
	if err == nil {
		return nil
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return err
	}
	return &UpstreamError{Collaborator: collaborator, Err: err}
}

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// Kind names the taxonomy bucket of err for logs, metrics and transport mapping.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}

// IsRetryable reports whether err is worth another attempt. An explicit RetryableError
// decides; otherwise rate limits and deadlines are retryable.
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return errors.Is(err, ErrRateLimit) || errors.Is(err, context.DeadlineExceeded)
}
