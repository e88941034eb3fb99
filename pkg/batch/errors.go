package batch

import (
	"errors"
	"fmt"
)

// Sentinel errors for batch service operations.
var (
	// ErrNotFound indicates the requested queue, environment or job does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrThrottled indicates the request was rate limited by the service.
	ErrThrottled = errors.New("request throttled")

	// ErrServiceUnavailable indicates the service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrInvalidRequest indicates the service rejected the request parameters.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrAmbiguous indicates a lookup expected exactly one result and got
	// zero or several.
	ErrAmbiguous = errors.New("ambiguous result")
)

// Error wraps batch service errors with context.
type Error struct {
	// Op is the operation that failed (e.g., "SubmitJob", "ListJobs").
	Op string

	// Queue is the job queue involved, if applicable.
	Queue string

	// JobID is the job involved, if applicable.
	JobID string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.JobID != "":
		return fmt.Sprintf("batch %s: job %s: %v", e.Op, e.JobID, e.Err)
	case e.Queue != "":
		return fmt.Sprintf("batch %s: queue %s: %v", e.Op, e.Queue, e.Err)
	default:
		return fmt.Sprintf("batch %s: %v", e.Op, e.Err)
	}
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// ConfigError represents an unrecoverable configuration problem.
//
// Configuration errors are raised immediately and never retried.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config: " + e.Field + ": " + e.Message
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsThrottled returns true if the error indicates the request was rate limited.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// IsAccessDenied returns true if the error indicates insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsConfigError returns true if err is (or wraps) a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
