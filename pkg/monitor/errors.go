package monitor

import (
	"fmt"
)

// ObservationError is a failure to observe or act on one job during one
// poll cycle. It is logged and the cycle continues.
type ObservationError struct {
	Queue string
	JobID string
	Op    string
	Err   error
}

// Error implements the error interface.
func (e *ObservationError) Error() string {
	return fmt.Sprintf("observation of job %s on queue %s failed (%s): %v", e.JobID, e.Queue, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ObservationError) Unwrap() error {
	return e.Err
}

// ConfigError reports an invalid monitor configuration.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "monitor config: " + e.Field + ": " + e.Message
}
