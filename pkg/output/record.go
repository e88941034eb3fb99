// Package output provides JSONL output for run results.
//
// Output is structured as typed record envelopes containing per-job
// outcomes, per-queue results, errors and a final summary. Each line is a
// self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: batchfan.<type>.v<version>
const (
	// TypeJob identifies per-job outcome records.
	TypeJob = "batchfan.job.v1"

	// TypeQueue identifies per-queue result records.
	TypeQueue = "batchfan.queue.v1"

	// TypeError identifies error records.
	TypeError = "batchfan.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "batchfan.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "batchfan.job.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID correlates every record of one run.
	RunID string `json:"run_id"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// JobRecord is the data payload for one job's outcome.
type JobRecord struct {
	JobID   string `json:"job_id"`
	JobName string `json:"job_name"`
	Queue   string `json:"queue"`

	// Status is the final remote status, SUCCEEDED or FAILED.
	Status string `json:"status"`

	// Terminated is set when the job was killed for a stalled log.
	Terminated bool `json:"terminated,omitempty"`
}

// QueueRecord is the data payload for one queue's result.
type QueueRecord struct {
	Queue      string   `json:"queue"`
	Submitted  int      `json:"submitted"`
	Failed     int      `json:"failed"`
	Succeeded  int      `json:"succeeded"`
	Terminated []string `json:"terminated,omitempty"`
}

// ErrorRecord is the data payload for errors.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	Queue string `json:"queue,omitempty"`
	JobID string `json:"job_id,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeAccessDenied = "ACCESS_DENIED"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeThrottled    = "THROTTLED"
	ErrCodeConfig       = "CONFIG"
	ErrCodeAborted      = "ABORTED"
	ErrCodeInternal     = "INTERNAL"
)

// SummaryRecord is the data payload for the final summary of a run.
type SummaryRecord struct {
	JobBase    string `json:"job_base"`
	Submitted  int    `json:"submitted"`
	Failed     int    `json:"failed"`
	Succeeded  int    `json:"succeeded"`
	Terminated int    `json:"terminated"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	Queues       []string `json:"queues,omitempty"`
	CombineJobID string   `json:"combine_job_id,omitempty"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
