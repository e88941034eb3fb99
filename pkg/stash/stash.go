// Package stash persists job log lines to a local directory or to object
// storage, and computes where each job's log artifact lives.
package stash

import (
	"context"
	"fmt"
	"strings"
)

// Method selects where job logs are stashed.
type Method string

const (
	MethodNone  Method = "none"
	MethodLocal Method = "local"
	MethodS3    Method = "s3"
)

// ParseMethod parses a stash method name. The empty string means none and
// "remote" is accepted as an alias for s3.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return MethodNone, nil
	case "local":
		return MethodLocal, nil
	case "s3", "remote":
		return MethodS3, nil
	default:
		return "", &ConfigError{Field: "stash", Message: fmt.Sprintf("unknown stash method %q (want none, local or s3)", s)}
	}
}

// Enabled reports whether logs are stashed at all.
func (m Method) Enabled() bool {
	return m == MethodLocal || m == MethodS3
}

// Label is the status prefix of a stashed log artifact.
type Label string

const (
	LabelRunning    Label = "RUNNING"
	LabelTerminated Label = "TERMINATED"
	LabelFailure    Label = "FAILURE"
	LabelSuccess    Label = "SUCCESS"
	LabelUnknown    Label = "UNKNOWN"
)

// Sink stores named sequences of lines.
//
// Implementations must be safe for concurrent use by monitors of different
// queues; a single name is only ever written by one monitor.
type Sink interface {
	// WriteLines writes lines to name, appending to existing content when
	// appendMode is true and replacing it otherwise. Writing zero lines
	// still creates the artifact.
	WriteLines(ctx context.Context, name string, lines []string, appendMode bool) error

	// ReadLines returns the lines stored under name. A missing artifact
	// yields no lines and no error.
	ReadLines(ctx context.Context, name string) ([]string, error)
}

// ConfigError reports an unusable stash configuration.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "stash config: " + e.Field + ": " + e.Message
}

// Destination returns the artifact name for one job's log.
//
// Local artifacts live at <logBase>_job_logs/<queue>/<LABEL>_<jobName>_stash.log.
// Object artifacts live at <logBase>logs/<queue>/<LABEL>_<jobName>_stash.log,
// where logBase is the run's storage prefix and is expected to end in "/".
// Job names embed the run's job base, so names never collide across runs
// that share a queue, and the queue segment keeps queues apart within a run.
// ARN-style queue names are reduced to their final path segment.
func Destination(method Method, logBase, queue, jobName string, label Label) (string, error) {
	if logBase == "" {
		return "", &ConfigError{Field: "log_base", Message: "log base is required to stash logs"}
	}
	if jobName == "" {
		return "", &ConfigError{Field: "job_name", Message: "job name is required"}
	}
	q := queueSegment(queue)
	file := jobName + "_stash.log"
	if label != "" {
		file = string(label) + "_" + file
	}

	switch method {
	case MethodLocal:
		return strings.TrimSuffix(logBase, "/") + "_job_logs/" + q + "/" + file, nil
	case MethodS3:
		return logBase + "logs/" + q + "/" + file, nil
	default:
		return "", &ConfigError{Field: "stash", Message: fmt.Sprintf("cannot name artifacts for method %q", method)}
	}
}

func queueSegment(queue string) string {
	if i := strings.LastIndex(queue, "/"); i >= 0 {
		queue = queue[i+1:]
	}
	if queue == "" {
		return "default"
	}
	return queue
}

// encode joins lines into newline-terminated text.
func encode(lines []string) []byte {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(strings.TrimRight(l, "\n"))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// decode splits newline-terminated text back into lines.
func decode(b []byte) []string {
	s := strings.TrimSuffix(string(b), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
