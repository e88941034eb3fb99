// Package joblog buffers the log tail of one remote job between stashes.
//
// A Log is owned by a single monitor and is not safe for concurrent use.
package joblog

import (
	"context"
	"fmt"
	"time"

	"github.com/3leaps/batchfan/pkg/stash"
)

// Fetcher retrieves log lines emitted by a job since cursor.
//
// An empty cursor reads from the start of the job's log. The returned next
// cursor is passed back on the following call; lastEvent is the timestamp
// of the newest returned line (zero when no lines were returned).
type Fetcher interface {
	FetchNewLines(ctx context.Context, jobID, cursor string) (lines []string, next string, lastEvent time.Time, err error)
}

// Log is the buffered log of one job.
type Log struct {
	JobID   string
	JobName string

	lines     []string
	total     int
	latest    time.Time
	lastEvent time.Time
	cursor    string
}

// New creates an empty Log. The latest timestamp starts at created so a job
// that never logs is measured from when it was first seen.
func New(jobID, jobName string, created time.Time) *Log {
	return &Log{JobID: jobID, JobName: jobName, latest: created}
}

// Append adds lines to the buffer. When lines is non-empty the latest
// timestamp advances to at; it never moves backwards.
func (l *Log) Append(lines []string, at time.Time) {
	if len(lines) == 0 {
		return
	}
	l.lines = append(l.lines, lines...)
	l.total += len(lines)
	if at.After(l.latest) {
		l.latest = at
	}
}

// Fetch pulls new lines through f and appends them stamped with now.
// It returns the number of new lines.
func (l *Log) Fetch(ctx context.Context, f Fetcher, now time.Time) (int, error) {
	lines, next, lastEvent, err := f.FetchNewLines(ctx, l.JobID, l.cursor)
	if err != nil {
		return 0, fmt.Errorf("fetch log for job %s: %w", l.JobID, err)
	}
	if next != "" {
		l.cursor = next
	}
	if lastEvent.After(l.lastEvent) {
		l.lastEvent = lastEvent
	}
	l.Append(lines, now)
	return len(lines), nil
}

// Len returns the number of buffered lines.
func (l *Log) Len() int {
	return len(l.lines)
}

// HasOutput reports whether the job has produced any output, including
// lines already dumped and cleared.
func (l *Log) HasOutput() bool {
	return l.total > 0
}

// Lines returns a copy of the buffered lines.
func (l *Log) Lines() []string {
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

// Latest returns when new output was last seen.
func (l *Log) Latest() time.Time {
	return l.latest
}

// LastEvent returns the timestamp the log backend reported for the newest line.
func (l *Log) LastEvent() time.Time {
	return l.lastEvent
}

// Idle returns how long the log has been silent as of now.
func (l *Log) Idle(now time.Time) time.Duration {
	return now.Sub(l.latest)
}

// Clear empties the buffer. Identity, cursor and timestamps are kept.
func (l *Log) Clear() {
	l.lines = nil
}

// Dump writes the buffer to name in sink.
func (l *Log) Dump(ctx context.Context, sink stash.Sink, name string, appendMode bool) error {
	if err := sink.WriteLines(ctx, name, l.lines, appendMode); err != nil {
		return fmt.Errorf("dump log for job %s: %w", l.JobID, err)
	}
	return nil
}

// Load prepends the lines previously dumped to name, reconstructing the
// full history ahead of anything still buffered.
func (l *Log) Load(ctx context.Context, sink stash.Sink, name string) error {
	prior, err := sink.ReadLines(ctx, name)
	if err != nil {
		return fmt.Errorf("load log for job %s: %w", l.JobID, err)
	}
	if len(prior) == 0 {
		return nil
	}
	l.lines = append(prior, l.lines...)
	return nil
}
