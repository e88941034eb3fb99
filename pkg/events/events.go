// Package events publishes run lifecycle events.
package events

import (
	"context"
	"time"

	"github.com/3leaps/batchfan/pkg/batch"
)

// Kind names an event type. Kinds double as subject suffixes.
type Kind string

const (
	KindSubmitted  Kind = "submitted"
	KindStalled    Kind = "stalled"
	KindTerminated Kind = "terminated"
	KindConcluded  Kind = "concluded"
	KindRunFailed  Kind = "run_failed"
)

// Event is one lifecycle notification.
type Event struct {
	Kind    Kind          `json:"kind"`
	RunID   string        `json:"run_id,omitempty"`
	Queue   string        `json:"queue,omitempty"`
	JobID   string        `json:"job_id,omitempty"`
	JobName string        `json:"job_name,omitempty"`
	Reason  string        `json:"reason,omitempty"`
	Counts  *batch.Counts `json:"counts,omitempty"`
	Time    time.Time     `json:"time"`
}

// Publisher delivers events. Publish failures are reported but never
// affect the run.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
