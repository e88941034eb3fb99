package runregistry

import (
	"time"

	"github.com/3leaps/batchfan/pkg/batch"
)

// RunState is the lifecycle state of a run.
//
// NOTE: These values are persisted in run.json.
type RunState string

const (
	RunStateSubmitting RunState = "submitting"
	RunStateRunning    RunState = "running"
	RunStateSucceeded  RunState = "succeeded"
	RunStateFailed     RunState = "failed"
	RunStateAborted    RunState = "aborted"
	RunStateUnknown    RunState = "unknown"
)

// Terminal reports whether the run has ended.
func (s RunState) Terminal() bool {
	switch s {
	case RunStateSucceeded, RunStateFailed, RunStateAborted:
		return true
	}
	return false
}

// RunKind is the command that started the run.
type RunKind string

const (
	RunKindRead    RunKind = "read"
	RunKindFull    RunKind = "full"
	RunKindCombine RunKind = "combine"
)

// RunRecord is the persistent record written to run.json.
//
// New fields must be additive so older records keep loading.
type RunRecord struct {
	RunID         string   `json:"run_id"`
	Kind          RunKind  `json:"kind"`
	State         RunState `json:"state"`
	Basename      string   `json:"basename"`
	Group         string   `json:"group,omitempty"`
	JobBase       string   `json:"job_base"`
	StoragePrefix string   `json:"storage_prefix"`
	Readers       []string `json:"readers,omitempty"`
	Project       string   `json:"project,omitempty"`
	PID           int      `json:"pid,omitempty"`

	// Jobs lists the submitted jobs by queue.
	Jobs map[string][]batch.Job `json:"jobs,omitempty"`

	CombineJobID string        `json:"combine_job_id,omitempty"`
	Counts       *batch.Counts `json:"counts,omitempty"`
	Error        string        `json:"error,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// JobIDs returns the ids of every submitted job, queue by queue.
func (r *RunRecord) JobIDs() []string {
	var ids []string
	for _, q := range sortedQueues(r.Jobs) {
		for _, j := range r.Jobs[q] {
			ids = append(ids, j.ID)
		}
	}
	return ids
}
