package monitor

import (
	"slices"

	"github.com/3leaps/batchfan/pkg/batch"
)

// Result summarizes one monitor run, taken from its final poll cycle.
type Result struct {
	Queue string `json:"queue"`

	// Terminated holds ids this monitor terminated, sorted. A terminate
	// request the service rejected is not listed.
	Terminated []string `json:"terminated"`

	Failed    []batch.Job `json:"failed"`
	Succeeded []batch.Job `json:"succeeded"`

	// Observed maps every id seen pre-run or running to its name.
	Observed map[string]string `json:"observed"`
}

// HasFailures reports whether any job failed.
func (r *Result) HasFailures() bool {
	return r != nil && len(r.Failed) > 0
}

// Counts returns terminal counts.
func (r *Result) Counts() batch.Counts {
	if r == nil {
		return batch.Counts{}
	}
	return batch.Counts{Failed: len(r.Failed), Succeeded: len(r.Succeeded)}
}

// WasTerminated reports whether id was terminated by the monitor.
func (r *Result) WasTerminated(id string) bool {
	_, found := slices.BinarySearch(r.Terminated, id)
	return found
}

// FailedIDs returns the ids of failed jobs.
func (r *Result) FailedIDs() []string {
	return jobIDs(r.Failed)
}

// SucceededIDs returns the ids of succeeded jobs.
func (r *Result) SucceededIDs() []string {
	return jobIDs(r.Succeeded)
}

func jobIDs(jobs []batch.Job) []string {
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	return ids
}
