package dispatch

import (
	"sync"

	"github.com/3leaps/batchfan/pkg/batch"
)

// JobList is the append-only record of jobs submitted to one queue.
// Submission appends; monitors and kill-all read concurrently.
type JobList struct {
	mu   sync.Mutex
	jobs []batch.Job
}

// Append records a submitted job.
func (l *JobList) Append(j batch.Job) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jobs = append(l.jobs, j)
}

// Jobs returns a copy of the recorded jobs in submission order.
func (l *JobList) Jobs() []batch.Job {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]batch.Job, len(l.jobs))
	copy(out, l.jobs)
	return out
}

// IDs returns the recorded job ids. It makes JobList a monitor id source.
func (l *JobList) IDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, len(l.jobs))
	for i, j := range l.jobs {
		ids[i] = j.ID
	}
	return ids
}

// Len returns the number of recorded jobs.
func (l *JobList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.jobs)
}
