package monitor

import (
	"context"
	"strings"

	"github.com/3leaps/batchfan/pkg/batch"
)

// cycle is what one poll saw.
type cycle struct {
	tracked map[string]struct{}

	preRun    []batch.JobSummary
	running   []batch.JobSummary
	failed    []batch.JobSummary
	succeeded []batch.JobSummary
}

func (c *cycle) counts() batch.Counts {
	return batch.Counts{
		PreRun:    len(c.preRun),
		Running:   len(c.running),
		Failed:    len(c.failed),
		Succeeded: len(c.succeeded),
	}
}

// list queries every remote state on the queue and keeps the jobs in scope.
func (m *Monitor) list(ctx context.Context) (*cycle, error) {
	c := &cycle{tracked: m.cfg.Scope.snapshot()}
	for _, st := range batch.AllStatuses {
		jobs, err := m.client.ListJobs(ctx, m.cfg.Queue, st)
		if err != nil {
			return nil, err
		}
		for _, j := range jobs {
			if !m.inScope(j, c.tracked) {
				continue
			}
			j.Status = st
			switch st.Category() {
			case batch.CategoryPreRun:
				c.preRun = append(c.preRun, j)
			case batch.CategoryRunning:
				c.running = append(c.running, j)
			case batch.CategoryFailed:
				c.failed = append(c.failed, j)
			case batch.CategorySucceeded:
				c.succeeded = append(c.succeeded, j)
			}
		}
	}
	return c, nil
}

func (m *Monitor) inScope(j batch.JobSummary, tracked map[string]struct{}) bool {
	if m.cfg.JobBase != "" && !strings.HasPrefix(j.Name, m.cfg.JobBase) {
		return false
	}
	if tracked != nil {
		if _, ok := tracked[j.ID]; !ok {
			return false
		}
	}
	return true
}
