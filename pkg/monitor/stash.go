package monitor

import (
	"context"

	"go.uber.org/zap"

	"github.com/3leaps/batchfan/pkg/joblog"
	"github.com/3leaps/batchfan/pkg/stash"
)

func (m *Monitor) destination(l *joblog.Log, label stash.Label) (string, error) {
	return stash.Destination(m.cfg.Stash, m.cfg.LogBase, m.cfg.Queue, l.JobName, label)
}

// dumpInterim appends the buffer to the job's RUNNING artifact and clears it.
func (m *Monitor) dumpInterim(ctx context.Context, l *joblog.Log) error {
	name, err := m.destination(l, stash.LabelRunning)
	if err != nil {
		return &ObservationError{Queue: m.cfg.Queue, JobID: l.JobID, Op: "stash", Err: err}
	}
	if err := l.Dump(ctx, m.sink, name, true); err != nil {
		return &ObservationError{Queue: m.cfg.Queue, JobID: l.JobID, Op: "stash", Err: err}
	}
	l.Clear()
	return nil
}

func (m *Monitor) stashInterim(ctx context.Context) {
	if !m.cfg.Stash.Enabled() {
		return
	}
	for _, id := range m.logOrder {
		l := m.logs[id]
		if l.Len() == 0 {
			continue
		}
		if err := m.dumpInterim(ctx, l); err != nil {
			m.observationFailed(err)
		}
	}
}

// stashFinal rebuilds each job's full log from its RUNNING artifact and
// writes it under its final label.
func (m *Monitor) stashFinal(ctx context.Context, last *cycle) {
	if !m.cfg.Stash.Enabled() {
		return
	}

	failed := make(map[string]struct{})
	succeeded := make(map[string]struct{})
	if last != nil {
		for _, j := range last.failed {
			failed[j.ID] = struct{}{}
		}
		for _, j := range last.succeeded {
			succeeded[j.ID] = struct{}{}
		}
	}

	for _, id := range m.logOrder {
		l := m.logs[id]

		interim, err := m.destination(l, stash.LabelRunning)
		if err == nil {
			err = l.Load(ctx, m.sink, interim)
		}
		if err != nil {
			m.observationFailed(&ObservationError{Queue: m.cfg.Queue, JobID: id, Op: "reload stash", Err: err})
		}

		label := finalLabel(id, m.terminated, failed, succeeded)
		if label == stash.LabelUnknown {
			m.logger.Warn("job is not among terminated, failed or succeeded jobs",
				zap.String("job_id", id), zap.String("job_name", l.JobName))
		}

		name, err := m.destination(l, label)
		if err == nil {
			err = l.Dump(ctx, m.sink, name, false)
		}
		if err != nil {
			m.observationFailed(&ObservationError{Queue: m.cfg.Queue, JobID: id, Op: "final stash", Err: err})
		}
		l.Clear()
	}
}

func finalLabel(id string, terminated, failed, succeeded map[string]struct{}) stash.Label {
	if _, ok := terminated[id]; ok {
		return stash.LabelTerminated
	}
	if _, ok := failed[id]; ok {
		return stash.LabelFailure
	}
	if _, ok := succeeded[id]; ok {
		return stash.LabelSuccess
	}
	return stash.LabelUnknown
}
