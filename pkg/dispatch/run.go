package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/batchfan/pkg/batch"
	"github.com/3leaps/batchfan/pkg/events"
	"github.com/3leaps/batchfan/pkg/monitor"
)

// Outcome is what a run submitted and how each queue ended.
type Outcome struct {
	Jobs    map[string][]batch.Job       `json:"jobs"`
	Results map[string]*monitor.Result `json:"results"`
}

// HasFailures reports whether any monitored job failed.
func (o *Outcome) HasFailures() bool {
	if o == nil {
		return false
	}
	for _, r := range o.Results {
		if r.HasFailures() {
			return true
		}
	}
	return false
}

// Counts sums terminal counts across queues.
func (o *Outcome) Counts() batch.Counts {
	var c batch.Counts
	if o == nil {
		return c
	}
	for _, r := range o.Results {
		c = c.Add(r.Counts())
	}
	return c
}

// Submitted returns the number of jobs submitted.
func (o *Outcome) Submitted() int {
	n := 0
	if o == nil {
		return n
	}
	for _, jobs := range o.Jobs {
		n += len(jobs)
	}
	return n
}

// RunError reports a run aborted by a submission failure, a monitor
// failure or cancellation, after every submitted job was sent a terminate
// request.
type RunError struct {
	// Cause is the failure that aborted the run.
	Cause error

	// Killed is the number of jobs sent a terminate request.
	Killed int

	// KillErr joins terminate failures, if any.
	KillErr error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	msg := fmt.Sprintf("run aborted, %d submitted jobs killed: %v", e.Killed, e.Cause)
	if e.KillErr != nil {
		msg += fmt.Sprintf(" (kill errors: %v)", e.KillErr)
	}
	return msg
}

// Unwrap returns the cause for errors.Is/As support.
func (e *RunError) Unwrap() error {
	return e.Cause
}

// Run submits and watches concurrently until every queue's monitor
// concludes. Any failure, including cancellation of ctx, stops every task,
// waits for them to return, kills every job submitted so far and returns a
// *RunError. The returned Outcome is never nil.
func (d *Dispatcher) Run(ctx context.Context) (*Outcome, error) {
	out := &Outcome{Results: make(map[string]*monitor.Result, len(d.queues))}
	var mu sync.Mutex

	// Before any monitor can poll.
	d.setSubmitting(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := d.Submit(gctx); err != nil {
			return fmt.Errorf("submit: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := d.sleep(gctx, d.cfg.StartDelay); err != nil {
			return err
		}
		d.logger.Info("watching queues", zap.Strings("queues", d.queues))
		wg, wctx := errgroup.WithContext(gctx)
		for _, q := range d.queues {
			m := d.monitors[q]
			wg.Go(func() error {
				res, err := m.Run(wctx)
				if err != nil {
					return fmt.Errorf("monitor %s: %w", q, err)
				}
				mu.Lock()
				out.Results[q] = res
				mu.Unlock()
				return nil
			})
		}
		return wg.Wait()
	})

	err := g.Wait()
	out.Jobs = d.Jobs()
	if err == nil {
		return out, nil
	}

	d.logger.Error("run failed, killing submitted jobs", zap.Error(err))
	killed, killErr := d.killAll(ctx, "Run aborted: "+err.Error())
	d.publish(context.WithoutCancel(ctx), events.Event{Kind: events.KindRunFailed, Reason: err.Error()})
	return out, &RunError{Cause: err, Killed: killed, KillErr: killErr}
}

// killAll sends a terminate request to every job submitted so far, even
// when ctx is already cancelled.
func (d *Dispatcher) killAll(ctx context.Context, reason string) (int, error) {
	kctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.KillTimeout)
	defer cancel()

	var (
		killed int
		errs   []error
	)
	for _, q := range d.queues {
		for _, j := range d.lists[q].Jobs() {
			if err := d.client.TerminateJob(kctx, j.ID, reason); err != nil {
				errs = append(errs, err)
				continue
			}
			killed++
			d.cfg.Metrics.Terminated(q, "kill_all")
		}
	}
	d.logger.Info("killed submitted jobs", zap.Int("killed", killed), zap.Int("failed", len(errs)))
	return killed, errors.Join(errs...)
}
