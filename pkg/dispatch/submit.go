package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/batchfan/pkg/batch"
	"github.com/3leaps/batchfan/pkg/events"
)

// Submit submits every planned job, chunk by chunk.
//
// Monitors are told submission is in progress for the whole call. A
// cancelled ctx stops submission before the next job or while waiting for
// capacity or the stagger; a submit call already issued completes and is
// recorded. Submission errors are returned unretried.
func (d *Dispatcher) Submit(ctx context.Context) error {
	d.setSubmitting(true)
	defer d.setSubmitting(false)

	chunks, err := d.workload.Decompose(ctx)
	if err != nil {
		return fmt.Errorf("decompose input: %w", err)
	}
	d.logger.Info("submitting",
		zap.String("job_base", d.jobBase),
		zap.Int("chunks", len(chunks)),
		zap.Strings("workers", d.cfg.Workers))

	submitted := 0
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			d.logger.Info("submission stopped", zap.Int("submitted", submitted))
			return err
		}
		for _, pj := range d.Plan(chunk) {
			if err := d.awaitCapacity(ctx); err != nil {
				return err
			}
			if d.limiter != nil {
				if err := d.limiter.Wait(ctx); err != nil {
					return err
				}
			}
			if err := ctx.Err(); err != nil {
				d.logger.Info("submission stopped", zap.Int("submitted", submitted))
				return err
			}
			if err := d.submitOne(ctx, pj); err != nil {
				return err
			}
			submitted++
		}
	}
	d.logger.Info("submission complete", zap.Int("submitted", submitted))
	return nil
}

func (d *Dispatcher) submitOne(ctx context.Context, pj PlannedJob) error {
	for i, arg := range pj.Command {
		if arg == "" {
			d.logger.Warn("empty command argument", zap.String("job_name", pj.Name), zap.Int("index", i))
		}
	}

	req := batch.SubmitRequest{
		Name:           pj.Name,
		Queue:          pj.Queue,
		Definition:     pj.Definition,
		Command:        pj.Command,
		Environment:    d.cfg.Environment,
		RetryAttempts:  d.cfg.RetryAttempts,
		TimeoutSeconds: d.cfg.TimeoutSeconds,
		Tags:           d.tags(),
	}
	d.logger.Info("submitting job",
		zap.String("job_name", pj.Name),
		zap.String("queue", pj.Queue),
		zap.String("definition", pj.Definition),
		zap.Strings("command", pj.Command))

	// Finish a submit already under way so the job is recorded and can be
	// reached by kill-all.
	job, err := d.client.SubmitJob(context.WithoutCancel(ctx), req)
	if err != nil {
		d.cfg.Metrics.SubmitError(pj.Queue)
		return err
	}
	d.lists[pj.Queue].Append(*job)
	d.cfg.Metrics.Submitted(pj.Queue)
	d.publish(ctx, events.Event{Kind: events.KindSubmitted, Queue: pj.Queue, JobID: job.ID, JobName: job.Name})
	return nil
}

func (d *Dispatcher) tags() map[string]string {
	tags := make(map[string]string, 2)
	if d.cfg.Project != "" {
		tags["project"] = d.cfg.Project
	}
	if p := d.workload.Purpose(); p != "" {
		tags["purpose"] = p
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

// awaitCapacity blocks while this run has MaxInFlight or more jobs pre-run
// or running. Waits start at BackoffBase and double, with counts re-read
// after every wait.
func (d *Dispatcher) awaitCapacity(ctx context.Context) error {
	if d.cfg.MaxInFlight <= 0 {
		return nil
	}
	wait := d.cfg.BackoffBase
	for {
		counts, err := d.Counts(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Warn("counting in-flight jobs failed", zap.Error(err))
		} else if counts.InFlight() < d.cfg.MaxInFlight {
			return nil
		} else {
			d.logger.Info("waiting for in-flight jobs to finish",
				zap.Int("in_flight", counts.InFlight()),
				zap.Int("max", d.cfg.MaxInFlight),
				zap.Duration("wait", wait))
		}
		d.cfg.Metrics.BackpressureWait()
		if err := d.sleep(ctx, wait); err != nil {
			return err
		}
		wait *= 2
		if wait > 24*time.Hour {
			wait = 24 * time.Hour
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, ev events.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if err := d.cfg.Events.Publish(ctx, ev); err != nil {
		d.logger.Warn("publishing event failed", zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}
