package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/batchfan/internal/config"
	"github.com/3leaps/batchfan/internal/server/handlers"
	"github.com/3leaps/batchfan/pkg/batch"
	"github.com/3leaps/batchfan/pkg/dispatch"
	"github.com/3leaps/batchfan/pkg/output"
	"github.com/3leaps/batchfan/pkg/provider"
	"github.com/3leaps/batchfan/pkg/reading"
	"github.com/3leaps/batchfan/pkg/runregistry"
)

// readingRun is one invocation of read or full.
type readingRun struct {
	Kind          runregistry.RunKind
	Basename      string
	Group         string
	Manifest      string
	Start         int
	End           int
	ForceRead     bool
	ForceFulltext bool
	DryRun        bool
}

func executeReading(ctx context.Context, cfg *config.Config, r readingRun, stdout io.Writer) error {
	readers, err := reading.ResolveReaders(cfg.Reading.Readers)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid readers", err)
	}
	env, err := dispatch.LoadEnvironment(cfg.Environment.EnvFile, cfg.Environment.PassThrough)
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Failed to load job environment", err)
	}

	runID := runregistry.NewRunID()
	rt, err := newRuntime(ctx, cfg, runID, !r.DryRun)
	if err != nil {
		return err
	}
	defer rt.Close()

	storagePrefix, jobBase := dispatch.Prefixes(reading.Class, r.Basename, r.Group)

	var uploader provider.FileUploader
	if !r.DryRun {
		uploader = rt.objects
	}
	w, err := reading.NewWorkload(reading.Options{
		JobBase:       jobBase,
		Manifest:      r.Manifest,
		InputKey:      storagePrefix + reading.InputName,
		Start:         r.Start,
		End:           r.End,
		IDsPerJob:     cfg.Reading.IDsPerJob,
		ForceRead:     r.ForceRead,
		ForceFulltext: r.ForceFulltext,
		ReadCommand:   cfg.Reading.ReadCommand,
		Uploader:      uploader,
		Logger:        rt.logger,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid reading options", err)
	}

	mt := rt.monitorTemplate("")
	var clusters map[string]string
	if !r.DryRun {
		tagger, byQueue, err := rt.clusters(ctx, usedQueues(cfg.Batch.Queues, readers))
		if err != nil {
			return err
		}
		mt.Tagger, clusters = tagger, byQueue
	}

	d, err := dispatch.New(rt.client, rt.fetcher, rt.sink, w, dispatch.Config{
		Class:          reading.Class,
		Basename:       r.Basename,
		Group:          r.Group,
		Workers:        readers,
		Queues:         cfg.Batch.Queues,
		Definitions:    cfg.Batch.JobDefinitions,
		Project:        cfg.Batch.Project,
		TimeoutSeconds: int(cfg.Batch.Timeout / time.Second),
		RetryAttempts:  cfg.Batch.RetryAttempts,
		Environment:    env,
		Stagger:        cfg.Submit.Stagger,
		MaxInFlight:    cfg.Submit.MaxJobs,
		BackoffBase:    cfg.Submit.BackoffBase,
		StartDelay:     cfg.Submit.StartDelay,
		Monitor:        mt,
		Clusters:       clusters,
		Logger:         rt.logger,
		Metrics:        rt.metrics,
		Events:         rt.events,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid run configuration", err)
	}

	if r.DryRun {
		return printPlan(ctx, d, stdout)
	}

	now := time.Now().UTC()
	rec := &runregistry.RunRecord{
		RunID:         runID,
		Kind:          r.Kind,
		State:         runregistry.RunStateSubmitting,
		Basename:      r.Basename,
		Group:         r.Group,
		JobBase:       jobBase,
		StoragePrefix: storagePrefix,
		Readers:       readers,
		Project:       cfg.Batch.Project,
		PID:           hostPID(),
		CreatedAt:     now,
		StartedAt:     &now,
	}
	if err := rt.runs.Write(rec); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write run record", err)
	}

	health := &runHealth{}
	if err := rt.serve(ctx); err != nil {
		return err
	}
	if hm := handlers.GetHealthManager(); hm != nil {
		hm.RegisterChecker("run", health)
	}

	rt.logger.Info("Starting run",
		zap.String("job_base", jobBase),
		zap.String("storage_prefix", storagePrefix),
		zap.Strings("readers", readers),
		zap.Strings("queues", d.Queues()))

	stopTracking := trackRun(ctx, rt, rec, d)
	outcome, runErr := d.Run(ctx)
	stopTracking()
	health.finish(runErr)

	ended := time.Now().UTC()
	counts := outcome.Counts()
	rec.Jobs = outcome.Jobs
	rec.Counts = &counts
	rec.EndedAt = &ended
	rec.State = runState(outcome, runErr)
	if runErr != nil {
		rec.Error = runErr.Error()
	}

	var combineErr error
	if r.Kind == runregistry.RunKindFull && runErr == nil {
		// Every reading job is terminal, so the combine job needs no
		// dependencies.
		job, err := reading.Combine(ctx, rt.client, combineConfig(cfg, jobBase, readers, env, rt.logger), nil)
		if err != nil {
			combineErr = err
			rec.Error = err.Error()
			rec.State = runregistry.RunStateFailed
		} else {
			rec.CombineJobID = job.ID
		}
	}

	if err := rt.runs.Write(rec); err != nil {
		rt.logger.Warn("Failed to update run record", zap.String("run_id", runID), zap.Error(err))
	}

	writer := output.NewJSONLWriter(stdout, runID)
	defer func() { _ = writer.Close() }()
	reportOutcome(ctx, writer, rec, outcome, ended.Sub(now))

	switch {
	case runErr != nil:
		_ = writer.WriteError(ctx, errorRecord(runErr))
		if ctx.Err() != nil {
			rt.logger.Warn("Run cancelled", zap.String("job_base", jobBase))
			return exitError(foundry.ExitSignalInt, "Run cancelled", runErr)
		}
		rt.logger.Error("Run failed", zap.String("job_base", jobBase), zap.Error(runErr))
		return exitError(foundry.ExitExternalServiceUnavailable, "Run failed", runErr)
	case combineErr != nil:
		_ = writer.WriteError(ctx, errorRecord(combineErr))
		return exitError(foundry.ExitExternalServiceUnavailable, "Combine submission failed", combineErr)
	case outcome.HasFailures():
		rt.logger.Warn("Run completed with failed jobs",
			zap.String("job_base", jobBase),
			zap.Int("failed", counts.Failed),
			zap.Int("succeeded", counts.Succeeded))
		return fmt.Errorf("%d of %d jobs failed", counts.Failed, outcome.Submitted())
	}

	rt.logger.Info("Run completed",
		zap.String("job_base", jobBase),
		zap.Int("succeeded", counts.Succeeded),
		zap.Duration("duration", ended.Sub(now)))
	return nil
}

// trackRun rewrites rec with the jobs submitted so far every poll interval,
// so a concurrent combine can depend on a run in progress. The returned
// func stops tracking and waits for the last write.
func trackRun(ctx context.Context, rt *runtime, rec *runregistry.RunRecord, d *dispatch.Dispatcher) func() {
	interval := rt.cfg.Monitor.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		last := -1
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			jobs := d.Jobs()
			n := 0
			for _, js := range jobs {
				n += len(js)
			}
			state := runregistry.RunStateRunning
			if m := d.Monitor(d.Queues()[0]); m != nil && m.Submitting() {
				state = runregistry.RunStateSubmitting
			}
			if n == last && state == rec.State {
				continue
			}
			rec.Jobs, rec.State, last = jobs, state, n
			if err := rt.runs.Write(rec); err != nil {
				rt.logger.Warn("Failed to update run record", zap.Error(err))
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// printPlan writes every planned job as YAML.
func printPlan(ctx context.Context, d *dispatch.Dispatcher, stdout io.Writer) error {
	plan, err := d.PlanAll(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to plan run", err)
	}
	doc := struct {
		JobBase       string                `yaml:"job_base"`
		StoragePrefix string                `yaml:"storage_prefix"`
		Queues        []string              `yaml:"queues"`
		Jobs          []dispatch.PlannedJob `yaml:"jobs"`
	}{d.JobBase(), d.StoragePrefix(), d.Queues(), plan}

	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write plan", err)
	}
	return enc.Close()
}

func combineConfig(cfg *config.Config, jobBase string, readers []string, env []batch.KeyValue, logger *zap.Logger) reading.CombineConfig {
	rc := cfg.Reading
	return reading.CombineConfig{
		JobBase:         jobBase,
		Readers:         readers,
		Queue:           rc.CombineQueue,
		Definition:      rc.CombineJobDefinition,
		Command:         rc.CombineCommand,
		Environment:     env,
		RetryAttempts:   cfg.Batch.RetryAttempts,
		Project:         cfg.Batch.Project,
		DependencyLimit: rc.DependencyLimit,
		Memory:          rc.CombineMemory,
		VCPUs:           rc.CombineVCPUs,
		Logger:          logger,
	}
}

// usedQueues returns the configured queues carrying any of workers.
func usedQueues(queues map[string][]string, workers []string) []string {
	var out []string
	for q, ws := range queues {
		if slices.ContainsFunc(workers, func(w string) bool { return slices.Contains(ws, w) }) {
			out = append(out, q)
		}
	}
	sort.Strings(out)
	return out
}

func runState(o *dispatch.Outcome, err error) runregistry.RunState {
	switch {
	case err != nil:
		return runregistry.RunStateAborted
	case o.HasFailures():
		return runregistry.RunStateFailed
	default:
		return runregistry.RunStateSucceeded
	}
}

// reportOutcome writes one record per finished job, one per queue and the
// summary.
func reportOutcome(ctx context.Context, w output.Writer, rec *runregistry.RunRecord, o *dispatch.Outcome, elapsed time.Duration) {
	sum := &output.SummaryRecord{
		JobBase:       rec.JobBase,
		Submitted:     o.Submitted(),
		Duration:      elapsed,
		DurationHuman: elapsed.Round(time.Second).String(),
		CombineJobID:  rec.CombineJobID,
	}

	queues := make([]string, 0, len(o.Jobs))
	for q := range o.Jobs {
		queues = append(queues, q)
	}
	for q := range o.Results {
		if _, ok := o.Jobs[q]; !ok {
			queues = append(queues, q)
		}
	}
	sort.Strings(queues)
	sum.Queues = queues

	for _, q := range queues {
		res := o.Results[q]
		qr := &output.QueueRecord{Queue: q, Submitted: len(o.Jobs[q])}
		if res != nil {
			for _, j := range res.Failed {
				_ = w.WriteJob(ctx, &output.JobRecord{JobID: j.ID, JobName: j.Name, Queue: q, Status: string(batch.StatusFailed), Terminated: res.WasTerminated(j.ID)})
			}
			for _, j := range res.Succeeded {
				_ = w.WriteJob(ctx, &output.JobRecord{JobID: j.ID, JobName: j.Name, Queue: q, Status: string(batch.StatusSucceeded)})
			}
			qr.Failed = len(res.Failed)
			qr.Succeeded = len(res.Succeeded)
			qr.Terminated = res.Terminated
		}
		sum.Failed += qr.Failed
		sum.Succeeded += qr.Succeeded
		sum.Terminated += len(qr.Terminated)
		_ = w.WriteQueue(ctx, qr)
	}
	_ = w.WriteSummary(ctx, sum)
}

// errorRecord classifies err for JSONL output.
func errorRecord(err error) *output.ErrorRecord {
	rec := &output.ErrorRecord{Code: output.ErrCodeInternal, Message: err.Error()}

	var be *batch.Error
	if errors.As(err, &be) {
		rec.Queue = be.Queue
		rec.JobID = be.JobID
	}
	var dle *reading.DependencyLimitError
	switch {
	case errors.Is(err, batch.ErrAccessDenied), errors.Is(err, batch.ErrInvalidCredentials):
		rec.Code = output.ErrCodeAccessDenied
	case errors.Is(err, batch.ErrNotFound):
		rec.Code = output.ErrCodeNotFound
	case errors.Is(err, batch.ErrThrottled):
		rec.Code = output.ErrCodeThrottled
	case errors.As(err, &dle), errors.Is(err, batch.ErrInvalidRequest):
		rec.Code = output.ErrCodeConfig
	case errors.Is(err, context.Canceled):
		rec.Code = output.ErrCodeAborted
	}
	var re *dispatch.RunError
	if errors.As(err, &re) {
		rec.Details = map[string]any{"killed": re.Killed}
		if rec.Code == output.ErrCodeInternal {
			rec.Code = output.ErrCodeAborted
		}
	}
	return rec
}

// runHealth reports the run as unhealthy once it has been aborted.
type runHealth struct {
	failed atomic.Pointer[error]
}

func (h *runHealth) finish(err error) {
	if err != nil {
		h.failed.Store(&err)
	}
}

// CheckHealth implements handlers.Checker.
func (h *runHealth) CheckHealth(context.Context) error {
	if p := h.failed.Load(); p != nil {
		return *p
	}
	return nil
}
