// Package monitor drives the jobs of one queue to a terminal state.
//
// A Monitor polls the batch service, follows the log of every running job,
// flags jobs whose logs have gone quiet for too long (optionally
// terminating them), stashes logs as it goes and, once the run concludes,
// writes one labeled log artifact per job.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/batchfan/pkg/batch"
	"github.com/3leaps/batchfan/pkg/events"
	"github.com/3leaps/batchfan/pkg/joblog"
	"github.com/3leaps/batchfan/pkg/metrics"
	"github.com/3leaps/batchfan/pkg/stash"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultDumpSize     = 10000
	DefaultListRetries  = 3
)

// ClusterTagger tags the hosts of a container cluster.
type ClusterTagger interface {
	TagCluster(ctx context.Context, cluster string) ([]string, error)
}

// Config configures a Monitor.
type Config struct {
	// Queue is the job queue to watch (required).
	Queue string

	// JobBase restricts the monitor to jobs whose name starts with it.
	JobBase string

	// Scope selects closed-world or open-world conclusion.
	Scope Scope

	// AllowUnscoped permits an open-world monitor with no JobBase, which
	// answers for every job on the queue.
	AllowUnscoped bool

	PollInterval time.Duration

	// IdleLogTimeout is how long a running job's log may stay silent before
	// the job counts as stalled. Zero disables stall detection.
	IdleLogTimeout time.Duration

	// KillOnStall terminates stalled jobs.
	KillOnStall bool

	// WaitForFirstJob defers conclusion until a job has been seen pre-run
	// or running.
	WaitForFirstJob bool

	Stash   stash.Method
	LogBase string

	// DumpSize stashes a job's buffer early once it holds this many lines.
	DumpSize int

	// ListRetries is how many consecutive failed listing cycles are
	// tolerated before the run fails.
	ListRetries int

	// Tagger, when set, tags the hosts of Cluster every cycle.
	Tagger  ClusterTagger
	Cluster string

	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Events  events.Publisher

	// Now overrides the clock.
	Now func() time.Time
}

// Monitor watches one queue. Run may be called once.
type Monitor struct {
	cfg     Config
	client  batch.Client
	fetcher joblog.Fetcher
	sink    stash.Sink
	logger  *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	started    atomic.Bool
	submitting atomic.Bool

	logs       map[string]*joblog.Log
	logOrder   []string
	observed   map[string]string
	terminated map[string]struct{}
	// attempted holds every id a terminate was requested for, including
	// rejected requests; each id is asked at most once.
	attempted map[string]struct{}
}

// New creates a Monitor. fetcher may be nil, which disables log following,
// stall detection and stashing. sink is required when cfg.Stash is enabled.
func New(client batch.Client, fetcher joblog.Fetcher, sink stash.Sink, cfg Config) (*Monitor, error) {
	if client == nil {
		return nil, &ConfigError{Field: "client", Message: "batch client is required"}
	}
	if cfg.Queue == "" {
		return nil, &ConfigError{Field: "queue", Message: "queue is required"}
	}
	if !cfg.Scope.IsClosed() && cfg.JobBase == "" && !cfg.AllowUnscoped {
		return nil, &ConfigError{
			Field:   "job_base",
			Message: "an open-world monitor needs a job name prefix; watch all jobs on the queue explicitly to proceed without one",
		}
	}
	if cfg.Stash.Enabled() {
		if cfg.LogBase == "" {
			return nil, &ConfigError{Field: "log_base", Message: "log base is required to stash logs"}
		}
		if sink == nil {
			return nil, &ConfigError{Field: "stash", Message: "stash sink is required"}
		}
	}
	if cfg.Tagger != nil && cfg.Cluster == "" {
		return nil, &ConfigError{Field: "cluster", Message: "cluster is required to tag instances"}
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.DumpSize <= 0 {
		cfg.DumpSize = DefaultDumpSize
	}
	if cfg.ListRetries <= 0 {
		cfg.ListRetries = DefaultListRetries
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.KillOnStall && cfg.IdleLogTimeout <= 0 {
		cfg.Logger.Warn("kill on stall has no effect without an idle log timeout", zap.String("queue", cfg.Queue))
	}

	return &Monitor{
		cfg:        cfg,
		client:     client,
		fetcher:    fetcher,
		sink:       sink,
		logger:     cfg.Logger.With(zap.String("queue", cfg.Queue)),
		now:        cfg.Now,
		sleep:      sleepCtx,
		logs:       make(map[string]*joblog.Log),
		observed:   make(map[string]string),
		terminated: make(map[string]struct{}),
		attempted:  make(map[string]struct{}),
	}, nil
}

// Queue returns the watched queue.
func (m *Monitor) Queue() string {
	return m.cfg.Queue
}

// SetSubmitting tells the monitor whether more jobs may still be submitted
// to its queue. A submitting monitor never concludes.
func (m *Monitor) SetSubmitting(v bool) {
	if m.submitting.Swap(v) != v {
		m.logger.Info("submission status changed", zap.Bool("submitting", v))
	}
}

// Submitting reports the value last set by SetSubmitting.
func (m *Monitor) Submitting() bool {
	return m.submitting.Load()
}

// Snapshot lists the monitor's jobs once and returns their counts without
// touching any run state.
func (m *Monitor) Snapshot(ctx context.Context) (batch.Counts, error) {
	c, err := m.list(ctx)
	if err != nil {
		return batch.Counts{}, err
	}
	return c.counts(), nil
}

// Run polls until the run concludes and returns its Result. It returns the
// context error if ctx is cancelled first, and an error if listing keeps
// failing for more than ListRetries consecutive cycles.
func (m *Monitor) Run(ctx context.Context) (*Result, error) {
	if !m.started.CompareAndSwap(false, true) {
		return nil, errors.New("monitor: Run called more than once")
	}

	start := m.now()
	m.logger.Info("watching queue",
		zap.String("job_base", m.cfg.JobBase),
		zap.Bool("closed_world", m.cfg.Scope.IsClosed()),
		zap.Duration("poll_interval", m.cfg.PollInterval),
		zap.Duration("idle_log_timeout", m.cfg.IdleLogTimeout),
		zap.Bool("kill_on_stall", m.cfg.KillOnStall),
		zap.String("stash", string(m.cfg.Stash)))

	var (
		last         *cycle
		found        bool
		listFailures int
	)
	for {
		// Read before listing: ids appended before submission stopped are
		// then guaranteed to be in this cycle's snapshot.
		submitting := m.submitting.Load()

		c, err := m.list(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			listFailures++
			if listFailures > m.cfg.ListRetries {
				return nil, fmt.Errorf("list jobs on queue %s: %w", m.cfg.Queue, err)
			}
			m.logger.Warn("listing jobs failed", zap.Int("attempt", listFailures), zap.Error(err))
			if err := m.sleep(ctx, m.cfg.PollInterval); err != nil {
				return nil, err
			}
			continue
		}
		listFailures = 0
		last = c

		// Closed-world terminal jobs are ours by construction, so a job that
		// finished between polls still counts as found.
		if len(c.preRun)+len(c.running) > 0 ||
			(m.cfg.Scope.IsClosed() && len(c.failed)+len(c.succeeded) > 0) {
			found = true
		}
		for _, j := range c.preRun {
			m.observed[j.ID] = j.Name
		}
		for _, j := range c.running {
			m.observed[j.ID] = j.Name
		}

		counts := c.counts()
		m.cfg.Metrics.Observe(m.cfg.Queue, counts)
		m.logger.Info("poll",
			zap.Duration("elapsed", m.now().Sub(start).Round(time.Second)),
			zap.Int("tracking", len(c.tracked)),
			zap.Int("pre_run", counts.PreRun),
			zap.Int("running", counts.Running),
			zap.Int("failed", counts.Failed),
			zap.Int("succeeded", counts.Succeeded))

		stalled := m.checkLogs(ctx, c.running, m.now())
		m.terminateStalled(ctx, stalled)

		if m.concluded(c, found, submitting) {
			break
		}

		m.tagInstances(ctx)

		// Jobs terminated this cycle are picked up by the next one.
		m.stashInterim(ctx)

		if err := m.sleep(ctx, m.cfg.PollInterval); err != nil {
			return nil, err
		}
	}

	m.stashFinal(ctx, last)
	res := m.result(last)
	m.publish(ctx, events.Event{Kind: events.KindConcluded, Queue: m.cfg.Queue, Counts: &batch.Counts{
		Failed:    len(res.Failed),
		Succeeded: len(res.Succeeded),
	}})
	m.logger.Info("run concluded",
		zap.Int("terminated", len(res.Terminated)),
		zap.Int("failed", len(res.Failed)),
		zap.Int("succeeded", len(res.Succeeded)))
	return res, nil
}

// concluded evaluates the exit condition for one cycle.
func (m *Monitor) concluded(c *cycle, found, submitting bool) bool {
	closed := m.cfg.Scope.IsClosed()
	if closed && !submitting && len(c.tracked) == 0 {
		m.logger.Info("no jobs to track")
		return true
	}
	if m.cfg.WaitForFirstJob && !found {
		return false
	}
	if submitting {
		m.logger.Debug("submission in progress")
		return false
	}

	if closed {
		terminal := make(map[string]struct{}, len(c.failed)+len(c.succeeded))
		for _, j := range c.failed {
			terminal[j.ID] = struct{}{}
		}
		for _, j := range c.succeeded {
			terminal[j.ID] = struct{}{}
		}
		for id := range c.tracked {
			if _, ok := terminal[id]; !ok {
				return false
			}
		}
		m.logger.Info("every tracked job is terminal")
		return true
	}

	if len(c.failed)+len(c.succeeded) > 0 && len(c.preRun)+len(c.running) == 0 {
		m.logger.Info("finished jobs and nothing pre-run or running")
		return true
	}
	return false
}

// checkLogs follows the logs of running jobs and returns the ids of jobs
// that are stalled as of now.
func (m *Monitor) checkLogs(ctx context.Context, running []batch.JobSummary, now time.Time) []string {
	if m.fetcher == nil {
		return nil
	}
	var stalled []string
	for _, j := range running {
		isStalled, err := m.checkLog(ctx, j, now)
		if err != nil {
			m.observationFailed(err)
			continue
		}
		if isStalled {
			stalled = append(stalled, j.ID)
		}
	}
	return stalled
}

func (m *Monitor) checkLog(ctx context.Context, j batch.JobSummary, now time.Time) (bool, error) {
	l, ok := m.logs[j.ID]
	if !ok {
		m.logger.Info("following job log", zap.String("job_id", j.ID), zap.String("job_name", j.Name))
		l = joblog.New(j.ID, j.Name, now)
		m.logs[j.ID] = l
		m.logOrder = append(m.logOrder, j.ID)
	}

	n, err := l.Fetch(ctx, m.fetcher, now)
	if err != nil {
		return false, &ObservationError{Queue: m.cfg.Queue, JobID: j.ID, Op: "fetch log", Err: err}
	}

	stalled := false
	if n == 0 && l.HasOutput() {
		idle := l.Idle(now)
		if m.cfg.IdleLogTimeout > 0 && idle > m.cfg.IdleLogTimeout {
			m.logger.Warn("job has stalled",
				zap.String("job_id", j.ID),
				zap.String("job_name", j.Name),
				zap.Duration("idle", idle))
			m.cfg.Metrics.Stalled(m.cfg.Queue)
			m.publish(ctx, events.Event{Kind: events.KindStalled, Queue: m.cfg.Queue, JobID: j.ID, JobName: j.Name})
			stalled = true
		} else {
			m.logger.Debug("job has not produced output",
				zap.String("job_name", j.Name),
				zap.Duration("idle", idle))
		}
	}

	if m.cfg.Stash.Enabled() && l.Len() >= m.cfg.DumpSize {
		if err := m.dumpInterim(ctx, l); err != nil {
			return stalled, err
		}
	}
	return stalled, nil
}

func (m *Monitor) terminateStalled(ctx context.Context, stalled []string) {
	if !m.cfg.KillOnStall || m.cfg.IdleLogTimeout <= 0 {
		return
	}
	reason := fmt.Sprintf("Job log has stalled for at least %.2f minutes.", m.cfg.IdleLogTimeout.Minutes())
	for _, id := range stalled {
		if _, done := m.attempted[id]; done {
			continue
		}
		m.attempted[id] = struct{}{}
		if err := m.client.TerminateJob(ctx, id, reason); err != nil {
			m.observationFailed(&ObservationError{Queue: m.cfg.Queue, JobID: id, Op: "terminate", Err: err})
			continue
		}
		m.terminated[id] = struct{}{}
		m.logger.Info("terminated stalled job", zap.String("job_id", id))
		m.cfg.Metrics.Terminated(m.cfg.Queue, "stall")
		m.publish(ctx, events.Event{Kind: events.KindTerminated, Queue: m.cfg.Queue, JobID: id, Reason: reason})
	}
}

func (m *Monitor) tagInstances(ctx context.Context) {
	if m.cfg.Tagger == nil {
		return
	}
	if _, err := m.cfg.Tagger.TagCluster(ctx, m.cfg.Cluster); err != nil {
		m.logger.Warn("tagging instances failed", zap.String("cluster", m.cfg.Cluster), zap.Error(err))
	}
}

func (m *Monitor) observationFailed(err error) {
	m.cfg.Metrics.ObservationError(m.cfg.Queue)
	m.logger.Error("observation failed", zap.Error(err))
}

func (m *Monitor) publish(ctx context.Context, ev events.Event) {
	if ev.Time.IsZero() {
		ev.Time = m.now().UTC()
	}
	if err := m.cfg.Events.Publish(ctx, ev); err != nil {
		m.logger.Warn("publishing event failed", zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}

func (m *Monitor) result(last *cycle) *Result {
	res := &Result{
		Queue:      m.cfg.Queue,
		Terminated: make([]string, 0, len(m.terminated)),
		Observed:   make(map[string]string, len(m.observed)),
	}
	for id := range m.terminated {
		res.Terminated = append(res.Terminated, id)
	}
	sort.Strings(res.Terminated)
	for id, name := range m.observed {
		res.Observed[id] = name
	}
	if last != nil {
		res.Failed = m.jobs(last.failed)
		res.Succeeded = m.jobs(last.succeeded)
	}
	return res
}

func (m *Monitor) jobs(summaries []batch.JobSummary) []batch.Job {
	seen := make(map[string]bool, len(summaries))
	out := make([]batch.Job, 0, len(summaries))
	for _, s := range summaries {
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		out = append(out, batch.Job{ID: s.ID, Name: s.Name, Queue: m.cfg.Queue})
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
