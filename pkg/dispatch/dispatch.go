// Package dispatch decomposes a run into remote jobs, submits them under a
// rate limit and an in-flight cap, and watches every queue it used until
// the run concludes.
package dispatch

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/batchfan/pkg/batch"
	"github.com/3leaps/batchfan/pkg/events"
	"github.com/3leaps/batchfan/pkg/joblog"
	"github.com/3leaps/batchfan/pkg/metrics"
	"github.com/3leaps/batchfan/pkg/monitor"
	"github.com/3leaps/batchfan/pkg/stash"
)

const (
	DefaultBackoffBase   = 10 * time.Second
	DefaultStartDelay    = time.Second
	DefaultRetryAttempts = 1
	DefaultKillTimeout   = 2 * time.Minute
)

// Job names may only use these characters.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Config configures a Dispatcher.
type Config struct {
	// Class names the kind of run and roots its storage prefix.
	Class string

	// Basename identifies the run; Group optionally nests it.
	Basename string
	Group    string

	// Workers is the selected worker types.
	Workers []string

	// Queues maps each job queue to the worker types it carries.
	Queues map[string][]string

	// Definitions maps each job definition to the worker types it runs.
	Definitions map[string][]string

	// Project is attached to every job as the "project" tag.
	Project string

	// TimeoutSeconds overrides the attempt duration of every job when > 0.
	TimeoutSeconds int

	RetryAttempts int
	Environment   []batch.KeyValue

	// Stagger is the minimum delay between submissions.
	Stagger time.Duration

	// MaxInFlight caps pre-run plus running jobs of this run. Zero disables.
	MaxInFlight int
	BackoffBase time.Duration

	// StartDelay lets the first submissions register before watching.
	StartDelay  time.Duration
	KillTimeout time.Duration

	// Monitor is the template for each queue's monitor. Queue, JobBase and
	// Scope are filled in per queue; LogBase defaults to the storage prefix.
	Monitor monitor.Config

	// Clusters maps each queue to its container cluster, used when the
	// monitor template carries a Tagger.
	Clusters map[string]string

	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Events  events.Publisher
}

// ConfigError reports an invalid dispatcher configuration.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "dispatch config: " + e.Field + ": " + e.Message
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Basename == "" {
		return &ConfigError{Field: "basename", Message: "basename is required"}
	}
	if !namePattern.MatchString(c.Basename) {
		return &ConfigError{Field: "basename", Message: fmt.Sprintf("%q may only contain letters, digits, '-' and '_'", c.Basename)}
	}
	if c.Group != "" && !namePattern.MatchString(c.Group) {
		return &ConfigError{Field: "group", Message: fmt.Sprintf("%q may only contain letters, digits, '-' and '_'", c.Group)}
	}
	if len(c.Workers) == 0 {
		return &ConfigError{Field: "workers", Message: "at least one worker type must be selected"}
	}
	if len(c.Queues) == 0 {
		return &ConfigError{Field: "queues", Message: "no job queues configured"}
	}
	if len(c.Definitions) == 0 {
		return &ConfigError{Field: "job_definitions", Message: "no job definitions configured"}
	}
	if c.TimeoutSeconds < 0 || c.MaxInFlight < 0 || c.RetryAttempts < 0 {
		return &ConfigError{Field: "limits", Message: "timeout, max in-flight jobs and retry attempts must not be negative"}
	}
	return nil
}

// Prefixes returns the storage prefix and job name prefix of a run.
//
// The storage prefix is <class>/<basename>/[<group>/] and always ends in
// "/". The job base is <basename>[_<group>].
func Prefixes(class, basename, group string) (storage, jobBase string) {
	storage = basename + "/"
	jobBase = basename
	if class != "" {
		storage = class + "/" + storage
	}
	if group != "" {
		storage += group + "/"
		jobBase += "_" + group
	}
	return storage, jobBase
}

// Dispatcher owns one run.
type Dispatcher struct {
	cfg      Config
	client   batch.Client
	workload Workload
	logger   *zap.Logger

	storagePrefix string
	jobBase       string

	queues   []string
	lists    map[string]*JobList
	monitors map[string]*monitor.Monitor

	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a Dispatcher. One monitor is created for every queue that
// carries at least one selected worker type.
func New(client batch.Client, fetcher joblog.Fetcher, sink stash.Sink, w Workload, cfg Config) (*Dispatcher, error) {
	if client == nil {
		return nil, &ConfigError{Field: "client", Message: "batch client is required"}
	}
	if w == nil {
		return nil, &ConfigError{Field: "workload", Message: "workload is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.StartDelay < 0 {
		cfg.StartDelay = 0
	} else if cfg.StartDelay == 0 {
		cfg.StartDelay = DefaultStartDelay
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = DefaultKillTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}

	d := &Dispatcher{
		cfg:      cfg,
		client:   client,
		workload: w,
		logger:   cfg.Logger,
		lists:    make(map[string]*JobList),
		monitors: make(map[string]*monitor.Monitor),
		sleep:    sleepCtx,
	}
	d.storagePrefix, d.jobBase = Prefixes(cfg.Class, cfg.Basename, cfg.Group)
	if cfg.Stagger > 0 {
		d.limiter = rate.NewLimiter(rate.Every(cfg.Stagger), 1)
	}

	for _, q := range sortedKeys(cfg.Queues) {
		if !slices.ContainsFunc(cfg.Workers, func(w string) bool { return slices.Contains(cfg.Queues[q], w) }) {
			d.logger.Info("queue not used, no selected worker types", zap.String("queue", q))
			continue
		}
		list := &JobList{}
		mc := cfg.Monitor
		mc.Queue = q
		mc.JobBase = d.jobBase
		mc.Scope = monitor.Closed(list)
		mc.WaitForFirstJob = true
		if mc.LogBase == "" {
			mc.LogBase = d.storagePrefix
		}
		if mc.Tagger != nil && mc.Cluster == "" {
			mc.Cluster = cfg.Clusters[q]
		}
		if mc.Logger == nil {
			mc.Logger = cfg.Logger
		}
		if mc.Metrics == nil {
			mc.Metrics = cfg.Metrics
		}
		if mc.Events == nil {
			mc.Events = cfg.Events
		}
		m, err := monitor.New(client, fetcher, sink, mc)
		if err != nil {
			return nil, err
		}
		d.queues = append(d.queues, q)
		d.lists[q] = list
		d.monitors[q] = m
	}
	if len(d.queues) == 0 {
		return nil, &ConfigError{Field: "workers", Message: fmt.Sprintf("no configured queue carries any of %v", cfg.Workers)}
	}
	return d, nil
}

// JobBase returns the prefix of every job name in the run.
func (d *Dispatcher) JobBase() string { return d.jobBase }

// StoragePrefix returns the run's object storage prefix.
func (d *Dispatcher) StoragePrefix() string { return d.storagePrefix }

// Queues returns the queues in use, sorted.
func (d *Dispatcher) Queues() []string { return slices.Clone(d.queues) }

// Monitor returns the monitor of queue, or nil.
func (d *Dispatcher) Monitor(queue string) *monitor.Monitor { return d.monitors[queue] }

// Jobs returns the jobs submitted so far, by queue.
func (d *Dispatcher) Jobs() map[string][]batch.Job {
	out := make(map[string][]batch.Job, len(d.lists))
	for q, l := range d.lists {
		out[q] = l.Jobs()
	}
	return out
}

// Counts returns this run's job counts summed over every queue in use.
func (d *Dispatcher) Counts(ctx context.Context) (batch.Counts, error) {
	var total batch.Counts
	for _, q := range d.queues {
		c, err := d.monitors[q].Snapshot(ctx)
		if err != nil {
			return batch.Counts{}, fmt.Errorf("count jobs on %s: %w", q, err)
		}
		total = total.Add(c)
	}
	return total, nil
}

func (d *Dispatcher) setSubmitting(v bool) {
	d.logger.Info("telling monitors submission status", zap.Bool("submitting", v))
	for _, q := range d.queues {
		d.monitors[q].SetSubmitting(v)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
