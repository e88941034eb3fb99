package reading

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/batchfan/pkg/batch"
)

// CombineConfig configures the follow-up job that merges a run's outputs.
type CombineConfig struct {
	JobBase    string
	Readers    []string
	Queue      string
	Definition string

	// Command overrides DefaultCombineCommand.
	Command []string

	Environment   []batch.KeyValue
	RetryAttempts int
	Project       string

	// DependencyLimit is the most job ids the job may depend on.
	DependencyLimit int

	// Memory (MiB) and VCPUs override the job definition.
	Memory int
	VCPUs  int

	Logger *zap.Logger
}

func (c *CombineConfig) setDefaults() {
	if c.Queue == "" {
		c.Queue = DefaultQueue
	}
	if c.Definition == "" {
		c.Definition = DefaultCombineJobDef
	}
	if len(c.Command) == 0 {
		c.Command = DefaultCombineCommand
	}
	if c.DependencyLimit <= 0 {
		c.DependencyLimit = DefaultDependencyLimit
	}
	if c.Memory <= 0 {
		c.Memory = DefaultCombineMemory
	}
	if c.VCPUs <= 0 {
		c.VCPUs = DefaultCombineVCPUs
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// DependencyLimitError reports a combine job that would depend on more jobs
// than the batch service allows.
type DependencyLimitError struct {
	Count int
	Limit int
}

// Error implements the error interface.
func (e *DependencyLimitError) Error() string {
	return fmt.Sprintf("combine job cannot depend on %d jobs (limit %d); wait for the reading jobs to finish, then run combine on its own", e.Count, e.Limit)
}

// CombineJobName returns the name of the combine job of a run.
func CombineJobName(jobBase string) string {
	return jobBase + "_combine_reading_results"
}

// CombineRequest builds the combine job submission depending on jobIDs.
// More ids than the dependency limit yield a *DependencyLimitError.
func CombineRequest(cfg CombineConfig, jobIDs []string) (batch.SubmitRequest, error) {
	cfg.setDefaults()
	if cfg.JobBase == "" {
		return batch.SubmitRequest{}, &ConfigError{Field: "job_base", Message: "job base is required"}
	}
	if len(cfg.Readers) == 0 {
		return batch.SubmitRequest{}, &ConfigError{Field: "readers", Message: "at least one reader must be selected"}
	}
	if len(jobIDs) > cfg.DependencyLimit {
		return batch.SubmitRequest{}, &DependencyLimitError{Count: len(jobIDs), Limit: cfg.DependencyLimit}
	}

	name := CombineJobName(cfg.JobBase)
	cmd := Expand(cfg.Command, Vars{JobBase: cfg.JobBase, JobName: name})
	cmd = append(cmd, "-r")
	cmd = append(cmd, cfg.Readers...)

	req := batch.SubmitRequest{
		Name:          name,
		Queue:         cfg.Queue,
		Definition:    cfg.Definition,
		Command:       cmd,
		Environment:   cfg.Environment,
		RetryAttempts: cfg.RetryAttempts,
		Memory:        cfg.Memory,
		VCPUs:         cfg.VCPUs,
		Tags:          map[string]string{"purpose": Purpose},
	}
	if len(jobIDs) > 0 {
		req.DependsOn = append([]string(nil), jobIDs...)
	}
	if cfg.Project != "" {
		req.Tags["project"] = cfg.Project
	}
	return req, nil
}

// Combine submits the combine job, to start once every job in jobIDs has
// finished.
func Combine(ctx context.Context, client batch.Client, cfg CombineConfig, jobIDs []string) (*batch.Job, error) {
	req, err := CombineRequest(cfg, jobIDs)
	if err != nil {
		return nil, err
	}
	job, err := client.SubmitJob(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("submit combine job: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("submitted combine job",
		zap.String("job_id", job.ID),
		zap.String("job_name", job.Name),
		zap.Int("depends_on", len(req.DependsOn)))
	return job, nil
}
