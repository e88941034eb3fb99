// Package batch defines the client-side abstractions for a managed batch
// compute service: jobs, their remote states, and the operations the
// orchestration engine consumes.
//
// The engine only ever talks to the interfaces declared here. The AWS Batch
// implementation lives in package awsbatch; tests use in-memory fakes.
package batch

import (
	"context"
)

// Job identifies a submitted remote job.
//
// A Job is created on successful submission and never mutated afterwards.
type Job struct {
	ID    string `json:"job_id"`
	Name  string `json:"job_name"`
	Queue string `json:"queue"`
}

// JobSummary is a single row returned by ListJobs.
type JobSummary struct {
	ID     string
	Name   string
	Status Status
}

// KeyValue is a container environment entry.
type KeyValue struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// SubmitRequest describes one job submission.
type SubmitRequest struct {
	Name          string
	Queue         string
	Definition    string
	Command       []string
	Environment   []KeyValue
	RetryAttempts int

	// TimeoutSeconds overrides the job definition's attempt duration when > 0.
	TimeoutSeconds int

	// DependsOn lists job ids that must finish before this job starts.
	DependsOn []string

	// Memory (MiB) and VCPUs override the job definition when > 0.
	Memory int
	VCPUs  int

	// Tags are attached to the job and propagated to its tasks.
	Tags map[string]string
}

// Client is the subset of the remote batch service used for dispatching and
// monitoring.
//
// Implementations must be safe for concurrent use.
type Client interface {
	// ListJobs returns the jobs on queue currently in the given status.
	ListJobs(ctx context.Context, queue string, status Status) ([]JobSummary, error)

	// SubmitJob submits a single job and returns its identity.
	SubmitJob(ctx context.Context, req SubmitRequest) (*Job, error)

	// TerminateJob requests termination of a job.
	TerminateJob(ctx context.Context, jobID, reason string) error
}

// JobQueue is the subset of a job queue description needed to locate the
// compute environment backing it.
type JobQueue struct {
	Name                string
	ComputeEnvironments []string
}

// ComputeEnvironment is the subset of a compute environment description
// needed to locate its container cluster.
type ComputeEnvironment struct {
	Name       string
	ClusterARN string
}

// QueueDescriber resolves queues to compute environments and clusters.
type QueueDescriber interface {
	DescribeJobQueue(ctx context.Context, name string) (*JobQueue, error)
	DescribeComputeEnvironment(ctx context.Context, ref string) (*ComputeEnvironment, error)
}
