// Package awsbatch implements the batch client abstractions on AWS Batch,
// with CloudWatch Logs for job output and ECS/EC2 for instance tagging.
package awsbatch

import (
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	batchsvc "github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"
	"go.uber.org/zap"

	"github.com/3leaps/batchfan/pkg/awsconf"
	"github.com/3leaps/batchfan/pkg/batch"
)

// batchAPI is the subset of *batch.Client used here.
type batchAPI interface {
	ListJobs(ctx context.Context, in *batchsvc.ListJobsInput, optFns ...func(*batchsvc.Options)) (*batchsvc.ListJobsOutput, error)
	SubmitJob(ctx context.Context, in *batchsvc.SubmitJobInput, optFns ...func(*batchsvc.Options)) (*batchsvc.SubmitJobOutput, error)
	TerminateJob(ctx context.Context, in *batchsvc.TerminateJobInput, optFns ...func(*batchsvc.Options)) (*batchsvc.TerminateJobOutput, error)
	DescribeJobs(ctx context.Context, in *batchsvc.DescribeJobsInput, optFns ...func(*batchsvc.Options)) (*batchsvc.DescribeJobsOutput, error)
	DescribeJobQueues(ctx context.Context, in *batchsvc.DescribeJobQueuesInput, optFns ...func(*batchsvc.Options)) (*batchsvc.DescribeJobQueuesOutput, error)
	DescribeComputeEnvironments(ctx context.Context, in *batchsvc.DescribeComputeEnvironmentsInput, optFns ...func(*batchsvc.Options)) (*batchsvc.DescribeComputeEnvironmentsOutput, error)
}

// Client implements batch.Client and batch.QueueDescriber on AWS Batch.
type Client struct {
	api    batchAPI
	logger *zap.Logger
}

var (
	_ batch.Client         = (*Client)(nil)
	_ batch.QueueDescriber = (*Client)(nil)
)

// New creates a Client from an already loaded AWS configuration.
func New(cfg aws.Config, endpoint string, logger *zap.Logger) *Client {
	api := batchsvc.NewFromConfig(cfg, func(o *batchsvc.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return newClient(api, logger)
}

// NewFromConfig loads AWS configuration and creates a Client.
func NewFromConfig(ctx context.Context, cfg awsconf.Config, logger *zap.Logger) (*Client, error) {
	awsCfg, err := awsconf.Load(ctx, cfg)
	if err != nil {
		return nil, &batch.Error{Op: "New", Err: err}
	}
	return New(awsCfg, cfg.Endpoint, logger), nil
}

func newClient(api batchAPI, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{api: api, logger: logger}
}

// ListJobs returns every job on queue in the given status, following pages.
func (c *Client) ListJobs(ctx context.Context, queue string, status batch.Status) ([]batch.JobSummary, error) {
	p := batchsvc.NewListJobsPaginator(c.api, &batchsvc.ListJobsInput{
		JobQueue:  aws.String(queue),
		JobStatus: types.JobStatus(status),
	})

	var out []batch.JobSummary
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, wrapError("ListJobs", queue, "", err)
		}
		for _, j := range page.JobSummaryList {
			st := batch.Status(j.Status)
			if st == "" {
				st = status
			}
			out = append(out, batch.JobSummary{
				ID:     aws.ToString(j.JobId),
				Name:   aws.ToString(j.JobName),
				Status: st,
			})
		}
	}
	return out, nil
}

// SubmitJob submits one job.
func (c *Client) SubmitJob(ctx context.Context, req batch.SubmitRequest) (*batch.Job, error) {
	in := &batchsvc.SubmitJobInput{
		JobName:       aws.String(req.Name),
		JobQueue:      aws.String(req.Queue),
		JobDefinition: aws.String(req.Definition),
	}

	overrides := &types.ContainerOverrides{Command: req.Command}
	for _, kv := range req.Environment {
		overrides.Environment = append(overrides.Environment, types.KeyValuePair{
			Name:  aws.String(kv.Name),
			Value: aws.String(kv.Value),
		})
	}
	if req.Memory > 0 {
		overrides.ResourceRequirements = append(overrides.ResourceRequirements, types.ResourceRequirement{
			Type:  types.ResourceTypeMemory,
			Value: aws.String(fmt.Sprint(req.Memory)),
		})
	}
	if req.VCPUs > 0 {
		overrides.ResourceRequirements = append(overrides.ResourceRequirements, types.ResourceRequirement{
			Type:  types.ResourceTypeVcpu,
			Value: aws.String(fmt.Sprint(req.VCPUs)),
		})
	}
	in.ContainerOverrides = overrides

	if req.RetryAttempts > 0 {
		in.RetryStrategy = &types.RetryStrategy{Attempts: aws.Int32(int32(req.RetryAttempts))}
	}
	if req.TimeoutSeconds > 0 {
		in.Timeout = &types.JobTimeout{AttemptDurationSeconds: aws.Int32(int32(req.TimeoutSeconds))}
	}
	for _, id := range req.DependsOn {
		in.DependsOn = append(in.DependsOn, types.JobDependency{JobId: aws.String(id)})
	}
	if len(req.Tags) > 0 {
		in.Tags = req.Tags
		in.PropagateTags = aws.Bool(true)
	}

	out, err := c.api.SubmitJob(ctx, in)
	if err != nil {
		return nil, wrapError("SubmitJob", req.Queue, "", err)
	}

	job := &batch.Job{
		ID:    aws.ToString(out.JobId),
		Name:  aws.ToString(out.JobName),
		Queue: req.Queue,
	}
	if job.Name == "" {
		job.Name = req.Name
	}
	c.logger.Debug("submitted job",
		zap.String("job_id", job.ID),
		zap.String("job_name", job.Name),
		zap.String("queue", req.Queue))
	return job, nil
}

// TerminateJob requests termination of a job.
func (c *Client) TerminateJob(ctx context.Context, jobID, reason string) error {
	_, err := c.api.TerminateJob(ctx, &batchsvc.TerminateJobInput{
		JobId:  aws.String(jobID),
		Reason: aws.String(reason),
	})
	if err != nil {
		return wrapError("TerminateJob", "", jobID, err)
	}
	return nil
}

// DescribeJobQueue returns the compute environments behind a queue.
func (c *Client) DescribeJobQueue(ctx context.Context, name string) (*batch.JobQueue, error) {
	out, err := c.api.DescribeJobQueues(ctx, &batchsvc.DescribeJobQueuesInput{JobQueues: []string{name}})
	if err != nil {
		return nil, wrapError("DescribeJobQueues", name, "", err)
	}
	if len(out.JobQueues) != 1 {
		return nil, &batch.Error{
			Op:    "DescribeJobQueues",
			Queue: name,
			Err:   fmt.Errorf("%w: found %d queues", batch.ErrAmbiguous, len(out.JobQueues)),
		}
	}

	q := out.JobQueues[0]
	jq := &batch.JobQueue{Name: aws.ToString(q.JobQueueName)}
	for _, ce := range q.ComputeEnvironmentOrder {
		jq.ComputeEnvironments = append(jq.ComputeEnvironments, aws.ToString(ce.ComputeEnvironment))
	}
	return jq, nil
}

// DescribeComputeEnvironment returns the container cluster behind a
// compute environment.
func (c *Client) DescribeComputeEnvironment(ctx context.Context, ref string) (*batch.ComputeEnvironment, error) {
	out, err := c.api.DescribeComputeEnvironments(ctx, &batchsvc.DescribeComputeEnvironmentsInput{
		ComputeEnvironments: []string{ref},
	})
	if err != nil {
		return nil, wrapError("DescribeComputeEnvironments", "", "", err)
	}
	if len(out.ComputeEnvironments) != 1 {
		return nil, &batch.Error{
			Op:  "DescribeComputeEnvironments",
			Err: fmt.Errorf("%w: found %d compute environments for %s", batch.ErrAmbiguous, len(out.ComputeEnvironments), ref),
		}
	}
	ce := out.ComputeEnvironments[0]
	return &batch.ComputeEnvironment{
		Name:       aws.ToString(ce.ComputeEnvironmentName),
		ClusterARN: aws.ToString(ce.EcsClusterArn),
	}, nil
}

// ClusterForQueue resolves the container cluster name backing queue. The
// queue must be served by exactly one compute environment.
func ClusterForQueue(ctx context.Context, d batch.QueueDescriber, queue string) (string, error) {
	jq, err := d.DescribeJobQueue(ctx, queue)
	if err != nil {
		return "", err
	}
	if len(jq.ComputeEnvironments) != 1 {
		return "", &batch.ConfigError{
			Field:   "queue",
			Message: fmt.Sprintf("queue %s has %d compute environments, want exactly 1", queue, len(jq.ComputeEnvironments)),
		}
	}
	ce, err := d.DescribeComputeEnvironment(ctx, jq.ComputeEnvironments[0])
	if err != nil {
		return "", err
	}
	if ce.ClusterARN == "" {
		return "", &batch.ConfigError{
			Field:   "queue",
			Message: fmt.Sprintf("compute environment %s has no cluster", ce.Name),
		}
	}
	return path.Base(ce.ClusterARN), nil
}
