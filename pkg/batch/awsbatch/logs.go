package awsbatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	batchsvc "github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"

	"github.com/3leaps/batchfan/pkg/batch"
	"github.com/3leaps/batchfan/pkg/joblog"
)

// DefaultLogGroup is the log group AWS Batch writes container output to.
const DefaultLogGroup = "/aws/batch/job"

// errNoLogStream is returned while a job has not started logging yet.
var errNoLogStream = errors.New("job has no log stream yet")

type logsAPI interface {
	GetLogEvents(ctx context.Context, in *cloudwatchlogs.GetLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error)
}

type jobsAPI interface {
	DescribeJobs(ctx context.Context, in *batchsvc.DescribeJobsInput, optFns ...func(*batchsvc.Options)) (*batchsvc.DescribeJobsOutput, error)
}

// LogFetcher reads job output from CloudWatch Logs.
//
// The cursor handed back to callers is the CloudWatch forward token. Log
// stream names are cached per job once resolved. A LogFetcher is shared by
// every queue monitor of a run and is safe for concurrent use.
type LogFetcher struct {
	jobs  jobsAPI
	logs  logsAPI
	group string

	mu      sync.Mutex
	streams map[string]string
}

var _ joblog.Fetcher = (*LogFetcher)(nil)

// NewLogFetcher creates a LogFetcher. An empty group uses DefaultLogGroup.
func NewLogFetcher(cfg aws.Config, endpoint, group string) *LogFetcher {
	jobs := batchsvc.NewFromConfig(cfg, func(o *batchsvc.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	logs := cloudwatchlogs.NewFromConfig(cfg, func(o *cloudwatchlogs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return newLogFetcher(jobs, logs, group)
}

func newLogFetcher(jobs jobsAPI, logs logsAPI, group string) *LogFetcher {
	if group == "" {
		group = DefaultLogGroup
	}
	return &LogFetcher{jobs: jobs, logs: logs, group: group, streams: make(map[string]string)}
}

// FetchNewLines implements joblog.Fetcher. It drains every page available
// after cursor.
func (f *LogFetcher) FetchNewLines(ctx context.Context, jobID, cursor string) ([]string, string, time.Time, error) {
	stream, err := f.stream(ctx, jobID)
	if err != nil {
		return nil, cursor, time.Time{}, err
	}

	var (
		lines []string
		last  time.Time
		token = cursor
	)
	for {
		in := &cloudwatchlogs.GetLogEventsInput{
			LogGroupName:  aws.String(f.group),
			LogStreamName: aws.String(stream),
			StartFromHead: aws.Bool(true),
		}
		if token != "" {
			in.NextToken = aws.String(token)
		}
		out, err := f.logs.GetLogEvents(ctx, in)
		if err != nil {
			return nil, cursor, time.Time{}, wrapError("GetLogEvents", "", jobID, err)
		}
		for _, ev := range out.Events {
			lines = append(lines, aws.ToString(ev.Message))
			if ts := aws.ToInt64(ev.Timestamp); ts > 0 {
				last = time.UnixMilli(ts)
			}
		}

		next := aws.ToString(out.NextForwardToken)
		// CloudWatch signals the end by returning the token it was given.
		if next == "" || next == token || len(out.Events) == 0 {
			if next != "" {
				token = next
			}
			break
		}
		token = next
	}
	return lines, token, last, nil
}

func (f *LogFetcher) stream(ctx context.Context, jobID string) (string, error) {
	f.mu.Lock()
	s, ok := f.streams[jobID]
	f.mu.Unlock()
	if ok {
		return s, nil
	}
	out, err := f.jobs.DescribeJobs(ctx, &batchsvc.DescribeJobsInput{Jobs: []string{jobID}})
	if err != nil {
		return "", wrapError("DescribeJobs", "", jobID, err)
	}
	if len(out.Jobs) == 0 {
		return "", &batch.Error{Op: "DescribeJobs", JobID: jobID, Err: batch.ErrNotFound}
	}
	job := out.Jobs[0]
	if job.Container == nil || aws.ToString(job.Container.LogStreamName) == "" {
		return "", &batch.Error{Op: "DescribeJobs", JobID: jobID, Err: errNoLogStream}
	}
	s = aws.ToString(job.Container.LogStreamName)
	f.mu.Lock()
	f.streams[jobID] = s
	f.mu.Unlock()
	return s, nil
}
