package awsbatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"go.uber.org/zap"
)

// ProjectTagKey is the EC2 tag key applied by Tagger.
const ProjectTagKey = "project"

// ecs DescribeTasks accepts at most this many tasks per call.
const describeTasksBatch = 100

type ecsAPI interface {
	ListTasks(ctx context.Context, in *ecs.ListTasksInput, optFns ...func(*ecs.Options)) (*ecs.ListTasksOutput, error)
	DescribeTasks(ctx context.Context, in *ecs.DescribeTasksInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error)
	DescribeContainerInstances(ctx context.Context, in *ecs.DescribeContainerInstancesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeContainerInstancesOutput, error)
}

type ec2API interface {
	DescribeTags(ctx context.Context, in *ec2.DescribeTagsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeTagsOutput, error)
	CreateTags(ctx context.Context, in *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
}

// Tagger tags the EC2 hosts running a cluster's tasks with a project name
// so their cost can be attributed.
type Tagger struct {
	ecs     ecsAPI
	ec2     ec2API
	project string
	logger  *zap.Logger
}

// NewTagger creates a Tagger for project.
func NewTagger(cfg aws.Config, project string, logger *zap.Logger) *Tagger {
	return newTagger(ecs.NewFromConfig(cfg), ec2.NewFromConfig(cfg), project, logger)
}

func newTagger(e ecsAPI, c ec2API, project string, logger *zap.Logger) *Tagger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tagger{ecs: e, ec2: c, project: project, logger: logger}
}

// TagCluster tags every untagged container instance currently running tasks
// on cluster. It returns the ids of the instances it tagged.
func (t *Tagger) TagCluster(ctx context.Context, cluster string) ([]string, error) {
	var taskARNs []string
	p := ecs.NewListTasksPaginator(t.ecs, &ecs.ListTasksInput{Cluster: aws.String(cluster)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, wrapError("ListTasks", "", "", err)
		}
		taskARNs = append(taskARNs, page.TaskArns...)
	}
	if len(taskARNs) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool)
	var ciARNs []string
	for i := 0; i < len(taskARNs); i += describeTasksBatch {
		end := min(i+describeTasksBatch, len(taskARNs))
		out, err := t.ecs.DescribeTasks(ctx, &ecs.DescribeTasksInput{
			Cluster: aws.String(cluster),
			Tasks:   taskARNs[i:end],
		})
		if err != nil {
			return nil, wrapError("DescribeTasks", "", "", err)
		}
		for _, task := range out.Tasks {
			arn := aws.ToString(task.ContainerInstanceArn)
			if arn != "" && !seen[arn] {
				seen[arn] = true
				ciARNs = append(ciARNs, arn)
			}
		}
	}
	if len(ciARNs) == 0 {
		return nil, nil
	}

	var instanceIDs []string
	for i := 0; i < len(ciARNs); i += describeTasksBatch {
		end := min(i+describeTasksBatch, len(ciARNs))
		ci, err := t.ecs.DescribeContainerInstances(ctx, &ecs.DescribeContainerInstancesInput{
			Cluster:            aws.String(cluster),
			ContainerInstances: ciARNs[i:end],
		})
		if err != nil {
			return nil, wrapError("DescribeContainerInstances", "", "", err)
		}
		for _, inst := range ci.ContainerInstances {
			if id := aws.ToString(inst.Ec2InstanceId); id != "" {
				instanceIDs = append(instanceIDs, id)
			}
		}
	}

	untagged, err := t.untagged(ctx, instanceIDs)
	if err != nil {
		return nil, err
	}
	if len(untagged) == 0 {
		return nil, nil
	}

	_, err = t.ec2.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: untagged,
		Tags:      []ec2types.Tag{{Key: aws.String(ProjectTagKey), Value: aws.String(t.project)}},
	})
	if err != nil {
		return nil, wrapError("CreateTags", "", "", err)
	}
	t.logger.Info("tagged instances",
		zap.String("cluster", cluster),
		zap.String("project", t.project),
		zap.Strings("instances", untagged))
	return untagged, nil
}

func (t *Tagger) untagged(ctx context.Context, ids []string) ([]string, error) {
	out, err := t.ec2.DescribeTags(ctx, &ec2.DescribeTagsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("resource-id"), Values: ids},
			{Name: aws.String("key"), Values: []string{ProjectTagKey}},
		},
	})
	if err != nil {
		return nil, wrapError("DescribeTags", "", "", fmt.Errorf("instances %v: %w", ids, err))
	}
	tagged := make(map[string]bool, len(out.Tags))
	for _, tag := range out.Tags {
		tagged[aws.ToString(tag.ResourceId)] = true
	}
	var res []string
	for _, id := range ids {
		if !tagged[id] {
			res = append(res, id)
		}
	}
	return res, nil
}
