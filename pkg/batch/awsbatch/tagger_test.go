package awsbatch

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeECS struct {
	tasks []string
	ci    map[string]string // task arn -> container instance arn
	ec2   map[string]string // container instance arn -> instance id
}

func (f *fakeECS) ListTasks(ctx context.Context, in *ecs.ListTasksInput, _ ...func(*ecs.Options)) (*ecs.ListTasksOutput, error) {
	return &ecs.ListTasksOutput{TaskArns: f.tasks}, nil
}

func (f *fakeECS) DescribeTasks(ctx context.Context, in *ecs.DescribeTasksInput, _ ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error) {
	out := &ecs.DescribeTasksOutput{}
	for _, arn := range in.Tasks {
		out.Tasks = append(out.Tasks, ecstypes.Task{ContainerInstanceArn: aws.String(f.ci[arn])})
	}
	return out, nil
}

func (f *fakeECS) DescribeContainerInstances(ctx context.Context, in *ecs.DescribeContainerInstancesInput, _ ...func(*ecs.Options)) (*ecs.DescribeContainerInstancesOutput, error) {
	out := &ecs.DescribeContainerInstancesOutput{}
	for _, arn := range in.ContainerInstances {
		out.ContainerInstances = append(out.ContainerInstances, ecstypes.ContainerInstance{Ec2InstanceId: aws.String(f.ec2[arn])})
	}
	return out, nil
}

type fakeEC2 struct {
	tagged  map[string]bool
	created [][]string
}

func (f *fakeEC2) DescribeTags(ctx context.Context, in *ec2.DescribeTagsInput, _ ...func(*ec2.Options)) (*ec2.DescribeTagsOutput, error) {
	out := &ec2.DescribeTagsOutput{}
	for _, id := range in.Filters[0].Values {
		if f.tagged[id] {
			out.Tags = append(out.Tags, ec2types.TagDescription{ResourceId: aws.String(id), Key: aws.String(ProjectTagKey)})
		}
	}
	return out, nil
}

func (f *fakeEC2) CreateTags(ctx context.Context, in *ec2.CreateTagsInput, _ ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	f.created = append(f.created, in.Resources)
	return &ec2.CreateTagsOutput{}, nil
}

func TestTagger_TagsOnlyUntagged(t *testing.T) {
	e := &fakeECS{
		tasks: []string{"t1", "t2", "t3"},
		ci:    map[string]string{"t1": "ci1", "t2": "ci1", "t3": "ci2"},
		ec2:   map[string]string{"ci1": "i-1", "ci2": "i-2"},
	}
	c := &fakeEC2{tagged: map[string]bool{"i-1": true}}

	got, err := newTagger(e, c, "cwc", nil).TagCluster(context.Background(), "cluster")
	require.NoError(t, err)
	assert.Equal(t, []string{"i-2"}, got)
	assert.Equal(t, [][]string{{"i-2"}}, c.created)
}

func TestTagger_NoTasks(t *testing.T) {
	c := &fakeEC2{}
	got, err := newTagger(&fakeECS{}, c, "cwc", nil).TagCluster(context.Background(), "cluster")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, c.created)
}
