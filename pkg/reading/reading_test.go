package reading

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/batchfan/pkg/batch"
	"github.com/3leaps/batchfan/pkg/dispatch"
)

type fakeUploader struct {
	mu    sync.Mutex
	calls map[string]string
	err   error
}

func (u *fakeUploader) UploadFile(ctx context.Context, key, path string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return u.err
	}
	if u.calls == nil {
		u.calls = make(map[string]string)
	}
	u.calls[key] = path
	return nil
}

type fakeClient struct {
	mu  sync.Mutex
	req []batch.SubmitRequest
}

func (c *fakeClient) ListJobs(ctx context.Context, queue string, status batch.Status) ([]batch.JobSummary, error) {
	return nil, nil
}

func (c *fakeClient) SubmitJob(ctx context.Context, req batch.SubmitRequest) (*batch.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.req = append(c.req, req)
	return &batch.Job{ID: "combine-1", Name: req.Name, Queue: req.Queue}, nil
}

func (c *fakeClient) TerminateJob(ctx context.Context, jobID, reason string) error { return nil }

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pmids.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestResolveReaders(t *testing.T) {
	got, err := ResolveReaders([]string{"all"})
	require.NoError(t, err)
	assert.Equal(t, KnownReaders, got)

	got, err = ResolveReaders([]string{"Sparser", "reach", "sparser"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sparser", "reach"}, got)

	_, err = ResolveReaders([]string{"reach", "nope"})
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "readers", ce.Field)

	_, err = ResolveReaders(nil)
	assert.ErrorAs(t, err, &ce)
}

func TestExpand(t *testing.T) {
	got := Expand([]string{"run", "{job_base}", "{start}-{end}", "{job_name}", "plain"},
		Vars{JobBase: "base", JobName: "base_0_10_reach", Start: 0, End: 10})
	assert.Equal(t, []string{"run", "base", "0-10", "base_0_10_reach", "plain"}, got)
}

func TestCountLines(t *testing.T) {
	for _, tc := range []struct {
		content string
		want    int
	}{
		{"", 0},
		{"1\n2\n3\n", 3},
		{"1\n2\n3", 3},
		{"\n\n", 2},
		{strings.Repeat("x", 10000) + "\n" + strings.Repeat("y", 5000), 2},
	} {
		n, err := CountLines(writeManifest(t, tc.content))
		require.NoError(t, err)
		assert.Equal(t, tc.want, n)
	}

	_, err := CountLines(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestWorkload_DecomposeWholeManifest(t *testing.T) {
	up := &fakeUploader{}
	path := writeManifest(t, "1\n2\n3\n4\n5\n6\n7\n")
	w, err := NewWorkload(Options{
		JobBase:   "run1",
		Manifest:  path,
		InputKey:  "reading/run1/pmids",
		End:       -1,
		IDsPerJob: 3,
		Uploader:  up,
	})
	require.NoError(t, err)

	chunks, err := w.Decompose(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []dispatch.Chunk{{Start: 0, End: 3}, {Start: 3, End: 6}, {Start: 6, End: 7}}, chunks)
	assert.Equal(t, map[string]string{"reading/run1/pmids": path}, up.calls)
}

func TestWorkload_DecomposeExplicitRange(t *testing.T) {
	w, err := NewWorkload(Options{Manifest: "unused.txt", Start: 10, End: 25, IDsPerJob: 10})
	require.NoError(t, err)

	chunks, err := w.Decompose(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []dispatch.Chunk{{Start: 10, End: 20}, {Start: 20, End: 25}}, chunks)
}

func TestWorkload_UploadFailure(t *testing.T) {
	up := &fakeUploader{err: errors.New("denied")}
	w, err := NewWorkload(Options{Manifest: writeManifest(t, "1\n"), InputKey: "k", End: -1, Uploader: up})
	require.NoError(t, err)

	_, err = w.Decompose(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload manifest")
}

func TestWorkload_Validation(t *testing.T) {
	_, err := NewWorkload(Options{})
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "manifest", ce.Field)

	_, err = NewWorkload(Options{Manifest: "m", Start: 5, End: 2})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "end", ce.Field)
}

func TestWorkload_Command(t *testing.T) {
	w, err := NewWorkload(Options{JobBase: "run1", Manifest: "m", End: -1, ForceRead: true, ForceFulltext: true})
	require.NoError(t, err)

	cmd := w.BuildCommand("run1_0_3_reach", dispatch.Chunk{Start: 0, End: 3}, []string{"reach", "sparser"})
	assert.Equal(t, []string{
		"python", "-m", "indra_reading.scripts.pmid_reading.read_pmids_aws",
		"run1", "/tmp", "16", "0", "3", "-r", "reach", "sparser",
	}, cmd)
	assert.Equal(t, []string{"--force_read", "--force_fulltext"}, w.ExtraFlags())
	assert.Equal(t, Purpose, w.Purpose())

	plain, err := NewWorkload(Options{Manifest: "m"})
	require.NoError(t, err)
	assert.Empty(t, plain.ExtraFlags())
}

func TestWorkload_PlansThroughDispatcher(t *testing.T) {
	w, err := NewWorkload(Options{JobBase: "run1", Manifest: "m", Start: 0, End: 4, IDsPerJob: 2})
	require.NoError(t, err)
	d, err := dispatch.New(&fakeClient{}, nil, nil, w, dispatch.Config{
		Class:       Class,
		Basename:    "run1",
		Workers:     []string{"reach", "isi"},
		Queues:      DefaultQueues(),
		Definitions: DefaultDefinitions(),
	})
	require.NoError(t, err)

	jobs, err := d.PlanAll(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 4)
	assert.Equal(t, "run1_0_2_isi", jobs[0].Name)
	assert.Equal(t, "run_db_reading_isi_jobdef", jobs[0].Definition)
	assert.Equal(t, "run1_0_2_reach", jobs[1].Name)
	assert.Equal(t, DefaultQueue, jobs[1].Queue)
	assert.Equal(t, "reading/run1/", d.StoragePrefix())
}

func TestCombineRequest(t *testing.T) {
	req, err := CombineRequest(CombineConfig{
		JobBase: "run1",
		Readers: []string{"reach", "sparser"},
		Project: "cwc",
	}, []string{"a", "b"})
	require.NoError(t, err)

	assert.Equal(t, "run1_combine_reading_results", req.Name)
	assert.Equal(t, DefaultQueue, req.Queue)
	assert.Equal(t, DefaultCombineJobDef, req.Definition)
	assert.Equal(t, []string{
		"python", "-m", "indra_reading.scripts.assemble_reading_stmts_aws",
		"run1", "-r", "reach", "sparser",
	}, req.Command)
	assert.Equal(t, []string{"a", "b"}, req.DependsOn)
	assert.Equal(t, 60000, req.Memory)
	assert.Equal(t, 1, req.VCPUs)
	assert.Equal(t, map[string]string{"purpose": Purpose, "project": "cwc"}, req.Tags)
}

func TestCombineRequest_NoDependencies(t *testing.T) {
	req, err := CombineRequest(CombineConfig{JobBase: "run1", Readers: []string{"reach"}}, nil)
	require.NoError(t, err)
	assert.Nil(t, req.DependsOn)
}

func TestCombineRequest_DependencyLimit(t *testing.T) {
	ids := make([]string, 21)
	for i := range ids {
		ids[i] = "job"
	}
	_, err := CombineRequest(CombineConfig{JobBase: "run1", Readers: []string{"reach"}}, ids)

	var dle *DependencyLimitError
	require.ErrorAs(t, err, &dle)
	assert.Equal(t, 21, dle.Count)
	assert.Equal(t, 20, dle.Limit)
	assert.Contains(t, err.Error(), "run combine on its own")

	_, err = CombineRequest(CombineConfig{JobBase: "run1", Readers: []string{"reach"}}, ids[:20])
	assert.NoError(t, err)
}

func TestCombine_Submits(t *testing.T) {
	c := &fakeClient{}
	job, err := Combine(context.Background(), c, CombineConfig{JobBase: "run1", Readers: []string{"isi"}}, []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, "combine-1", job.ID)
	require.Len(t, c.req, 1)
	assert.Equal(t, []string{"x"}, c.req[0].DependsOn)

	_, err = Combine(context.Background(), c, CombineConfig{JobBase: "run1", Readers: []string{"isi"}, DependencyLimit: 1}, []string{"x", "y"})
	var dle *DependencyLimitError
	assert.ErrorAs(t, err, &dle)
	assert.Len(t, c.req, 1)
}
