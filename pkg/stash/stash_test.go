package stash

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/batchfan/pkg/provider"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) PutObject(ctx context.Context, key string, body io.Reader, _ int64) error {
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = b
	m.puts++
	return nil
}

func (m *memStore) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, 0, &provider.ProviderError{Op: "GetObject", Provider: provider.ProviderS3, Key: key, Err: provider.ErrNotFound}
	}
	return io.NopCloser(bytes.NewReader(b)), int64(len(b)), nil
}

func (m *memStore) Close() error { return nil }

func TestParseMethod(t *testing.T) {
	tests := map[string]Method{
		"":       MethodNone,
		"none":   MethodNone,
		"local":  MethodLocal,
		"S3":     MethodS3,
		"remote": MethodS3,
	}
	for in, want := range tests {
		got, err := ParseMethod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMethod("ftp")
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)

	assert.False(t, MethodNone.Enabled())
	assert.True(t, MethodLocal.Enabled())
	assert.True(t, MethodS3.Enabled())
}

func TestDestination(t *testing.T) {
	got, err := Destination(MethodS3, "reading_results/run1/", "run_reach_queue", "run1_0_1000_reach_sparser", LabelRunning)
	require.NoError(t, err)
	assert.Equal(t, "reading_results/run1/logs/run_reach_queue/RUNNING_run1_0_1000_reach_sparser_stash.log", got)

	got, err = Destination(MethodLocal, "run1", "arn:aws:batch:us-east-1:123:job-queue/run_reach_queue", "run1_0_1000_reach", LabelFailure)
	require.NoError(t, err)
	assert.Equal(t, "run1_job_logs/run_reach_queue/FAILURE_run1_0_1000_reach_stash.log", got)

	got, err = Destination(MethodLocal, "run1", "q", "job", "")
	require.NoError(t, err)
	assert.Equal(t, "run1_job_logs/q/job_stash.log", got)
}

func TestDestination_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for _, q := range []string{"qa", "qb"} {
		for _, job := range []string{"runA_0_10_reach", "runB_0_10_reach"} {
			for _, l := range []Label{LabelRunning, LabelTerminated, LabelFailure, LabelSuccess, LabelUnknown} {
				name, err := Destination(MethodS3, "prefix/", q, job, l)
				require.NoError(t, err)
				assert.False(t, seen[name], "duplicate destination %s", name)
				seen[name] = true
			}
		}
	}
}

func TestDestination_Errors(t *testing.T) {
	_, err := Destination(MethodS3, "", "q", "job", LabelRunning)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "log_base", ce.Field)

	_, err = Destination(MethodNone, "base/", "q", "job", LabelRunning)
	assert.Error(t, err)

	_, err = Destination(MethodLocal, "base", "q", "", LabelRunning)
	assert.Error(t, err)
}

func TestLocalSink_AppendAndOverwrite(t *testing.T) {
	ctx := context.Background()
	s := NewLocalSink(t.TempDir())

	require.NoError(t, s.WriteLines(ctx, "run_job_logs/q/RUNNING_j_stash.log", []string{"a", "b"}, true))
	require.NoError(t, s.WriteLines(ctx, "run_job_logs/q/RUNNING_j_stash.log", []string{"c"}, true))

	lines, err := s.ReadLines(ctx, "run_job_logs/q/RUNNING_j_stash.log")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, lines)

	require.NoError(t, s.WriteLines(ctx, "run_job_logs/q/RUNNING_j_stash.log", []string{"z"}, false))
	lines, err = s.ReadLines(ctx, "run_job_logs/q/RUNNING_j_stash.log")
	require.NoError(t, err)
	assert.Equal(t, []string{"z"}, lines)
}

func TestLocalSink_EmptyWriteCreatesArtifact(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewLocalSink(dir)

	require.NoError(t, s.WriteLines(ctx, "x/empty.log", nil, true))

	info, err := os.Stat(filepath.Join(dir, "x", "empty.log"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())

	lines, err := s.ReadLines(ctx, "x/empty.log")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestLocalSink_ReadMissing(t *testing.T) {
	lines, err := NewLocalSink(t.TempDir()).ReadLines(context.Background(), "nope.log")
	require.NoError(t, err)
	assert.Nil(t, lines)
}

func TestObjectSink_Append(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	s := NewObjectSink(store)

	require.NoError(t, s.WriteLines(ctx, "p/logs/q/RUNNING_j_stash.log", []string{"one"}, true))
	require.NoError(t, s.WriteLines(ctx, "p/logs/q/RUNNING_j_stash.log", []string{"two", "three"}, true))

	lines, err := s.ReadLines(ctx, "p/logs/q/RUNNING_j_stash.log")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, lines)

	require.NoError(t, s.WriteLines(ctx, "p/logs/q/RUNNING_j_stash.log", []string{"final"}, false))
	assert.Equal(t, "final\n", string(store.objects["p/logs/q/RUNNING_j_stash.log"]))
}

func TestObjectSink_EmptyAndMissing(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	s := NewObjectSink(store)

	lines, err := s.ReadLines(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, lines)

	require.NoError(t, s.WriteLines(ctx, "empty", nil, true))
	b, ok := store.objects["empty"]
	assert.True(t, ok)
	assert.Empty(t, b)
}
