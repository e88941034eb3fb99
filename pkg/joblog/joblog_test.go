package joblog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/batchfan/pkg/stash"
)

type scriptedFetcher struct {
	batches [][]string
	cursors []string
	err     error
}

func (f *scriptedFetcher) FetchNewLines(ctx context.Context, jobID, cursor string) ([]string, string, time.Time, error) {
	f.cursors = append(f.cursors, cursor)
	if f.err != nil {
		return nil, "", time.Time{}, f.err
	}
	if len(f.batches) == 0 {
		return nil, cursor, time.Time{}, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, cursor + "+", time.Unix(100, 0), nil
}

func TestAppend_AdvancesLatestOnlyWithLines(t *testing.T) {
	t0 := time.Unix(1000, 0)
	l := New("a", "job-a", t0)

	l.Append([]string{"x"}, t0.Add(5*time.Second))
	assert.Equal(t, t0.Add(5*time.Second), l.Latest())

	l.Append(nil, t0.Add(60*time.Second))
	assert.Equal(t, t0.Add(5*time.Second), l.Latest())

	l.Append([]string{"y"}, t0)
	assert.Equal(t, t0.Add(5*time.Second), l.Latest(), "latest never moves backwards")
	assert.Equal(t, 2, l.Len())
}

func TestFetch_TracksCursor(t *testing.T) {
	ctx := context.Background()
	t0 := time.Unix(1000, 0)
	f := &scriptedFetcher{batches: [][]string{{"a", "b"}, {"c"}}}
	l := New("id", "name", t0)

	n, err := l.Fetch(ctx, f, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = l.Fetch(ctx, f, t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = l.Fetch(ctx, f, t0.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.Equal(t, []string{"", "+", "++"}, f.cursors)
	assert.Equal(t, []string{"a", "b", "c"}, l.Lines())
	assert.Equal(t, t0.Add(2*time.Second), l.Latest())
	assert.Equal(t, 28*time.Second, l.Idle(t0.Add(30*time.Second)))
	assert.Equal(t, time.Unix(100, 0), l.LastEvent())
}

func TestFetch_Error(t *testing.T) {
	l := New("id", "name", time.Now())
	_, err := l.Fetch(context.Background(), &scriptedFetcher{err: errors.New("boom")}, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job id")
}

func TestClearThenDump_EmptyArtifact(t *testing.T) {
	ctx := context.Background()
	sink := stash.NewLocalSink(t.TempDir())
	l := New("id", "name", time.Now())
	l.Append([]string{"a"}, time.Now())

	l.Clear()
	assert.Equal(t, 0, l.Len())
	assert.True(t, l.HasOutput())
	require.NoError(t, l.Dump(ctx, sink, "q/RUNNING_name_stash.log", true))

	lines, err := sink.ReadLines(ctx, "q/RUNNING_name_stash.log")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestLoad_PrependsHistory(t *testing.T) {
	ctx := context.Background()
	sink := stash.NewLocalSink(t.TempDir())
	l := New("id", "name", time.Now())

	l.Append([]string{"1", "2"}, time.Now())
	require.NoError(t, l.Dump(ctx, sink, "interim", true))
	l.Clear()
	l.Append([]string{"3"}, time.Now())
	require.NoError(t, l.Dump(ctx, sink, "interim", true))
	l.Clear()
	l.Append([]string{"4"}, time.Now())

	require.NoError(t, l.Load(ctx, sink, "interim"))
	assert.Equal(t, []string{"1", "2", "3", "4"}, l.Lines())

	require.NoError(t, l.Load(ctx, sink, "missing"))
	assert.Equal(t, 4, l.Len())
}
