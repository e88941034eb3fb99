package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONLWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123")

	assert.NotNil(t, w)
	assert.Equal(t, "run-123", w.runID)
}

func TestJSONLWriter_WriteJob(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123")

	err := w.WriteJob(context.Background(), &JobRecord{
		JobID:      "j-1",
		JobName:    "base_0_10_reach",
		Queue:      "run_reach_queue",
		Status:     "FAILED",
		Terminated: true,
	})
	require.NoError(t, err)

	var record Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, TypeJob, record.Type)
	assert.Equal(t, "run-123", record.RunID)
	assert.False(t, record.TS.IsZero())

	var job JobRecord
	require.NoError(t, json.Unmarshal(record.Data, &job))
	assert.Equal(t, "j-1", job.JobID)
	assert.Equal(t, "base_0_10_reach", job.JobName)
	assert.Equal(t, "FAILED", job.Status)
	assert.True(t, job.Terminated)
}

func TestJSONLWriter_WriteQueue(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123")

	err := w.WriteQueue(context.Background(), &QueueRecord{
		Queue:      "q",
		Submitted:  3,
		Failed:     1,
		Succeeded:  2,
		Terminated: []string{"j-1"},
	})
	require.NoError(t, err)

	var record Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, TypeQueue, record.Type)

	var q QueueRecord
	require.NoError(t, json.Unmarshal(record.Data, &q))
	assert.Equal(t, 3, q.Submitted)
	assert.Equal(t, []string{"j-1"}, q.Terminated)
}

func TestJSONLWriter_WriteError(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123")

	err := w.WriteError(context.Background(), &ErrorRecord{
		Code:    ErrCodeAborted,
		Message: "run aborted",
		Queue:   "q",
	})
	require.NoError(t, err)

	var record Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, TypeError, record.Type)

	var errData ErrorRecord
	require.NoError(t, json.Unmarshal(record.Data, &errData))
	assert.Equal(t, ErrCodeAborted, errData.Code)
	assert.Equal(t, "q", errData.Queue)
}

func TestJSONLWriter_WriteSummary(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123")

	sum := &SummaryRecord{
		JobBase:       "base",
		Submitted:     6,
		Failed:        1,
		Succeeded:     5,
		Terminated:    1,
		Duration:      30 * time.Second,
		DurationHuman: "30s",
		Queues:        []string{"a", "b"},
	}
	require.NoError(t, w.WriteSummary(context.Background(), sum))

	var record Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, TypeSummary, record.Type)

	var sumData SummaryRecord
	require.NoError(t, json.Unmarshal(record.Data, &sumData))
	assert.Equal(t, *sum, sumData)
}

func TestJSONLWriter_NewlineTerminated(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123")

	require.NoError(t, w.WriteJob(context.Background(), &JobRecord{JobID: "1"}))
	require.NoError(t, w.WriteJob(context.Background(), &JobRecord{JobID: "2"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	for _, line := range lines {
		var record Record
		assert.NoError(t, json.Unmarshal([]byte(line), &record))
	}
}

func TestJSONLWriter_Close(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123")

	require.NoError(t, w.Close())

	err := w.WriteJob(context.Background(), &JobRecord{JobID: "1"})
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func TestJSONLWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123")

	const numWriters = 10
	const writesPerWriter = 100

	var wg sync.WaitGroup
	wg.Add(numWriters)
	for i := 0; i < numWriters; i++ {
		go func(writerID int) {
			defer wg.Done()
			for j := 0; j < writesPerWriter; j++ {
				_ = w.WriteJob(context.Background(), &JobRecord{JobID: "j", Queue: strings.Repeat("q", writerID+j%7)})
			}
		}(i)
	}
	wg.Wait()

	// Verify all lines are complete JSON objects (no interleaving)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, numWriters*writesPerWriter)
	for i, line := range lines {
		var record Record
		assert.NoError(t, json.Unmarshal([]byte(line), &record), "line %d should be valid JSON: %s", i, line)
	}
}

func TestJSONLWriter_ContextCancellation(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteJob(ctx, &JobRecord{JobID: "1"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, buf.String())
}

func TestJSONLWriter_WriteFailure(t *testing.T) {
	w := NewJSONLWriter(&failingWriter{err: errors.New("disk full")}, "run-123")

	err := w.WriteJob(context.Background(), &JobRecord{JobID: "1"})
	require.Error(t, err)

	var writeErr *WriteError
	require.True(t, errors.As(err, &writeErr))
	assert.Equal(t, "write", writeErr.Op)
}

// failingWriter is an io.Writer that always returns an error.
type failingWriter struct {
	err error
}

func (f *failingWriter) Write(p []byte) (n int, err error) {
	return 0, f.err
}

func TestJSONLWriter_ShortWrite(t *testing.T) {
	shortWriter := &shortWriteWriter{bytesPerWrite: 10}
	w := NewJSONLWriter(shortWriter, "run-123")

	require.NoError(t, w.WriteJob(context.Background(), &JobRecord{JobID: "j-1", JobName: "base_0_10_reach", Queue: "q"}))

	lines := strings.Split(strings.TrimSpace(shortWriter.buf.String()), "\n")
	assert.Len(t, lines, 1)

	var record Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record), "output should be valid JSON despite short writes")
	assert.Equal(t, TypeJob, record.Type)
}

func TestJSONLWriter_ZeroWrite(t *testing.T) {
	w := NewJSONLWriter(&zeroWriteWriter{}, "run-123")

	err := w.WriteJob(context.Background(), &JobRecord{JobID: "1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

// shortWriteWriter writes at most bytesPerWrite bytes per call, returning nil error.
type shortWriteWriter struct {
	buf           bytes.Buffer
	bytesPerWrite int
}

func (sw *shortWriteWriter) Write(p []byte) (n int, err error) {
	toWrite := len(p)
	if toWrite > sw.bytesPerWrite {
		toWrite = sw.bytesPerWrite
	}
	return sw.buf.Write(p[:toWrite])
}

// zeroWriteWriter always returns 0 bytes written with nil error.
type zeroWriteWriter struct{}

func (zw *zeroWriteWriter) Write(p []byte) (n int, err error) {
	return 0, nil
}

func TestWriteError(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &WriteError{Op: "marshal", Err: underlying}

	assert.Equal(t, "output: marshal: underlying error", err.Error())
	assert.ErrorIs(t, err, underlying)
}

func TestErrorRecord_OmitEmpty(t *testing.T) {
	data, err := json.Marshal(ErrorRecord{Code: ErrCodeInternal, Message: "Something went wrong"})
	require.NoError(t, err)

	assert.NotContains(t, string(data), "queue")
	assert.NotContains(t, string(data), "job_id")
	assert.NotContains(t, string(data), "details")
}

func TestJobRecord_OmitEmpty(t *testing.T) {
	data, err := json.Marshal(JobRecord{JobID: "1", Status: "SUCCEEDED"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "terminated")
}

func BenchmarkJSONLWriter_WriteJob(b *testing.B) {
	w := NewJSONLWriter(io.Discard, "run-123")
	job := &JobRecord{JobID: "8a2f", JobName: "base_0_3000_reach_sparser", Queue: "run_reach_queue", Status: "SUCCEEDED"}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = w.WriteJob(ctx, job)
	}
}
