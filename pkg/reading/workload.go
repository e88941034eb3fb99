package reading

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"slices"

	"go.uber.org/zap"

	"github.com/3leaps/batchfan/pkg/dispatch"
	"github.com/3leaps/batchfan/pkg/provider"
)

// Options configures a reading Workload.
type Options struct {
	// JobBase is substituted for {job_base} in the read command.
	JobBase string

	// Manifest is the local id manifest, one id per line.
	Manifest string

	// InputKey is the object key the manifest is uploaded to.
	InputKey string

	// Start and End select the manifest lines [Start, End) to read. End <= 0
	// reads to the end of the manifest.
	Start int
	End   int

	IDsPerJob int

	ForceRead     bool
	ForceFulltext bool

	// ReadCommand overrides DefaultReadCommand.
	ReadCommand []string

	// Uploader receives the manifest. Nil skips the upload, as for plans
	// that are only printed.
	Uploader provider.FileUploader

	Logger *zap.Logger
}

// Workload is the reading implementation of dispatch.Workload.
type Workload struct {
	opts Options
}

var _ dispatch.Workload = (*Workload)(nil)

// NewWorkload validates opts and returns a Workload.
func NewWorkload(opts Options) (*Workload, error) {
	if opts.Manifest == "" {
		return nil, &ConfigError{Field: "manifest", Message: "an id manifest is required"}
	}
	if opts.IDsPerJob == 0 {
		opts.IDsPerJob = DefaultIDsPerJob
	}
	if opts.IDsPerJob < 0 {
		return nil, &ConfigError{Field: "ids_per_job", Message: "must be positive"}
	}
	if opts.Start < 0 {
		return nil, &ConfigError{Field: "start", Message: "must not be negative"}
	}
	if opts.End > 0 && opts.End < opts.Start {
		return nil, &ConfigError{Field: "end", Message: fmt.Sprintf("end %d is before start %d", opts.End, opts.Start)}
	}
	if len(opts.ReadCommand) == 0 {
		opts.ReadCommand = DefaultReadCommand
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Workload{opts: opts}, nil
}

// Purpose implements dispatch.Workload.
func (w *Workload) Purpose() string { return Purpose }

// Decompose uploads the manifest, resolves the end index if needed and
// splits the selected lines into chunks of IDsPerJob.
func (w *Workload) Decompose(ctx context.Context) ([]dispatch.Chunk, error) {
	if w.opts.Uploader != nil {
		if w.opts.InputKey == "" {
			return nil, &ConfigError{Field: "input_key", Message: "an object key is required to upload the manifest"}
		}
		if err := w.opts.Uploader.UploadFile(ctx, w.opts.InputKey, w.opts.Manifest); err != nil {
			return nil, fmt.Errorf("upload manifest %s: %w", w.opts.Manifest, err)
		}
		w.opts.Logger.Info("uploaded id manifest",
			zap.String("path", w.opts.Manifest),
			zap.String("key", w.opts.InputKey))
	}

	end := w.opts.End
	if end <= 0 {
		n, err := CountLines(w.opts.Manifest)
		if err != nil {
			return nil, err
		}
		end = n
	}
	return dispatch.Chunks(w.opts.Start, end, w.opts.IDsPerJob)
}

// BuildCommand implements dispatch.Workload.
func (w *Workload) BuildCommand(jobName string, c dispatch.Chunk, readers []string) []string {
	cmd := Expand(w.opts.ReadCommand, Vars{JobBase: w.opts.JobBase, JobName: jobName, Start: c.Start, End: c.End})
	cmd = append(cmd, "-r")
	return append(cmd, slices.Clone(readers)...)
}

// ExtraFlags implements dispatch.Workload.
func (w *Workload) ExtraFlags() []string {
	var flags []string
	if w.opts.ForceRead {
		flags = append(flags, "--force_read")
	}
	if w.opts.ForceFulltext {
		flags = append(flags, "--force_fulltext")
	}
	return flags
}

// CountLines returns the number of lines in the file at path. A final line
// without a trailing newline counts.
func CountLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open manifest: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReader(f)
	n := 0
	for {
		line, err := r.ReadSlice('\n')
		if len(line) > 0 && (err == nil || err == io.EOF || err == bufio.ErrBufferFull) {
			if line[len(line)-1] == '\n' || err == io.EOF {
				n++
			}
		}
		if err == io.EOF {
			return n, nil
		}
		if err != nil && err != bufio.ErrBufferFull {
			return 0, fmt.Errorf("read manifest: %w", err)
		}
	}
}
