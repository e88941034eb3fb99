package stash

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalSink writes artifacts as files. Relative names resolve under Dir
// (the working directory when Dir is empty).
type LocalSink struct {
	Dir string
}

// NewLocalSink creates a LocalSink rooted at dir.
func NewLocalSink(dir string) *LocalSink {
	return &LocalSink{Dir: dir}
}

func (s *LocalSink) path(name string) string {
	if s.Dir == "" || filepath.IsAbs(name) {
		return filepath.FromSlash(name)
	}
	return filepath.Join(s.Dir, filepath.FromSlash(name))
}

// WriteLines implements Sink.
func (s *LocalSink) WriteLines(ctx context.Context, name string, lines []string, appendMode bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := s.path(name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create stash dir: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(p, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open stash %s: %w", p, err)
	}
	if _, err := f.Write(encode(lines)); err != nil {
		_ = f.Close()
		return fmt.Errorf("write stash %s: %w", p, err)
	}
	return f.Close()
}

// ReadLines implements Sink.
func (s *LocalSink) ReadLines(ctx context.Context, name string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read stash %s: %w", name, err)
	}
	return decode(b), nil
}
