package stash

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/3leaps/batchfan/pkg/provider"
)

// ObjectSink writes artifacts as objects in a store. Object stores have no
// append, so appending reads the current object and rewrites it.
type ObjectSink struct {
	store provider.ObjectStore
}

// NewObjectSink creates an ObjectSink backed by store.
func NewObjectSink(store provider.ObjectStore) *ObjectSink {
	return &ObjectSink{store: store}
}

// WriteLines implements Sink.
func (s *ObjectSink) WriteLines(ctx context.Context, name string, lines []string, appendMode bool) error {
	var body []byte
	if appendMode {
		existing, err := s.read(ctx, name)
		if err != nil {
			return err
		}
		body = existing
	}
	body = append(body, encode(lines)...)

	if err := s.store.PutObject(ctx, name, bytes.NewReader(body), int64(len(body))); err != nil {
		return fmt.Errorf("stash %s: %w", name, err)
	}
	return nil
}

// ReadLines implements Sink.
func (s *ObjectSink) ReadLines(ctx context.Context, name string) ([]string, error) {
	b, err := s.read(ctx, name)
	if err != nil {
		return nil, err
	}
	return decode(b), nil
}

func (s *ObjectSink) read(ctx context.Context, name string) ([]byte, error) {
	body, _, err := s.store.GetObject(ctx, name)
	if provider.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read stash %s: %w", name, err)
	}
	defer func() { _ = body.Close() }()

	b, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read stash %s: %w", name, err)
	}
	return b, nil
}
