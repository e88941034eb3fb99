package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is prepended to every event kind.
const DefaultSubjectPrefix = "batchfan.events"

// NATSPublisher publishes events as JSON on <prefix>.<kind>.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	runID  string
}

// Connect dials url and returns a publisher stamping events with runID.
func Connect(url, prefix, runID string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("batchfan"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{nc: nc, prefix: prefix, runID: runID}, nil
}

// Subject returns the subject an event kind is published on.
func (p *NATSPublisher) Subject(k Kind) string {
	return p.prefix + "." + string(k)
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.RunID == "" {
		ev.RunID = p.runID
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.Subject(ev.Kind), b)
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
