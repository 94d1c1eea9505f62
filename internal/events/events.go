// Package events publishes draft and post lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects, relative to the configured prefix.
const (
	DraftCreated   = "drafts.created"
	DraftPublished = "drafts.published"
	DraftFailed    = "drafts.failed"
	DraftRetry     = "drafts.retry"
	PostPublished  = "posts.published"
)

// Bus publishes lifecycle events.
type Bus interface {
	Publish(ctx context.Context, subject string, payload interface{}) error
	Close() error
}

// Nop discards events.
type Nop struct{}

// Publish implements Bus.
func (Nop) Publish(context.Context, string, interface{}) error { return nil }

// Close implements Bus.
func (Nop) Close() error { return nil }

// NATSBus publishes JSON events on NATS.
type NATSBus struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSBus connects to url. Connection failures are retried in the
// background so the service starts without the broker.
func NewNATSBus(url, prefix string) (*NATSBus, error) {
	nc, err := nats.Connect(url,
		nats.Name("social-autopilot"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return &NATSBus{nc: nc, prefix: strings.TrimSuffix(prefix, ".")}, nil
}

// Publish implements Bus.
func (b *NATSBus) Publish(_ context.Context, subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", subject, err)
	}
	if err := b.nc.Publish(Subject(b.prefix, subject), data); err != nil {
		return fmt.Errorf("publishing %s event: %w", subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (b *NATSBus) Close() error {
	return b.nc.Drain()
}

// Subject joins prefix and subject.
func Subject(prefix, subject string) string {
	if prefix == "" {
		return subject
	}
	return prefix + "." + subject
}

// Event is one recorded publication.
type Event struct {
	Subject string
	Payload interface{}
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Bus.
func (r *Recorder) Publish(_ context.Context, subject string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Subject: subject, Payload: payload})
	return nil
}

// Close implements Bus.
func (r *Recorder) Close() error { return nil }

// Subjects returns the recorded subjects in order.
func (r *Recorder) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Subject
	}
	return out
}
