package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind names a lifecycle notification.
type EventKind string

const (
	EventSubmitted EventKind = "SubmittedForValidation"
	EventApproved  EventKind = "Approved"
	EventRenewed   EventKind = "Renewed"
	EventRevoked   EventKind = "Revoked"
)

// Event is published after a state transition has been committed.
type Event struct {
	ID        string
	Kind      EventKind
	Subject   Identity
	Domain    string
	Actor     Identity
	Value     Amount
	ExpiresAt time.Time
	At        time.Time
}

func newEvent(kind EventKind, reg *Registration, actor Identity, value Amount, now time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Subject:   reg.Subject,
		Domain:    reg.Domain,
		Actor:     actor,
		Value:     value,
		ExpiresAt: reg.ExpiresAt,
		At:        now,
	}
}

// Sink receives events. A failing sink never undoes the transition that
// produced the event.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, e Event) error {
	return f(ctx, e)
}

type discardSink struct{}

func (discardSink) Publish(context.Context, Event) error { return nil }

// MultiSink publishes to every sink in order and returns the first error.
// Later sinks still run when an earlier one fails.
func MultiSink(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, e Event) error {
		var first error
		for _, s := range sinks {
			if s == nil {
				continue
			}
			if err := s.Publish(ctx, e); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}

// MemorySink keeps published events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Publish appends e.
func (s *MemorySink) Publish(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// Events returns a copy of the published events, oldest first.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Kinds returns the kinds of the published events, oldest first.
func (s *MemorySink) Kinds() []EventKind {
	events := s.Events()
	kinds := make([]EventKind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	return kinds
}
