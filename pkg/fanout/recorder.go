package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NoopSender drops every event
type NoopSender struct{}

func (NoopSender) Name() string                       { return "noop" }
func (NoopSender) Send(context.Context, *Event) error { return nil }

// Recorder is a synchronous Client that keeps every event in memory.
// Tests use it in place of a Dispatcher.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Notify(_ context.Context, event string, conversationID uuid.UUID, payload any) {
	r.record(Event{Name: event, ConversationID: conversationID, Payload: payload})
}

func (r *Recorder) NotifyUser(_ context.Context, event string, userID, conversationID uuid.UUID, payload any) {
	r.record(Event{Name: event, ConversationID: conversationID, UserID: &userID, Payload: payload})
}

func (r *Recorder) NotifyGuest(_ context.Context, event string, guestID, conversationID uuid.UUID, payload any) {
	r.record(Event{Name: event, ConversationID: conversationID, GuestID: &guestID, Payload: payload})
}

func (r *Recorder) record(e Event) {
	e.SentAt = time.Now().UTC()
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns the recorded events with the given name
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops all recorded events
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
