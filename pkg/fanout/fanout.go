// Package fanout hands realtime events to the external fanout service.
//
// Delivery is at-most-once and unordered. Callers never see dispatch errors
// and never wait for delivery: every event is sent on its own goroutine after
// the caller's state change has been committed.
package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callhub-backend/pkg/logger"
	"callhub-backend/pkg/metrics"
)

// DefaultTimeout bounds a single dispatch
const DefaultTimeout = time.Second

// Client is the fire-and-forget notification port used by the call services.
// None of its methods block on delivery or report failures.
type Client interface {
	// Notify broadcasts to every connected member of a conversation
	Notify(ctx context.Context, event string, conversationID uuid.UUID, payload any)
	// NotifyUser delivers to one registered user
	NotifyUser(ctx context.Context, event string, userID, conversationID uuid.UUID, payload any)
	// NotifyGuest delivers to one guest participant
	NotifyGuest(ctx context.Context, event string, guestID, conversationID uuid.UUID, payload any)
}

// Event is the envelope handed to the fanout service
type Event struct {
	Name           string     `json:"event"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	UserID         *uuid.UUID `json:"user_id,omitempty"`
	GuestID        *uuid.UUID `json:"guest_id,omitempty"`
	Payload        any        `json:"payload,omitempty"`
	SentAt         time.Time  `json:"sent_at"`
}

// Sender performs one delivery attempt. Implementations may block until ctx expires.
type Sender interface {
	Send(ctx context.Context, event *Event) error
	Name() string
}

// Dispatcher implements Client on top of a Sender
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher; a non-positive timeout uses DefaultTimeout
func NewDispatcher(sender Sender, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{sender: sender, timeout: timeout}
}

// Notify broadcasts event to a conversation
func (d *Dispatcher) Notify(ctx context.Context, event string, conversationID uuid.UUID, payload any) {
	d.dispatch(ctx, &Event{
		Name:           event,
		ConversationID: conversationID,
		Payload:        payload,
	})
}

// NotifyUser delivers event to a single user
func (d *Dispatcher) NotifyUser(ctx context.Context, event string, userID, conversationID uuid.UUID, payload any) {
	d.dispatch(ctx, &Event{
		Name:           event,
		ConversationID: conversationID,
		UserID:         &userID,
		Payload:        payload,
	})
}

// NotifyGuest delivers event to a single guest
func (d *Dispatcher) NotifyGuest(ctx context.Context, event string, guestID, conversationID uuid.UUID, payload any) {
	d.dispatch(ctx, &Event{
		Name:           event,
		ConversationID: conversationID,
		GuestID:        &guestID,
		Payload:        payload,
	})
}

// Wait blocks until in-flight dispatches finish. Used on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context, event *Event) {
	event.SentAt = time.Now().UTC()
	// The request that triggered the event is usually finished by the time we send.
	base := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic in fanout dispatch",
					zap.String("event", event.Name),
					zap.Any("panic", r))
			}
		}()

		sendCtx, cancel := context.WithTimeout(base, d.timeout)
		defer cancel()

		start := time.Now()
		err := d.sender.Send(sendCtx, event)
		metrics.FanoutDispatchDuration.WithLabelValues(d.sender.Name()).Observe(time.Since(start).Seconds())

		if err != nil {
			metrics.FanoutDispatchTotal.WithLabelValues(d.sender.Name(), "failure").Inc()
			logger.FromContext(base).Warn("Failed to dispatch fanout event",
				zap.String("event", event.Name),
				zap.String("provider", d.sender.Name()),
				logger.ConversationID(event.ConversationID),
				zap.Error(err))
			return
		}
		metrics.FanoutDispatchTotal.WithLabelValues(d.sender.Name(), "success").Inc()
	}()
}
