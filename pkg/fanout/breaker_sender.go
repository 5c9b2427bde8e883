package fanout

import (
	"context"

	"callhub-backend/pkg/resilience"
)

// BreakerSender stops calling a sender that keeps failing, so a dead fanout
// service costs one rejected check per event instead of a full timeout
type BreakerSender struct {
	sender  Sender
	breaker *resilience.CircuitBreaker
}

// NewBreakerSender wraps sender with breaker
func NewBreakerSender(sender Sender, breaker *resilience.CircuitBreaker) *BreakerSender {
	return &BreakerSender{sender: sender, breaker: breaker}
}

func (s *BreakerSender) Name() string { return s.sender.Name() }

// Send delivers through the breaker
func (s *BreakerSender) Send(ctx context.Context, event *Event) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.sender.Send(ctx, event)
	})
}
