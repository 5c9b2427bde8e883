// Package resilience provides a circuit breaker for calls to downstream
// services.
package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"callhub-backend/pkg/logger"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	CircuitBreakerClosed   CircuitBreakerState = "closed"
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
	CircuitBreakerOpen     CircuitBreakerState = "open"
)

// ErrCircuitOpen is returned without calling the operation while the breaker is open
var ErrCircuitOpen = errors.New("circuit breaker open")

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "State of a circuit breaker (0=closed, 1=half_open, 2=open)",
	}, []string{"breaker"})

	breakerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_requests_total",
		Help: "Total number of calls through a circuit breaker",
	}, []string{"breaker", "result"})

	breakerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_errors_total",
		Help: "Total number of failed calls through a circuit breaker",
	}, []string{"breaker", "error_type"})
)

// Defaults for NewCircuitBreaker
const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 10 * time.Second
)

// CircuitBreaker stops calling a failing dependency. After threshold
// consecutive failures it opens for cooldown, then lets a single trial call
// through (half-open); the trial's outcome closes or reopens it.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu                  sync.Mutex
	state               CircuitBreakerState
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool
}

// NewCircuitBreaker creates a closed breaker. Non-positive arguments use the defaults.
func NewCircuitBreaker(name string, threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	breakerState.WithLabelValues(name).Set(0)
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		state:     CircuitBreakerClosed,
	}
}

// Execute runs fn unless the breaker is open. There are no retries; callers
// that want them wrap Execute.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	trial, err := cb.acquire()
	if err != nil {
		breakerRequestsTotal.WithLabelValues(cb.name, "rejected").Inc()
		return err
	}

	err = fn(ctx)
	cb.record(trial, err)
	return err
}

// State returns the current circuit breaker state
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) acquire() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitBreakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false, ErrCircuitOpen
		}
		cb.setStateLocked(CircuitBreakerHalfOpen)
		cb.trialInFlight = true
		return true, nil
	case CircuitBreakerHalfOpen:
		// One trial at a time
		if cb.trialInFlight {
			return false, ErrCircuitOpen
		}
		cb.trialInFlight = true
		return true, nil
	default:
		return false, nil
	}
}

func (cb *CircuitBreaker) record(trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.trialInFlight = false
	}

	if err == nil {
		breakerRequestsTotal.WithLabelValues(cb.name, "success").Inc()
		cb.consecutiveFailures = 0
		if cb.state != CircuitBreakerClosed {
			cb.setStateLocked(CircuitBreakerClosed)
		}
		return
	}

	breakerRequestsTotal.WithLabelValues(cb.name, "failure").Inc()
	breakerErrorsTotal.WithLabelValues(cb.name, classifyError(err)).Inc()
	cb.consecutiveFailures++

	if trial || cb.consecutiveFailures >= cb.threshold {
		cb.openedAt = cb.now()
		if cb.state != CircuitBreakerOpen {
			cb.setStateLocked(CircuitBreakerOpen)
		}
	}
}

func (cb *CircuitBreaker) setStateLocked(state CircuitBreakerState) {
	cb.state = state
	switch state {
	case CircuitBreakerOpen:
		breakerState.WithLabelValues(cb.name).Set(2)
		logger.Error("Circuit breaker OPEN",
			zap.String("breaker", cb.name),
			zap.Int("consecutive_failures", cb.consecutiveFailures),
			zap.Duration("cooldown", cb.cooldown))
	case CircuitBreakerHalfOpen:
		breakerState.WithLabelValues(cb.name).Set(1)
		logger.Warn("Circuit breaker HALF-OPEN - allowing trial request", zap.String("breaker", cb.name))
	default:
		breakerState.WithLabelValues(cb.name).Set(0)
		logger.Info("Circuit breaker CLOSED", zap.String("breaker", cb.name))
	}
}

// classifyError classifies errors for better metrics
func classifyError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "network unreachable"):
		return "network"
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "dns"):
		return "dns"
	case strings.Contains(errMsg, "status 5"):
		return "server_error"
	case strings.Contains(errMsg, "status 4"):
		return "client_error"
	default:
		return "unknown"
	}
}
