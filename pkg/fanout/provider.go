package fanout

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"callhub-backend/pkg/logger"
	"callhub-backend/pkg/resilience"
)

// ProviderType selects how events reach the fanout service
type ProviderType string

const (
	ProviderTypeHTTP  ProviderType = "http"
	ProviderTypeRedis ProviderType = "redis"
	ProviderTypeNoop  ProviderType = "noop"
)

// Config holds fanout client configuration
type Config struct {
	Provider ProviderType
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

// NewClient builds a dispatcher for the configured provider.
// publisher may be nil unless the redis provider is selected.
func NewClient(cfg Config, publisher Publisher) (*Dispatcher, error) {
	logger.Info("Initializing fanout client",
		zap.String("provider", string(cfg.Provider)))

	switch cfg.Provider {
	case ProviderTypeHTTP:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("FANOUT_URL is required for the http fanout provider")
		}
		breaker := resilience.NewCircuitBreaker("fanout_http", resilience.DefaultFailureThreshold, resilience.DefaultCooldown)
		return NewDispatcher(NewBreakerSender(NewHTTPSender(cfg.BaseURL, cfg.APIKey, nil), breaker), cfg.Timeout), nil
	case ProviderTypeRedis:
		if publisher == nil {
			return nil, fmt.Errorf("redis fanout provider requires a redis connection")
		}
		return NewDispatcher(NewRedisSender(publisher), cfg.Timeout), nil
	case ProviderTypeNoop:
		return NewDispatcher(NoopSender{}, cfg.Timeout), nil
	default:
		logger.Warn("Unknown fanout provider type, falling back to noop",
			zap.String("provider", string(cfg.Provider)))
		return NewDispatcher(NoopSender{}, cfg.Timeout), nil
	}
}
