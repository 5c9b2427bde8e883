// Package config loads the call service configuration from the environment.
// Secrets accept a *_FILE variant for Docker secrets.
package config

import (
	"fmt"
	"time"

	intDatabase "callhub-backend/internal/database"
	"callhub-backend/internal/middleware"
	"callhub-backend/pkg/constants"
	"callhub-backend/pkg/database"
	"callhub-backend/pkg/env"
	"callhub-backend/pkg/fanout"
)

// Config holds all configuration for the call service
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cassandra CassandraConfig
	JWT       JWTConfig
	Fanout    FanoutConfig
	Links     LinksConfig
	Limits    LimitsConfig
	Log       LogConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Environment    string // development, staging, production
	ServiceName    string
	AllowedOrigins []string
	InternalKey    string // shared secret of the /internal endpoints
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Database      string
	SSLMode       string
	MaxConns      int
	MinConns      int
	ConnectTries  int
	PoolThreshold float64
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host                string
	Port                int
	Password            string
	DB                  int
	PoolSize            int
	Timeout             time.Duration
	HealthCheckInterval time.Duration
}

// CassandraConfig holds the message store configuration. System messages
// are dropped when it is disabled.
type CassandraConfig struct {
	Enabled  bool
	Hosts    []string
	Keyspace string
	Username string
	Password string
	Timeout  time.Duration
}

// JWTConfig holds access token verification settings
type JWTConfig struct {
	Secret   string
	Audience string
}

// FanoutConfig selects the realtime delivery provider
type FanoutConfig struct {
	Provider fanout.ProviderType
	URL      string
	APIKey   string
	Timeout  time.Duration
}

// LinksConfig holds join link settings
type LinksConfig struct {
	SweepInterval time.Duration // 0 disables the background sweep
}

// LimitsConfig holds request limits
type LimitsConfig struct {
	RequestTimeout   time.Duration
	MaxWSConnections int
	GuestRedeem      middleware.RateLimit
	SignalRelay      middleware.RateLimit
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           env.GetInt("PORT", 8084),
			Environment:    env.GetString("ENV", "development"),
			ServiceName:    env.GetString("SERVICE_NAME", "call-service"),
			AllowedOrigins: env.GetStringSlice("CORS_ALLOWED_ORIGINS", nil),
			InternalKey:    env.GetStringFromFile("INTERNAL_API_KEY", ""),
		},
		Database: LoadDatabase(),
		Redis: LoadRedis(),
		Cassandra: CassandraConfig{
			Enabled:  env.GetBool("CASSANDRA_ENABLED", true),
			Hosts:    env.GetStringSlice("CASSANDRA_HOSTS", []string{"localhost"}),
			Keyspace: env.GetString("CASSANDRA_KEYSPACE", "callhub"),
			Username: env.GetString("CASSANDRA_USER", ""),
			Password: env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
			Timeout:  env.GetDuration("CASSANDRA_TIMEOUT", 600*time.Millisecond),
		},
		JWT: JWTConfig{
			Secret:   env.GetStringFromFile("JWT_SECRET", ""),
			Audience: env.GetString("JWT_AUDIENCE", "callhub"),
		},
		Fanout: FanoutConfig{
			Provider: fanout.ProviderType(env.GetString("FANOUT_PROVIDER", string(fanout.ProviderTypeRedis))),
			URL:      env.GetString("FANOUT_URL", ""),
			APIKey:   env.GetStringFromFile("FANOUT_API_KEY", ""),
			Timeout:  env.GetDuration("FANOUT_TIMEOUT", constants.FanoutTimeout),
		},
		Links: LinksConfig{
			SweepInterval: env.GetDuration("LINK_SWEEP_INTERVAL", constants.LinkSweepInterval),
		},
		Limits: LimitsConfig{
			RequestTimeout:   env.GetDuration("REQUEST_TIMEOUT", middleware.DefaultRequestTimeout),
			MaxWSConnections: env.GetInt("WS_MAX_CONNECTIONS", 1000),
			GuestRedeem: middleware.RateLimit{
				Name:     "guest_redeem",
				Requests: env.GetInt("RATE_LIMIT_REDEEM", 10),
				Window:   env.GetDuration("RATE_LIMIT_REDEEM_WINDOW", time.Minute),
			},
			SignalRelay: middleware.RateLimit{
				Name:     "signal_relay",
				Requests: env.GetInt("RATE_LIMIT_SIGNAL", 600),
				Window:   env.GetDuration("RATE_LIMIT_SIGNAL_WINDOW", time.Minute),
			},
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/call-service.log"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDatabase reads only the CockroachDB settings, for tools that need
// nothing else
func LoadDatabase() DatabaseConfig {
	return DatabaseConfig{
		Host:          env.GetString("DB_HOST", "localhost"),
		Port:          env.GetInt("DB_PORT", 26257),
		User:          env.GetString("DB_USER", "root"),
		Password:      env.GetStringFromFile("DB_PASSWORD", ""),
		Database:      env.GetString("DB_NAME", "callhub"),
		SSLMode:       env.GetString("DB_SSL_MODE", "disable"),
		MaxConns:      env.GetInt("DB_MAX_CONNS", 25),
		MinConns:      env.GetInt("DB_MIN_CONNS", 5),
		ConnectTries:  env.GetInt("DB_CONNECT_ATTEMPTS", 5),
		PoolThreshold: env.GetFloat("DB_POOL_THRESHOLD", middleware.DefaultPoolUsageThreshold),
	}
}

// LoadRedis reads only the Redis settings
func LoadRedis() RedisConfig {
	return RedisConfig{
		Host:                env.GetString("REDIS_HOST", "localhost"),
		Port:                env.GetInt("REDIS_PORT", 6379),
		Password:            env.GetStringFromFile("REDIS_PASSWORD", ""),
		DB:                  env.GetInt("REDIS_DB", 0),
		PoolSize:            env.GetInt("REDIS_POOL_SIZE", 10),
		Timeout:             env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
		HealthCheckInterval: env.GetDuration("REDIS_HEALTH_INTERVAL", 10*time.Second),
	}
}

// Client converts the settings to a Redis client config
func (r RedisConfig) Client() *intDatabase.RedisConfig {
	return &intDatabase.RedisConfig{
		Host:     r.Host,
		Port:     r.Port,
		Password: r.Password,
		DB:       r.DB,
		PoolSize: r.PoolSize,
		Timeout:  r.Timeout,
	}
}

// Cockroach converts the settings to a connection config
func (d DatabaseConfig) Cockroach() *database.CockroachConfig {
	return &database.CockroachConfig{
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		Database: d.Database,
		SSLMode:  d.SSLMode,
		MaxConns: int32(d.MaxConns),
		MinConns: int32(d.MinConns),
	}
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if c.IsProduction() {
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
		if c.Server.InternalKey == "" {
			return fmt.Errorf("INTERNAL_API_KEY must be set in production")
		}
		if c.Fanout.Provider == fanout.ProviderTypeNoop {
			return fmt.Errorf("FANOUT_PROVIDER=noop is not allowed in production")
		}
	}

	switch c.Fanout.Provider {
	case fanout.ProviderTypeHTTP:
		if c.Fanout.URL == "" {
			return fmt.Errorf("FANOUT_URL is required for the http fanout provider")
		}
	case fanout.ProviderTypeRedis, fanout.ProviderTypeNoop:
	default:
		return fmt.Errorf("unknown FANOUT_PROVIDER %q", c.Fanout.Provider)
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("DB_MAX_CONNS (%d) is below DB_MIN_CONNS (%d)", c.Database.MaxConns, c.Database.MinConns)
	}
	if c.Cassandra.Enabled && len(c.Cassandra.Hosts) == 0 {
		return fmt.Errorf("CASSANDRA_HOSTS must list at least one host")
	}

	return nil
}
