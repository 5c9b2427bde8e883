package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callhub-backend/pkg/fanout"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "dev-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8084, cfg.Server.Port)
	assert.Equal(t, "call-service", cfg.Server.ServiceName)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, fanout.ProviderTypeRedis, cfg.Fanout.Provider)
	assert.Equal(t, time.Second, cfg.Fanout.Timeout)
	assert.Equal(t, 10*time.Minute, cfg.Links.SweepInterval)
	assert.Equal(t, []string{"localhost"}, cfg.Cassandra.Hosts)
	assert.InDelta(t, 0.9, cfg.Database.PoolThreshold, 1e-9)
	assert.Equal(t, "guest_redeem", cfg.Limits.GuestRedeem.Name)
}

func TestLoad_Overrides(t *testing.T) {
	secretFile := filepath.Join(t.TempDir(), "jwt_secret")
	require.NoError(t, os.WriteFile(secretFile, []byte("from-docker-secret\n"), 0o600))

	t.Setenv("JWT_SECRET_FILE", secretFile)
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.callhub.test, ,https://admin.callhub.test")
	t.Setenv("FANOUT_PROVIDER", "http")
	t.Setenv("FANOUT_URL", "http://fanout:8080")
	t.Setenv("LINK_SWEEP_INTERVAL", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "from-docker-secret", cfg.JWT.Secret)
	assert.Equal(t, []string{"https://app.callhub.test", "https://admin.callhub.test"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, fanout.ProviderTypeHTTP, cfg.Fanout.Provider)
	assert.Zero(t, cfg.Links.SweepInterval)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Environment: "production", InternalKey: "k"},
			Database: DatabaseConfig{MaxConns: 25, MinConns: 5},
			JWT:      JWTConfig{Secret: "0123456789abcdef0123456789abcdef"},
			Fanout:   FanoutConfig{Provider: fanout.ProviderTypeRedis},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing secret", func(c *Config) { c.JWT.Secret = "" }},
		{"short secret in production", func(c *Config) { c.JWT.Secret = "short" }},
		{"missing internal key in production", func(c *Config) { c.Server.InternalKey = "" }},
		{"noop fanout in production", func(c *Config) { c.Fanout.Provider = fanout.ProviderTypeNoop }},
		{"unknown fanout provider", func(c *Config) { c.Fanout.Provider = "carrier-pigeon" }},
		{"http fanout without url", func(c *Config) { c.Fanout.Provider = fanout.ProviderTypeHTTP }},
		{"inverted pool bounds", func(c *Config) { c.Database.MinConns = 50 }},
		{"cassandra without hosts", func(c *Config) { c.Cassandra.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
