package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
env: local
storage:
  driver: sqlite
  path: ./storage/auth.db
grpc:
  port: 44044
  timeout: 5s
auth:
  signing_secret: "0123456789abcdef0123456789abcdef"
  access_token_ttl: 15m
  refresh_token_ttl: 720h
  reset_token_ttl: 30m
  verify_token_ttl: 24h
revocation:
  driver: memory
  fail_mode: closed
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, StorageSQLite, cfg.Storage.Driver)
	assert.Equal(t, 44044, cfg.Grpc.Port)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, 720*time.Hour, cfg.Auth.RefreshTokenTTL)
	assert.Equal(t, RevocationMemory, cfg.Revocation.Driver)

	// defaults
	assert.Equal(t, "tokenauth", cfg.Auth.Issuer)
	assert.Equal(t, "REVOKED_TOKEN", cfg.Revocation.KeyPrefix)
	assert.Equal(t, 500*time.Millisecond, cfg.Revocation.Timeout)
	assert.Equal(t, 10, cfg.Auth.BcryptCost)
	assert.False(t, cfg.Auth.RotateRefreshTokens)
	assert.True(t, cfg.Auth.RevokeSessionsOnPasswordChange)
	assert.Equal(t, 10*time.Second, cfg.Events.HandlerTimeout)

	assert.Equal(t, 720*time.Hour, cfg.Auth.MaxTokenTTL())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("REVOCATION_FAIL_MODE", FailOpen)
	t.Setenv("AUTH_ROTATE_REFRESH_TOKENS", "true")

	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, FailOpen, cfg.Revocation.FailMode)
	assert.True(t, cfg.Auth.RotateRefreshTokens)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	assert.Panics(t, func() { MustLoadPath(filepath.Join(t.TempDir(), "missing.yaml")) })
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg, err := Load(writeConfig(t, validYAML))
		require.NoError(t, err)
		return *cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"short secret", func(c *Config) { c.Auth.SigningSecret = "short" }},
		{"zero access ttl", func(c *Config) { c.Auth.AccessTokenTTL = 0 }},
		{"negative refresh ttl", func(c *Config) { c.Auth.RefreshTokenTTL = -time.Minute }},
		{"unknown storage", func(c *Config) { c.Storage.Driver = "postgres" }},
		{"unknown revocation", func(c *Config) { c.Revocation.Driver = "memcached" }},
		{"mongo revocation without mongo storage", func(c *Config) { c.Revocation.Driver = RevocationMongo }},
		{"unknown fail mode", func(c *Config) { c.Revocation.FailMode = "maybe" }},
		{"zero storage timeout", func(c *Config) { c.Storage.Timeout = 0 }},
		{"negative grpc timeout", func(c *Config) { c.Grpc.Timeout = -time.Second }},
		{"zero revocation timeout", func(c *Config) { c.Revocation.Timeout = 0 }},
		{"negative sweep interval", func(c *Config) { c.Revocation.SweepInterval = -time.Minute }},
		{"zero handler timeout", func(c *Config) { c.Events.HandlerTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestShippedLocalConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "local.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, RevocationMemory, cfg.Revocation.Driver)
	assert.Equal(t, FailClosed, cfg.Revocation.FailMode)
	assert.Equal(t, 720*time.Hour, cfg.Auth.MaxTokenTTL())
}
