package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"matchgogo/backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("AUTH_SECRET", "s3cret")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("CALLS_RING_TIMEOUT", "45s")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "s3cret", cfg.Auth.Secret)
	assert.Equal(t, 72*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 45*time.Second, cfg.Calls.RingTimeout)
	assert.Equal(t, config.DefaultCallSweepInterval, cfg.Calls.SweepInterval)
	assert.Equal(t, "none", cfg.Relay.Driver)
	assert.Equal(t, config.DefaultMaxCallDuration, cfg.Calls.MaxDuration)
	assert.Empty(t, cfg.Server.AllowOrigins)
}

func TestLoad_AllowOriginsFromEnv(t *testing.T) {
	t.Setenv("AUTH_SECRET", "s3cret")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("SERVER_ALLOW_ORIGINS", "https://a.example,https://b.example, https://c.example")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example", "https://b.example", "https://c.example"}, cfg.Server.AllowOrigins)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "matchgogo.yaml")
	yaml := "auth:\n  secret: from-file\nstorage:\n  driver: memory\nrelay:\n  driver: nats\n  nats_url: nats://broker:4222\n" +
		"server:\n  allow_origins:\n    - https://a.example\n    - https://b.example\n"
	require.NoError(t, os.WriteFile(file, []byte(yaml), 0o600))
	t.Setenv("CONFIG_FILE", file)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Auth.Secret)
	assert.Equal(t, "nats", cfg.Relay.Driver)
	assert.Equal(t, "nats://broker:4222", cfg.Relay.NATSURL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowOrigins)
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		return config.Config{
			Storage: config.Storage{Driver: "memory"},
			Auth:    config.Auth{Secret: "x"},
			Relay:   config.Relay{Driver: "none"},
			Calls:   config.Calls{RingTimeout: time.Minute, SweepInterval: time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *config.Config) {}},
		{name: "missing secret", mutate: func(c *config.Config) { c.Auth.Secret = "" }, wantErr: "AUTH_SECRET"},
		{name: "postgres without dsn", mutate: func(c *config.Config) { c.Storage.Driver = "postgres" }, wantErr: "STORAGE_DSN"},
		{name: "unknown storage", mutate: func(c *config.Config) { c.Storage.Driver = "sqlite" }, wantErr: "unknown storage"},
		{name: "redis relay without addr", mutate: func(c *config.Config) { c.Relay.Driver = "redis" }, wantErr: "REDIS_ADDR"},
		{name: "unknown relay", mutate: func(c *config.Config) { c.Relay.Driver = "kafka" }, wantErr: "unknown relay"},
		{name: "zero timeout", mutate: func(c *config.Config) { c.Calls.RingTimeout = 0 }, wantErr: "positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
