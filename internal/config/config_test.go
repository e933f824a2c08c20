package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, 5, cfg.Search.MaxConcurrent)
	require.Equal(t, 30, cfg.Search.RequestTimeoutSeconds)
	require.Equal(t, "memory", cfg.Cache.Backend)
	require.Equal(t, time.Hour, cfg.CacheTTL())
	require.Equal(t, "memory", cfg.Database.Backend)
	require.Equal(t, "aggregates", cfg.Database.Table)
	require.Equal(t, "memory", cfg.Archive.Backend)
	require.Equal(t, "aggregates", cfg.Archive.Prefix)
	require.False(t, cfg.PubSub.Enabled)

	require.Equal(t,
		[]string{"airbnb", "booking", "expedia", "hotels", "tripadvisor", "vrbo"},
		cfg.EnabledPlatforms())
	airbnb := cfg.Platforms["airbnb"]
	require.Equal(t, "static", airbnb.Mode)
	require.Equal(t, 3, airbnb.MaxRetries)
	require.Equal(t, 2, airbnb.DelaySeconds)
	require.Equal(t, 30*time.Second, cfg.AttemptTimeout(airbnb))
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  port: 9090
  request_timeout_seconds: 20
auth:
  enabled: true
  api_key: secret
search:
  max_concurrent: 3
  request_timeout_seconds: 12
cache:
  backend: redis
  addr: redis:6379
  ttl_seconds: 120
database:
  backend: postgres
  dsn: postgres://localhost/prices
archive:
  backend: local
  base_dir: /tmp/archive
logging:
  development: false
platforms:
  booking:
    enabled: true
    mode: colly
    search_url: https://www.booking.com/search.html?q={property}
    timeout_seconds: 8
    max_retries: 1
    delay_seconds: 3
    selectors:
      listing: div.card
      price: span.price
  vrbo:
    enabled: false
    mode: static
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 20*time.Second, cfg.RequestTimeout())
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, 3, cfg.Search.MaxConcurrent)
	require.Equal(t, "redis", cfg.Cache.Backend)
	require.Equal(t, 2*time.Minute, cfg.CacheTTL())
	require.Equal(t, "postgres", cfg.Database.Backend)
	require.Equal(t, "local", cfg.Archive.Backend)
	require.False(t, cfg.Logging.Development)

	require.Equal(t, []string{"booking"}, cfg.EnabledPlatforms())
	booking := cfg.Platforms["booking"]
	require.Equal(t, "colly", booking.Mode)
	require.Equal(t, 8*time.Second, cfg.AttemptTimeout(booking))
	require.Equal(t, 1, booking.MaxRetries)
}

func TestLoadValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{name: "auth key missing", yaml: "auth:\n  enabled: true\n"},
		{name: "bad cache backend", yaml: "cache:\n  backend: memcached\n"},
		{name: "postgres without dsn", yaml: "database:\n  backend: postgres\n"},
		{name: "local archive without dir", yaml: "archive:\n  backend: local\n"},
		{name: "gcs archive without bucket", yaml: "archive:\n  backend: gcs\n"},
		{name: "pubsub without project", yaml: "pubsub:\n  enabled: true\n"},
		{name: "zero concurrency", yaml: "search:\n  max_concurrent: 0\n"},
		{
			name: "colly platform without url",
			yaml: "platforms:\n  booking:\n    enabled: true\n    mode: colly\n    selectors:\n      listing: d\n      price: p\n",
		},
		{
			name: "unknown platform mode",
			yaml: "platforms:\n  booking:\n    enabled: true\n    mode: carrier-pigeon\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestDisabledPlatformSkipsValidation(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, "platforms:\n  booking:\n    enabled: false\n    mode: colly\n"))
	require.NoError(t, err)
	require.Empty(t, cfg.EnabledPlatforms())
}
