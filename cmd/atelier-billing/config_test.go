package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/atelier/store/memory"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigLayers(t *testing.T) {
	path := writeFile(t, "atelier.yaml", `
store:
  driver: sqlite
  dsn: /var/lib/atelier/billing.db
sweep:
  schedule: "0 * * * *"
  batch_size: 50
billing:
  past_due_after: 2
log_level: debug
`)
	envFile := writeFile(t, ".env", "ATELIER_SWEEP_BATCH_SIZE=25\nATELIER_REDIS_URL=redis://from-dotenv:6379/0\n")
	t.Setenv("ATELIER_REDIS_URL", "redis://from-env:6379/0")
	t.Setenv("ATELIER_EXPIRE_AFTER", "6")

	cfg, err := LoadConfig(path, envFile)
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "/var/lib/atelier/billing.db", cfg.Store.DSN)
	assert.Equal(t, "0 * * * *", cfg.Sweep.Schedule)
	assert.Equal(t, 25, cfg.Sweep.BatchSize, ".env overrides the file")
	assert.Equal(t, 4, cfg.Sweep.Concurrency, "default kept")
	assert.Equal(t, "redis://from-env:6379/0", cfg.RedisURL, "environment overrides .env")
	assert.Equal(t, 2, cfg.Billing.PastDueAfter)
	assert.Equal(t, 6, cfg.Billing.ExpireAfter)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigMissingEnvFileIsIgnored(t *testing.T) {
	_, err := LoadConfig("", filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestLoadConfigRejectsBadInteger(t *testing.T) {
	t.Setenv("ATELIER_SWEEP_CONCURRENCY", "many")
	_, err := LoadConfig("", "")
	assert.ErrorContains(t, err, "ATELIER_SWEEP_CONCURRENCY")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Store.Driver = "cassandra" }, "unknown store driver"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }, "store.dsn"},
		{"mongo without database", func(c *Config) {
			c.Store = StoreConfig{Driver: DriverMongo, DSN: "mongodb://localhost"}
		}, "store.database"},
		{"bad schedule", func(c *Config) { c.Sweep.Schedule = "every day" }, "sweep.schedule"},
		{"zero batch", func(c *Config) { c.Sweep.BatchSize = 0 }, "batch_size"},
		{"negative threshold", func(c *Config) { c.Billing.ExpireAfter = -1 }, "negative"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestOpenStoreMemory(t *testing.T) {
	s, err := openStore(context.Background(), StoreConfig{Driver: DriverMemory}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, s)
}

func TestRunOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store = StoreConfig{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "billing.db")}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	require.NoError(t, run(context.Background(), cfg, logger, true))
}

func TestMux(t *testing.T) {
	s := memory.New()
	registry := prometheus.NewRegistry()
	srv := httptest.NewServer(newMux(registry, s))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Close())
	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
