package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0600))
	return configFile
}

func TestLoadIndexerConfig(t *testing.T) {
	tests := []struct {
		name        string
		configFile  string
		expectError bool
		validate    func(*testing.T, *IndexerConfig)
	}{
		{
			name: "valid config file",
			configFile: `
debug: true
sentry_dsn: "https://sentry.example.com"
database:
  path: /var/lib/cards/index.db
  busy_timeout: "10s"
ingest:
  batch_size: 500
`,
			validate: func(t *testing.T, cfg *IndexerConfig) {
				assert.True(t, cfg.Debug)
				assert.Equal(t, "https://sentry.example.com", cfg.SentryDSN)
				assert.Equal(t, "/var/lib/cards/index.db", cfg.Database.Path)
				assert.Equal(t, 10*time.Second, cfg.Database.BusyTimeout)
				assert.Equal(t, 500, cfg.Ingest.BatchSize)
			},
		},
		{
			name:       "config with defaults",
			configFile: "debug: false\n",
			validate: func(t *testing.T, cfg *IndexerConfig) {
				// Check defaults
				assert.Equal(t, "cards.db", cfg.Database.Path)
				assert.Equal(t, 5*time.Second, cfg.Database.BusyTimeout)
				assert.Equal(t, 1000, cfg.Ingest.BatchSize)
			},
		},
		{
			name: "invalid value type",
			configFile: `
ingest:
  batch_size: not-a-number
`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile := writeConfigFile(t, tt.configFile)

			cfg, err := LoadIndexerConfig(configFile, t.TempDir())
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestLoadFetcherConfig(t *testing.T) {
	tests := []struct {
		name       string
		configFile string
		validate   func(*testing.T, *FetcherConfig)
	}{
		{
			name: "valid config file",
			configFile: `
database:
  path: cards.db
cache:
  size: 64
  ttl: "1m"
fetch:
  concurrency: 4
  timeout: "15s"
  max_retries: 5
  base_delay: "250ms"
  max_delay: "20s"
  requests_per_second: 2.5
  skip_existing: false
  output_dir: /tmp/images
`,
			validate: func(t *testing.T, cfg *FetcherConfig) {
				assert.Equal(t, 64, cfg.Cache.Size)
				assert.Equal(t, time.Minute, cfg.Cache.TTL)
				assert.Equal(t, 4, cfg.Fetch.Concurrency)
				assert.Equal(t, 15*time.Second, cfg.Fetch.Timeout)
				assert.Equal(t, 5, cfg.Fetch.MaxRetries)
				assert.Equal(t, 250*time.Millisecond, cfg.Fetch.BaseDelay)
				assert.Equal(t, 20*time.Second, cfg.Fetch.MaxDelay)
				assert.Equal(t, 2.5, cfg.Fetch.RequestsPerSecond)
				assert.False(t, cfg.Fetch.SkipExisting)
				assert.Equal(t, "/tmp/images", cfg.Fetch.OutputDir)
			},
		},
		{
			name:       "config with defaults",
			configFile: "debug: false\n",
			validate: func(t *testing.T, cfg *FetcherConfig) {
				// Check defaults
				assert.Equal(t, 256, cfg.Cache.Size)
				assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
				assert.Equal(t, 8, cfg.Fetch.Concurrency)
				assert.Equal(t, 30*time.Second, cfg.Fetch.Timeout)
				assert.Equal(t, 3, cfg.Fetch.MaxRetries)
				assert.True(t, cfg.Fetch.SkipExisting)
				assert.Equal(t, "images", cfg.Fetch.OutputDir)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile := writeConfigFile(t, tt.configFile)

			cfg, err := LoadFetcherConfig(configFile, t.TempDir())
			require.NoError(t, err)
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestLoadFetcherConfig_EnvOverride(t *testing.T) {
	t.Setenv("PROXY_MACHINE_FETCH_CONCURRENCY", "2")
	t.Setenv("PROXY_MACHINE_DATABASE_PATH", "/data/env.db")

	cfg, err := LoadFetcherConfig("", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Fetch.Concurrency)
	assert.Equal(t, "/data/env.db", cfg.Database.Path)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{Path: "cards.db", BusyTimeout: 5 * time.Second}
	dsn := cfg.DSN()
	assert.Contains(t, dsn, "file:cards.db")
	assert.Contains(t, dsn, "_journal_mode=WAL")
	assert.Contains(t, dsn, "_busy_timeout=5000")
	assert.Contains(t, dsn, "_foreign_keys=on")
}
