package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// BaseConfig holds base configuration shared by all binaries
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// DatabaseConfig holds card index database configuration
type DatabaseConfig struct {
	// Path is the SQLite index file location
	Path string `mapstructure:"path"`
	// BusyTimeout is how long a writer waits on a locked database
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// DSN returns the SQLite connection string with the pragmas the index
// relies on (WAL for concurrent readers under a single writer)
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on",
		c.Path, c.BusyTimeout.Milliseconds())
}

// IngestConfig holds catalog ingest configuration
type IngestConfig struct {
	// BatchSize is the number of prints upserted per transaction
	BatchSize int `mapstructure:"batch_size"`
}

// CacheConfig holds query result cache configuration
type CacheConfig struct {
	Size int           `mapstructure:"size"`
	TTL  time.Duration `mapstructure:"ttl"`
}

// FetchConfig holds fetch orchestrator configuration
type FetchConfig struct {
	// Concurrency is the worker pool size
	Concurrency int `mapstructure:"concurrency"`
	// Timeout bounds a single download attempt
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries bounds retries after the first attempt
	MaxRetries int `mapstructure:"max_retries"`
	// BaseDelay is the initial backoff interval
	BaseDelay time.Duration `mapstructure:"base_delay"`
	// MaxDelay caps the backoff interval
	MaxDelay time.Duration `mapstructure:"max_delay"`
	// RequestsPerSecond limits load on the image source (0 = unlimited)
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	// SkipExisting treats an already-present destination as satisfied
	SkipExisting bool `mapstructure:"skip_existing"`
	// OutputDir is the root for materialized images
	OutputDir string `mapstructure:"output_dir"`
}

// IndexerConfig holds configuration for the indexer binary
type IndexerConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig `mapstructure:"database"`
	Ingest     IngestConfig   `mapstructure:"ingest"`
}

// FetcherConfig holds configuration for the fetcher binary
type FetcherConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig `mapstructure:"database"`
	Cache      CacheConfig    `mapstructure:"cache"`
	Fetch      FetchConfig    `mapstructure:"fetch"`
}

// LoadIndexerConfig loads configuration for the indexer binary
func LoadIndexerConfig(configFile string, envPath string) (*IndexerConfig, error) {
	v := configureViper("indexer", configFile, envPath)

	setDatabaseDefaults(v)
	v.SetDefault("ingest.batch_size", 1000)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg IndexerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadFetcherConfig loads configuration for the fetcher binary
func LoadFetcherConfig(configFile string, envPath string) (*FetcherConfig, error) {
	v := configureViper("fetcher", configFile, envPath)

	setDatabaseDefaults(v)
	v.SetDefault("cache.size", 256)
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("fetch.concurrency", 8)
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.base_delay", "500ms")
	v.SetDefault("fetch.max_delay", "10s")
	v.SetDefault("fetch.requests_per_second", 10)
	v.SetDefault("fetch.skip_existing", true)
	v.SetDefault("fetch.output_dir", "images")

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg FetcherConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDatabaseDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "cards.db")
	v.SetDefault("database.busy_timeout", "5s")
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found, use environment variables
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	loadEnv(envPath, service)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		v.AddConfigPath("config/")
	}

	v.SetEnvPrefix("PROXY_MACHINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables.
// Required for viper to map env vars to config struct fields when no
// config file exists.
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"sentry_dsn",
		"database.path",
		"database.busy_timeout",
		"ingest.batch_size",
		"cache.size",
		"cache.ttl",
		"fetch.concurrency",
		"fetch.timeout",
		"fetch.max_retries",
		"fetch.base_delay",
		"fetch.max_delay",
		"fetch.requests_per_second",
		"fetch.skip_existing",
		"fetch.output_dir",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads .env files from the given path, later files overriding earlier ones
func loadEnv(envPath string, service string) {
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate)
	}
}
