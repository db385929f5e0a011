// Package config reads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"replica/internal/core/apperror"
)

// State backends.
const (
	StateBackendPostgres = "postgres"
	StateBackendMemory   = "memory"
)

// Target drivers.
const (
	TargetClickHouse = "clickhouse"
	TargetDuckDB     = "duckdb"
)

// ArangoConfig locates the source database.
type ArangoConfig struct {
	URL       string
	Database  string
	User      string
	Password  string
	ServerID  string
	ChunkSize int
	// RateLimit caps tail requests per second; zero disables limiting.
	RateLimit float64
}

// KafkaConfig configures the broker clients.
type KafkaConfig struct {
	Brokers     []string
	Compression string
	// ValueCodec compresses large message values: none or zstd.
	ValueCodec  string
	PollTimeout time.Duration
	MaxRecords  int
}

// StateConfig selects the key-value store and control bus.
type StateConfig struct {
	Backend     string
	DatabaseURL string
}

// TargetConfig locates the columnar target.
type TargetConfig struct {
	Driver    string
	DSN       string
	Database  string
	BatchSize int
}

// Config is the full service configuration.
type Config struct {
	Env      string
	LogLevel string
	LogDir   string

	Arango ArangoConfig
	Kafka  KafkaConfig
	State  StateConfig
	Target TargetConfig

	SchemaDir       string
	SyncCollections []string
	ConsumerExclude []string

	ProducerIdle time.Duration
	ConsumerIdle time.Duration

	MaxRestarts  int
	MinUpTime    time.Duration
	RestartDelay time.Duration

	TickFile       string
	AdminAddr      string
	AdminJWTSecret string
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Env:      getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogDir:   getEnv("LOG_DIR", "logs"),
		Arango: ArangoConfig{
			URL:       getEnv("ARANGO_URL", "http://localhost:8529"),
			Database:  getEnv("ARANGO_DB", "_system"),
			User:      getEnv("ARANGO_USER", "root"),
			Password:  os.Getenv("ARANGO_PASSWORD"),
			ServerID:  os.Getenv("WAL_SERVER_ID"),
			ChunkSize: getEnvInt("WAL_CHUNK_SIZE", 1<<20),
			RateLimit: getEnvFloat("WAL_RATE_LIMIT", 0),
		},
		Kafka: KafkaConfig{
			Brokers:     getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Compression: getEnv("KAFKA_COMPRESSION", "none"),
			ValueCodec:  getEnv("KAFKA_VALUE_CODEC", "zstd"),
			PollTimeout: getEnvDuration("KAFKA_POLL_TIMEOUT", time.Second),
			MaxRecords:  getEnvInt("KAFKA_MAX_RECORDS", 1000),
		},
		State: StateConfig{
			Backend:     getEnv("STATE_BACKEND", StateBackendPostgres),
			DatabaseURL: os.Getenv("STATE_DATABASE_URL"),
		},
		Target: TargetConfig{
			Driver:    getEnv("TARGET_DRIVER", TargetClickHouse),
			DSN:       os.Getenv("TARGET_DSN"),
			Database:  getEnv("TARGET_DATABASE", "default"),
			BatchSize: getEnvInt("TARGET_BATCH_SIZE", 10000),
		},
		SchemaDir:       getEnv("SCHEMA_DIR", "schemas"),
		SyncCollections: getEnvList("SYNC_COLLECTIONS", nil),
		ConsumerExclude: getEnvList("CONSUMER_EXCLUDE", nil),
		ProducerIdle:    getEnvDuration("PRODUCER_IDLE", 10*time.Second),
		ConsumerIdle:    getEnvDuration("CONSUMER_IDLE", 10*time.Second),
		MaxRestarts:     getEnvInt("MAX_RESTARTS", 3),
		MinUpTime:       getEnvDuration("MIN_UP_TIME", 60*time.Second),
		RestartDelay:    getEnvDuration("RESTART_DELAY", 10*time.Second),
		TickFile:        getEnv("TICK_FILE", "last_tick.txt"),
		AdminAddr:       getEnv("ADMIN_ADDR", ":8080"),
		AdminJWTSecret:  os.Getenv("ADMIN_JWT_SECRET"),
	}

	switch cfg.State.Backend {
	case StateBackendPostgres, StateBackendMemory:
	default:
		return nil, apperror.NewConfig(fmt.Sprintf("unknown STATE_BACKEND %q", cfg.State.Backend))
	}
	switch cfg.Target.Driver {
	case TargetClickHouse, TargetDuckDB:
	default:
		return nil, apperror.NewConfig(fmt.Sprintf("unknown TARGET_DRIVER %q", cfg.Target.Driver))
	}
	if cfg.MaxRestarts < 0 {
		return nil, apperror.NewConfig("MAX_RESTARTS must not be negative")
	}
	return cfg, nil
}

// Development reports whether human-readable logs are wanted.
func (c *Config) Development() bool {
	return c.Env == "development"
}

// DocumentErrorLog is the file receiving rejected documents.
func (c *Config) DocumentErrorLog() string {
	return filepath.Join(c.LogDir, "error-document.log")
}

// RequireSource checks the variables needed to read the source log.
func (c *Config) RequireSource() error {
	return require(map[string]string{
		"ARANGO_URL":    c.Arango.URL,
		"ARANGO_DB":     c.Arango.Database,
		"WAL_SERVER_ID": c.Arango.ServerID,
	})
}

// RequireBroker checks the broker variables.
func (c *Config) RequireBroker() error {
	if len(c.Kafka.Brokers) == 0 {
		return apperror.NewConfig("required environment variable KAFKA_BROKERS not set")
	}
	return nil
}

// RequireState checks the state store variables.
func (c *Config) RequireState() error {
	if c.State.Backend == StateBackendMemory {
		return nil
	}
	return require(map[string]string{"STATE_DATABASE_URL": c.State.DatabaseURL})
}

// RequireTarget checks the target store variables.
func (c *Config) RequireTarget() error {
	return require(map[string]string{"TARGET_DSN": c.Target.DSN})
}

// RequireCollections checks that at least one collection is configured.
func (c *Config) RequireCollections() error {
	if len(c.SyncCollections) == 0 {
		return apperror.NewConfig("required environment variable SYNC_COLLECTIONS not set")
	}
	return nil
}

func require(values map[string]string) error {
	var missing []string
	for key, value := range values {
		if value == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return apperror.NewConfig("required environment variables not set: " + strings.Join(missing, ", ")).
		WithDetail("missing", missing)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty items.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
