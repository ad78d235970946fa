package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate for values the service cannot run with
var ErrInvalidConfig = errors.New("invalid config")

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Redis       RedisConfig       `yaml:"redis"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
	Warmup      WarmupConfig      `yaml:"warmup"`
	Reset       ResetConfig       `yaml:"reset"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel maps the configured level name to a slog level, defaulting to info
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// ProbeTimeout bounds the liveness PING issued before cache operations.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	// Key is the sorted set holding the ranking.
	Key string `yaml:"key"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	// DSN takes precedence over the discrete fields when set.
	DSN             string        `yaml:"dsn"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	if c.DSN != "" {
		return c.DSN
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	Topic         string   `yaml:"topic"`
	GroupID       string   `yaml:"group_id"`
	Enabled       bool     `yaml:"enabled"`
	EventsTopic   string   `yaml:"events_topic"`
	PublishEvents bool     `yaml:"publish_events"`
}

// LeaderboardConfig holds leaderboard view configuration
type LeaderboardConfig struct {
	TopLimit    int `yaml:"top_limit"`
	NearbyRange int `yaml:"nearby_range"`
}

// WarmupConfig holds cache warmup/rebuild configuration
type WarmupConfig struct {
	BatchSize int  `yaml:"batch_size"`
	OnStartup bool `yaml:"on_startup"`
}

// ResetConfig holds the scheduled reset configuration
type ResetConfig struct {
	Enabled bool `yaml:"enabled"`
	// IntervalHours is informational; the schedule is driven by Hour and TimeZone.
	IntervalHours int    `yaml:"interval_hours"`
	TimeZone      string `yaml:"time_zone"`
	Hour          int    `yaml:"hour"`
}

// Location resolves the configured time zone
func (c ResetConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("loading time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// MetricsConfig holds Prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expanding environment variables first
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	cfg := presets()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// presets holds the defaults whose zero value is also a valid setting, so
// they are set before decoding and an explicit false or 0 survives
func presets() *Config {
	return &Config{
		Leaderboard: LeaderboardConfig{TopLimit: 10, NearbyRange: 2},
		Warmup:      WarmupConfig{OnStartup: true},
		Reset:       ResetConfig{Enabled: true},
		Metrics:     MetricsConfig{Enabled: true},
	}
}

// Validate rejects values the service cannot run with
func (c *Config) Validate() error {
	if c.Leaderboard.TopLimit < 0 {
		return fmt.Errorf("%w: leaderboard.top_limit must not be negative", ErrInvalidConfig)
	}
	if c.Leaderboard.NearbyRange < 0 {
		return fmt.Errorf("%w: leaderboard.nearby_range must not be negative", ErrInvalidConfig)
	}
	if c.Reset.Hour < 0 || c.Reset.Hour > 23 {
		return fmt.Errorf("%w: reset.hour must be between 0 and 23", ErrInvalidConfig)
	}
	if _, err := c.Reset.Location(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Warmup.BatchSize <= 0 {
		return fmt.Errorf("%w: warmup.batch_size must be positive", ErrInvalidConfig)
	}
	if c.Postgres.RetryAttempts < 1 {
		return fmt.Errorf("%w: postgres.retry_attempts must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 2 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = time.Second
	}
	if c.Redis.ProbeTimeout == 0 {
		c.Redis.ProbeTimeout = 250 * time.Millisecond
	}
	if c.Redis.Key == "" {
		c.Redis.Key = "leaderboard:global:realtime"
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 50
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 5
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}
	if c.Postgres.RetryAttempts == 0 {
		c.Postgres.RetryAttempts = 3
	}
	if c.Postgres.RetryBaseDelay == 0 {
		c.Postgres.RetryBaseDelay = 100 * time.Millisecond
	}
	if c.Postgres.RetryMaxDelay == 0 {
		c.Postgres.RetryMaxDelay = 2 * time.Second
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "leaderboard-scores"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "leaderboard-consumer"
	}
	if c.Kafka.EventsTopic == "" {
		c.Kafka.EventsTopic = "leaderboard-events"
	}

	if c.Warmup.BatchSize == 0 {
		c.Warmup.BatchSize = 1000
	}

	// Reset defaults; Hour 0 (midnight) is already the zero value
	if c.Reset.IntervalHours == 0 {
		c.Reset.IntervalHours = 24
	}
	if c.Reset.TimeZone == "" {
		c.Reset.TimeZone = "UTC"
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := presets()
	cfg.applyDefaults()
	return cfg
}
