package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Broadcast     BroadcastConfig     `yaml:"broadcast"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`

	// UserIDHeader carries the user authenticated by the fronting proxy
	UserIDHeader string `yaml:"user_id_header"`
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// CacheConfig sizes the two permission caches
type CacheConfig struct {
	ProjectTTL     time.Duration `yaml:"project_ttl"`
	ProjectMaxSize int           `yaml:"project_max_size"`
	TeamTTL        time.Duration `yaml:"team_ttl"`
	TeamMaxSize    int           `yaml:"team_max_size"`
}

// BroadcastConfig enables cross-process invalidation over Redis
type BroadcastConfig struct {
	Enabled  bool   `yaml:"enabled"`
	RedisURL string `yaml:"redis_url"`
	Channel  string `yaml:"channel"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	// OpenTelemetry tracing
	TracingEnabled bool   `yaml:"tracing_enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() logrus.Level {
	return parseLogLevel(o.LogLevel)
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
			UserIDHeader:    "X-User-ID",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			AutoMigrate:     true,
		},
		Cache: CacheConfig{
			ProjectTTL:     5 * time.Minute,
			ProjectMaxSize: 1000,
			TeamTTL:        5 * time.Minute,
			TeamMaxSize:    1000,
		},
		Broadcast: BroadcastConfig{
			Channel: "boardperm:invalidations",
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			MetricsEnabled: true,
			OTLPEndpoint:   "localhost:4317",
			OTLPInsecure:   true,
		},
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := Default()
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigFile loads a YAML file, then applies environment overrides
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides cfg with every BOARDPERM_* variable that is set
func applyEnv(cfg *Config) {
	s := &cfg.Server
	s.Host = getEnv("BOARDPERM_HOST", s.Host)
	s.Port = getEnv("BOARDPERM_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("BOARDPERM_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("BOARDPERM_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("BOARDPERM_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("BOARDPERM_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.HealthPort = getEnv("BOARDPERM_HEALTH_PORT", s.HealthPort)
	s.UserIDHeader = getEnv("BOARDPERM_USER_ID_HEADER", s.UserIDHeader)

	d := &cfg.Database
	d.URL = getEnv("BOARDPERM_DATABASE_URL", d.URL)
	d.MaxOpenConns = getEnvInt("BOARDPERM_DATABASE_MAX_OPEN_CONNS", d.MaxOpenConns)
	d.MaxIdleConns = getEnvInt("BOARDPERM_DATABASE_MAX_IDLE_CONNS", d.MaxIdleConns)
	d.ConnMaxLifetime = getEnvDuration("BOARDPERM_DATABASE_CONN_MAX_LIFETIME", d.ConnMaxLifetime)
	d.AutoMigrate = getEnvBool("BOARDPERM_DATABASE_AUTO_MIGRATE", d.AutoMigrate)

	c := &cfg.Cache
	c.ProjectTTL = getEnvDuration("BOARDPERM_PROJECT_CACHE_TTL", c.ProjectTTL)
	c.ProjectMaxSize = getEnvInt("BOARDPERM_PROJECT_CACHE_SIZE", c.ProjectMaxSize)
	c.TeamTTL = getEnvDuration("BOARDPERM_TEAM_CACHE_TTL", c.TeamTTL)
	c.TeamMaxSize = getEnvInt("BOARDPERM_TEAM_CACHE_SIZE", c.TeamMaxSize)

	b := &cfg.Broadcast
	b.Enabled = getEnvBool("BOARDPERM_BROADCAST_ENABLED", b.Enabled)
	b.RedisURL = getEnv("BOARDPERM_REDIS_URL", b.RedisURL)
	b.Channel = getEnv("BOARDPERM_BROADCAST_CHANNEL", b.Channel)

	o := &cfg.Observability
	o.LogLevel = getEnv("BOARDPERM_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("BOARDPERM_METRICS_ENABLED", o.MetricsEnabled)
	o.TracingEnabled = getEnvBool("BOARDPERM_OTEL_ENABLED", o.TracingEnabled)
	o.OTLPEndpoint = getEnv("BOARDPERM_OTEL_ENDPOINT", o.OTLPEndpoint)
	o.OTLPInsecure = getEnvBool("BOARDPERM_OTEL_INSECURE", o.OTLPInsecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.UserIDHeader == "" {
		return fmt.Errorf("user ID header is required")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.Cache.ProjectTTL <= 0 || c.Cache.TeamTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.Cache.ProjectMaxSize <= 0 || c.Cache.TeamMaxSize <= 0 {
		return fmt.Errorf("cache size must be positive")
	}

	if c.Broadcast.Enabled {
		if c.Broadcast.RedisURL == "" {
			return fmt.Errorf("redis URL is required when broadcast is enabled")
		}
		if c.Broadcast.Channel == "" {
			return fmt.Errorf("broadcast channel is required when broadcast is enabled")
		}
	}

	if _, err := logrus.ParseLevel(c.Observability.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Observability.LogLevel)
	}
	if c.Observability.TracingEnabled && c.Observability.OTLPEndpoint == "" {
		return fmt.Errorf("OTLP endpoint is required when tracing is enabled")
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
