package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/decisionlens/pkg/atoms"
	"github.com/platinummonkey/decisionlens/pkg/engine"
	"github.com/platinummonkey/decisionlens/pkg/memo"
	"github.com/platinummonkey/decisionlens/pkg/observability"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DECISIONLENS_"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Retention     RetentionConfig     `yaml:"retention"`
	Janitor       JanitorConfig       `yaml:"janitor"`
	Cache         CacheConfig         `yaml:"cache"`
	Notifications NotificationConfig  `yaml:"notifications"`
	Observability ObservabilityConfig `yaml:"observability"`

	// SampleLimit bounds the raw samples kept per atom usage record.
	SampleLimit int `yaml:"sample_limit"`

	// Tenants get an engine at startup. More are created on demand.
	Tenants []string `yaml:"tenants"`
}

// ServerConfig holds the metrics and health listener settings
type ServerConfig struct {
	MetricsAddr     string        `yaml:"metrics_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RetentionConfig holds the retention window of each analyzer in days.
// 0 keeps data forever.
type RetentionConfig struct {
	AtomDays     int `yaml:"atom_days"`
	CampaignDays int `yaml:"campaign_days"`
	UserDays     int `yaml:"user_days"`
}

// JanitorConfig holds cron specs for the maintenance jobs
type JanitorConfig struct {
	RetentionSchedule string `yaml:"retention_schedule"`
	GraphSchedule     string `yaml:"graph_schedule"`
}

// CacheConfig sizes the derived-metric caches
type CacheConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

// NotificationConfig sizes channel subscribers on the change bus
type NotificationConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	OTelEnabled    bool   `yaml:"otel_enabled"`
	OTelEndpoint   string `yaml:"otel_endpoint"`
	OTelService    string `yaml:"otel_service_name"`
	OTelInsecure   bool   `yaml:"otel_insecure"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	eng := engine.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			MetricsAddr:     ":9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Retention: RetentionConfig{
			AtomDays:     eng.AtomRetentionDays,
			CampaignDays: eng.CampaignRetentionDays,
			UserDays:     eng.UserRetentionDays,
		},
		Janitor: JanitorConfig{
			RetentionSchedule: eng.RetentionSchedule,
			GraphSchedule:     eng.GraphSchedule,
		},
		Cache: CacheConfig{
			Size: eng.Cache.Size,
			TTL:  eng.Cache.TTL,
		},
		Notifications: NotificationConfig{BufferSize: 256},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			LogFormat:      observability.FormatText,
			MetricsEnabled: true,
			OTelEndpoint:   "localhost:4317",
			OTelService:    "decisionlens",
			OTelInsecure:   true,
		},
		SampleLimit: atoms.DefaultSampleLimit,
		Tenants:     []string{engine.DefaultTenant},
	}
}

// LoadConfig builds the configuration from defaults, then the YAML file at
// path (skipped when path is empty), then environment variables.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields from DECISIONLENS_* variables
func (c *Config) applyEnv() {
	c.Server.MetricsAddr = getEnv("METRICS_ADDR", c.Server.MetricsAddr)
	c.Server.ReadTimeout = getEnvDuration("READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Retention.AtomDays = getEnvInt("ATOM_RETENTION_DAYS", c.Retention.AtomDays)
	c.Retention.CampaignDays = getEnvInt("CAMPAIGN_RETENTION_DAYS", c.Retention.CampaignDays)
	c.Retention.UserDays = getEnvInt("USER_RETENTION_DAYS", c.Retention.UserDays)

	c.Janitor.RetentionSchedule = getEnv("RETENTION_SCHEDULE", c.Janitor.RetentionSchedule)
	c.Janitor.GraphSchedule = getEnv("GRAPH_SCHEDULE", c.Janitor.GraphSchedule)

	c.Cache.Size = getEnvInt("CACHE_SIZE", c.Cache.Size)
	c.Cache.TTL = getEnvDuration("CACHE_TTL", c.Cache.TTL)
	c.Notifications.BufferSize = getEnvInt("NOTIFY_BUFFER", c.Notifications.BufferSize)
	c.SampleLimit = getEnvInt("SAMPLE_LIMIT", c.SampleLimit)

	c.Observability.LogLevel = getEnv("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = getEnv("LOG_FORMAT", c.Observability.LogFormat)
	c.Observability.MetricsEnabled = getEnvBool("METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelService = getEnv("OTEL_SERVICE_NAME", c.Observability.OTelService)
	c.Observability.OTelInsecure = getEnvBool("OTEL_INSECURE", c.Observability.OTelInsecure)

	if tenants := getEnv("TENANTS", ""); tenants != "" {
		c.Tenants = splitList(tenants)
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Observability.MetricsEnabled && c.Server.MetricsAddr == "" {
		return fmt.Errorf("metrics address is required when metrics are enabled")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	if _, err := observability.ParseLevel(c.Observability.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.Observability.LogFormat) {
	case "", observability.FormatText, observability.FormatJSON:
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Observability.LogFormat)
	}
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("otel endpoint is required when otel is enabled")
		}
		if c.Observability.OTelService == "" {
			return fmt.Errorf("otel service name is required when otel is enabled")
		}
	}
	if c.Notifications.BufferSize <= 0 {
		return fmt.Errorf("notification buffer size must be positive")
	}

	seen := make(map[string]bool, len(c.Tenants))
	for _, t := range c.Tenants {
		if t == "" {
			return fmt.Errorf("tenant names must not be empty")
		}
		if seen[t] {
			return fmt.Errorf("duplicate tenant: %s", t)
		}
		seen[t] = true
	}

	if err := c.EngineConfig().Validate(); err != nil {
		return err
	}
	return nil
}

// EngineConfig converts the file layout into an engine configuration.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		AtomRetentionDays:     c.Retention.AtomDays,
		CampaignRetentionDays: c.Retention.CampaignDays,
		UserRetentionDays:     c.Retention.UserDays,
		RetentionSchedule:     c.Janitor.RetentionSchedule,
		GraphSchedule:         c.Janitor.GraphSchedule,
		Cache:                 memo.Config{Size: c.Cache.Size, TTL: c.Cache.TTL},
		SampleLimit:           c.SampleLimit,
	}
}

// OTelConfig converts the observability section into exporter settings.
func (c *Config) OTelConfig(version string) observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelService,
		ServiceVersion: version,
		Insecure:       c.Observability.OTelInsecure,
	}
}

// ErrNoConfigFile is returned by Watch when no path was given.
var ErrNoConfigFile = errors.New("no config file to watch")

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
