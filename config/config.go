// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Limits   LimitsConfig   `yaml:"limits"`
	LLM      LLMConfig      `yaml:"llm"`
	Prompt   PromptConfig   `yaml:"prompt"`
	Database DatabaseConfig `yaml:"database"`
	Usage    UsageConfig    `yaml:"usage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	OpenAPI  OpenAPIConfig  `yaml:"openapi"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// AuthConfig configures API keys. Static keys come from this file;
// issued keys live in the database when keys_db is enabled.
type AuthConfig struct {
	Keys   []KeyConfig `yaml:"keys"`
	KeysDB bool        `yaml:"keys_db"`
}

// KeyConfig is one static API key. Set either key (plaintext) or hash
// (bcrypt digest of the key), not both.
type KeyConfig struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key,omitempty"`
	Hash string `yaml:"hash,omitempty"`
}

// LimitsConfig configures admission limits per API key. Requests are
// limited per second and per minute, tokens per request and per
// calendar day. All four values are required and must be positive.
type LimitsConfig struct {
	RequestsPerSecond   int    `yaml:"requests_per_second"`
	RequestsPerMinute   int    `yaml:"requests_per_minute"`
	MaxTokensPerRequest int64  `yaml:"max_tokens_per_request"`
	MaxTokensPerDay     int64  `yaml:"max_tokens_per_day"`
	Timezone            string `yaml:"timezone"` // IANA name; empty means UTC
}

// Location resolves the configured timezone for day-boundary math.
func (l LimitsConfig) Location() (*time.Location, error) {
	return time.LoadLocation(l.Timezone)
}

// LLMConfig configures the upstream model API.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"` // empty means the hosted OpenAI endpoint
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// PromptConfig configures the system prompt loaded from the database.
// An empty name disables system prompts entirely.
type PromptConfig struct {
	Name     string        `yaml:"name"`
	CacheTTL time.Duration `yaml:"cache_ttl"` // negative disables caching
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// UsageConfig configures usage event recording and retention.
// An empty retention_schedule disables the retention sweep.
type UsageConfig struct {
	BatchSize         int           `yaml:"batch_size"`
	FlushInterval     time.Duration `yaml:"flush_interval"`
	RetentionDays     int           `yaml:"retention_days"`
	RetentionSchedule string        `yaml:"retention_schedule"` // cron expression
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// OpenAPIConfig configures OpenAPI/Swagger documentation.
type OpenAPIConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// This is useful for Docker deployments where no config file is needed.
//
// Environment variables:
//
//	LLMGATE_LLM_API_KEY       - Upstream model API key (required)
//	LLMGATE_AUTH_KEY          - A single static API key
//	LLMGATE_AUTH_KEY_NAME     - Caller name for that key (default: default)
//	LLMGATE_AUTH_KEYS_DB      - Enable issued keys from the database
//	LLMGATE_LIMITS_REQUESTS_PER_SECOND   - Request cap per second (required)
//	LLMGATE_LIMITS_REQUESTS_PER_MINUTE   - Request cap per minute (required)
//	LLMGATE_LIMITS_MAX_TOKENS_PER_REQUEST - Token cap per request (required)
//	LLMGATE_LIMITS_MAX_TOKENS_PER_DAY     - Token cap per day (required)
//	LLMGATE_LIMITS_TIMEZONE   - Day boundary timezone (default: UTC)
//	LLMGATE_SERVER_HOST       - Server host (default: 0.0.0.0)
//	LLMGATE_SERVER_PORT       - Server port (default: 8080)
//	LLMGATE_DATABASE_PATH     - SQLite path (default: llmgate.db)
//	LLMGATE_LOG_LEVEL         - Log level: debug, info, warn, error (default: info)
//	LLMGATE_LOG_FORMAT        - Log format: json or console (default: json)
//	LLMGATE_METRICS_ENABLED   - Enable /metrics endpoint
//	LLMGATE_OPENAPI_ENABLED   - Enable OpenAPI/Swagger
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment variables.
// This is the recommended method for Docker deployments.
func LoadWithFallback(path string) (*Config, error) {
	// Try loading from file first
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	// Check if we have enough env vars to run
	if os.Getenv("LLMGATE_LLM_API_KEY") != "" {
		return LoadFromEnv()
	}

	// No config available
	return nil, fmt.Errorf("no configuration found: provide config file or set LLMGATE_LLM_API_KEY")
}

// HasEnvConfig returns true if essential environment variables are set.
func HasEnvConfig() bool {
	return os.Getenv("LLMGATE_LLM_API_KEY") != ""
}

// applyEnvOverrides applies LLMGATE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("LLMGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("LLMGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LLMGATE_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("LLMGATE_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	// Auth configuration
	if v := os.Getenv("LLMGATE_AUTH_KEY"); v != "" {
		name := os.Getenv("LLMGATE_AUTH_KEY_NAME")
		if name == "" {
			name = "default"
		}
		cfg.Auth.Keys = append(cfg.Auth.Keys, KeyConfig{Name: name, Key: v})
	}
	if v := os.Getenv("LLMGATE_AUTH_KEYS_DB"); v != "" {
		cfg.Auth.KeysDB = parseBool(v)
	}

	// Limits configuration
	if v := os.Getenv("LLMGATE_LIMITS_REQUESTS_PER_SECOND"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.RequestsPerSecond = n
		}
	}
	if v := os.Getenv("LLMGATE_LIMITS_REQUESTS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("LLMGATE_LIMITS_MAX_TOKENS_PER_REQUEST"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Limits.MaxTokensPerRequest = n
		}
	}
	if v := os.Getenv("LLMGATE_LIMITS_MAX_TOKENS_PER_DAY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Limits.MaxTokensPerDay = n
		}
	}
	if v := os.Getenv("LLMGATE_LIMITS_TIMEZONE"); v != "" {
		cfg.Limits.Timezone = v
	}

	// LLM configuration
	if v := os.Getenv("LLMGATE_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLMGATE_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLMGATE_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLMGATE_LLM_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LLM.Temperature = f
		}
	}
	if v := os.Getenv("LLMGATE_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LLM.Timeout = d
		}
	}

	// Prompt configuration
	if v := os.Getenv("LLMGATE_PROMPT_NAME"); v != "" {
		cfg.Prompt.Name = v
	}

	// Database configuration
	if v := os.Getenv("LLMGATE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Usage configuration
	if v := os.Getenv("LLMGATE_USAGE_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Usage.BatchSize = n
		}
	}
	if v := os.Getenv("LLMGATE_USAGE_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Usage.FlushInterval = d
		}
	}
	if v := os.Getenv("LLMGATE_USAGE_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Usage.RetentionDays = n
		}
	}
	if v := os.Getenv("LLMGATE_USAGE_RETENTION_SCHEDULE"); v != "" {
		cfg.Usage.RetentionSchedule = v
	}

	// Logging configuration
	if v := os.Getenv("LLMGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LLMGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("LLMGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}

	// OpenAPI configuration
	if v := os.Getenv("LLMGATE_OPENAPI_ENABLED"); v != "" {
		cfg.OpenAPI.Enabled = parseBool(v)
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// Streaming completions can run for minutes; the write window
		// must outlive them.
		cfg.Server.WriteTimeout = 300 * time.Second
	}

	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60 * time.Second
	}

	if cfg.Prompt.CacheTTL == 0 {
		cfg.Prompt.CacheTTL = 60 * time.Second
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "llmgate.db"
	}

	if cfg.Usage.BatchSize == 0 {
		cfg.Usage.BatchSize = 100
	}
	if cfg.Usage.FlushInterval == 0 {
		cfg.Usage.FlushInterval = 10 * time.Second
	}
	if cfg.Usage.RetentionDays == 0 {
		cfg.Usage.RetentionDays = 90
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Limits.RequestsPerSecond <= 0 {
		return fmt.Errorf("limits.requests_per_second must be positive, got %d", cfg.Limits.RequestsPerSecond)
	}
	if cfg.Limits.RequestsPerMinute <= 0 {
		return fmt.Errorf("limits.requests_per_minute must be positive, got %d", cfg.Limits.RequestsPerMinute)
	}
	if cfg.Limits.MaxTokensPerRequest <= 0 {
		return fmt.Errorf("limits.max_tokens_per_request must be positive, got %d", cfg.Limits.MaxTokensPerRequest)
	}
	if cfg.Limits.MaxTokensPerDay <= 0 {
		return fmt.Errorf("limits.max_tokens_per_day must be positive, got %d", cfg.Limits.MaxTokensPerDay)
	}
	if _, err := cfg.Limits.Location(); err != nil {
		return fmt.Errorf("limits.timezone: unknown location %q", cfg.Limits.Timezone)
	}

	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required (set llm.api_key or LLMGATE_LLM_API_KEY)")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2, got %v", cfg.LLM.Temperature)
	}

	if len(cfg.Auth.Keys) == 0 && !cfg.Auth.KeysDB {
		return fmt.Errorf("no API keys configured: provide auth.keys or enable auth.keys_db")
	}
	for i, k := range cfg.Auth.Keys {
		if k.Name == "" {
			return fmt.Errorf("auth.keys[%d].name is required", i)
		}
		if (k.Key == "") == (k.Hash == "") {
			return fmt.Errorf("auth.keys[%d]: set exactly one of key or hash", i)
		}
	}

	if cfg.Usage.RetentionSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Usage.RetentionSchedule); err != nil {
			return fmt.Errorf("usage.retention_schedule: %w", err)
		}
		if cfg.Usage.RetentionDays <= 0 {
			return fmt.Errorf("usage.retention_days must be positive when retention_schedule is set, got %d", cfg.Usage.RetentionDays)
		}
	}

	return nil
}
