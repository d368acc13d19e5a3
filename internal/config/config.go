package config

import (
	"errors"
	"fmt"
	"time"
)

// DefaultJWTSecret is the placeholder secret written to fresh config files.
const DefaultJWTSecret = "change-me-in-production"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`

	StoreDriver     string `mapstructure:"store_driver" yaml:"store_driver"`
	DatabasePath    string `mapstructure:"database_path" yaml:"database_path"`
	WatchMaxPending int    `mapstructure:"watch_max_pending" yaml:"watch_max_pending"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	TokenTTL    time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`

	MaxMessageBytes    int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	ResolveDebounce    time.Duration `mapstructure:"resolve_debounce" yaml:"resolve_debounce"`
	PublicBaseURL      string        `mapstructure:"public_base_url" yaml:"public_base_url"`

	Subscription SubscriptionConfig `mapstructure:"subscription" yaml:"subscription"`
	Assistant    AssistantConfig    `mapstructure:"assistant" yaml:"assistant"`
}

// SubscriptionConfig controls how dropped live queries are re-established.
type SubscriptionConfig struct {
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// AssistantConfig points at an OpenAI-compatible endpoint. An empty API key disables the assistant.
type AssistantConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey  string        `mapstructure:"api_key" yaml:"api_key"`
	Model   string        `mapstructure:"model" yaml:"model"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           "info",
		LogFormat:          "console",
		StoreDriver:        "sqlite",
		DatabasePath:       "roomchat.db",
		WatchMaxPending:    1024,
		JWTSecret:          DefaultJWTSecret,
		JWTIssuer:          "roomchat",
		JWTAudience:        "roomchat",
		TokenTTL:           24 * time.Hour,
		MaxMessageBytes:    1 << 20,
		RateLimitPerMinute: 120,
		ResolveDebounce:    500 * time.Millisecond,
		PublicBaseURL:      "http://localhost:8080",
		Subscription: SubscriptionConfig{
			InitialBackoff: 250 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			MaxAttempts:    5,
		},
		Assistant: AssistantConfig{
			BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai/",
			Model:   "gemini-2.0-flash",
			Timeout: 30 * time.Second,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.StoreDriver != "" {
		c.StoreDriver = other.StoreDriver
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.PublicBaseURL != "" {
		c.PublicBaseURL = other.PublicBaseURL
	}
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case "sqlite":
		if c.DatabasePath == "" {
			errs = append(errs, errors.New("database_path is required for the sqlite store"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown store_driver %q", c.StoreDriver))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret is required"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("token_ttl must be positive"))
	}
	if c.MaxMessageBytes <= 0 {
		errs = append(errs, errors.New("max_message_bytes must be positive"))
	}
	return errors.Join(errs...)
}
