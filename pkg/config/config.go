// Package config loads daemon configuration from TOML, environment and
// flags, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RateLimit is the admission bound override for one API name.
type RateLimit struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

// SMTP is the delivery endpoint for subscriber mail. Leaving Host empty
// disables notifications.
type SMTP struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// Config holds the configuration for the trendwatch daemon.
type Config struct {
	Timezone         string                   `mapstructure:"timezone"`
	MorningTrigger   string                   `mapstructure:"morning_trigger"`
	AfternoonTrigger string                   `mapstructure:"afternoon_trigger"`
	Grace            time.Duration            `mapstructure:"grace"`
	StartupCatchup   bool                     `mapstructure:"startup_catchup"`
	Concurrency      int                      `mapstructure:"concurrency"`
	DBPath           string                   `mapstructure:"db_path"`
	HTTPPort         int                      `mapstructure:"http_port"`
	PidFile          string                   `mapstructure:"pid_file"`
	LogLevel         string                   `mapstructure:"log_level"`
	RateLimits       map[string]RateLimit     `mapstructure:"rate_limits"`
	MaxAges          map[string]time.Duration `mapstructure:"max_ages"`
	SMTP             SMTP                     `mapstructure:"smtp"`
	Subscribers      []string                 `mapstructure:"subscribers"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s value '%v': %s", e.Field, e.Value, e.Message)
}

// Load reads configuration from an optional TOML file plus TRENDWATCH_*
// environment variables and validates the result. An empty path loads
// defaults and environment only.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("TRENDWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns a configuration with default values.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	v.Unmarshal(&cfg) //nolint:errcheck
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("timezone", "Asia/Tokyo")
	v.SetDefault("morning_trigger", "07:00")
	v.SetDefault("afternoon_trigger", "14:00")
	v.SetDefault("grace", time.Hour)
	v.SetDefault("startup_catchup", true)
	v.SetDefault("concurrency", 4)
	v.SetDefault("db_path", "/var/lib/trendwatch/trends.db")
	v.SetDefault("http_port", 8087)
	v.SetDefault("pid_file", "/tmp/trendwatchd.pid")
	v.SetDefault("log_level", "info")
	v.SetDefault("smtp.port", 587)
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// NotificationsEnabled reports whether summary mail should be sent.
func (c *Config) NotificationsEnabled() bool {
	return c.SMTP.Host != "" && len(c.Subscribers) > 0
}

// ParseTrigger parses an "HH:MM" trigger time.
func ParseTrigger(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("trigger time must be HH:MM: %w", err)
	}
	return t.Hour(), t.Minute(), nil
}

// Validate validates the configuration and returns collected error messages.
func (c *Config) Validate() error {
	var errors []ValidationError

	if _, err := c.Location(); err != nil {
		errors = append(errors, ValidationError{
			Field:   "timezone",
			Value:   c.Timezone,
			Message: "unknown timezone",
		})
	}
	if _, _, err := ParseTrigger(c.MorningTrigger); err != nil {
		errors = append(errors, ValidationError{
			Field:   "morning_trigger",
			Value:   c.MorningTrigger,
			Message: "must be HH:MM",
		})
	}
	if _, _, err := ParseTrigger(c.AfternoonTrigger); err != nil {
		errors = append(errors, ValidationError{
			Field:   "afternoon_trigger",
			Value:   c.AfternoonTrigger,
			Message: "must be HH:MM",
		})
	}
	if c.Grace <= 0 {
		errors = append(errors, ValidationError{
			Field:   "grace",
			Value:   c.Grace,
			Message: "must be positive",
		})
	}
	if c.Grace > 12*time.Hour {
		errors = append(errors, ValidationError{
			Field:   "grace",
			Value:   c.Grace,
			Message: "must be 12 hours or less",
		})
	}
	if c.Concurrency < 1 {
		errors = append(errors, ValidationError{
			Field:   "concurrency",
			Value:   c.Concurrency,
			Message: "must be at least 1",
		})
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errors = append(errors, ValidationError{
			Field:   "http_port",
			Value:   c.HTTPPort,
			Message: "must be a valid TCP port",
		})
	}
	if c.DBPath == "" {
		errors = append(errors, ValidationError{
			Field:   "db_path",
			Value:   c.DBPath,
			Message: "must not be empty",
		})
	}
	for name, rl := range c.RateLimits {
		if rl.MaxRequests < 1 {
			errors = append(errors, ValidationError{
				Field:   "rate_limits." + name + ".max_requests",
				Value:   rl.MaxRequests,
				Message: "must be at least 1",
			})
		}
		if rl.WindowSeconds < 1 {
			errors = append(errors, ValidationError{
				Field:   "rate_limits." + name + ".window_seconds",
				Value:   rl.WindowSeconds,
				Message: "must be at least 1",
			})
		}
	}
	for name, d := range c.MaxAges {
		if d <= 0 {
			errors = append(errors, ValidationError{
				Field:   "max_ages." + name,
				Value:   d,
				Message: "must be positive",
			})
		}
	}

	if len(errors) > 0 {
		var messages []string
		for _, err := range errors {
			messages = append(messages, err.Error())
		}
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(messages, "\n  - "))
	}
	return nil
}
