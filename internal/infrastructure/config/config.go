package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Moodle    MoodleConfig    `yaml:"moodle" toml:"moodle"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
}

// ServerConfig holds the local HTTP API configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" yaml:"port" toml:"port"`
	Host string `envconfig:"HOST" yaml:"host" toml:"host"`

	// AllowedOrigins lists browser origins allowed to call the API and open
	// the progress stream; empty allows any origin for CORS and only the
	// API's own origin for the stream
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" yaml:"allowed_origins" toml:"allowed_origins"`
}

// MoodleConfig holds backend client configuration.
type MoodleConfig struct {
	Backend           string   `envconfig:"MOODLE_BACKEND" yaml:"backend" toml:"backend"`
	Service           string   `envconfig:"MOODLE_SERVICE" yaml:"service" toml:"service"`
	Timeout           Duration `envconfig:"MOODLE_TIMEOUT" yaml:"timeout" toml:"timeout"`
	RequestsPerSecond float64  `envconfig:"MOODLE_RPS" yaml:"requests_per_second" toml:"requests_per_second"`
	Concurrency       int      `envconfig:"MOODLE_CONCURRENCY" yaml:"concurrency" toml:"concurrency"`
	Exclude           []string `envconfig:"MOODLE_EXCLUDE" yaml:"exclude" toml:"exclude"`
}

// StorageConfig holds persisted state and output locations.
type StorageConfig struct {
	StatePath string `envconfig:"STATE_PATH" yaml:"state_path" toml:"state_path"`
	OutputDir string `envconfig:"OUTPUT_DIR" yaml:"output_dir" toml:"output_dir"`

	// RedisURL, when set, keeps state in Redis instead of StatePath
	RedisURL string `envconfig:"REDIS_URL" yaml:"redis_url" toml:"redis_url"`
	RedisKey string `envconfig:"REDIS_KEY" yaml:"redis_key" toml:"redis_key"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" toml:"development"`
}

// RateLimitConfig holds rate limiting configuration for the local API.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" yaml:"enabled" toml:"enabled"`
}

// Duration is a time.Duration that decodes from strings such as "90s" in
// environment variables, YAML and TOML alike.
type Duration time.Duration

// UnmarshalText parses a Go duration string
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText renders the duration as a Go duration string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the standard library duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load loads configuration from environment variables on top of defaults.
func Load() (*Config, error) {
	cfg := Default()
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// LoadFile loads a YAML or TOML file (chosen by extension) on top of
// defaults, then applies environment variables, which take precedence.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "127.0.0.1",
		},
		Moodle: MoodleConfig{
			Backend:           "https://lms.ssn.edu.in/",
			Service:           "moodle_mobile_app",
			Timeout:           Duration(60 * time.Second),
			RequestsPerSecond: 10,
			Concurrency:       4,
		},
		Storage: StorageConfig{
			OutputDir: ".",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			Enabled:           true,
		},
	}
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port must not be empty")
	}
	if err := ValidateBackendURL(c.Moodle.Backend); err != nil {
		return err
	}
	if c.Moodle.Concurrency <= 0 {
		return fmt.Errorf("moodle concurrency must be positive, got %d", c.Moodle.Concurrency)
	}
	if c.Moodle.Timeout <= 0 {
		return fmt.Errorf("moodle timeout must be positive")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit requires positive rps and burst")
	}
	return nil
}

// StatePath returns the configured state file, defaulting to a file in the
// user's home directory.
func (c *Config) StatePath() (string, error) {
	if c.Storage.StatePath != "" {
		return c.Storage.StatePath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".moodlearchiver", "state.json"), nil
}

// ValidateBackendURL checks that raw is an absolute http(s) URL.
func ValidateBackendURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid backend url %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid backend url %q: must be an absolute http(s) url", raw)
	}
	return nil
}
