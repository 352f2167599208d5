package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AutoDiscover as bridge address makes the daemon look for a bridge on startup.
const AutoDiscover = "auto"

// MemoryLedger keeps the ledger in memory for the lifetime of the process.
const MemoryLedger = ":memory:"

// Config represents the application configuration
type Config struct {
	Bridge          BridgeConfig   `yaml:"bridge"`
	Server          ServerConfig   `yaml:"server"`
	Effects         EffectsConfig  `yaml:"effects"`
	Ledger          LedgerConfig   `yaml:"ledger"`
	EventBus        EventBusConfig `yaml:"eventbus"`
	Log             LogConfig      `yaml:"log"`
	ShutdownTimeout Duration       `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// BridgeConfig contains Hue bridge connection settings
type BridgeConfig struct {
	Address          string   `yaml:"address"` // host[:port], URL, or "auto"
	Username         string   `yaml:"username"`
	Timeout          Duration `yaml:"timeout"`        // HTTP timeout, 0 = none
	ListCacheTTL     Duration `yaml:"list_cache_ttl"` // lights listing freshness window
	RateLimitRPS     float64  `yaml:"rate_limit_rps"` // state writes per second
	DiscoveryTimeout Duration `yaml:"discovery_timeout"`
}

// ServerConfig contains HTTP/WebSocket server settings
type ServerConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	AllowOrigins []string `yaml:"allow_origins"`
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EffectsConfig contains effect settings
type EffectsConfig struct {
	ScriptsDir  string   `yaml:"scripts_dir"` // *.lua effects, empty = none
	RainbowStep Duration `yaml:"rainbow_step"`
}

// LedgerConfig contains activity ledger settings
type LedgerConfig struct {
	Enabled         *bool    `yaml:"enabled"` // default true
	Path            string   `yaml:"path"`
	RetentionDays   int      `yaml:"retention_days"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
}

// IsEnabled reports whether the ledger is on.
func (c LedgerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Retention returns the retention window.
func (c LedgerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file. A .env file next to it is
// loaded into the environment first, if present.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse expands environment variables in data, decodes it and applies defaults.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// Bridge defaults
	if cfg.Bridge.Address == "" {
		cfg.Bridge.Address = AutoDiscover
	}
	if cfg.Bridge.Timeout == 0 {
		cfg.Bridge.Timeout = Duration(10 * time.Second)
	}
	if cfg.Bridge.ListCacheTTL == 0 {
		cfg.Bridge.ListCacheTTL = Duration(10 * time.Second)
	}
	if cfg.Bridge.RateLimitRPS == 0 {
		cfg.Bridge.RateLimitRPS = 10.0
	}
	if cfg.Bridge.DiscoveryTimeout == 0 {
		cfg.Bridge.DiscoveryTimeout = Duration(5 * time.Second)
	}

	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8787
	}
	if len(cfg.Server.AllowOrigins) == 0 {
		cfg.Server.AllowOrigins = []string{"chrome-extension://*", "moz-extension://*"}
	}

	// Effect defaults
	if cfg.Effects.RainbowStep == 0 {
		cfg.Effects.RainbowStep = Duration(200 * time.Millisecond)
	}

	// Ledger defaults
	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = MemoryLedger
	}
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 7
	}

	// Event bus defaults
	if cfg.EventBus.Workers <= 0 {
		cfg.EventBus.Workers = 4
	}
	if cfg.EventBus.QueueSize <= 0 {
		cfg.EventBus.QueueSize = 100
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks settings that have no usable default.
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.Bridge.Username == "" {
		errs = append(errs, errors.New("bridge.username is required"))
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", cfg.Server.Port))
	}
	if cfg.Bridge.RateLimitRPS < 0 {
		errs = append(errs, errors.New("bridge.rate_limit_rps must not be negative"))
	}
	return errors.Join(errs...)
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
// Variables already set in the environment win.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := strings.TrimSpace(parts[1])
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
