package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Supported output formats
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// Config holds application configuration
type Config struct {
	LogLevel        string        `yaml:"log_level" default:"info"`
	ScanDuration    time.Duration `yaml:"scan_duration" default:"10s"`
	OutputFormat    string        `yaml:"output_format" default:"table"` // table, json
	DuplicateFilter bool          `yaml:"duplicate_filter" default:"true"`
	AllowList       []string      `yaml:"allow"`
	BlockList       []string      `yaml:"block"`
	EventBuffer     int           `yaml:"event_buffer" default:"100"`
	RefreshInterval time.Duration `yaml:"refresh_interval" default:"1s"`
	StaleAfter      time.Duration `yaml:"stale_after" default:"30s"`

	fileKeys map[string]struct{} // top-level keys present in the loaded file
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file on top of the defaults.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	var keys map[string]any
	if err := yaml.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.fileKeys = make(map[string]struct{}, len(keys))
	for key := range keys {
		cfg.fileKeys[key] = struct{}{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// IsSet reports whether the loaded config file set key (its yaml name),
// as opposed to the value coming from the defaults.
func (c *Config) IsSet(key string) bool {
	_, ok := c.fileKeys[key]
	return ok
}

// Validate checks field values that cannot be expressed by types
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	switch strings.ToLower(c.OutputFormat) {
	case FormatTable, FormatJSON:
	default:
		return fmt.Errorf("unsupported output format %q (use %s or %s)", c.OutputFormat, FormatTable, FormatJSON)
	}
	if c.ScanDuration < 0 {
		return fmt.Errorf("scan duration must not be negative: %s", c.ScanDuration)
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("event buffer must be positive: %d", c.EventBuffer)
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("refresh interval must be positive: %s", c.RefreshInterval)
	}
	return nil
}

// Level parses LogLevel
func (c *Config) Level() (logrus.Level, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := c.Level()
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
