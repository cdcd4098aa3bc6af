package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// OutputFormats lists the accepted OutputFormat values.
var OutputFormats = []string{"table", "json", "yaml"}

// Config holds application configuration
type Config struct {
	LogLevel      string        `json:"log_level" yaml:"log_level" default:"info"`
	BusAddress    string        `json:"bus_address" yaml:"bus_address" default:"system"`
	Service       string        `json:"service" yaml:"service" default:"org.bluez"`
	Adapter       string        `json:"adapter" yaml:"adapter"`
	ScanTimeout   time.Duration `json:"scan_timeout" yaml:"scan_timeout" default:"10s"`
	DeviceTimeout time.Duration `json:"device_timeout" yaml:"device_timeout" default:"30s"`
	ReadTimeout   time.Duration `json:"read_timeout" yaml:"read_timeout" default:"10s"`
	OutputFormat  string        `json:"output_format" yaml:"output_format" default:"table"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file on top of the defaults. Keys absent from the file
// keep their default values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if !slices.Contains(OutputFormats, c.OutputFormat) {
		return fmt.Errorf("output_format: unsupported format %q (expected one of %v)", c.OutputFormat, OutputFormats)
	}
	if c.Service == "" {
		return fmt.Errorf("service: must not be empty")
	}
	for name, d := range map[string]time.Duration{
		"scan_timeout":   c.ScanTimeout,
		"device_timeout": c.DeviceTimeout,
		"read_timeout":   c.ReadTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s: must be positive, got %s", name, d)
		}
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
