// Package config holds the reconnect policy and unit-scaling knobs.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Pressure scale factors applied uniformly to returned readings. Raw
// device units are millibar.
const (
	ScaleMillibar   = 1.0
	ScalePascal     = 100.0
	ScaleKilopascal = 0.1
	ScaleBar        = 0.001
	ScalePSI        = 0.0145038
	ScaleMMHg       = 0.750062
	ScaleMMH2O      = 10.19716
)

// Config holds application configuration
type Config struct {
	LogLevel         string        `yaml:"log_level" default:"info"`
	PollInterval     time.Duration `yaml:"poll_interval" default:"10s"`
	BackoffDelay     time.Duration `yaml:"backoff_delay" default:"10s"`
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout" default:"15s"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout" default:"30s"`
	ScaleFactor      float64       `yaml:"scale_factor" default:"1.0"`
}

// Default returns the configuration defaults from the struct tags.
func Default() *Config {
	c := &Config{}
	defaults.SetDefaults(c)
	return c
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// UnmarshalYAML accepts Go duration strings ("10s", "500ms") for the
// interval fields. Fields absent from the document keep their current
// values, so Load layers the file over the defaults.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		LogLevel         string   `yaml:"log_level"`
		PollInterval     string   `yaml:"poll_interval"`
		BackoffDelay     string   `yaml:"backoff_delay"`
		DiscoveryTimeout string   `yaml:"discovery_timeout"`
		ConnectTimeout   string   `yaml:"connect_timeout"`
		ScaleFactor      *float64 `yaml:"scale_factor"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	if raw.LogLevel != "" {
		c.LogLevel = raw.LogLevel
	}
	if raw.ScaleFactor != nil {
		c.ScaleFactor = *raw.ScaleFactor
	}
	for _, f := range []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"poll_interval", raw.PollInterval, &c.PollInterval},
		{"backoff_delay", raw.BackoffDelay, &c.BackoffDelay},
		{"discovery_timeout", raw.DiscoveryTimeout, &c.DiscoveryTimeout},
		{"connect_timeout", raw.ConnectTimeout, &c.ConnectTimeout},
	} {
		if f.src == "" {
			continue
		}
		d, err := time.ParseDuration(f.src)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.name, err)
		}
		*f.dst = d
	}
	return nil
}

// Validate rejects values that would stall or corrupt the reconnect loop.
func (c *Config) Validate() error {
	if c.ScaleFactor <= 0 {
		return fmt.Errorf("scale_factor must be positive, got %v", c.ScaleFactor)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", c.PollInterval)
	}
	if c.BackoffDelay <= 0 {
		return fmt.Errorf("backoff_delay must be positive, got %v", c.BackoffDelay)
	}
	if c.DiscoveryTimeout <= 0 || c.ConnectTimeout <= 0 {
		return fmt.Errorf("discovery and connect timeouts must be positive")
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger, nil
}
