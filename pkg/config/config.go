package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/otgi/internal/gatts"
	"github.com/srg/otgi/internal/obd"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel     logrus.Level   `yaml:"log_level"`
	OutputFormat string         `yaml:"output_format" default:"table"` // table, json
	Stack        string         `yaml:"stack" default:"sim"`           // sim, ble
	RunCountPath string         `yaml:"runcount_path" default:"otgi-runcount.yaml"`
	Server       ServerConfig   `yaml:"server"`
	CAN          CANConfig      `yaml:"can"`
	Sampling     SamplingConfig `yaml:"sampling"`
	Schema       SchemaConfig   `yaml:"schema"`
}

// ServerConfig tunes the attribute server.
type ServerConfig struct {
	AppID              uint16        `yaml:"app_id" default:"0"`
	MaxPeers           int           `yaml:"max_peers" default:"1"`
	MinInterval        time.Duration `yaml:"min_interval" default:"10ms"`
	MaxInterval        time.Duration `yaml:"max_interval" default:"20ms"`
	Latency            uint16        `yaml:"latency" default:"0"`
	SupervisionTimeout time.Duration `yaml:"supervision_timeout" default:"400ms"`
	ConfirmLatency     time.Duration `yaml:"confirm_latency" default:"5ms"` // simulated stack only
}

// CANConfig selects the vehicle bus.
type CANConfig struct {
	Interface string        `yaml:"interface" default:"loopback"` // loopback runs the ECU simulator
	Bitrate   int           `yaml:"bitrate" default:"500000"`
	Timeout   time.Duration `yaml:"timeout" default:"100ms"`
}

// SamplingConfig sets the query schedule of the telemetry loop.
type SamplingConfig struct {
	ShortTrimPeriod time.Duration `yaml:"short_trim_period" default:"200ms"`
	LongTrimPeriod  time.Duration `yaml:"long_trim_period" default:"1s"`
	QueryGap        time.Duration `yaml:"query_gap" default:"50ms"`
	Extra           []string      `yaml:"extra,omitempty"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.LogLevel = logrus.InfoLevel
	cfg.Schema = DefaultSchema()
	return cfg
}

// Load reads a YAML file over the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings and the schema.
func (c *Config) Validate() error {
	switch c.OutputFormat {
	case "table", "json":
	default:
		return fmt.Errorf("unsupported output format %q (want table or json)", c.OutputFormat)
	}
	switch c.Stack {
	case "sim", "ble":
	default:
		return fmt.Errorf("unsupported stack %q (want sim or ble)", c.Stack)
	}

	s := c.Server
	if s.MaxPeers < 1 || s.MaxPeers > gatts.MaxPeers {
		return fmt.Errorf("server.max_peers must be between 1 and %d, got %d", gatts.MaxPeers, s.MaxPeers)
	}
	if s.MinInterval <= 0 || s.MaxInterval < s.MinInterval {
		return fmt.Errorf("server connection interval [%s, %s] is invalid", s.MinInterval, s.MaxInterval)
	}
	if s.SupervisionTimeout <= 0 {
		return errors.New("server.supervision_timeout must be positive")
	}

	if c.CAN.Interface == "" {
		return errors.New("can.interface is required")
	}
	if c.CAN.Timeout <= 0 {
		return errors.New("can.timeout must be positive")
	}
	if c.Sampling.ShortTrimPeriod <= 0 || c.Sampling.LongTrimPeriod <= 0 {
		return errors.New("sampling periods must be positive")
	}
	if _, err := c.ExtraPIDs(); err != nil {
		return err
	}

	if _, err := c.Schema.ServerConfiguration(nil); err != nil {
		return err
	}
	if _, ok := c.Schema.RoleUUID(RoleFuelUsage); !ok {
		return fmt.Errorf("schema has no %s characteristic", RoleFuelUsage)
	}
	return nil
}

// ServerOptions converts the server settings.
func (c *Config) ServerOptions(logger *logrus.Logger) *gatts.Options {
	return &gatts.Options{
		AppID:    gatts.AppID(c.Server.AppID),
		MaxPeers: c.Server.MaxPeers,
		ConnParams: gatts.ConnParams{
			MinInterval: c.Server.MinInterval,
			MaxInterval: c.Server.MaxInterval,
			Latency:     c.Server.Latency,
			Timeout:     c.Server.SupervisionTimeout,
		},
		Logger: logger,
	}
}

// ExtraPIDs parses the additional sampled parameters.
func (c *Config) ExtraPIDs() ([]obd.PID, error) {
	var out []obd.PID
	for _, s := range c.Sampling.Extra {
		pid, err := obd.ParsePID(s)
		if err != nil {
			return nil, fmt.Errorf("sampling.extra: %w", err)
		}
		out = append(out, pid)
	}
	return out, nil
}

// NewLogger creates a logger at the configured level writing to out, or stderr when nil.
func (c *Config) NewLogger(out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)
	if out != nil {
		logger.SetOutput(out)
	}

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
