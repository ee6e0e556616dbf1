// Package config loads podwork configuration from defaults, an optional
// TOML file and the environment, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/podwork/errors"
	"github.com/vinayprograms/podwork/logging"
	"github.com/vinayprograms/podwork/work"
)

// DefaultPort is used when neither the file nor PORT sets one.
const DefaultPort = 8080

// Duration is a time.Duration written as a string ("5s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the complete process configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Shutdown  ShutdownConfig  `toml:"shutdown"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
}

// ServerConfig configures the HTTP listener and the work per request.
type ServerConfig struct {
	Port              int      `toml:"port"`
	Host              string   `toml:"host"`
	Iterations        int      `toml:"iterations"`
	ReadHeaderTimeout Duration `toml:"read_header_timeout"`
}

// ShutdownConfig configures the teardown after a termination signal.
type ShutdownConfig struct {
	// DrainDelay is how long new requests keep receiving 503 before the
	// listener closes.
	DrainDelay Duration `toml:"drain_delay"`

	// Timeout bounds the whole teardown.
	Timeout Duration `toml:"timeout"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// TelemetryConfig configures tracing and the event exporter. Tracing is
// off when Endpoint is empty.
type TelemetryConfig struct {
	Endpoint      string            `toml:"endpoint"`
	Protocol      string            `toml:"protocol"`
	Insecure      bool              `toml:"insecure"`
	ServiceName   string            `toml:"service_name"`
	Headers       map[string]string `toml:"headers"`
	BatchTimeout  Duration          `toml:"batch_timeout"`
	ExportTimeout Duration          `toml:"export_timeout"`

	EventsProtocol      string   `toml:"events_protocol"`
	EventsEndpoint      string   `toml:"events_endpoint"`
	EventsFlushInterval Duration `toml:"events_flush_interval"`
	EventsBuffer        int      `toml:"events_buffer"`
}

// HeartbeatConfig configures status announcements. They are off when
// NATSURL is empty.
type HeartbeatConfig struct {
	NATSURL  string   `toml:"nats_url"`
	Interval Duration `toml:"interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              DefaultPort,
			Iterations:        work.DefaultIterations,
			ReadHeaderTimeout: Duration{10 * time.Second},
		},
		Shutdown: ShutdownConfig{
			DrainDelay: Duration{5 * time.Second},
			Timeout:    Duration{30 * time.Second},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Protocol:            "grpc",
			EventsProtocol:      "noop",
			EventsFlushInterval: Duration{5 * time.Second},
			EventsBuffer:        1000,
		},
		Heartbeat: HeartbeatConfig{
			Interval: Duration{5 * time.Second},
		},
	}
}

// Load reads defaults, then the TOML file at path (skipped when path is
// empty), then the process environment, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput,
				fmt.Sprintf("reading config %s", path))
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, errors.InvalidInput(fmt.Sprintf("unknown config key %q in %s", undecoded[0].String(), path))
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.InvalidInput(fmt.Sprintf("PORT must be an integer, got %q", v))
		}
		c.Server.Port = port
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok && v != "" {
		c.Telemetry.Endpoint = v
	}
	if v, ok := lookup("NATS_URL"); ok && v != "" {
		c.Heartbeat.NATSURL = v
	}
	return nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.InvalidInput(fmt.Sprintf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.Iterations < 1 {
		return errors.InvalidInput(fmt.Sprintf("server.iterations must be positive: %d", c.Server.Iterations))
	}
	if c.Server.ReadHeaderTimeout.Duration < 0 {
		return errors.InvalidInput("server.read_header_timeout must not be negative")
	}
	if c.Shutdown.DrainDelay.Duration < 0 {
		return errors.InvalidInput("shutdown.drain_delay must not be negative")
	}
	if c.Shutdown.Timeout.Duration <= 0 {
		return errors.InvalidInput("shutdown.timeout must be positive")
	}
	if _, ok := logging.ParseLevel(c.Logging.Level); !ok {
		return errors.InvalidInput(fmt.Sprintf("logging.level unknown: %q", c.Logging.Level))
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return errors.InvalidInput(fmt.Sprintf("telemetry.protocol must be grpc or http: %q", c.Telemetry.Protocol))
	}
	if c.Telemetry.BatchTimeout.Duration < 0 {
		return errors.InvalidInput("telemetry.batch_timeout must not be negative")
	}
	if c.Telemetry.ExportTimeout.Duration < 0 {
		return errors.InvalidInput("telemetry.export_timeout must not be negative")
	}
	for k := range c.Telemetry.Headers {
		if k == "" {
			return errors.InvalidInput("telemetry.headers has an empty header name")
		}
	}
	switch c.Telemetry.EventsProtocol {
	case "", "noop":
	case "http", "file":
		if c.Telemetry.EventsEndpoint == "" {
			return errors.InvalidInput("telemetry.events_endpoint required for " + c.Telemetry.EventsProtocol + " events")
		}
	default:
		return errors.InvalidInput(fmt.Sprintf("telemetry.events_protocol unknown: %q", c.Telemetry.EventsProtocol))
	}
	if c.Telemetry.EventsFlushInterval.Duration <= 0 {
		return errors.InvalidInput("telemetry.events_flush_interval must be positive")
	}
	if c.Telemetry.EventsBuffer < 1 {
		return errors.InvalidInput(fmt.Sprintf("telemetry.events_buffer must be positive: %d", c.Telemetry.EventsBuffer))
	}
	if c.Heartbeat.NATSURL != "" && c.Heartbeat.Interval.Duration <= 0 {
		return errors.InvalidInput("heartbeat.interval must be positive")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// LogLevel returns the parsed logging level.
func (c *Config) LogLevel() logging.Level {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return level
}
