package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/podwork/errors"
	"github.com/vinayprograms/podwork/logging"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "podwork.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 500000, cfg.Server.Iterations)
	assert.Equal(t, 5*time.Second, cfg.Shutdown.DrainDelay.Duration)
	assert.Equal(t, 30*time.Second, cfg.Shutdown.Timeout.Duration)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, logging.LevelInfo, cfg.LogLevel())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("NATS_URL", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	t.Setenv("PORT", "")
	path := writeFile(t, `
[server]
port = 9090
iterations = 1000

[shutdown]
drain_delay = "250ms"
timeout = "10s"

[logging]
level = "debug"

[telemetry]
endpoint = "collector:4318"
protocol = "http"
insecure = true
batch_timeout = "2s"
export_timeout = "15s"
events_protocol = "http"
events_endpoint = "http://events:8080/ingest"
events_flush_interval = "1s"
events_buffer = 50

[telemetry.headers]
authorization = "Bearer token"

[heartbeat]
nats_url = "nats://nats:4222"
interval = "2s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 1000, cfg.Server.Iterations)
	assert.Equal(t, 250*time.Millisecond, cfg.Shutdown.DrainDelay.Duration)
	assert.Equal(t, 10*time.Second, cfg.Shutdown.Timeout.Duration)
	assert.Equal(t, logging.LevelDebug, cfg.LogLevel())
	assert.Equal(t, "collector:4318", cfg.Telemetry.Endpoint)
	assert.True(t, cfg.Telemetry.Insecure)
	assert.Equal(t, map[string]string{"authorization": "Bearer token"}, cfg.Telemetry.Headers)
	assert.Equal(t, 2*time.Second, cfg.Telemetry.BatchTimeout.Duration)
	assert.Equal(t, 15*time.Second, cfg.Telemetry.ExportTimeout.Duration)
	assert.Equal(t, "http", cfg.Telemetry.EventsProtocol)
	assert.Equal(t, time.Second, cfg.Telemetry.EventsFlushInterval.Duration)
	assert.Equal(t, 50, cfg.Telemetry.EventsBuffer)
	assert.Equal(t, "nats://nats:4222", cfg.Heartbeat.NATSURL)
	assert.Equal(t, 2*time.Second, cfg.Heartbeat.Interval.Duration)
	// Unset keys keep their defaults.
	assert.Equal(t, 10*time.Second, cfg.Server.ReadHeaderTimeout.Duration)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("LOG_LEVEL", "warn")
	path := writeFile(t, "[server]\nport = 9090\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, logging.LevelWarn, cfg.LogLevel())
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv("PORT", "")

	tests := []struct {
		name    string
		content string
	}{
		{"bad toml", "[server\nport = 1"},
		{"bad duration", "[shutdown]\ndrain_delay = \"soon\""},
		{"unknown key", "[server]\nprot = 1"},
		{"invalid port", "[server]\nport = 70000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.content))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput), "got %v", err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"PORT":                        "3000",
		"LOG_LEVEL":                   "error",
		"OTEL_EXPORTER_OTLP_ENDPOINT": "otel:4317",
		"NATS_URL":                    "nats://bus:4222",
	}))
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, "otel:4317", cfg.Telemetry.Endpoint)
	assert.Equal(t, "nats://bus:4222", cfg.Heartbeat.NATSURL)
}

func TestApplyEnv_EmptyValuesIgnored(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(env(map[string]string{"PORT": ""})))
	assert.Equal(t, DefaultPort, cfg.Server.Port)
}

func TestApplyEnv_BadPort(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{"PORT": "eighty"}))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.Code(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"no iterations", func(c *Config) { c.Server.Iterations = 0 }},
		{"negative drain", func(c *Config) { c.Shutdown.DrainDelay.Duration = -time.Second }},
		{"zero timeout", func(c *Config) { c.Shutdown.Timeout.Duration = 0 }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad protocol", func(c *Config) { c.Telemetry.Protocol = "udp" }},
		{"file events without path", func(c *Config) { c.Telemetry.EventsProtocol = "file" }},
		{"unknown events", func(c *Config) { c.Telemetry.EventsProtocol = "kafka" }},
		{"negative batch timeout", func(c *Config) { c.Telemetry.BatchTimeout.Duration = -time.Second }},
		{"negative export timeout", func(c *Config) { c.Telemetry.ExportTimeout.Duration = -time.Second }},
		{"empty header name", func(c *Config) { c.Telemetry.Headers = map[string]string{"": "x"} }},
		{"zero events flush interval", func(c *Config) { c.Telemetry.EventsFlushInterval.Duration = 0 }},
		{"no events buffer", func(c *Config) { c.Telemetry.EventsBuffer = 0 }},
		{"heartbeat without interval", func(c *Config) {
			c.Heartbeat.NATSURL = "nats://x:4222"
			c.Heartbeat.Interval.Duration = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
		})
	}
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	out, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(out))

	assert.Error(t, d.UnmarshalText([]byte("later")))
}
