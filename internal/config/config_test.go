package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/iswctl/internal/config"
	"codeberg.org/mutker/iswctl/internal/errors"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "iswctl.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
ec_path = "/tmp/ec"
profiles = "/tmp/isw.conf"
board = "MS-16V1"
interval = 5
hysteresis = 3
smoothing = 8
curve_file = "/etc/iswctl/curves.yaml"
log_level = "debug"

[retry]
attempts = 5
backoff = "10ms"

[history]
enabled = true
db_path = "/path/to/history.db"
batch_size = 10

[mqtt]
enabled = true
broker = "tcp://localhost:1883"
qos = 1

[influxdb]
enabled = true
url = "http://localhost:8086"
bucket = "ec"
`)

	// Set environment variable to point to the test config file
	t.Setenv("ISWCTL_CONFIG", configPath)

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/ec", cfg.ECPath)
	assert.Equal(t, "/tmp/isw.conf", cfg.Profiles)
	assert.Equal(t, "MS-16V1", cfg.Board)
	assert.Equal(t, 5, cfg.Interval)
	assert.Equal(t, 5*time.Second, cfg.IntervalDuration())
	assert.Equal(t, 3, cfg.Hysteresis)
	assert.Equal(t, 8, cfg.Smoothing)
	assert.Equal(t, "/etc/iswctl/curves.yaml", cfg.CurveFile)
	assert.Equal(t, config.LogLevelDebug, cfg.EffectiveLogLevel())
	assert.Equal(t, uint(5), cfg.Retry.Attempts)
	assert.Equal(t, 10*time.Millisecond, cfg.Retry.Backoff)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, "/path/to/history.db", cfg.History.DBPath)
	assert.Equal(t, 10, cfg.History.BatchSize)
	assert.Equal(t, config.DefaultBatchTimeout, cfg.History.BatchTimeout)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, config.DefaultMQTTTopicPrefix, cfg.MQTT.TopicPrefix)
	assert.True(t, cfg.InfluxDB.Enabled)
	assert.Equal(t, "ec", cfg.InfluxDB.Bucket)
}

func TestLoadDefaults(t *testing.T) {
	// Ensure no config file is used
	t.Setenv("ISWCTL_CONFIG", "")

	cfg, err := config.Load(nil, config.WithEnvPrefix("ISWCTL_TEST_DEFAULTS"))
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, config.DefaultECPath, cfg.ECPath)
	assert.Equal(t, config.DefaultWriteSupportPath, cfg.WriteSupportPath)
	assert.Equal(t, config.DefaultProfiles, cfg.Profiles)
	assert.Empty(t, cfg.Board)
	assert.Equal(t, config.DefaultFallbackBoard, cfg.FallbackBoard)
	assert.Equal(t, 2, cfg.Interval)
	assert.Equal(t, 4, cfg.Hysteresis)
	assert.Equal(t, 5, cfg.Smoothing)
	assert.Equal(t, config.DefaultLogLevel, cfg.EffectiveLogLevel())
	assert.Equal(t, uint(3), cfg.Retry.Attempts)
	assert.Equal(t, 5*time.Millisecond, cfg.Retry.Backoff)
	assert.False(t, cfg.History.Enabled)
	assert.False(t, cfg.MQTT.Enabled)
	assert.False(t, cfg.InfluxDB.Enabled)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	configPath := writeConfig(t, `
This is not a valid TOML file
`)
	t.Setenv("ISWCTL_CONFIG", configPath)

	_, err := config.Load(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read config file")
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestLoadExplicitFileMissing(t *testing.T) {
	_, err := config.Load(nil, config.WithConfigFile(filepath.Join(t.TempDir(), "missing.toml")))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		code    errors.ErrorCode
	}{
		{"invalid log level", `log_level = "invalid"`, errors.ErrInvalidLogLevel},
		{"zero interval", `interval = 0`, errors.ErrInvalidInterval},
		{"hysteresis above range", `hysteresis = 101`, errors.ErrInvalidConfig},
		{"zero smoothing", `smoothing = 0`, errors.ErrInvalidConfig},
		{"mqtt without broker", "[mqtt]\nenabled = true", errors.ErrInvalidConfig},
		{"mqtt qos", "[mqtt]\nqos = 3", errors.ErrInvalidConfig},
		{"influxdb without bucket", "[influxdb]\nenabled = true\nurl = \"http://x\"", errors.ErrInvalidConfig},
		{"zero retries", "[retry]\nattempts = 0", errors.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(nil, config.WithConfigFile(writeConfig(t, tt.content)))
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("ISWCTL_CONFIG", writeConfig(t, "interval = 5\n[retry]\nbackoff = \"10ms\""))
	t.Setenv("ISWCTL_INTERVAL", "7")
	t.Setenv("ISWCTL_RETRY_BACKOFF", "20ms")

	cfg, err := config.Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Interval)
	assert.Equal(t, 20*time.Millisecond, cfg.Retry.Backoff)
}

func TestFlagsOverrideFile(t *testing.T) {
	configPath := writeConfig(t, "interval = 5\nhysteresis = 3\nlog_level = \"error\"")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--config", configPath, "--log-level", "info", "--interval", "9"}))

	cfg, err := config.Load(fs)
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Interval)
	assert.Equal(t, 3, cfg.Hysteresis, "unset flags must not override the file")
	assert.Equal(t, config.LogLevelInfo, cfg.EffectiveLogLevel())
}

func TestDebugShortcut(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--verbose", "--config", writeConfig(t, "")}))

	cfg, err := config.Load(fs)
	require.NoError(t, err)
	assert.Equal(t, config.LogLevelInfo, cfg.EffectiveLogLevel())
}

func TestParseLogLevel(t *testing.T) {
	level, err := config.ParseLogLevel(" WARN ")
	require.NoError(t, err)
	assert.Equal(t, config.LogLevelWarning, level)

	level, err = config.ParseLogLevel("Debug")
	require.NoError(t, err)
	assert.Equal(t, config.LogLevelDebug, level)

	_, err = config.ParseLogLevel("trace")
	assert.ErrorIs(t, err, errors.ErrInvalidLogLevel)
}

func TestOptionsRejectEmptyValues(t *testing.T) {
	_, err := config.Load(nil, config.WithConfigFile(""))
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))

	_, err = config.Load(nil, config.WithEnvPrefix("_"))
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))
}
