package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"codeberg.org/mutker/iswctl/internal/errors"
	"codeberg.org/mutker/iswctl/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want logger.LogLevel
	}{
		{"debug", logger.DebugLevel},
		{"INFO", logger.InfoLevel},
		{"warning", logger.WarnLevel},
		{"warn", logger.WarnLevel},
		{"error", logger.ErrorLevel},
	}

	for _, tt := range tests {
		got, err := logger.ParseLevel(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}

	_, err := logger.ParseLevel("verbose")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))
}

func TestComponentLoggerAddsFields(t *testing.T) {
	logger.SetLogLevel(logger.DebugLevel)
	defer logger.SetLogLevel(logger.WarnLevel)

	var buf bytes.Buffer
	log := logger.New(&buf).With("ec")

	err := errors.New().New(errors.ErrHardwareTimeout)
	log.ErrorWithContext(err, "ec", "read").Int("address", 0x68).Msg("read failed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ec", entry["component"])
	assert.Equal(t, string(errors.ErrHardwareTimeout), entry["error_code"])
	assert.Equal(t, "read", entry["operation"])
	assert.EqualValues(t, 0x68, entry["address"])
}

func TestNopDiscards(t *testing.T) {
	assert.NotPanics(t, func() {
		logger.Nop().Info().Str("k", "v").Msg("dropped")
	})
}
