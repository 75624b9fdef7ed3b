package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"error":   LogLevelError,
		"warn":    LogLevelWarn,
		"WARNING": LogLevelWarn,
		"Info":    LogLevelInfo,
		"debug":   LogLevelDebug,
	}
	for in, want := range tests {
		got, err := parseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parseLogLevel("trace")
	assert.Error(t, err)
}

func TestSetupLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, LogLevelWarn, "json")

	logger.Info("hidden")
	logger.Warn("status report failed", "error", "offline")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "status report failed", rec["msg"])
	assert.Equal(t, "offline", rec["error"])
}

func TestSetupLoggerText(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, LogLevelDebug, "text")
	logger.Debug("command handled", "command", "mute")

	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "command=mute")
	assert.Equal(t, slog.LevelError, LogLevelError.slogLevel())
}
