package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-clinical/bedside/internal/domain"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" DEBUG ", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLogLevel(tt.in))
		})
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := New(domain.LoggingConfig{Level: "info", Format: "json"}, &buf)
	defer closer.Close()

	logger.Debug("hidden")
	logger.Info("evaluation completed", "instrument_id", "rams", "score", 5)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "evaluation completed", rec["msg"])
	assert.Equal(t, "rams", rec["instrument_id"])
	assert.EqualValues(t, 5, rec["score"])
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := New(domain.LoggingConfig{Level: "debug", Format: "text"}, &buf)
	defer closer.Close()

	logger.Debug("instruments loaded", "count", 3)
	assert.Contains(t, buf.String(), "count=3")
}

func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bedside.log")

	var buf bytes.Buffer
	logger, closer := New(domain.LoggingConfig{
		Level:     "info",
		Format:    "json",
		File:      path,
		MaxSizeMB: 1,
	}, &buf)

	logger.Info("server started", "port", 8080)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "server started")
	assert.Equal(t, buf.String(), string(data))
}
