package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLogPath(t *testing.T) {
	t.Setenv("WATCHSYNC_HOME", "/var/tmp/ws")

	assert.Equal(t, "/var/tmp/ws/logs", DefaultLogDir())
	assert.Equal(t, "watchsync.log", filepath.Base(DefaultLogPath()))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, 10, cfg.MaxSizeMB)
	assert.Equal(t, 5, cfg.MaxFiles)
	assert.True(t, cfg.WriteToStderr)
	assert.Equal(t, "debug", DebugConfig().Level)
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFromString(tt.in), tt.in)
	}
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	// Given: a file-only logger at warn
	path := filepath.Join(t.TempDir(), "logs", "watchsync.log")
	logger, cleanup, err := Setup(Config{Level: "warn", FilePath: path})
	require.NoError(t, err)

	// When: logging below and at the level
	logger.Info("dropped")
	logger.Warn("sync timed out", slog.String("root", "/repo"))
	cleanup()

	// Then: only the warning is written, as JSON
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "sync timed out", entry["msg"])
	assert.Equal(t, "/repo", entry["root"])
	assert.Equal(t, "WARN", entry["level"])
}

func TestSetup_NoFileFallsBackToStderr(t *testing.T) {
	logger, cleanup, err := Setup(Config{Level: "info"})
	require.NoError(t, err)
	defer cleanup()
	assert.NotNil(t, logger)
}

func TestFindLogFile(t *testing.T) {
	t.Setenv("WATCHSYNC_HOME", t.TempDir())

	_, err := FindLogFile("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no log file found")

	_, err = FindLogFile("/definitely/missing.log")
	require.Error(t, err)

	require.NoError(t, os.MkdirAll(DefaultLogDir(), 0o755))
	require.NoError(t, os.WriteFile(DefaultLogPath(), []byte("{}\n"), 0o644))
	got, err := FindLogFile("")
	require.NoError(t, err)
	assert.Equal(t, DefaultLogPath(), got)
}
