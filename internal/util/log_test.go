package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureLogging_WritesFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "radio_monitor.log")

	closer, err := ConfigureLogging(LogConfig{
		File:         path,
		MaxBytes:     1 << 20,
		BackupCount:  2,
		ConsoleLevel: "error",
		FileLevel:    "debug",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		closer.Close()
		ConfigureLogging(LogConfig{ConsoleLevel: "info"})
	})

	DebugLog("debug line %d", 1)
	InfoLog("scraped %s", "us99")
	SuccessLog("done")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "debug line 1")
	assert.Contains(t, string(data), "scraped us99")
	assert.Contains(t, string(data), "[OK] done")
}

func TestConfigureLogging_FileLevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warn.log")

	closer, err := ConfigureLogging(LogConfig{File: path, ConsoleLevel: "error", FileLevel: "warn"})
	require.NoError(t, err)
	t.Cleanup(func() {
		closer.Close()
		ConfigureLogging(LogConfig{ConsoleLevel: "info"})
	})

	InfoLog("should not appear")
	WarnLog("should appear")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "should not appear")
	assert.Contains(t, string(data), "should appear")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "warn", parseLevel("WARN", 0).String())
	assert.Equal(t, "info", parseLevel("", parseLevel("info", 0)).String())
	assert.Equal(t, "debug", parseLevel("nonsense", parseLevel("debug", 0)).String())
}
