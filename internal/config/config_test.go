package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franz/radio-monitor/internal/util"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "radio_songs.db", cfg.Monitor.DatabaseFile)
	assert.Equal(t, 10*time.Minute, cfg.ScrapeInterval())
	assert.Equal(t, 20, cfg.DuplicateDetectionWindowMinutes)
	assert.Equal(t, "backups/", cfg.Database.BackupPath)
	assert.Equal(t, 7, cfg.Database.BackupRetentionDays)
	assert.Equal(t, 30, cfg.Database.PendingRetentionDays)
	assert.Equal(t, "Music", cfg.Plex.LibraryName)
	assert.Equal(t, 5, cfg.Lidarr.MinPlaysForImport)
	assert.False(t, cfg.Lidarr.AutoImport)
	assert.Equal(t, int64(10<<20), cfg.Logging.MaxBytes)
	assert.Equal(t, 5, cfg.Logging.BackupCount)
	assert.Contains(t, cfg.MusicBrainz.UserAgent, "RadioMonitor")
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("RMON_MONITOR_SCRAPE_INTERVAL_MINUTES", "15")
	t.Setenv("RMON_PLEX_TOKEN", "abc123")
	t.Setenv("RMON_LIDARR_AUTO_IMPORT", "true")

	v := viper.New()
	Setup(v, "")
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.ScrapeInterval())
	assert.Equal(t, "abc123", cfg.PlexOptions().Token)
	assert.True(t, cfg.Lidarr.AutoImport)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "radio_monitor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
monitor:
  database_file: /var/lib/rmon/radio.db
  scrape_interval_minutes: 5
plex:
  url: http://plex.lan:32400
  token: secret
  artist_aliases:
    P!nk: Pink
logging:
  console_level: warn
`), 0o600))

	v := viper.New()
	Setup(v, path)
	require.NoError(t, v.ReadInConfig())
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/rmon/radio.db", cfg.Monitor.DatabaseFile)
	assert.Equal(t, 5*time.Minute, cfg.ScrapeInterval())
	assert.Equal(t, "http://plex.lan:32400", cfg.Plex.URL)
	assert.Equal(t, "Pink", cfg.Plex.ArtistAliases["p!nk"], "viper lower-cases map keys")
	assert.Equal(t, "warn", cfg.LogConfig().ConsoleLevel)
	assert.Equal(t, "debug", cfg.LogConfig().FileLevel, "unset keys keep their defaults")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero interval", func(c *Config) { c.Monitor.ScrapeIntervalMinutes = 0 }, "scrape_interval_minutes"},
		{"no database", func(c *Config) { c.Monitor.DatabaseFile = "" }, "database_file"},
		{"bad plex url", func(c *Config) { c.Plex.URL = "plex.lan" }, "plex.url"},
		{"ftp lidarr url", func(c *Config) { c.Lidarr.URL = "ftp://lidarr" }, "lidarr.url"},
		{"retention", func(c *Config) { c.Database.ActivityRetentionDays = 0 }, "activity_retention_days"},
		{"level", func(c *Config) { c.Logging.FileLevel = "loud" }, "logging.file_level"},
		{"user agent", func(c *Config) { c.MusicBrainz.UserAgent = " " }, "user_agent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, util.ErrInvalidConfig))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "radio_monitor.yaml")
	want := Default()
	want.Plex.Token = "tok"
	want.Monitor.ScrapeIntervalMinutes = 20
	require.NoError(t, WriteYAML(path, want, false))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	err = WriteYAML(path, want, false)
	assert.True(t, errors.Is(err, util.ErrConflict))
	require.NoError(t, WriteYAML(path, want, true))

	v := viper.New()
	Setup(v, path)
	require.NoError(t, v.ReadInConfig())
	got, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRetentionAndOptions(t *testing.T) {
	cfg := Default()
	r := cfg.Retention()
	assert.Equal(t, 7, r.BackupDays)
	assert.Equal(t, 90, r.ActivityDays)
	assert.Equal(t, 30, r.LogDays)

	assert.Equal(t, 5*time.Second, cfg.MusicBrainzOptions().Timeout)
	assert.Equal(t, 30*time.Second, cfg.LidarrOptions().Timeout)
	assert.True(t, cfg.LidarrOptions().MonitorNewArtists)
	assert.Equal(t, 10*time.Second, cfg.NotifyOptions().Timeout)
}
