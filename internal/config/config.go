// Package config decodes and validates the monitor's settings. Values come
// from viper, so a config file, RMON_* environment variables and bound
// command-line flags all land in the same typed Config.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/franz/radio-monitor/internal/lidarr"
	"github.com/franz/radio-monitor/internal/musicbrainz"
	"github.com/franz/radio-monitor/internal/notify"
	"github.com/franz/radio-monitor/internal/plex"
	"github.com/franz/radio-monitor/internal/scheduler"
	"github.com/franz/radio-monitor/internal/util"
)

// Config file naming
const (
	FileName  = "radio_monitor"
	EnvPrefix = "RMON"
)

// Config is the complete settings tree
type Config struct {
	Monitor                         MonitorConfig       `mapstructure:"monitor" yaml:"monitor"`
	DuplicateDetectionWindowMinutes int                 `mapstructure:"duplicate_detection_window_minutes" yaml:"duplicate_detection_window_minutes"`
	Database                        DatabaseConfig      `mapstructure:"database" yaml:"database"`
	MusicBrainz                     MusicBrainzConfig   `mapstructure:"musicbrainz" yaml:"musicbrainz"`
	Plex                            PlexConfig          `mapstructure:"plex" yaml:"plex"`
	Lidarr                          LidarrConfig        `mapstructure:"lidarr" yaml:"lidarr"`
	Logging                         LoggingConfig       `mapstructure:"logging" yaml:"logging"`
	Notifications                   NotificationsConfig `mapstructure:"notifications" yaml:"notifications"`
}

// MonitorConfig controls the store location and the scrape schedule
type MonitorConfig struct {
	DatabaseFile          string `mapstructure:"database_file" yaml:"database_file"`
	ScrapeIntervalMinutes int    `mapstructure:"scrape_interval_minutes" yaml:"scrape_interval_minutes"`
	ScrapeOnStart         bool   `mapstructure:"scrape_on_start" yaml:"scrape_on_start"`
}

type DatabaseConfig struct {
	BackupPath               string `mapstructure:"backup_path" yaml:"backup_path"`
	BackupEnabled            bool   `mapstructure:"backup_enabled" yaml:"backup_enabled"`
	BackupRetentionDays      int    `mapstructure:"backup_retention_days" yaml:"backup_retention_days"`
	ActivityRetentionDays    int    `mapstructure:"activity_retention_days" yaml:"activity_retention_days"`
	PlexFailureRetentionDays int    `mapstructure:"plex_failure_retention_days" yaml:"plex_failure_retention_days"`
	PendingRetentionDays     int    `mapstructure:"pending_retention_days" yaml:"pending_retention_days"`
}

type MusicBrainzConfig struct {
	BaseURL              string `mapstructure:"base_url" yaml:"base_url"`
	UserAgent            string `mapstructure:"user_agent" yaml:"user_agent"`
	TimeoutSeconds       int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries           int    `mapstructure:"max_retries" yaml:"max_retries"`
	RetryPendingOnLookup bool   `mapstructure:"retry_pending_on_lookup" yaml:"retry_pending_on_lookup"`
}

type PlexConfig struct {
	URL            string `mapstructure:"url" yaml:"url"`
	Token          string `mapstructure:"token" yaml:"token"`
	LibraryName    string `mapstructure:"library_name" yaml:"library_name"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	// ArtistAliases maps station spellings to library spellings.
	ArtistAliases map[string]string `mapstructure:"artist_aliases" yaml:"artist_aliases,omitempty"`
}

type LidarrConfig struct {
	URL                    string `mapstructure:"url" yaml:"url"`
	APIKey                 string `mapstructure:"api_key" yaml:"api_key"`
	AutoImport             bool   `mapstructure:"auto_import" yaml:"auto_import"`
	MinPlaysForImport      int    `mapstructure:"min_plays_for_import" yaml:"min_plays_for_import"`
	MinSongsForImport      int    `mapstructure:"min_songs_for_import" yaml:"min_songs_for_import"`
	QualityProfileID       int    `mapstructure:"quality_profile_id" yaml:"quality_profile_id"`
	MetadataProfileID      int    `mapstructure:"metadata_profile_id" yaml:"metadata_profile_id"`
	RootFolderPath         string `mapstructure:"root_folder_path" yaml:"root_folder_path"`
	MonitorNewArtists      bool   `mapstructure:"monitor_new_artists" yaml:"monitor_new_artists"`
	SearchForMissingAlbums bool   `mapstructure:"search_for_missing_albums" yaml:"search_for_missing_albums"`
	TimeoutSeconds         int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

type LoggingConfig struct {
	File             string `mapstructure:"file" yaml:"file"`
	MaxBytes         int64  `mapstructure:"max_bytes" yaml:"max_bytes"`
	BackupCount      int    `mapstructure:"backup_count" yaml:"backup_count"`
	ConsoleLevel     string `mapstructure:"console_level" yaml:"console_level"`
	FileLevel        string `mapstructure:"file_level" yaml:"file_level"`
	JSONFile         bool   `mapstructure:"json_file" yaml:"json_file"`
	LogRetentionDays int    `mapstructure:"log_retention_days" yaml:"log_retention_days"`
	// JSONEvents is a directory for the JSONL activity mirror; empty disables it.
	JSONEvents string `mapstructure:"json_events" yaml:"json_events"`
}

type NotificationsConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

var defaults = map[string]any{
	"monitor.database_file":              "radio_songs.db",
	"monitor.scrape_interval_minutes":    10,
	"monitor.scrape_on_start":            false,
	"duplicate_detection_window_minutes": 20,

	"database.backup_path":                 "backups/",
	"database.backup_enabled":              true,
	"database.backup_retention_days":       scheduler.DefaultBackupRetention,
	"database.activity_retention_days":     scheduler.DefaultActivityRetention,
	"database.plex_failure_retention_days": scheduler.DefaultPlexFailureRetention,
	"database.pending_retention_days":      scheduler.DefaultPendingRetention,

	"musicbrainz.base_url":                musicbrainz.BaseURL,
	"musicbrainz.user_agent":              musicbrainz.UserAgent,
	"musicbrainz.timeout_seconds":         int(musicbrainz.DefaultTimeout / time.Second),
	"musicbrainz.max_retries":             musicbrainz.DefaultMaxRetries,
	"musicbrainz.retry_pending_on_lookup": true,

	"plex.url":             plex.DefaultURL,
	"plex.token":           "",
	"plex.library_name":    "Music",
	"plex.timeout_seconds": int(plex.DefaultTimeout / time.Second),

	"lidarr.url":                       lidarr.DefaultURL,
	"lidarr.api_key":                   "",
	"lidarr.auto_import":               false,
	"lidarr.min_plays_for_import":      5,
	"lidarr.min_songs_for_import":      1,
	"lidarr.quality_profile_id":        1,
	"lidarr.metadata_profile_id":       1,
	"lidarr.root_folder_path":          "/data/music/",
	"lidarr.monitor_new_artists":       true,
	"lidarr.search_for_missing_albums": false,
	"lidarr.timeout_seconds":           int(lidarr.DefaultTimeout / time.Second),

	"logging.file":               "radio_monitor.log",
	"logging.max_bytes":          10 << 20,
	"logging.backup_count":       5,
	"logging.console_level":      "info",
	"logging.file_level":         "debug",
	"logging.json_file":          false,
	"logging.log_retention_days": scheduler.DefaultLogRetention,
	"logging.json_events":        "",

	"notifications.timeout_seconds": int(notify.DefaultTimeout / time.Second),
}

// SetDefaults registers every key's default on v.
func SetDefaults(v *viper.Viper) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// Setup applies the defaults, environment binding and search paths used by
// the CLI. file, when non-empty, replaces the search.
func Setup(v *viper.Viper, file string) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		return
	}
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "radio-monitor"))
	}
	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w: %v", util.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with nothing but defaults applied.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate checks ranges and URLs. Credentials are optional: a missing Plex
// token or Lidarr key only disables that integration.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Monitor.DatabaseFile != "", "monitor.database_file must be set")
	check(c.Monitor.ScrapeIntervalMinutes >= 1, "monitor.scrape_interval_minutes must be at least 1, got %d", c.Monitor.ScrapeIntervalMinutes)
	check(c.DuplicateDetectionWindowMinutes >= 0, "duplicate_detection_window_minutes must not be negative")
	check(c.Database.BackupPath != "", "database.backup_path must be set")
	for key, days := range map[string]int{
		"database.backup_retention_days":       c.Database.BackupRetentionDays,
		"database.activity_retention_days":     c.Database.ActivityRetentionDays,
		"database.plex_failure_retention_days": c.Database.PlexFailureRetentionDays,
		"database.pending_retention_days":      c.Database.PendingRetentionDays,
		"logging.log_retention_days":           c.Logging.LogRetentionDays,
	} {
		check(days >= 1, "%s must be at least 1, got %d", key, days)
	}
	check(strings.TrimSpace(c.MusicBrainz.UserAgent) != "", "musicbrainz.user_agent must be set")
	check(c.Lidarr.MinPlaysForImport >= 1, "lidarr.min_plays_for_import must be at least 1")
	check(c.Lidarr.MinSongsForImport >= 1, "lidarr.min_songs_for_import must be at least 1")
	check(c.Logging.MaxBytes >= 0, "logging.max_bytes must not be negative")
	for key, raw := range map[string]string{
		"musicbrainz.base_url": c.MusicBrainz.BaseURL,
		"plex.url":             c.Plex.URL,
		"lidarr.url":           c.Lidarr.URL,
	} {
		u, err := url.Parse(raw)
		check(err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "", "%s is not an http(s) URL: %q", key, raw)
	}
	for key, level := range map[string]string{
		"logging.console_level": c.Logging.ConsoleLevel,
		"logging.file_level":    c.Logging.FileLevel,
	} {
		switch strings.ToLower(level) {
		case "trace", "debug", "info", "warn", "warning", "error":
		default:
			problems = append(problems, fmt.Sprintf("%s: unknown level %q", key, level))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", util.ErrInvalidConfig, strings.Join(problems, "; "))
}

// ScrapeInterval returns the configured tick interval.
func (c *Config) ScrapeInterval() time.Duration {
	return time.Duration(c.Monitor.ScrapeIntervalMinutes) * time.Minute
}

// LogConfig maps the logging section onto util.LogConfig.
func (c *Config) LogConfig() util.LogConfig {
	return util.LogConfig{
		File:         c.Logging.File,
		MaxBytes:     c.Logging.MaxBytes,
		BackupCount:  c.Logging.BackupCount,
		ConsoleLevel: c.Logging.ConsoleLevel,
		FileLevel:    c.Logging.FileLevel,
		JSONFile:     c.Logging.JSONFile,
	}
}

func (c *Config) MusicBrainzOptions() *musicbrainz.Options {
	return &musicbrainz.Options{
		BaseURL:    c.MusicBrainz.BaseURL,
		UserAgent:  c.MusicBrainz.UserAgent,
		Timeout:    seconds(c.MusicBrainz.TimeoutSeconds),
		MaxRetries: c.MusicBrainz.MaxRetries,
	}
}

func (c *Config) PlexOptions() plex.Options {
	return plex.Options{
		URL:     c.Plex.URL,
		Token:   c.Plex.Token,
		Timeout: seconds(c.Plex.TimeoutSeconds),
	}
}

func (c *Config) LidarrOptions() lidarr.Options {
	return lidarr.Options{
		URL:                    c.Lidarr.URL,
		APIKey:                 c.Lidarr.APIKey,
		QualityProfileID:       c.Lidarr.QualityProfileID,
		MetadataProfileID:      c.Lidarr.MetadataProfileID,
		RootFolderPath:         c.Lidarr.RootFolderPath,
		MonitorNewArtists:      c.Lidarr.MonitorNewArtists,
		SearchForMissingAlbums: c.Lidarr.SearchForMissingAlbums,
		Timeout:                seconds(c.Lidarr.TimeoutSeconds),
	}
}

func (c *Config) NotifyOptions() *notify.Options {
	return &notify.Options{Timeout: seconds(c.Notifications.TimeoutSeconds)}
}

// Retention collects the cleanup windows for the maintenance jobs.
func (c *Config) Retention() scheduler.Retention {
	return scheduler.Retention{
		BackupDays:      c.Database.BackupRetentionDays,
		ActivityDays:    c.Database.ActivityRetentionDays,
		PlexFailureDays: c.Database.PlexFailureRetentionDays,
		PendingDays:     c.Database.PendingRetentionDays,
		LogDays:         c.Logging.LogRetentionDays,
	}
}

// WriteYAML writes c to path. An existing file is only replaced when force
// is set.
func WriteYAML(path string, c *Config, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists: %w", path, util.ErrConflict)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Watch reloads the config file on change and passes every valid result to
// onChange. Invalid edits are logged and skipped.
func Watch(v *viper.Viper, onChange func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load(v)
		if err != nil {
			util.WarnLog("Ignoring config change in %s: %v", e.Name, err)
			return
		}
		util.InfoLog("Config reloaded from %s", e.Name)
		onChange(cfg)
	})
	v.WatchConfig()
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
