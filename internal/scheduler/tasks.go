package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/franz/radio-monitor/internal/musicbrainz"
	"github.com/franz/radio-monitor/internal/notify"
	"github.com/franz/radio-monitor/internal/playlist"
	"github.com/franz/radio-monitor/internal/report"
	"github.com/franz/radio-monitor/internal/store"
	"github.com/franz/radio-monitor/internal/util"
)

// Retention defaults, in days
const (
	DefaultBackupRetention      = 7
	DefaultActivityRetention    = 90
	DefaultPlexFailureRetention = 7
	DefaultPendingRetention     = 30
	DefaultLogRetention         = 30
)

// PendingResolver re-resolves PENDING artists. *musicbrainz.Resolver
// implements it.
type PendingResolver interface {
	RetryPending(ctx context.Context, limit int, progress func(done, total int)) (*musicbrainz.PendingReport, error)
}

// PlaylistRunner refreshes due playlists. *playlist.Runner implements it.
type PlaylistRunner interface {
	RunDue(ctx context.Context) (playlist.RunSummary, error)
}

// Notifier offers events to the notification sinks
type Notifier interface {
	Dispatch(ctx context.Context, ev notify.Event) int
}

// Retention holds the cleanup windows. Zero fields use the defaults.
type Retention struct {
	BackupDays      int
	ActivityDays    int
	PlexFailureDays int
	PendingDays     int
	LogDays         int
}

// Maintenance bundles the non-scrape job bodies. Resolver, Playlists,
// Activity and Dispatcher are optional.
type Maintenance struct {
	Store      *store.Store
	Resolver   PendingResolver
	Playlists  PlaylistRunner
	Activity   *report.ActivityLogger
	Dispatcher Notifier
	BackupDir  string
	LogFile    string
	Retention  Retention
	Clock      func() time.Time
}

// Register adds every maintenance job Maintenance can serve. Backups are
// scheduled only when backup is true.
func (m *Maintenance) Register(s *Scheduler, backup bool) error {
	jobs := []struct {
		id, name, spec string
		fn             Func
		enabled        bool
	}{
		{JobMBIDRetry, "MBID Retry Job", "@every 24h", m.RetryPending, m.Resolver != nil},
		{JobBackup, "Daily Database Backup", "0 3 * * *", m.Backup, backup},
		{JobActivityCleanup, "Activity Log Cleanup Job", "0 4 * * *", m.CleanupActivity, true},
		{JobPlexFailureCleanup, "Plex Failure Cleanup Job", "10 4 * * *", m.CleanupPlexFailures, true},
		{JobLogCleanup, "Log File Cleanup Job", "15 4 * * *", m.CleanupLogs, m.LogFile != ""},
		{JobDatabaseCleanup, "Database Corruption Cleanup Job", "20 4 * * *", m.CleanupDatabase, true},
		{JobPlaylists, "Auto Playlist Job", "@every 1m", m.RefreshPlaylists, m.Playlists != nil},
	}
	for _, j := range jobs {
		if !j.enabled {
			continue
		}
		if err := s.Add(j.id, j.name, j.spec, j.fn); err != nil {
			return err
		}
	}
	return nil
}

func (m *Maintenance) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now()
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// RetryPending re-resolves every PENDING artist, then drops PENDING artists
// past the retention window and songs left without an artist.
func (m *Maintenance) RetryPending(ctx context.Context) error {
	if m.Resolver == nil {
		return fmt.Errorf("no MusicBrainz resolver configured: %w", util.ErrInvalidConfig)
	}
	rep, err := m.Resolver.RetryPending(ctx, 0, nil)
	if err != nil {
		m.failed(ctx, report.EventMBIDRetry, "MBID retry failed", err)
		return err
	}

	days := orDefault(m.Retention.PendingDays, DefaultPendingRetention)
	artists, songs, err := m.Store.DeletePendingArtistsOlderThan(days)
	if err != nil {
		m.failed(ctx, report.EventMBIDRetry, "MBID retry failed", err)
		return err
	}
	orphans, err := m.Store.DeleteOrphanSongs()
	if err != nil {
		m.failed(ctx, report.EventMBIDRetry, "MBID retry failed", err)
		return err
	}

	m.Activity.Info(report.EventMBIDRetry, report.SourceScheduler,
		fmt.Sprintf("MBID retry: %d resolved, %d still pending", rep.Resolved, rep.Failed),
		fmt.Sprintf("Deleted %d stale PENDING artists, %d songs and %d orphan songs", artists, songs, orphans),
		map[string]any{
			"total":           rep.Total,
			"resolved":        rep.Resolved,
			"failed":          rep.Failed,
			"deleted_artists": artists,
			"deleted_songs":   songs + orphans,
			"retention_days":  days,
		})
	return nil
}

// Backup copies the database into BackupDir and prunes old backups.
func (m *Maintenance) Backup(ctx context.Context) error {
	path, err := m.Store.Backup(m.BackupDir)
	if err != nil {
		m.failed(ctx, report.EventBackup, "Database backup failed", err)
		return err
	}
	days := orDefault(m.Retention.BackupDays, DefaultBackupRetention)
	removed, err := store.EnforceBackupRetention(m.BackupDir, days, m.now())
	if err != nil {
		util.WarnLog("Backup retention failed: %v", err)
	}

	var size int64
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}
	m.Activity.Success(report.EventBackup, report.SourceScheduler, "Database backup complete",
		fmt.Sprintf("%s (%s), %d old backups removed", filepath.Base(path), util.FormatBytes(size), removed),
		map[string]any{"path": path, "size": size, "removed": removed})
	return nil
}

// CleanupActivity deletes activity entries past the retention window.
func (m *Maintenance) CleanupActivity(ctx context.Context) error {
	days := orDefault(m.Retention.ActivityDays, DefaultActivityRetention)
	n, err := m.Store.CleanupActivity(days)
	if err != nil {
		m.failed(ctx, report.EventCleanup, "Activity cleanup failed", err)
		return err
	}
	util.InfoLog("Activity cleanup complete: %d entries deleted", n)
	return nil
}

// CleanupPlexFailures deletes resolved and stale match failures.
func (m *Maintenance) CleanupPlexFailures(ctx context.Context) error {
	days := orDefault(m.Retention.PlexFailureDays, DefaultPlexFailureRetention)
	n, err := m.Store.CleanupPlexFailures(days)
	if err != nil {
		m.failed(ctx, report.EventCleanup, "Plex failure cleanup failed", err)
		return err
	}
	util.InfoLog("Plex failure cleanup complete: %d entries deleted", n)
	return nil
}

// CleanupLogs deletes *.log* files beside LogFile and under its logs/
// directory once they are older than the retention window. LogFile itself
// is kept.
func (m *Maintenance) CleanupLogs(ctx context.Context) error {
	n, err := CleanupLogFiles(m.LogFile, orDefault(m.Retention.LogDays, DefaultLogRetention), m.now())
	if err != nil {
		m.failed(ctx, report.EventCleanup, "Log cleanup failed", err)
		return err
	}
	util.InfoLog("Log cleanup complete: %d files deleted", n)
	return nil
}

// CleanupLogFiles removes old rotated logs next to active, never active
// itself, and returns how many were removed.
func CleanupLogFiles(active string, days int, now time.Time) (int, error) {
	dir := filepath.Dir(active)
	var files []string
	for _, pattern := range []string{"*.log*", filepath.Join("logs", "*.log*")} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return 0, err
		}
		files = append(files, matches...)
	}

	keep, _ := filepath.Abs(active)
	cutoff := now.AddDate(0, 0, -days)
	removed := 0
	for _, f := range files {
		if abs, _ := filepath.Abs(f); abs == keep {
			continue
		}
		fi, err := os.Stat(f)
		if err != nil || fi.IsDir() || !fi.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(f); err != nil {
			util.WarnLog("Failed to delete log file %s: %v", f, err)
			continue
		}
		util.DebugLog("Deleted old log file %s", f)
		removed++
	}
	return removed, nil
}

// CleanupDatabase removes corrupt rows and compacts the file when anything
// was removed.
func (m *Maintenance) CleanupDatabase(ctx context.Context) error {
	rep, err := m.Store.CleanupCorruption()
	if err != nil {
		m.failed(ctx, report.EventCleanup, "Database cleanup failed", err)
		return err
	}
	if rep.Total() == 0 {
		util.InfoLog("Database cleanup complete: nothing to delete")
		return nil
	}
	if err := m.Store.Vacuum(); err != nil {
		util.WarnLog("Vacuum after cleanup failed: %v", err)
	}
	m.Activity.Warn(report.EventCleanup, report.SourceScheduler, "Corrupt database rows removed",
		fmt.Sprintf("%d rows deleted", rep.Total()),
		map[string]any{
			"null_mbid_artists": rep.NullMBIDArtists,
			"invalid_names":     rep.InvalidNames,
			"orphan_songs":      rep.OrphanSongs,
			"orphan_plays":      rep.OrphanPlays,
		})
	return nil
}

// RefreshPlaylists materializes every due auto playlist.
func (m *Maintenance) RefreshPlaylists(ctx context.Context) error {
	if m.Playlists == nil {
		return fmt.Errorf("no playlist runner configured: %w", util.ErrInvalidConfig)
	}
	sum, err := m.Playlists.RunDue(ctx)
	if err != nil {
		return err
	}
	if sum.Due > 0 {
		util.InfoLog("Auto playlists: %d due, %d updated, %d failed", sum.Due, sum.Updated, sum.Failed)
	}
	return nil
}

// failed records a job failure in the activity log and raises
// on_system_error.
func (m *Maintenance) failed(ctx context.Context, eventType, title string, err error) {
	m.Activity.Error(eventType, report.SourceScheduler, title, err, nil)
	if m.Dispatcher == nil {
		return
	}
	m.Dispatcher.Dispatch(context.WithoutCancel(ctx), notify.Event{
		Trigger:  notify.OnSystemError,
		Title:    title,
		Message:  err.Error(),
		Severity: notify.SeverityError,
		Metadata: map[string]any{"event_type": eventType},
	})
}
