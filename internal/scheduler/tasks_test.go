package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franz/radio-monitor/internal/musicbrainz"
	"github.com/franz/radio-monitor/internal/notify"
	"github.com/franz/radio-monitor/internal/playlist"
	"github.com/franz/radio-monitor/internal/report"
	"github.com/franz/radio-monitor/internal/store"
)

type recorder struct {
	events []notify.Event
}

func (r *recorder) Dispatch(ctx context.Context, ev notify.Event) int {
	r.events = append(r.events, ev)
	return 1
}

type fakeResolver struct {
	rep *musicbrainz.PendingReport
	err error
}

func (f *fakeResolver) RetryPending(ctx context.Context, limit int, progress func(done, total int)) (*musicbrainz.PendingReport, error) {
	return f.rep, f.err
}

type fakeRunner struct {
	calls int
}

func (f *fakeRunner) RunDue(ctx context.Context) (playlist.RunSummary, error) {
	f.calls++
	return playlist.RunSummary{Due: 1, Updated: 1}, nil
}

func newMaintenance(t *testing.T, now *time.Time) *Maintenance {
	t.Helper()
	clock := func() time.Time { return *now }
	s, err := store.OpenWithOptions(filepath.Join(t.TempDir(), "radio_songs.db"), &store.OpenOptions{Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	activity, err := report.NewActivityLogger(s, "", "")
	require.NoError(t, err)
	return &Maintenance{
		Store:      s,
		Activity:   activity,
		Dispatcher: &recorder{},
		BackupDir:  filepath.Join(t.TempDir(), "backups"),
		Clock:      clock,
	}
}

func TestRegister(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.Local)
	m := newMaintenance(t, &now)
	s, _ := newTestScheduler(t, noop)

	require.NoError(t, m.Register(s, false))
	var ids []string
	for _, e := range s.Entries() {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{JobActivityCleanup, JobDatabaseCleanup, JobPlexFailureCleanup, JobScrape}, ids)

	m2 := newMaintenance(t, &now)
	m2.Resolver = &fakeResolver{}
	m2.Playlists = &fakeRunner{}
	m2.LogFile = filepath.Join(t.TempDir(), "radio_monitor.log")
	s2, _ := newTestScheduler(t, nil)
	require.NoError(t, m2.Register(s2, true))
	ids = ids[:0]
	for _, e := range s2.Entries() {
		ids = append(ids, e.ID)
	}
	want := []string{JobActivityCleanup, JobBackup, JobDatabaseCleanup, JobLogCleanup, JobMBIDRetry, JobPlaylists, JobPlexFailureCleanup}
	sort.Strings(want)
	assert.Equal(t, want, ids)
}

func TestBackupEnforcesRetention(t *testing.T) {
	now := time.Date(2025, time.January, 10, 3, 0, 0, 0, time.Local)
	m := newMaintenance(t, &now)

	old, err := m.Store.Backup(m.BackupDir)
	require.NoError(t, err)

	now = time.Date(2025, time.March, 1, 3, 0, 0, 0, time.Local)
	require.NoError(t, m.Backup(context.Background()))

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err), "backup past retention is removed")
	backups, err := store.ListBackups(m.BackupDir)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.True(t, backups[0].Valid)

	entries, err := m.Store.RecentActivity(1, report.EventBackup)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.SeveritySuccess, entries[0].Severity)
	assert.EqualValues(t, 1, entries[0].Metadata["removed"])
}

func TestRetryPendingDropsStaleArtists(t *testing.T) {
	now := time.Date(2025, time.January, 1, 12, 0, 0, 0, time.Local)
	m := newMaintenance(t, &now)
	m.Resolver = &fakeResolver{rep: &musicbrainz.PendingReport{Total: 2, Resolved: 1, Failed: 1}}

	_, err := m.Store.AddArtist("PENDING-0a1b2c", "Ghost Band", "")
	require.NoError(t, err)
	_, _, err = m.Store.AddSongIfNew("PENDING-0a1b2c", "Haunted")
	require.NoError(t, err)

	now = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.Local)
	_, err = m.Store.AddArtist("PENDING-ffee00", "Fresh Band", "")
	require.NoError(t, err)

	require.NoError(t, m.RetryPending(context.Background()))

	gone, err := m.Store.GetArtist("PENDING-0a1b2c")
	require.NoError(t, err)
	assert.Nil(t, gone)
	kept, err := m.Store.GetArtist("PENDING-ffee00")
	require.NoError(t, err)
	assert.NotNil(t, kept)

	entries, err := m.Store.RecentActivity(1, report.EventMBIDRetry)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "MBID retry: 1 resolved, 1 still pending", entries[0].Title)
}

func TestRetryPendingFailureNotifies(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.Local)
	m := newMaintenance(t, &now)
	m.Resolver = &fakeResolver{err: errors.New("musicbrainz unreachable")}

	require.Error(t, m.RetryPending(context.Background()))
	notes := m.Dispatcher.(*recorder).events
	require.Len(t, notes, 1)
	assert.Equal(t, notify.OnSystemError, notes[0].Trigger)
	assert.Equal(t, "musicbrainz unreachable", notes[0].Message)
}

func TestCleanupLogFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.Local)
	old := now.AddDate(0, 0, -45)

	files := map[string]time.Time{
		"radio_monitor.log":                         old,
		"radio_monitor-2025-01-10T10-00-00.000.log": old,
		"radio_monitor-2025-02-27T10-00-00.000.log": now.AddDate(0, 0, -2),
		"debug.log.1":                               old,
		"notes.txt":                                 old,
		filepath.Join("logs", "scrape.log"):         old,
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "logs"), 0o755))
	for name, mtime := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}

	n, err := CleanupLogFiles(filepath.Join(dir, "radio_monitor.log"), 30, now)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, name := range []string{"radio_monitor.log", "radio_monitor-2025-02-27T10-00-00.000.log", "notes.txt"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	for _, name := range []string{"radio_monitor-2025-01-10T10-00-00.000.log", "debug.log.1", filepath.Join("logs", "scrape.log")} {
		assert.NoFileExists(t, filepath.Join(dir, name))
	}
}

func TestCleanupDatabaseNothingToDo(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.Local)
	m := newMaintenance(t, &now)

	require.NoError(t, m.CleanupDatabase(context.Background()))
	entries, err := m.Store.RecentActivity(10, report.EventCleanup)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCleanupActivityFailureNotifies(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.Local)
	m := newMaintenance(t, &now)
	require.NoError(t, m.Store.Close())

	assert.Error(t, m.CleanupActivity(context.Background()))
	notes := m.Dispatcher.(*recorder).events
	require.Len(t, notes, 1)
	assert.Equal(t, notify.OnSystemError, notes[0].Trigger)
}

func TestTriggeredPlaylistJob(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.Local)
	m := newMaintenance(t, &now)
	runner := &fakeRunner{}
	m.Playlists = runner

	s := New(nil, Options{Logger: hclog.NewNullLogger()})
	defer s.Shutdown(context.Background())
	require.NoError(t, m.Register(s, false))

	ch, err := s.Trigger(JobPlaylists)
	require.NoError(t, err)
	assert.NoError(t, (<-ch).Err)
	assert.Equal(t, 1, runner.calls)
}
