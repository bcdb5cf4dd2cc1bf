package store

import (
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{now: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func at(day, hour, minute int) time.Time {
	return time.Date(2025, time.March, day, hour, minute, 0, 0, time.Local)
}

func openTestStore(t *testing.T, clock *testClock) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "radio_songs.db")
	s, err := OpenWithOptions(path, &OpenOptions{Clock: clock.Now})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedStation(t *testing.T, s *Store, id string) {
	t.Helper()
	added, err := s.AddStation(Station{ID: id, Name: id, URL: "https://example.com/" + id})
	require.NoError(t, err)
	require.True(t, added)
}

// addSong creates artist (if needed) and song and returns the song id.
func addSong(t *testing.T, s *Store, mbid, artist, title string) int64 {
	t.Helper()
	_, err := s.AddArtist(mbid, artist, "")
	require.NoError(t, err)
	_, id, err := s.AddSongIfNew(mbid, title)
	require.NoError(t, err)
	return id
}

func countRows(t *testing.T, s *Store, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow(query, args...).Scan(&n))
	return n
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
