package store

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franz/radio-monitor/internal/util"
)

func TestPlaylistScheduling(t *testing.T) {
	clock := newTestClock(at(1, 8, 0))
	s := openTestStore(t, clock)

	id, err := s.AddPlaylist(Playlist{
		Name:            "Top Hits",
		IsAuto:          true,
		IntervalMinutes: 360,
		StationIDs:      []string{"us99", "wlit"},
		MaxSongs:        50,
		Enabled:         true,
	})
	require.NoError(t, err)

	p, err := s.GetPlaylist(id)
	require.NoError(t, err)
	assert.Equal(t, "merge", p.Mode)
	assert.Equal(t, 1, p.MinPlays)
	assert.Equal(t, "Top Hits", p.PlexPlaylistName)
	assert.Equal(t, []string{"us99", "wlit"}, p.StationIDs)
	assert.True(t, p.NextUpdate.Equal(at(1, 14, 0)))

	due, err := s.DuePlaylists(at(1, 13, 59))
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = s.DuePlaylists(at(1, 14, 0))
	require.NoError(t, err)
	require.Len(t, due, 1)

	failures, err := s.IncrementPlaylistFailures(id)
	require.NoError(t, err)
	assert.Equal(t, 1, failures)

	require.NoError(t, s.MarkPlaylistUpdated(id, at(1, 14, 1)))
	p, err = s.GetPlaylist(id)
	require.NoError(t, err)
	assert.Equal(t, 0, p.ConsecutiveFailures)
	assert.True(t, p.LastUpdated.Equal(at(1, 14, 1)))
	assert.True(t, p.NextUpdate.Equal(at(1, 20, 1)))

	ok, err := s.SetPlaylistEnabled(id, false)
	require.NoError(t, err)
	require.True(t, ok)
	due, err = s.DuePlaylists(at(2, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, due)

	_, err = s.AddPlaylist(Playlist{Name: "Bad", Mode: "shuffle"})
	assert.Error(t, err)
}

func TestDeletePlaylistKeepsFailureHistory(t *testing.T) {
	s := openTestStore(t, newTestClock(at(1, 8, 0)))
	id, err := s.AddPlaylist(Playlist{Name: "Mix", Enabled: true})
	require.NoError(t, err)
	song := addSong(t, s, "mbid-1", "Adele", "Hello")
	require.NoError(t, s.LogPlexFailure(song, id, "no_match", nil))
	require.NoError(t, s.LogPlexFailure(song, id, "no_match", nil))

	failures, err := s.UnresolvedPlexFailures(10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, 2, failures[0].SearchAttempts)

	deleted, err := s.DeletePlaylist(id)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, 1, countRows(t, s, "SELECT COUNT(*) FROM plex_match_failures WHERE playlist_id IS NULL"))

	resolved, err := s.ResolvePlexFailures(song)
	require.NoError(t, err)
	assert.Equal(t, int64(1), resolved)
}

func TestManualPlaylistBuilderCommit(t *testing.T) {
	s := openTestStore(t, newTestClock(at(1, 8, 0)))
	a := addSong(t, s, "mbid-1", "Adele", "Hello")
	b := addSong(t, s, "mbid-1", "Adele", "Skyfall")
	c := addSong(t, s, "mbid-2", "Muse", "Uprising")

	id, err := s.CreateManualPlaylist("Favorites", "")
	require.NoError(t, err)
	_, err = s.CreateManualPlaylist("Favorites", "")
	assert.True(t, errors.Is(err, util.ErrConflict))

	n, err := s.AddSongsToManualPlaylist(id, []int64{a})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.BuilderAdd("sess", a, b, c)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = s.BuilderAdd("sess", a)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	removed, err := s.BuilderRemove("sess", c)
	require.NoError(t, err)
	assert.True(t, removed)

	staged, err := s.BuilderSongs("sess")
	require.NoError(t, err)
	assert.Len(t, staged, 2)

	added, err := s.BuilderCommit("sess", id)
	require.NoError(t, err)
	assert.Equal(t, 1, added, "song a was already in the playlist")

	songs, err := s.ManualPlaylistSongs(id)
	require.NoError(t, err)
	assert.Len(t, songs, 2)

	staged, err = s.BuilderSongs("sess")
	require.NoError(t, err)
	assert.Empty(t, staged)

	_, err = s.BuilderAdd("sess", c)
	require.NoError(t, err)
	_, err = s.BuilderCommit("sess", 9999)
	assert.True(t, errors.Is(err, util.ErrNotFound))
	staged, err = s.BuilderSongs("sess")
	require.NoError(t, err)
	assert.Len(t, staged, 1, "failed commit leaves the session intact")

	lists, err := s.ListManualPlaylists()
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.Equal(t, 2, lists[0].SongCount)

	deleted, err := s.DeleteManualPlaylist(id)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, 0, countRows(t, s, "SELECT COUNT(*) FROM manual_playlist_songs"))
}

func TestMBIDOverrides(t *testing.T) {
	s := openTestStore(t, newTestClock(at(1, 8, 0)))

	_, err := s.SetMBIDOverride("Pink", "mbid-pink", "singer, not the band")
	require.NoError(t, err)
	_, err = s.SetMBIDOverride("PINK", "mbid-pink-2", "")
	require.NoError(t, err)

	mbid, err := s.GetMBIDOverride("pink")
	require.NoError(t, err)
	assert.Equal(t, "mbid-pink-2", mbid)

	none, err := s.GetMBIDOverride("Nobody")
	require.NoError(t, err)
	assert.Empty(t, none)

	list, err := s.ListMBIDOverrides(10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	deleted, err := s.DeleteMBIDOverride("Pink")
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestBlocklistFiltersRankedSongs(t *testing.T) {
	clock := newTestClock(at(1, 8, 0))
	s := openTestStore(t, clock)
	seedStation(t, s, "us99")

	a := addSong(t, s, "mbid-1", "Adele", "Hello")
	b := addSong(t, s, "mbid-2", "Muse", "Uprising")
	c := addSong(t, s, "mbid-2", "Muse", "Madness")
	for _, id := range []int64{a, b, c} {
		_, err := s.RecordPlay(id, "us99")
		require.NoError(t, err)
	}

	added, err := s.BlockArtist("mbid-1", "")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.BlockArtist("mbid-1", "")
	require.NoError(t, err)
	assert.False(t, added)
	_, err = s.BlockSong(c, "overplayed")
	require.NoError(t, err)

	blocked, err := s.IsSongBlocked(a)
	require.NoError(t, err)
	assert.True(t, blocked, "artist block covers the song")

	songs, err := s.TopSongs(SongQuery{ExcludeBlocked: true})
	require.NoError(t, err)
	require.Len(t, songs, 1)
	assert.Equal(t, b, songs[0].ID)

	songs, err = s.TopSongs(SongQuery{})
	require.NoError(t, err)
	assert.Len(t, songs, 3)

	entries, err := s.ListBlocklist("")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		ok, err := s.Unblock(e.ID)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	songs, err = s.TopSongs(SongQuery{ExcludeBlocked: true})
	require.NoError(t, err)
	assert.Len(t, songs, 3)
}

func TestNotificationConfigAndHistory(t *testing.T) {
	clock := newTestClock(at(1, 8, 0))
	s := openTestStore(t, clock)

	id, err := s.AddNotification(NotificationConfig{
		Type:     "discord",
		Name:     "ops",
		Enabled:  true,
		Config:   json.RawMessage(`{"webhook_url":"https://example.com/hook"}`),
		Triggers: []string{"on_scrape_error", "on_station_health"},
	})
	require.NoError(t, err)
	_, err = s.AddNotification(NotificationConfig{Type: "slack", Name: "ops", Enabled: true})
	assert.True(t, errors.Is(err, util.ErrConflict))
	_, err = s.AddNotification(NotificationConfig{
		Type: "ntfy", Name: "quiet", Enabled: false, Triggers: []string{"on_scrape_error"},
	})
	require.NoError(t, err)

	sinks, err := s.NotificationsForEvent("on_scrape_error")
	require.NoError(t, err)
	require.Len(t, sinks, 1)
	assert.Equal(t, id, sinks[0].ID)

	sinks, err = s.NotificationsForEvent("on_import_complete")
	require.NoError(t, err)
	assert.Empty(t, sinks)

	require.NoError(t, s.LogNotificationSend(NotificationSend{
		NotificationID: id, EventType: "on_scrape_error", Severity: SeverityError,
		Title: "Scrape failed", Message: "us99 timed out", Success: false, ErrorMessage: "HTTP 500",
	}))
	require.NoError(t, s.IncrementNotificationFailures(id))
	clock.Advance(time.Minute)
	require.NoError(t, s.LogNotificationSend(NotificationSend{
		NotificationID: id, EventType: "on_scrape_error", Severity: SeverityError,
		Title: "Scrape failed", Message: "us99 timed out", Success: true,
	}))
	require.NoError(t, s.MarkNotificationTriggered(id))

	n, err := s.GetNotification(id)
	require.NoError(t, err)
	assert.Equal(t, 1, n.FailureCount)
	assert.True(t, n.LastTriggered.Equal(at(1, 8, 1)))

	history, err := s.NotificationHistory(10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].Success)
	assert.Equal(t, "ops", history[0].NotificationName)
	assert.Equal(t, "HTTP 500", history[1].ErrorMessage)

	deleted, err := s.DeleteNotification(id)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, 0, countRows(t, s, "SELECT COUNT(*) FROM notification_history"))
}

func TestAIGenerationLog(t *testing.T) {
	s := openTestStore(t, newTestClock(at(1, 8, 0)))
	_, err := s.LogAIGeneration(AIGeneration{
		Instructions: "upbeat morning",
		StationIDs:   []string{"us99"},
		MaxSongs:     25,
		SongCount:    20,
		Model:        "local",
	})
	require.NoError(t, err)

	list, err := s.ListAIGenerations(5)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "completed", list[0].Status)
	assert.Equal(t, 1, list[0].MinPlays)
	assert.JSONEq(t, "[]", string(list[0].Songs))
	assert.Equal(t, []string{"us99"}, list[0].StationIDs)
}
