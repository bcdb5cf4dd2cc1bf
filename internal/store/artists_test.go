package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franz/radio-monitor/internal/normalize"
	"github.com/franz/radio-monitor/internal/util"
)

func TestAddArtistUniqueness(t *testing.T) {
	s := openTestStore(t, newTestClock(at(1, 8, 0)))
	seedStation(t, s, "us99")

	added, err := s.AddArtist("mbid-1", "Adele", "us99")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AddArtist("mbid-1", "Someone Else", "us99")
	require.NoError(t, err)
	assert.False(t, added, "duplicate mbid")

	added, err = s.AddArtist("mbid-2", "Adele", "us99")
	require.NoError(t, err)
	assert.False(t, added, "duplicate name")

	a, err := s.GetArtistByName("Adele")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "mbid-1", a.MBID)
	assert.Equal(t, "us99", a.FirstSeenStation)
	assert.True(t, a.NeedsLidarrImport)
	assert.False(t, a.IsPending())

	missing, err := s.GetArtist("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = s.AddArtist("", "Nobody", "")
	assert.True(t, errors.Is(err, util.ErrInvalidConfig))
}

func TestAddSongIfNew(t *testing.T) {
	s := openTestStore(t, newTestClock(at(1, 8, 0)))
	_, err := s.AddArtist("mbid-1", "Adele", "")
	require.NoError(t, err)

	added, id, err := s.AddSongIfNew("mbid-1", "Hello")
	require.NoError(t, err)
	assert.True(t, added)

	added, again, err := s.AddSongIfNew("mbid-1", "Hello")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, id, again)

	song, err := s.GetSong(id)
	require.NoError(t, err)
	assert.Equal(t, 0, song.PlayCount)
	assert.Equal(t, "Adele", song.ArtistName)

	_, _, err = s.AddSongIfNew("unknown-mbid", "Hello")
	assert.True(t, errors.Is(err, util.ErrNotFound))
}

func TestReconcilePendingRekeys(t *testing.T) {
	clock := newTestClock(at(1, 8, 0))
	s := openTestStore(t, clock)
	seedStation(t, s, "us99")

	name := "Mystery Band"
	pending := normalize.PendingMBID(name)
	var songIDs []int64
	for _, title := range []string{"One", "Two", "Three"} {
		id := addSong(t, s, pending, name, title)
		_, err := s.RecordPlay(id, "us99")
		require.NoError(t, err)
		songIDs = append(songIDs, id)
	}
	_, err := s.BlockArtist(pending, "noise")
	require.NoError(t, err)

	ok, err := s.UpdateArtistMBIDFromPending(name, "real-mbid")
	require.NoError(t, err)
	assert.True(t, ok)

	a, err := s.GetArtist("real-mbid")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, name, a.Name)

	old, err := s.GetArtist(pending)
	require.NoError(t, err)
	assert.Nil(t, old)

	for _, id := range songIDs {
		mbid, err := s.SongArtistMBID(id)
		require.NoError(t, err)
		assert.Equal(t, "real-mbid", mbid)
	}
	assert.Equal(t, 3, countRows(t, s, "SELECT COUNT(*) FROM song_plays_daily"))
	assert.Equal(t, 1, countRows(t, s, "SELECT COUNT(*) FROM blocklist WHERE entity_id = 'artist:real-mbid'"))
	assert.Equal(t, 0, countRows(t, s, "SELECT COUNT(*) FROM pragma_foreign_key_check"))

	ok, err = s.UpdateArtistMBIDFromPending(name, "real-mbid")
	require.NoError(t, err)
	assert.False(t, ok, "no PENDING row left")
}

func TestReconcilePendingMergesIntoExistingArtist(t *testing.T) {
	clock := newTestClock(at(1, 8, 0))
	s := openTestStore(t, clock)
	seedStation(t, s, "us99")

	target := addSong(t, s, "real-mbid", "The Band", "Shared Song")
	_, err := s.RecordPlay(target, "us99")
	require.NoError(t, err)

	pending := normalize.PendingMBID("Band")
	dup := addSong(t, s, pending, "Band", "Shared Song")
	only := addSong(t, s, pending, "Band", "Only Pending")
	for _, id := range []int64{dup, only} {
		_, err := s.RecordPlay(id, "us99")
		require.NoError(t, err)
	}

	ok, err := s.UpdateArtistMBIDFromPending("Band", "real-mbid")
	require.NoError(t, err)
	require.True(t, ok)

	gone, err := s.GetSong(dup)
	require.NoError(t, err)
	assert.Nil(t, gone, "duplicate title folded into the target song")

	merged, err := s.GetSong(target)
	require.NoError(t, err)
	assert.Equal(t, 2, merged.PlayCount)
	assert.Equal(t, 2, countRows(t, s, "SELECT SUM(play_count) FROM song_plays_daily WHERE song_id = ?", target))

	moved, err := s.GetSong(only)
	require.NoError(t, err)
	assert.Equal(t, "real-mbid", moved.ArtistMBID)
	assert.Equal(t, "The Band", moved.ArtistName)

	assert.Equal(t, 1, countRows(t, s, "SELECT COUNT(*) FROM artists"))
	assert.Equal(t, 0, countRows(t, s, "SELECT COUNT(*) FROM pragma_foreign_key_check"))
}

func TestReconcilePendingRacesWithAddArtist(t *testing.T) {
	clock := newTestClock(at(1, 8, 0))
	s := openTestStore(t, clock)

	name := "Race Condition"
	pending := normalize.PendingMBID(name)
	for _, title := range []string{"A", "B", "C", "D", "E"} {
		addSong(t, s, pending, name, title)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	var reconcileErr, addErr error
	go func() {
		defer wg.Done()
		_, reconcileErr = s.UpdateArtistMBIDFromPending(name, "real-mbid")
	}()
	go func() {
		defer wg.Done()
		_, addErr = s.AddArtist("real-mbid", "Race Condition Official", "")
	}()
	wg.Wait()
	require.NoError(t, reconcileErr)
	require.NoError(t, addErr)

	assert.Equal(t, 1, countRows(t, s, "SELECT COUNT(*) FROM artists WHERE mbid = 'real-mbid'"))
	assert.Equal(t, 0, countRows(t, s, "SELECT COUNT(*) FROM artists WHERE mbid LIKE 'PENDING-%'"))
	assert.Equal(t, 5, countRows(t, s, "SELECT COUNT(*) FROM songs WHERE artist_mbid = 'real-mbid'"))
	assert.Equal(t, 0, countRows(t, s, "SELECT COUNT(*) FROM pragma_foreign_key_check"))
}

func TestReconcilePendingRejectsPendingTarget(t *testing.T) {
	s := openTestStore(t, newTestClock(at(1, 8, 0)))
	_, err := s.UpdateArtistMBIDFromPending("Whoever", normalize.PendingMBID("x"))
	assert.True(t, errors.Is(err, util.ErrInvalidConfig))
}

func TestDeleteArtistCascades(t *testing.T) {
	clock := newTestClock(at(1, 8, 0))
	s := openTestStore(t, clock)
	seedStation(t, s, "us99")

	var ids []int64
	for _, title := range []string{"One", "Two"} {
		id := addSong(t, s, "mbid-1", "Adele", title)
		_, err := s.RecordPlay(id, "us99")
		require.NoError(t, err)
		ids = append(ids, id)
	}
	keep := addSong(t, s, "mbid-2", "Other", "Keep Me")
	_, err := s.RecordPlay(keep, "us99")
	require.NoError(t, err)

	require.NoError(t, s.LogPlexFailure(ids[0], 0, "no_match", map[string]string{"title": "One"}))
	_, err = s.SetMBIDOverride("Adele", "mbid-1", "")
	require.NoError(t, err)
	_, err = s.BlockSong(ids[1], "")
	require.NoError(t, err)
	_, err = s.BuilderAdd("session", ids...)
	require.NoError(t, err)

	counts, err := s.DeleteArtist("mbid-1")
	require.NoError(t, err)
	require.NotNil(t, counts)
	assert.Equal(t, "Adele", counts.ArtistName)
	assert.Equal(t, int64(2), counts.Songs)
	assert.Equal(t, int64(2), counts.Plays)
	assert.Equal(t, int64(1), counts.PlexFailures)
	assert.Equal(t, int64(1), counts.Overrides)

	assert.Equal(t, 1, countRows(t, s, "SELECT COUNT(*) FROM songs"))
	assert.Equal(t, 1, countRows(t, s, "SELECT COUNT(*) FROM song_plays_daily"))
	assert.Equal(t, 0, countRows(t, s, "SELECT COUNT(*) FROM blocklist"))
	assert.Equal(t, 0, countRows(t, s, "SELECT COUNT(*) FROM playlist_builder_state"))

	counts, err = s.DeleteArtist("mbid-1")
	require.NoError(t, err)
	assert.Nil(t, counts)
}

func TestDeletePendingArtistsOlderThan(t *testing.T) {
	clock := newTestClock(at(1, 8, 0))
	s := openTestStore(t, clock)
	seedStation(t, s, "us99")

	old := normalize.PendingMBID("Old One")
	id := addSong(t, s, old, "Old One", "Song")
	_, err := s.RecordPlay(id, "us99")
	require.NoError(t, err)

	clock.Advance(10 * 24 * time.Hour)
	fresh := normalize.PendingMBID("New One")
	addSong(t, s, fresh, "New One", "Song")
	addSong(t, s, "real", "Real One", "Song")

	artists, songs, err := s.DeletePendingArtistsOlderThan(7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), artists)
	assert.Equal(t, int64(1), songs)

	pending, err := s.ListPendingArtists(0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, fresh, pending[0].MBID)
	assert.Equal(t, 0, countRows(t, s, "SELECT COUNT(*) FROM song_plays_daily"))
}

func TestArtistsNeedingImport(t *testing.T) {
	clock := newTestClock(at(1, 8, 0))
	s := openTestStore(t, clock)
	seedStation(t, s, "us99")
	seedStation(t, s, "wlit")

	play := func(id int64, station string, n int) {
		for i := 0; i < n; i++ {
			_, err := s.RecordPlay(id, station)
			require.NoError(t, err)
			clock.Advance(30 * time.Minute)
		}
	}
	hot := addSong(t, s, "mbid-hot", "Hot Artist", "Hit")
	cold := addSong(t, s, "mbid-cold", "Cold Artist", "Miss")
	pend := addSong(t, s, normalize.PendingMBID("Pending Artist"), "Pending Artist", "Unknown")
	play(hot, "us99", 3)
	play(hot, "wlit", 2)
	play(cold, "wlit", 1)
	play(pend, "us99", 9)

	all, err := s.ArtistsNeedingImport(2, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "mbid-hot", all[0].MBID)
	assert.Equal(t, 5, all[0].TotalPlays)
	assert.Equal(t, 1, all[0].SongCount)

	wlit, err := s.ArtistsNeedingImport(1, "wlit")
	require.NoError(t, err)
	require.Len(t, wlit, 2)
	assert.Equal(t, 2, wlit[0].TotalPlays)

	require.NoError(t, s.MarkArtistImported("mbid-hot"))
	all, err = s.ArtistsNeedingImport(1, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "mbid-cold", all[0].MBID)

	n, err := s.ResetLidarrImportStatus()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	all, err = s.ArtistsNeedingImport(1, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
