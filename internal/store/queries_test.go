package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedPlays records n plays of song on station, 30 minutes apart.
func seedPlays(t *testing.T, s *Store, clock *testClock, song int64, station string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		recorded, err := s.RecordPlay(song, station)
		require.NoError(t, err)
		require.True(t, recorded)
		clock.Advance(30 * time.Minute)
	}
}

func TestTopSongsFilters(t *testing.T) {
	clock := newTestClock(at(1, 6, 0))
	s := openTestStore(t, clock)
	seedStation(t, s, "us99")
	seedStation(t, s, "wlit")

	old := addSong(t, s, "mbid-1", "Adele", "Old Favorite")
	seedPlays(t, s, clock, old, "us99", 6)

	clock.Set(at(20, 6, 0))
	hit := addSong(t, s, "mbid-2", "Muse", "Uprising")
	mid := addSong(t, s, "mbid-2", "Muse", "Madness")
	other := addSong(t, s, "mbid-3", "Lorde", "Royals")
	seedPlays(t, s, clock, hit, "us99", 4)
	seedPlays(t, s, clock, mid, "us99", 2)
	seedPlays(t, s, clock, other, "wlit", 3)
	seedPlays(t, s, clock, hit, "wlit", 1)

	top, err := s.TopSongs(SongQuery{})
	require.NoError(t, err)
	require.Len(t, top, 4)
	assert.Equal(t, old, top[0].ID)
	assert.Equal(t, 6, top[0].Plays)

	recent, err := s.TopSongs(SongQuery{Days: 7})
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, hit, recent[0].ID)
	assert.Equal(t, 5, recent[0].Plays)

	us99, err := s.TopSongs(SongQuery{StationIDs: []string{"us99"}, Days: 7})
	require.NoError(t, err)
	require.Len(t, us99, 2)
	assert.Equal(t, 4, us99[0].Plays, "plays summed inside the station filter")

	ranged, err := s.TopSongs(SongQuery{Days: 7, MinPlays: 2, MaxPlays: 3})
	require.NoError(t, err)
	require.Len(t, ranged, 2)
	assert.Equal(t, other, ranged[0].ID)
	assert.Equal(t, mid, ranged[1].ID)

	limited, err := s.TopSongs(SongQuery{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	latest, err := s.RecentSongs(SongQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, hit, latest[0].ID)

	random, err := s.RandomSongs(SongQuery{Days: 7})
	require.NoError(t, err)
	assert.Len(t, random, 3)

	artists, err := s.TopArtists(SongQuery{Days: 7})
	require.NoError(t, err)
	require.Len(t, artists, 2)
	assert.Equal(t, "mbid-2", artists[0].MBID)
	assert.Equal(t, 7, artists[0].Plays)
}

func TestArtistsPage(t *testing.T) {
	clock := newTestClock(at(1, 6, 0))
	s := openTestStore(t, clock)
	seedStation(t, s, "us99")

	names := []string{"Adele", "Beck", "Coldplay", "Drake", "Eminem"}
	for i, name := range names {
		id := addSong(t, s, "mbid-"+name, name, "Song")
		seedPlays(t, s, clock, id, "us99", i+1)
	}
	_, err := s.AddArtist("PENDING-abc", "Faithless", "")
	require.NoError(t, err)

	page, err := s.ArtistsPage(ArtistFilter{}, Page{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 6, page.Total)
	assert.Equal(t, 3, page.Pages)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Adele", page.Items[0].Name)

	page, err = s.ArtistsPage(ArtistFilter{}, Page{Limit: 2, Page: 3})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Faithless", page.Items[1].Name)

	page, err = s.ArtistsPage(ArtistFilter{}, Page{Sort: "total_plays", Direction: "desc"})
	require.NoError(t, err)
	assert.Equal(t, "Eminem", page.Items[0].Name)
	assert.Equal(t, 5, page.Items[0].TotalPlays)
	assert.Equal(t, 1, page.Items[0].SongCount)

	page, err = s.ArtistsPage(ArtistFilter{MBIDStatus: "pending"}, Page{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.True(t, page.Items[0].IsPending())

	page, err = s.ArtistsPage(ArtistFilter{TotalPlaysMin: 2, TotalPlaysMax: 4}, Page{})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)

	page, err = s.ArtistsPage(ArtistFilter{Search: "ol"}, Page{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Coldplay", page.Items[0].Name)
}

func TestSongsPageAndStats(t *testing.T) {
	clock := newTestClock(at(1, 6, 0))
	s := openTestStore(t, clock)
	seedStation(t, s, "us99")
	seedStation(t, s, "wlit")

	a := addSong(t, s, "mbid-1", "Adele", "Hello")
	b := addSong(t, s, "mbid-1", "Adele", "Skyfall")
	c := addSong(t, s, "mbid-2", "Muse", "Uprising")
	seedPlays(t, s, clock, a, "us99", 3)
	seedPlays(t, s, clock, b, "wlit", 1)
	seedPlays(t, s, clock, c, "wlit", 2)

	page, err := s.SongsPage(SongFilter{StationID: "wlit"}, Page{Sort: "play_count", Direction: "desc"})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	assert.Equal(t, c, page.Items[0].ID)

	page, err = s.SongsPage(SongFilter{ArtistName: "Adele", PlaysMin: 2}, Page{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Hello", page.Items[0].Title)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Artists)
	assert.Equal(t, 3, stats.Songs)
	assert.Equal(t, 6, stats.Plays)
	assert.Equal(t, 6, stats.PlaysToday)
	assert.Equal(t, 2, stats.EnabledStations)

	dist, err := s.StationDistribution(0)
	require.NoError(t, err)
	require.Len(t, dist, 2)
	assert.Equal(t, 3, dist[0].Plays)

	daily, err := s.DailyPlays(7, "")
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, "2025-03-01", daily[0].Date)
	assert.Equal(t, 6, daily[0].Plays)

	feed, err := s.RecentPlays(2, "")
	require.NoError(t, err)
	require.Len(t, feed, 2)
	assert.Equal(t, "Uprising", feed[0].SongTitle)
	assert.Equal(t, "wlit", feed[0].StationName)
}
