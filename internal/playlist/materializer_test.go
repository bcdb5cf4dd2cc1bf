package playlist

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franz/radio-monitor/internal/notify"
	"github.com/franz/radio-monitor/internal/report"
	"github.com/franz/radio-monitor/internal/store"
	"github.com/franz/radio-monitor/internal/util"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	events []notify.Event
}

func (r *recorder) Dispatch(ctx context.Context, ev notify.Event) int {
	r.events = append(r.events, ev)
	return 1
}

func (r *recorder) triggers() []notify.Trigger {
	var out []notify.Trigger
	for _, ev := range r.events {
		out = append(out, ev.Trigger)
	}
	return out
}

type fixture struct {
	store  *store.Store
	clock  *clock
	server *fakeServer
	notes  *recorder
	mat    *Materializer
	songs  map[string]int64
}

// newFixture stores three played songs, Hello (3 plays), Skyfall (2) and
// Anti-Hero (1), and a library holding them plus an unrelated track "a".
func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{now: time.Date(2025, time.March, 1, 8, 0, 0, 0, time.Local)}
	s, err := store.OpenWithOptions(filepath.Join(t.TempDir(), "radio_songs.db"), &store.OpenOptions{Clock: c.Now})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.AddStation(store.Station{ID: "us99", Name: "US 99.5", URL: "https://www.iheart.com/live/us-995-6527/"})
	require.NoError(t, err)

	f := &fixture{store: s, clock: c, server: newFakeServer(), notes: &recorder{}, songs: map[string]int64{}}
	f.song(t, "mbid-adele", "Adele", "Hello", 3)
	f.song(t, "mbid-adele", "Adele", "Skyfall", 2)
	f.song(t, "mbid-taylor", "Taylor Swift", "Anti-Hero", 1)

	f.server.addTrack("a", "Yesterday", "The Beatles")
	f.server.addTrack("b", "Hello", "Adele")
	f.server.addTrack("c", "Skyfall", "Adele")
	f.server.addTrack("d", "Anti-Hero", "Taylor Swift")
	f.server.addTrack("x", "Hello", "Lionel Richie")

	activity, err := report.NewActivityLogger(s, "", "")
	require.NoError(t, err)
	f.mat = &Materializer{
		Store:      s,
		Server:     f.server,
		Activity:   activity,
		Dispatcher: f.notes,
		Clock:      c.Now,
	}
	return f
}

func (f *fixture) song(t *testing.T, mbid, artist, title string, plays int) int64 {
	t.Helper()
	_, err := f.store.AddArtist(mbid, artist, "us99")
	require.NoError(t, err)
	_, id, err := f.store.AddSongIfNew(mbid, title)
	require.NoError(t, err)
	for range plays {
		recorded, err := f.store.RecordPlay(id, "us99")
		require.NoError(t, err)
		require.True(t, recorded)
		f.clock.Advance(30 * time.Minute)
	}
	f.songs[title] = id
	return id
}

func TestQueryLimit(t *testing.T) {
	assert.Equal(t, 68, QueryLimit(50))
	assert.Equal(t, 68, QueryLimit(0))
	assert.Equal(t, 14, QueryLimit(10))
	assert.Equal(t, 2500, QueryLimit(2000))
}

func TestApplyMergeKeepsMatchedSet(t *testing.T) {
	f := newFixture(t)
	f.server.seedPlaylist("P", "a", "b", "c")

	res, err := f.mat.Apply(context.Background(), Spec{Name: "P", Mode: ModeMerge, Limit: 10})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"b", "c", "d"}, f.server.itemKeys("P"))
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 3, res.Matched)
	assert.Zero(t, res.NotFound)
	assert.False(t, res.Created)

	entries, err := f.store.RecentActivity(10, report.EventPlaylist)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.SeveritySuccess, entries[0].Severity)
	assert.Equal(t, "Playlist updated: P", entries[0].Title)

	failures, err := f.store.UnresolvedPlexFailures(10)
	require.NoError(t, err)
	assert.Empty(t, failures)

	assert.Equal(t, []notify.Trigger{notify.OnPlaylistUpdate}, f.notes.triggers())
}

func TestApplyDisciplines(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		seeded  bool
		want    []string
		added   int
		removed int
		created bool
	}{
		{"replace existing", ModeReplace, true, []string{"b", "c", "d"}, 3, 3, false},
		{"replace missing", ModeReplace, false, []string{"b", "c", "d"}, 3, 0, true},
		{"append", ModeAppend, true, []string{"a", "b", "c", "d"}, 1, 0, false},
		{"merge missing", ModeMerge, false, []string{"b", "c", "d"}, 3, 0, true},
		{"create", ModeCreate, false, []string{"b", "c", "d"}, 3, 0, true},
		{"recent", ModeRecent, true, []string{"b", "c", "d"}, 3, 3, false},
		{"random", ModeRandom, true, []string{"b", "c", "d"}, 3, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.seeded {
				f.server.seedPlaylist("P", "a", "b", "c")
			}
			res, err := f.mat.Apply(context.Background(), Spec{Name: "P", Mode: tt.mode, Limit: 10})
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, f.server.itemKeys("P"))
			assert.Equal(t, tt.added, res.Added)
			assert.Equal(t, tt.removed, res.Removed)
			assert.Equal(t, tt.created, res.Created)
		})
	}
}

func TestApplyCreateRefusesExisting(t *testing.T) {
	f := newFixture(t)
	f.server.seedPlaylist("P", "a")

	_, err := f.mat.Apply(context.Background(), Spec{Name: "P", Mode: ModeCreate})
	assert.True(t, errors.Is(err, util.ErrConflict))
	assert.Equal(t, []string{"a"}, f.server.itemKeys("P"))
	assert.Equal(t, []notify.Trigger{notify.OnPlaylistError}, f.notes.triggers())
}

func TestApplySnapshotIsDated(t *testing.T) {
	f := newFixture(t)
	f.server.seedPlaylist("P", "a")

	res, err := f.mat.Apply(context.Background(), Spec{Name: "P", Mode: ModeSnapshot})
	require.NoError(t, err)
	assert.Equal(t, "P 2025-03-01", res.Playlist)
	assert.True(t, res.Created)
	assert.ElementsMatch(t, []string{"b", "c", "d"}, f.server.itemKeys("P 2025-03-01"))
	assert.Equal(t, []string{"a"}, f.server.itemKeys("P"))
}

func TestApplyTrimsToLimit(t *testing.T) {
	f := newFixture(t)

	res, err := f.mat.Apply(context.Background(), Spec{Name: "Top 2", Mode: ModeReplace, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Queried)
	assert.Equal(t, 3, res.Matched)
	assert.Equal(t, []string{"b", "c"}, f.server.itemKeys("Top 2"))
	assert.Equal(t, 2, res.Added)
}

func TestApplyLogsUnmatchedSongs(t *testing.T) {
	f := newFixture(t)
	missing := f.song(t, "mbid-nobody", "Nobody Known", "Unreleased Demo", 4)

	res, err := f.mat.Apply(context.Background(), Spec{Name: "P", Mode: ModeReplace, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, res.NotFound)
	require.Len(t, res.Missing, 1)
	assert.Equal(t, missing, res.Missing[0].SongID)
	assert.ElementsMatch(t, []string{"b", "c", "d"}, f.server.itemKeys("P"))

	failures, err := f.store.UnresolvedPlexFailures(10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "no_match", failures[0].Reason)
	assert.Equal(t, map[string]string{"title": "Unreleased Demo", "artist": "Nobody Known"}, failures[0].SearchTerms)

	entries, err := f.store.RecentActivity(1, report.EventPlaylist)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.SeverityInfo, entries[0].Severity)
}

func TestApplyResolvesEarlierFailures(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.LogPlexFailure(f.songs["Skyfall"], 0, "no_match", nil))

	_, err := f.mat.Apply(context.Background(), Spec{Name: "P", Limit: 10})
	require.NoError(t, err)

	failures, err := f.store.UnresolvedPlexFailures(10)
	require.NoError(t, err)
	assert.Empty(t, failures)
}

func TestApplyExcludesBlockedSongs(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.BlockSong(f.songs["Hello"], "overplayed")
	require.NoError(t, err)

	res, err := f.mat.Apply(context.Background(), Spec{Name: "P", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Queried)
	assert.ElementsMatch(t, []string{"c", "d"}, f.server.itemKeys("P"))
}

func TestApplyServerErrorAborts(t *testing.T) {
	f := newFixture(t)
	f.server.seedPlaylist("P", "a")
	f.server.searchErr = &util.StatusError{Service: "Plex", StatusCode: 503}

	_, err := f.mat.Apply(context.Background(), Spec{Name: "P", Limit: 10})
	var status *util.StatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, 1, f.server.searches, "the first failed search aborts the run")
	assert.Equal(t, []string{"a"}, f.server.itemKeys("P"))

	entries, err := f.store.RecentActivity(1, report.EventPlaylist)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.SeverityError, entries[0].Severity)
	assert.Equal(t, []notify.Trigger{notify.OnPlaylistError}, f.notes.triggers())
}

func TestApplyRejectsBadSpec(t *testing.T) {
	f := newFixture(t)

	_, err := f.mat.Apply(context.Background(), Spec{Name: "P", Mode: "shuffle"})
	assert.True(t, errors.Is(err, util.ErrInvalidConfig))

	_, err = f.mat.Apply(context.Background(), Spec{Name: "P", Library: "Podcasts"})
	assert.True(t, errors.Is(err, util.ErrNotFound))
}

func TestApplyCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.mat.Apply(ctx, Spec{Name: "P"})
	assert.True(t, errors.Is(err, util.ErrCancelled))
	assert.Nil(t, f.server.itemKeys("P"))
}
