package musicbrainz

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franz/radio-monitor/internal/normalize"
	"github.com/franz/radio-monitor/internal/store"
)

// fakeSearcher answers searches from a fixed catalog keyed by exact query.
type fakeSearcher struct {
	mu      sync.Mutex
	catalog map[string][]Artist
	err     error
	queries []string
}

func (f *fakeSearcher) SearchArtist(ctx context.Context, name string) ([]Artist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, name)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.catalog[name], nil
}

func (f *fakeSearcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "radio_songs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func artist(id, name string) []Artist {
	return []Artist{{ID: id, Name: name, Score: 100}}
}

func TestResolvePriorityChain(t *testing.T) {
	s := openStore(t)
	search := &fakeSearcher{catalog: map[string][]Artist{
		"Taylor Swift": artist("mbid-ts", "Taylor Swift"),
		"Adele":        artist("mbid-wrong", "Adele"),
	}}
	r := NewResolver(s, search, nil)
	ctx := context.Background()

	res, err := r.Resolve(ctx, "Adele", "mbid-from-page")
	require.NoError(t, err)
	assert.Equal(t, Resolution{MBID: "mbid-from-page", Name: "Adele", Source: SourceStation}, res)

	_, err = s.SetMBIDOverride("Adele", "mbid-adele", "")
	require.NoError(t, err)
	res, err = r.Resolve(ctx, "ADELE", "")
	require.NoError(t, err)
	assert.Equal(t, SourceOverride, res.Source)
	assert.Equal(t, "mbid-adele", res.MBID)

	_, err = s.AddArtist("mbid-muse", "Muse", "")
	require.NoError(t, err)
	res, err = r.Resolve(ctx, "Muse", "")
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, "mbid-muse", res.MBID)

	res, err = r.Resolve(ctx, "Taylor Swift", "")
	require.NoError(t, err)
	assert.Equal(t, SourceMusicBrainz, res.Source)
	assert.Equal(t, "mbid-ts", res.MBID)

	assert.Equal(t, []string{"Taylor Swift"}, search.queries)
}

func TestResolveFallsBackToPending(t *testing.T) {
	s := openStore(t)
	search := &fakeSearcher{catalog: map[string][]Artist{
		"Unknown Band": artist("mbid-other", "Completely Different"),
	}}
	r := NewResolver(s, search, nil)

	res, err := r.Resolve(context.Background(), "Unknown Band", "")
	require.NoError(t, err)
	assert.True(t, res.Pending())
	assert.Equal(t, SourcePending, res.Source)
	assert.Equal(t, normalize.PendingMBID("Unknown Band"), res.MBID)

	_, err = r.Resolve(context.Background(), "Unknown Band", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Unknown Band", "Unknown"}, search.queries, "misses are remembered")
}

func TestResolveRegistryErrorIsNotFatal(t *testing.T) {
	s := openStore(t)
	search := &fakeSearcher{err: errors.New("connection reset by peer")}
	r := NewResolver(s, search, nil)

	res, err := r.Resolve(context.Background(), "Muse", "")
	require.NoError(t, err)
	assert.True(t, res.Pending())
	assert.Zero(t, r.Misses().Len(), "transport failures are not cached")
}

func TestResolveStopsOnCancel(t *testing.T) {
	r := NewResolver(openStore(t), &fakeSearcher{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, "Muse", "")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestResolveRetriesCachedPending(t *testing.T) {
	s := openStore(t)
	pending := normalize.PendingMBID("Muse")
	_, err := s.AddArtist(pending, "Muse", "")
	require.NoError(t, err)
	song := addSong(t, s, pending, "Uprising")

	search := &fakeSearcher{catalog: map[string][]Artist{"Muse": artist("mbid-muse", "Muse")}}

	off := NewResolver(s, search, &ResolverOptions{RetryPendingOnLookup: false})
	res, err := off.Resolve(context.Background(), "Muse", "")
	require.NoError(t, err)
	assert.Equal(t, pending, res.MBID)
	assert.Zero(t, search.calls())

	on := NewResolver(s, search, &ResolverOptions{RetryPendingOnLookup: true})
	res, err = on.Resolve(context.Background(), "Muse", "")
	require.NoError(t, err)
	assert.Equal(t, SourceMusicBrainz, res.Source)
	assert.Equal(t, "mbid-muse", res.MBID)

	a, err := s.GetArtistByName("Muse")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "mbid-muse", a.MBID)

	got, err := s.GetSong(song)
	require.NoError(t, err)
	assert.Equal(t, "mbid-muse", got.ArtistMBID)
}

func TestResolveCollaborationUsesPrimaryArtist(t *testing.T) {
	s := openStore(t)
	search := &fakeSearcher{catalog: map[string][]Artist{
		"Miranda Lambert": artist("mbid-ml", "Miranda Lambert"),
	}}
	r := NewResolver(s, search, nil)

	res, err := r.Resolve(context.Background(), "Miranda Lambert & Chris Stapleton", "")
	require.NoError(t, err)
	assert.Equal(t, SourceCollaboration, res.Source)
	assert.Equal(t, "mbid-ml", res.MBID)
	assert.Equal(t, "Miranda Lambert", res.Name)
}

func TestResolveCollaborationTriesEachPart(t *testing.T) {
	s := openStore(t)
	search := &fakeSearcher{catalog: map[string][]Artist{
		"Chris Stapleton": artist("mbid-cs", "Chris Stapleton"),
	}}
	r := NewResolver(s, search, nil)

	res, err := r.Resolve(context.Background(), "Nobody Local & Chris Stapleton", "")
	require.NoError(t, err)
	assert.Equal(t, Resolution{MBID: "mbid-cs", Name: "Chris Stapleton", Source: SourceCollaboration}, res)
}

func TestResolveGroupsSeparatorlessCredit(t *testing.T) {
	s := openStore(t)
	search := &fakeSearcher{catalog: map[string][]Artist{
		"Dan Shay":      artist("mbid-ds", "Dan + Shay"),
		"Justin Bieber": artist("mbid-jb", "Justin Bieber"),
	}}
	r := NewResolver(s, search, nil)

	res, err := r.Resolve(context.Background(), "Dan Shay Justin Bieber", "")
	require.NoError(t, err)
	assert.False(t, res.Pending())
	assert.Equal(t, Resolution{MBID: "mbid-ds", Name: "Dan Shay", Source: SourceCollaboration}, res)

	_, err = s.AddArtist(normalize.PendingMBID("Dan Shay Justin Bieber"), "Dan Shay Justin Bieber", "")
	require.NoError(t, err)
	res, err = r.Resolve(context.Background(), "Dan Shay Justin Bieber", "")
	require.NoError(t, err)
	assert.Equal(t, "mbid-ds", res.MBID)
	pending, err := s.ListPendingArtists(0)
	require.NoError(t, err)
	assert.Empty(t, pending, "the stored placeholder is reconciled")
}

func TestResolveOverrideRekeysPendingArtist(t *testing.T) {
	s := openStore(t)
	pending := normalize.PendingMBID("Billy Joel")
	_, err := s.AddArtist(pending, "Billy Joel", "")
	require.NoError(t, err)
	song := addSong(t, s, pending, "Piano Man")

	_, err = s.SetMBIDOverride("Billy Joel", "mbid-bj", "")
	require.NoError(t, err)

	search := &fakeSearcher{}
	r := NewResolver(s, search, nil)
	res, err := r.Resolve(context.Background(), "Billy Joel", "")
	require.NoError(t, err)
	assert.Equal(t, Resolution{MBID: "mbid-bj", Name: "Billy Joel", Source: SourceOverride}, res)
	assert.Zero(t, search.calls())

	a, err := s.GetArtistByName("Billy Joel")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "mbid-bj", a.MBID)
	got, err := s.GetSong(song)
	require.NoError(t, err)
	assert.Equal(t, "mbid-bj", got.ArtistMBID)
}

func TestResolveOverrideKeepsStoredArtist(t *testing.T) {
	s := openStore(t)
	_, err := s.AddArtist("mbid-stored", "Genesis", "")
	require.NoError(t, err)
	_, err = s.SetMBIDOverride("Genesis", "mbid-override", "")
	require.NoError(t, err)

	r := NewResolver(s, &fakeSearcher{}, nil)
	res, err := r.Resolve(context.Background(), "Genesis", "")
	require.NoError(t, err)
	assert.Equal(t, Resolution{MBID: "mbid-stored", Name: "Genesis", Source: SourceCache}, res)
}

func TestRetryPending(t *testing.T) {
	s := openStore(t)
	for _, name := range []string{"Drake feat. Rihanna", "Dan Shay Justin Bieber", "Nobody Knows", "Coldplay"} {
		_, err := s.AddArtist(normalize.PendingMBID(name), name, "")
		require.NoError(t, err)
	}
	addSong(t, s, normalize.PendingMBID("Dan Shay Justin Bieber"), "10,000 Hours")

	search := &fakeSearcher{catalog: map[string][]Artist{
		"Drake":         artist("mbid-drake", "Drake"),
		"Dan Shay":      artist("mbid-ds", "Dan + Shay"),
		"Justin Bieber": artist("mbid-jb", "Justin Bieber"),
		"Coldplay":      artist("mbid-cp", "Coldplay"),
	}}
	// "Dan Shay" vs "Dan + Shay" is a fuzzy match above the threshold.
	require.GreaterOrEqual(t, Similarity("Dan Shay", "Dan + Shay"), AcceptThreshold)

	r := NewResolver(s, search, nil)
	var progress []int
	report, err := r.RetryPending(context.Background(), 0, func(done, total int) {
		progress = append(progress, done)
		assert.Equal(t, 4, total)
	})
	require.NoError(t, err)
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 3, report.Resolved)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []int{1, 2, 3, 4}, progress)

	byName := map[string]PendingResult{}
	for _, res := range report.Results {
		byName[res.Name] = res
	}
	assert.Equal(t, "mbid-drake", byName["Drake feat. Rihanna"].NewMBID)
	assert.Equal(t, "mbid-ds", byName["Dan Shay Justin Bieber"].NewMBID)
	assert.False(t, byName["Nobody Knows"].Resolved)

	pending, err := s.ListPendingArtists(0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Nobody Knows", pending[0].Name)

	limited, err := r.RetryPending(context.Background(), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, limited.Total)
}

func TestRetryPendingHonorsLimit(t *testing.T) {
	s := openStore(t)
	for _, name := range []string{"Alpha", "Bravo", "Charlie"} {
		_, err := s.AddArtist(normalize.PendingMBID(name), name, "")
		require.NoError(t, err)
	}
	r := NewResolver(s, &fakeSearcher{}, nil)

	report, err := r.RetryPending(context.Background(), 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Len(t, report.Results, 2)
	assert.Equal(t, 2, report.Failed)
}

func addSong(t *testing.T, s *store.Store, mbid, title string) int64 {
	t.Helper()
	_, id, err := s.AddSongIfNew(mbid, title)
	require.NoError(t, err)
	return id
}
