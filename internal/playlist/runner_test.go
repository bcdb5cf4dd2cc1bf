package playlist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franz/radio-monitor/internal/notify"
	"github.com/franz/radio-monitor/internal/store"
	"github.com/franz/radio-monitor/internal/util"
)

func newRunner(f *fixture) *Runner {
	return &Runner{
		Materializer: f.mat,
		Store:        f.store,
		Clock:        func() time.Time { return f.clock.Now().Add(2 * time.Hour) },
	}
}

func addAutoPlaylist(t *testing.T, f *fixture, name string) int64 {
	t.Helper()
	id, err := f.store.AddPlaylist(store.Playlist{
		Name:            name,
		IsAuto:          true,
		IntervalMinutes: 60,
		MaxSongs:        10,
		Mode:            ModeMerge,
		Enabled:         true,
	})
	require.NoError(t, err)
	return id
}

func TestRunDue(t *testing.T) {
	f := newFixture(t)
	id := addAutoPlaylist(t, f, "Top Hits")
	r := newRunner(f)

	sum, err := r.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunSummary{Due: 1, Updated: 1}, sum)
	assert.ElementsMatch(t, []string{"b", "c", "d"}, f.server.itemKeys("Top Hits"))

	p, err := f.store.GetPlaylist(id)
	require.NoError(t, err)
	assert.Zero(t, p.ConsecutiveFailures)
	assert.True(t, p.LastUpdated.Equal(r.now()))

	// Not due again until the interval has passed.
	sum, err = r.RunDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Due)
}

func TestRunDueCountsFailures(t *testing.T) {
	f := newFixture(t)
	id := addAutoPlaylist(t, f, "Top Hits")
	f.server.searchErr = &util.StatusError{Service: "Plex", StatusCode: 500}
	r := newRunner(f)

	for want := 1; want <= 2; want++ {
		sum, err := r.RunDue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, RunSummary{Due: 1, Failed: 1}, sum)

		p, err := f.store.GetPlaylist(id)
		require.NoError(t, err)
		assert.Equal(t, want, p.ConsecutiveFailures)
	}
	assert.Equal(t, []notify.Trigger{notify.OnPlaylistError, notify.OnPlaylistError}, f.notes.triggers())
}

func TestRunNamed(t *testing.T) {
	f := newFixture(t)
	addAutoPlaylist(t, f, "Top Hits")
	r := newRunner(f)

	res, err := r.RunNamed(context.Background(), "Top Hits")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Added)

	_, err = r.RunNamed(context.Background(), "Nope")
	assert.True(t, errors.Is(err, util.ErrNotFound))
}

func TestManualSync(t *testing.T) {
	f := newFixture(t)
	r := newRunner(f)

	id, err := f.store.CreateManualPlaylist("Faves", "")
	require.NoError(t, err)

	_, err = r.ManualSync(context.Background(), id)
	assert.Error(t, err, "an empty manual playlist is not pushed")

	_, err = f.store.AddSongsToManualPlaylist(id, []int64{f.songs["Skyfall"], f.songs["Anti-Hero"]})
	require.NoError(t, err)
	f.server.seedPlaylist("Faves", "a")

	res, err := r.ManualSync(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)
	assert.ElementsMatch(t, []string{"c", "d"}, f.server.itemKeys("Faves"))

	_, err = r.ManualSync(context.Background(), 999)
	assert.True(t, errors.Is(err, util.ErrNotFound))
}
