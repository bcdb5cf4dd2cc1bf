package scrape

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franz/radio-monitor/internal/util"
)

type fakeScraper struct {
	triples []Triple
	calls   int
}

func (f *fakeScraper) Scrape(ctx context.Context, st Station) ([]Triple, error) {
	f.calls++
	return f.triples, nil
}

func TestRegistryLookup(t *testing.T) {
	fake := &fakeScraper{triples: []Triple{{Artist: "Adele", Title: "Hello"}}}
	r := NewRegistry(map[string]Scraper{FlavorIHeart: fake})

	got, err := r.Scrape(context.Background(), Station{ID: "us99"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, fake.calls, "empty flavor means iheart")

	_, err = r.Scrape(context.Background(), Station{ID: "kexp", Flavor: "playlist_api"})
	assert.True(t, errors.Is(err, util.ErrUnsupported))
	assert.Contains(t, err.Error(), "playlist_api")
	assert.Equal(t, 1, fake.calls)

	assert.Equal(t, []string{FlavorIHeart}, DefaultRegistry(nil).Flavors())
}

func TestCancelFlag(t *testing.T) {
	var f CancelFlag
	assert.False(t, f.Cancelled())
	f.Cancel()
	assert.True(t, f.Cancelled())
	f.Reset()
	assert.False(t, f.Cancelled())

	var none *CancelFlag
	assert.False(t, none.Cancelled())

	t.Cleanup(Reset)
	Cancel()
	assert.True(t, Cancelled())
	Reset()
	assert.False(t, Cancelled())
}

func TestDefaultStations(t *testing.T) {
	stations := DefaultStations()
	require.Len(t, stations, 11)

	seen := make(map[string]bool)
	for _, st := range stations {
		assert.False(t, seen[st.ID], "duplicate id %s", st.ID)
		seen[st.ID] = true
		assert.True(t, strings.HasPrefix(st.URL, "https://www.iheart.com/live/"), st.URL)
		assert.NotEmpty(t, st.Name)
	}
	for _, id := range []string{"us99", "wls", "rock955", "q101", "b96", "wlite", "wiil", "big955", "iheart70s", "iheart80s", "iheart90s"} {
		assert.True(t, seen[id], id)
	}
}
