package musicbrainz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Adele", " adele "))
	assert.InDelta(t, 0.857, Similarity("Beyonce", "Beyoncé"), 0.001)
	assert.InDelta(t, 0.75, Similarity("Pink", "P!nk"), 0.001)
	assert.Less(t, Similarity("Adele", "Muse"), WarnThreshold)
}

func TestBestMatch(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		candidates []Artist
		wantID     string
		wantOK     bool
		wantExact  bool
	}{
		{
			name:  "exact match beats a higher score",
			query: "the killers",
			candidates: []Artist{
				{ID: "tribute", Name: "The Killers Tribute Band", Score: 100},
				{ID: "killers", Name: "The Killers", Score: 95},
			},
			wantID: "killers", wantOK: true, wantExact: true,
		},
		{
			name:  "alias match",
			query: "Cat Stevens",
			candidates: []Artist{
				{ID: "yusuf", Name: "Yusuf / Cat Stevens", Aliases: []Alias{{Name: "Cat Stevens"}}},
			},
			wantID: "yusuf", wantOK: true, wantExact: true,
		},
		{
			name:  "close spelling accepted",
			query: "Beyonce",
			candidates: []Artist{
				{ID: "muse", Name: "Muse"},
				{ID: "bey", Name: "Beyoncé"},
			},
			wantID: "bey", wantOK: true,
		},
		{
			name:       "borderline rejected",
			query:      "Pink",
			candidates: []Artist{{ID: "p", Name: "P!nk"}},
			wantID:     "p", wantOK: false,
		},
		{
			name:   "no candidates",
			query:  "Nobody",
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := BestMatch(tt.query, tt.candidates)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, m.Artist.ID)
			assert.Equal(t, tt.wantExact, m.Exact)
		})
	}
}

func TestMissCache(t *testing.T) {
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.Local)
	c := NewMissCache(time.Hour)
	c.now = func() time.Time { return now }

	assert.False(t, c.Missed("Unknown Band"))
	c.Record("Unknown Band")
	assert.True(t, c.Missed("unknown band"), "keys are case-insensitive")

	now = now.Add(59 * time.Minute)
	assert.True(t, c.Missed("Unknown Band"))
	now = now.Add(time.Minute)
	assert.False(t, c.Missed("Unknown Band"))
	assert.Zero(t, c.Len(), "expired entries are dropped on read")

	c.Record("A")
	c.Record("B")
	c.Forget("A")
	assert.Equal(t, 1, c.Len())
	c.Clear()
	assert.Zero(t, c.Len())

	var none *MissCache
	none.Record("x")
	assert.False(t, none.Missed("x"))
}
