package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectCollaboration(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"ampersand", "Miranda Lambert & Chris Stapleton", []string{"Miranda Lambert", "Chris Stapleton"}},
		{"feat with dot", "Calvin Harris feat. Rihanna", []string{"Calvin Harris", "Rihanna"}},
		{"featuring", "Pitbull Featuring Ne-Yo", []string{"Pitbull", "Ne-Yo"}},
		{"plus", "Dan + Shay", []string{"Dan", "Shay"}},
		{"x marker", "Marshmello x Bastille", []string{"Marshmello", "Bastille"}},
		{"single artist", "Taylor Swift", []string{"Taylor Swift"}},
		{"trailing X is a name", "Lil Nas X", []string{"Lil Nas X"}},
		{"with has no split strategy", "Kenny Chesney With Grace Potter", []string{"Kenny Chesney With Grace Potter"}},
		{"all caps normalized", "BLAKE SHELTON & GWEN STEFANI", []string{"Blake Shelton", "Gwen Stefani"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetectCollaboration(tt.input))
		})
	}
}

func TestHasCollaborationMarker(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"Miranda Lambert & Chris Stapleton", true},
		{"Calvin Harris ft. Rihanna", true},
		{"Zac Brown Band With Chris Stapleton", true},
		{"Simon And Garfunkel", true},
		{"Sandy", false},
		{"Xscape", false},
		{"Anderson East", false},
		{"Lil Nas X", false},
		{"Florence + The Machine", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, HasCollaborationMarker(tt.input), tt.input)
	}
}

func TestSplitCollaboration_DropsShortParts(t *testing.T) {
	assert.Equal(t, []string{"Kygo"}, SplitCollaboration("Kygo & X"))
}

func TestSplitCollaboration_StripsTrailingFeat(t *testing.T) {
	got := SplitCollaboration("Sam Hunt & Kane Brown ft Someone")
	assert.Equal(t, []string{"Sam Hunt", "Kane Brown"}, got)
}

func TestGroupingCandidates(t *testing.T) {
	assert.Nil(t, GroupingCandidates("Adele"))

	assert.Equal(t, [][]string{{"Dan", "Shay"}}, GroupingCandidates("Dan Shay"))

	assert.Equal(t, [][]string{
		{"Dan Shay Justin", "Bieber"},
		{"Dan Shay", "Justin Bieber"},
		{"Dan", "Shay Justin Bieber"},
	}, GroupingCandidates("Dan Shay Justin Bieber"))

	five := GroupingCandidates("Florida Georgia Line Bebe Rexha")
	assert.Len(t, five, 4)
	assert.Equal(t, []string{"Florida Georgia Line", "Bebe Rexha"}, five[0])

	six := GroupingCandidates("One Two Three Four Five Six")
	assert.Equal(t, [][]string{
		{"One Two Three", "Four Five Six"},
		{"One Two Three Four", "Five Six"},
	}, six)
}
