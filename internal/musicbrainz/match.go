package musicbrainz

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/franz/radio-monitor/internal/util"
)

const (
	// AcceptThreshold is the lowest similarity accepted as the same artist.
	AcceptThreshold = 0.80

	// WarnThreshold starts the band of matches worth a warning.
	WarnThreshold = 0.70
)

// Match is the candidate BestMatch picked and how close it was.
type Match struct {
	Artist     Artist
	Similarity float64
	Exact      bool
}

// Similarity is the SequenceMatcher ratio of the lowercased, trimmed inputs.
func Similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 1
	}
	m := difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, ""))
	return m.Ratio()
}

// BestMatch picks the candidate whose name (or alias) equals name ignoring
// case, or failing that the most similar name. It reports false when the best
// similarity is under AcceptThreshold; matches in [WarnThreshold,
// AcceptThreshold) are logged as warnings.
func BestMatch(name string, candidates []Artist) (Match, bool) {
	for _, c := range candidates {
		if strings.EqualFold(strings.TrimSpace(c.Name), strings.TrimSpace(name)) {
			return Match{Artist: c, Similarity: 1, Exact: true}, true
		}
	}
	for _, c := range candidates {
		for _, alias := range c.Aliases {
			if strings.EqualFold(strings.TrimSpace(alias.Name), strings.TrimSpace(name)) {
				return Match{Artist: c, Similarity: 1, Exact: true}, true
			}
		}
	}

	var best Match
	for _, c := range candidates {
		sim := Similarity(name, c.Name)
		util.DebugLog("Checking %s vs %s: %.0f%% similarity", name, c.Name, sim*100)
		if sim > best.Similarity {
			best = Match{Artist: c, Similarity: sim}
		}
	}

	switch {
	case best.Similarity >= AcceptThreshold:
		return best, true
	case best.Similarity >= WarnThreshold:
		util.WarnLog("Borderline match rejected: %s -> %s (%.1f%%), add an override if it is right",
			name, best.Artist.Name, best.Similarity*100)
	case best.Artist.ID != "":
		util.DebugLog("No good match for %s (best: %s at %.1f%%)", name, best.Artist.Name, best.Similarity*100)
	}
	return best, false
}
