package normalize

import (
	"regexp"
	"strings"
)

// collabMarker matches collaboration separators as whole words only.
var collabMarker = regexp.MustCompile(`(?i)(?:^|\s)(?:feat\.?|ft\.?|featuring|with|x|and|&|\+)\s`)

// splitStrategies are tried in order; the first one that matches wins.
var splitStrategies = []struct {
	name string
	re   *regexp.Regexp
}{
	{"feat", regexp.MustCompile(`(?i)\s+(?:feat\.?|ft\.|featuring)\s+`)},
	{"&", regexp.MustCompile(`\s+&\s+`)},
	{"+", regexp.MustCompile(`\s+\+\s+`)},
	{"x", regexp.MustCompile(`(?i)\s+x\s+`)},
	{"and", regexp.MustCompile(`(?i)\s+and\s+`)},
}

var trailingFeat = regexp.MustCompile(`(?i)\s+(?:feat|ft\.?|featuring)\b.*$`)

// HasCollaborationMarker reports whether name contains a collaboration separator.
func HasCollaborationMarker(name string) bool {
	return collabMarker.MatchString(name)
}

// DetectCollaboration returns the individual artists of a collaboration, or a
// single-element slice holding the normalized name when there is none.
func DetectCollaboration(name string) []string {
	name = Artist(name)
	if name == "" {
		return nil
	}
	if !HasCollaborationMarker(name) {
		return []string{name}
	}
	return SplitCollaboration(name)
}

// SplitCollaboration splits a collaboration string on the first separator
// kind it contains. Parts shorter than two characters are dropped.
func SplitCollaboration(name string) []string {
	normalized := Artist(name)
	if normalized == "" {
		return nil
	}

	for _, strategy := range splitStrategies {
		if !strategy.re.MatchString(normalized) {
			continue
		}

		var artists []string
		for _, part := range strategy.re.Split(normalized, -1) {
			part = strings.TrimSpace(part)
			if len([]rune(part)) < 2 {
				continue
			}
			part = strings.TrimSpace(trailingFeat.ReplaceAllString(part, ""))
			if len([]rune(part)) < 2 {
				continue
			}
			artists = append(artists, Artist(part))
		}
		if len(artists) > 0 {
			return artists
		}
	}

	return []string{normalized}
}

// GroupingCandidates returns word groupings of a separator-less
// collaboration ("Dan Shay Justin Bieber") in the order they should be tried.
// Each candidate lists the artist names it implies; the first is primary.
func GroupingCandidates(name string) [][]string {
	words := strings.Fields(name)
	n := len(words)
	split := func(first int) []string {
		return []string{strings.Join(words[:first], " "), strings.Join(words[first:], " ")}
	}

	switch {
	case n < 2:
		return nil
	case n == 2:
		return [][]string{{words[0], words[1]}}
	case n == 3:
		return [][]string{split(2), split(1), {words[0], words[1], words[2]}}
	case n == 4:
		return [][]string{split(3), split(2), split(1)}
	}

	firsts := []int{3, n - 2}
	if n == 5 {
		firsts = []int{3, 2, 4, 1}
	}
	out := make([][]string, 0, len(firsts))
	for _, first := range firsts {
		out = append(out, split(first))
	}
	return out
}
