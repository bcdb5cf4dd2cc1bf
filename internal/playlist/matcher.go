// Package playlist materializes play statistics into media-server
// playlists.
package playlist

import (
	"context"
	"strings"

	"github.com/franz/radio-monitor/internal/normalize"
	"github.com/franz/radio-monitor/internal/plex"
	"github.com/franz/radio-monitor/internal/util"
)

// Library is the catalog search the matcher needs. *plex.Client implements it.
type Library interface {
	SearchArtists(ctx context.Context, sectionKey, query string) ([]plex.Artist, error)
	ArtistTracks(ctx context.Context, artistKey string) ([]plex.Track, error)
	SearchTracks(ctx context.Context, sectionKey, title string, limit int) ([]plex.Track, error)
}

// fuzzyCandidates bounds the fuzzy pass over one title search.
const fuzzyCandidates = 20

// Matcher finds library tracks for songs heard on air. A Matcher caches
// artist catalogs and is meant for one materialization.
type Matcher struct {
	lib     Library
	section string
	aliases map[string]string
	tracks  map[string][]plex.Track
}

// NewMatcher returns a matcher over one library section. aliases adds
// artist name mappings on top of the built-in ones.
func NewMatcher(lib Library, sectionKey string, aliases map[string]string) *Matcher {
	return &Matcher{
		lib:     lib,
		section: sectionKey,
		aliases: aliases,
		tracks:  make(map[string][]plex.Track),
	}
}

// Find returns the library track for (title, artist), or nil when nothing
// matches. Errors from the library are returned as is.
func (m *Matcher) Find(ctx context.Context, title, artist string) (*plex.Track, error) {
	artists := ArtistVariations(artist, m.aliases)
	titles := TitleVariations(title)

	t, err := m.artistFirst(ctx, artists, titles)
	if t != nil || err != nil {
		return t, err
	}

	for _, variant := range titles {
		found, err := m.lib.SearchTracks(ctx, m.section, variant, plex.MaxSearchResults)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			continue
		}
		if t := matchTracks(found, title, artists); t != nil {
			return t, nil
		}
	}
	util.DebugLog("No Plex match for %s - %s", title, artist)
	return nil, nil
}

// artistFirst searches for the artist and scans their whole catalog, which
// finds tracks a title search ranks out of its result window.
func (m *Matcher) artistFirst(ctx context.Context, artists, titles []string) (*plex.Track, error) {
	seen := make(map[string]bool)
	for _, query := range artists {
		found, err := m.lib.SearchArtists(ctx, m.section, query)
		if err != nil {
			return nil, err
		}
		for _, a := range found {
			if seen[a.RatingKey] || !equalsAny(a.Title, artists) {
				continue
			}
			seen[a.RatingKey] = true

			catalog, err := m.catalog(ctx, a.RatingKey)
			if err != nil {
				return nil, err
			}
			for _, variant := range titles {
				for i := range catalog {
					if titleMatches(catalog[i].Title, variant) {
						return &catalog[i], nil
					}
				}
			}
		}
	}
	return nil, nil
}

func (m *Matcher) catalog(ctx context.Context, artistKey string) ([]plex.Track, error) {
	if t, ok := m.tracks[artistKey]; ok {
		return t, nil
	}
	t, err := m.lib.ArtistTracks(ctx, artistKey)
	if err != nil {
		return nil, err
	}
	m.tracks[artistKey] = t
	return t, nil
}

// titleMatches tries exact, normalized and fuzzy comparison in that order.
func titleMatches(have, want string) bool {
	if strings.EqualFold(have, want) {
		return true
	}
	if looseEqual(normalize.Title(have), normalize.Title(want)) {
		return true
	}
	return fuzzyMatch(have, want)
}

// matchTracks applies the four strategies to one title search result.
func matchTracks(tracks []plex.Track, title string, artists []string) *plex.Track {
	// exact
	for i, t := range tracks {
		if strings.EqualFold(t.Title, title) && equalsAny(t.Artist, artists) {
			return &tracks[i]
		}
	}

	// normalized, substring either way
	songNorm := normalize.Title(title)
	for _, a := range artists {
		artistNorm := normalize.Artist(a)
		for i, t := range tracks {
			if looseEqual(normalize.Artist(t.Artist), artistNorm) && looseEqual(normalize.Title(t.Title), songNorm) {
				return &tracks[i]
			}
		}
	}

	// fuzzy
	for i, t := range tracks[:min(len(tracks), fuzzyCandidates)] {
		if !fuzzyMatch(title, t.Title) {
			continue
		}
		for _, a := range artists {
			if fuzzyMatch(a, t.Artist) {
				return &tracks[i]
			}
		}
	}

	// partial
	lowerTitle := strings.ToLower(title)
	for i, t := range tracks {
		if !strings.Contains(strings.ToLower(t.Title), lowerTitle) {
			continue
		}
		for _, a := range artists {
			if strings.Contains(strings.ToLower(t.Artist), strings.ToLower(a)) {
				return &tracks[i]
			}
		}
	}
	return nil
}

func equalsAny(s string, candidates []string) bool {
	for _, c := range candidates {
		if strings.EqualFold(s, c) {
			return true
		}
	}
	return false
}

// looseEqual is case-insensitive equality or containment either way. Empty
// strings never match.
func looseEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	a, b = strings.ToLower(a), strings.ToLower(b)
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}
