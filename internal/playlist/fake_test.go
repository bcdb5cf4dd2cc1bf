package playlist

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/franz/radio-monitor/internal/plex"
	"github.com/franz/radio-monitor/internal/util"
)

type fakePlaylist struct {
	key   string
	items []plex.Track
}

// fakeServer is an in-memory music section with playlists
type fakeServer struct {
	artists   []plex.Artist
	tracks    []plex.Track
	artistOf  map[string]string // track key -> artist key
	playlists map[string]*fakePlaylist
	searchErr error
	nextID    int64
	searches  int
}

func newFakeServer() *fakeServer {
	return &fakeServer{artistOf: map[string]string{}, playlists: map[string]*fakePlaylist{}}
}

// addTrack adds a track and its artist, creating the artist on first use.
func (f *fakeServer) addTrack(key, title, artist string) {
	artistKey := ""
	for _, a := range f.artists {
		if a.Title == artist {
			artistKey = a.RatingKey
		}
	}
	if artistKey == "" {
		artistKey = fmt.Sprintf("artist-%d", len(f.artists)+1)
		f.artists = append(f.artists, plex.Artist{RatingKey: artistKey, Title: artist})
	}
	f.tracks = append(f.tracks, plex.Track{RatingKey: key, Title: title, Artist: artist})
	f.artistOf[key] = artistKey
}

func (f *fakeServer) seedPlaylist(name string, keys ...string) {
	p := &fakePlaylist{key: "pl-" + name}
	f.playlists[name] = p
	f.appendItems(p, keys)
}

func (f *fakeServer) itemKeys(name string) []string {
	p, ok := f.playlists[name]
	if !ok {
		return nil
	}
	var keys []string
	for _, it := range p.items {
		keys = append(keys, it.RatingKey)
	}
	return keys
}

func (f *fakeServer) appendItems(p *fakePlaylist, keys []string) {
	for _, k := range keys {
		f.nextID++
		p.items = append(p.items, plex.Track{RatingKey: k, PlaylistItemID: f.nextID})
	}
}

func (f *fakeServer) byKey(key string) *fakePlaylist {
	for _, p := range f.playlists {
		if p.key == key {
			return p
		}
	}
	return nil
}

func (f *fakeServer) Section(ctx context.Context, name string) (*plex.Section, error) {
	if !strings.EqualFold(name, "Music") {
		return nil, fmt.Errorf("music library %q: %w", name, util.ErrNotFound)
	}
	return &plex.Section{Key: "4", Title: "Music", Type: "artist"}, nil
}

func (f *fakeServer) SearchArtists(ctx context.Context, sectionKey, query string) ([]plex.Artist, error) {
	f.searches++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var out []plex.Artist
	for _, a := range f.artists {
		if strings.Contains(strings.ToLower(a.Title), strings.ToLower(query)) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeServer) ArtistTracks(ctx context.Context, artistKey string) ([]plex.Track, error) {
	var out []plex.Track
	for _, t := range f.tracks {
		if f.artistOf[t.RatingKey] == artistKey {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeServer) SearchTracks(ctx context.Context, sectionKey, title string, limit int) ([]plex.Track, error) {
	f.searches++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var out []plex.Track
	for _, t := range f.tracks {
		if strings.Contains(strings.ToLower(t.Title), strings.ToLower(title)) {
			out = append(out, t)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeServer) Playlist(ctx context.Context, name string) (*plex.Playlist, error) {
	p, ok := f.playlists[name]
	if !ok {
		return nil, nil
	}
	return &plex.Playlist{RatingKey: p.key, Title: name, LeafCount: len(p.items)}, nil
}

func (f *fakeServer) PlaylistItems(ctx context.Context, playlistKey string) ([]plex.Track, error) {
	p := f.byKey(playlistKey)
	if p == nil {
		return nil, &util.StatusError{Service: "Plex", StatusCode: 404}
	}
	return slices.Clone(p.items), nil
}

func (f *fakeServer) CreatePlaylist(ctx context.Context, name string, keys []string) (*plex.Playlist, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("cannot create playlist %q without items", name)
	}
	f.seedPlaylist(name, keys...)
	return f.Playlist(ctx, name)
}

func (f *fakeServer) AddItems(ctx context.Context, playlistKey string, keys []string) error {
	p := f.byKey(playlistKey)
	if p == nil {
		return &util.StatusError{Service: "Plex", StatusCode: 404}
	}
	f.appendItems(p, keys)
	return nil
}

func (f *fakeServer) RemoveItem(ctx context.Context, playlistKey string, itemID int64) error {
	p := f.byKey(playlistKey)
	if p == nil {
		return &util.StatusError{Service: "Plex", StatusCode: 404}
	}
	p.items = slices.DeleteFunc(p.items, func(t plex.Track) bool { return t.PlaylistItemID == itemID })
	return nil
}
