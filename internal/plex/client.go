// Package plex is a small client for the Plex Media Server HTTP API,
// covering music library search and playlist editing.
package plex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/franz/radio-monitor/internal/util"
)

const (
	// DefaultURL is where a local Plex server listens.
	DefaultURL = "http://localhost:32400"

	// DefaultTimeout bounds a single API call.
	DefaultTimeout = 30 * time.Second

	// MaxSearchResults caps a title search.
	MaxSearchResults = 100

	service = "Plex"

	typeArtist = 8
	typeTrack  = 10
)

// Options configures a Client
type Options struct {
	URL     string
	Token   string
	Timeout time.Duration
	// Backoff replaces the retry schedule for transient errors, mostly for tests.
	Backoff func(attempt int) time.Duration
}

// Client talks to one Plex server
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	retry      *util.RetryConfig

	mu        sync.Mutex
	machineID string
}

// NewClient returns a client for opts. A missing token is a configuration
// error.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, fmt.Errorf("%w: plex.token is empty", util.ErrInvalidConfig)
	}
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if _, err := url.Parse(opts.URL); err != nil {
		return nil, fmt.Errorf("%w: plex.url: %v", util.ErrInvalidConfig, err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	retry := util.DefaultRetryConfig()
	retry.Backoff = opts.Backoff

	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		baseURL:    strings.TrimRight(opts.URL, "/"),
		token:      opts.Token,
		retry:      retry,
	}, nil
}

// Section is a library section
type Section struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

// Artist is a music artist in a library section
type Artist struct {
	RatingKey string
	Title     string
}

// Track is a music track. PlaylistItemID is only set on playlist items.
type Track struct {
	RatingKey      string
	Title          string
	Artist         string
	Album          string
	PlaylistItemID int64
}

// Playlist is an audio playlist
type Playlist struct {
	RatingKey string
	Title     string
	LeafCount int
	Smart     bool
}

// metadata is the union of the Metadata fields we read
type metadata struct {
	RatingKey        string `json:"ratingKey"`
	Title            string `json:"title"`
	Type             string `json:"type"`
	GrandparentTitle string `json:"grandparentTitle"`
	OriginalTitle    string `json:"originalTitle"`
	ParentTitle      string `json:"parentTitle"`
	LeafCount        int    `json:"leafCount"`
	Smart            bool   `json:"smart"`
	PlaylistType     string `json:"playlistType"`
	PlaylistItemID   int64  `json:"playlistItemID"`
}

type mediaContainer struct {
	MediaContainer struct {
		Size              int        `json:"size"`
		MachineIdentifier string     `json:"machineIdentifier"`
		FriendlyName      string     `json:"friendlyName"`
		Version           string     `json:"version"`
		Directory         []Section  `json:"Directory"`
		Metadata          []metadata `json:"Metadata"`
	} `json:"MediaContainer"`
}

func (m metadata) track() Track {
	artist := m.GrandparentTitle
	if artist == "" {
		artist = m.OriginalTitle
	}
	return Track{
		RatingKey:      m.RatingKey,
		Title:          m.Title,
		Artist:         artist,
		Album:          m.ParentTitle,
		PlaylistItemID: m.PlaylistItemID,
	}
}

// Identity is what /identity reports about the server
type Identity struct {
	MachineIdentifier string
	Version           string
}

// TestConnection checks the URL and token and caches the machine identifier.
func (c *Client) TestConnection(ctx context.Context) (*Identity, error) {
	var mc mediaContainer
	if err := c.getJSON(ctx, "/identity", nil, &mc); err != nil {
		return nil, err
	}
	if mc.MediaContainer.MachineIdentifier == "" {
		return nil, fmt.Errorf("plex identity has no machine identifier")
	}
	c.mu.Lock()
	c.machineID = mc.MediaContainer.MachineIdentifier
	c.mu.Unlock()
	return &Identity{MachineIdentifier: mc.MediaContainer.MachineIdentifier, Version: mc.MediaContainer.Version}, nil
}

// MachineID returns the server's machine identifier, asking the server once.
func (c *Client) MachineID(ctx context.Context) (string, error) {
	c.mu.Lock()
	id := c.machineID
	c.mu.Unlock()
	if id != "" {
		return id, nil
	}
	ident, err := c.TestConnection(ctx)
	if err != nil {
		return "", err
	}
	return ident.MachineIdentifier, nil
}

// Sections lists library sections.
func (c *Client) Sections(ctx context.Context) ([]Section, error) {
	var mc mediaContainer
	if err := c.getJSON(ctx, "/library/sections", nil, &mc); err != nil {
		return nil, err
	}
	return mc.MediaContainer.Directory, nil
}

// Section finds a library section by title, case-insensitively.
func (c *Client) Section(ctx context.Context, name string) (*Section, error) {
	sections, err := c.Sections(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range sections {
		if strings.EqualFold(s.Title, name) {
			return &s, nil
		}
	}
	return nil, fmt.Errorf("music library %q: %w", name, util.ErrNotFound)
}

// SearchArtists searches a section for artists.
func (c *Client) SearchArtists(ctx context.Context, sectionKey, query string) ([]Artist, error) {
	q := url.Values{}
	q.Set("type", strconv.Itoa(typeArtist))
	q.Set("query", query)

	var mc mediaContainer
	if err := c.getJSON(ctx, "/library/sections/"+url.PathEscape(sectionKey)+"/search", q, &mc); err != nil {
		return nil, err
	}
	out := make([]Artist, 0, len(mc.MediaContainer.Metadata))
	for _, m := range mc.MediaContainer.Metadata {
		out = append(out, Artist{RatingKey: m.RatingKey, Title: m.Title})
	}
	return out, nil
}

// ArtistTracks returns every track of an artist across all albums.
func (c *Client) ArtistTracks(ctx context.Context, artistKey string) ([]Track, error) {
	var mc mediaContainer
	if err := c.getJSON(ctx, "/library/metadata/"+url.PathEscape(artistKey)+"/allLeaves", nil, &mc); err != nil {
		return nil, err
	}
	return tracks(mc), nil
}

// SearchTracks searches a section for tracks by title. limit is capped at
// MaxSearchResults.
func (c *Client) SearchTracks(ctx context.Context, sectionKey, title string, limit int) ([]Track, error) {
	if limit <= 0 || limit > MaxSearchResults {
		limit = MaxSearchResults
	}
	q := url.Values{}
	q.Set("type", strconv.Itoa(typeTrack))
	q.Set("query", title)
	q.Set("X-Plex-Container-Start", "0")
	q.Set("X-Plex-Container-Size", strconv.Itoa(limit))

	var mc mediaContainer
	if err := c.getJSON(ctx, "/library/sections/"+url.PathEscape(sectionKey)+"/search", q, &mc); err != nil {
		return nil, err
	}
	out := tracks(mc)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func tracks(mc mediaContainer) []Track {
	out := make([]Track, 0, len(mc.MediaContainer.Metadata))
	for _, m := range mc.MediaContainer.Metadata {
		out = append(out, m.track())
	}
	return out
}

// Playlists lists audio playlists.
func (c *Client) Playlists(ctx context.Context) ([]Playlist, error) {
	q := url.Values{}
	q.Set("playlistType", "audio")

	var mc mediaContainer
	if err := c.getJSON(ctx, "/playlists", q, &mc); err != nil {
		return nil, err
	}
	out := make([]Playlist, 0, len(mc.MediaContainer.Metadata))
	for _, m := range mc.MediaContainer.Metadata {
		out = append(out, Playlist{RatingKey: m.RatingKey, Title: m.Title, LeafCount: m.LeafCount, Smart: m.Smart})
	}
	return out, nil
}

// Playlist finds an audio playlist by exact title. A missing playlist is
// nil with no error.
func (c *Client) Playlist(ctx context.Context, name string) (*Playlist, error) {
	playlists, err := c.Playlists(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range playlists {
		if p.Title == name {
			return &p, nil
		}
	}
	return nil, nil
}

// PlaylistItems returns a playlist's tracks with their playlist item ids.
func (c *Client) PlaylistItems(ctx context.Context, playlistKey string) ([]Track, error) {
	var mc mediaContainer
	if err := c.getJSON(ctx, "/playlists/"+url.PathEscape(playlistKey)+"/items", nil, &mc); err != nil {
		return nil, err
	}
	return tracks(mc), nil
}

// CreatePlaylist creates an audio playlist holding keys. Plex rejects an
// empty playlist, so keys must not be empty.
func (c *Client) CreatePlaylist(ctx context.Context, name string, keys []string) (*Playlist, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("cannot create playlist %q without items", name)
	}
	uri, err := c.itemsURI(ctx, keys)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("type", "audio")
	q.Set("title", name)
	q.Set("smart", "0")
	q.Set("uri", uri)

	var mc mediaContainer
	if err := c.send(ctx, http.MethodPost, "/playlists", q, &mc); err != nil {
		return nil, fmt.Errorf("failed to create playlist %q: %w", name, err)
	}
	if len(mc.MediaContainer.Metadata) == 0 {
		return nil, fmt.Errorf("plex returned no playlist for %q", name)
	}
	m := mc.MediaContainer.Metadata[0]
	return &Playlist{RatingKey: m.RatingKey, Title: m.Title, LeafCount: m.LeafCount}, nil
}

// AddItems appends keys to a playlist.
func (c *Client) AddItems(ctx context.Context, playlistKey string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	uri, err := c.itemsURI(ctx, keys)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("uri", uri)
	if err := c.send(ctx, http.MethodPut, "/playlists/"+url.PathEscape(playlistKey)+"/items", q, nil); err != nil {
		return fmt.Errorf("failed to add %d items to playlist %s: %w", len(keys), playlistKey, err)
	}
	return nil
}

// RemoveItem removes one entry by its playlist item id.
func (c *Client) RemoveItem(ctx context.Context, playlistKey string, itemID int64) error {
	path := fmt.Sprintf("/playlists/%s/items/%d", url.PathEscape(playlistKey), itemID)
	if err := c.send(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("failed to remove item %d from playlist %s: %w", itemID, playlistKey, err)
	}
	return nil
}

// DeletePlaylist deletes a playlist.
func (c *Client) DeletePlaylist(ctx context.Context, playlistKey string) error {
	if err := c.send(ctx, http.MethodDelete, "/playlists/"+url.PathEscape(playlistKey), nil, nil); err != nil {
		return fmt.Errorf("failed to delete playlist %s: %w", playlistKey, err)
	}
	return nil
}

// itemsURI builds the server:// URI Plex expects for playlist items
func (c *Client) itemsURI(ctx context.Context, keys []string) (string, error) {
	id, err := c.MachineID(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("server://%s/com.plexapp.plugins.library/library/metadata/%s", id, strings.Join(keys, ",")), nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return util.Retry(ctx, c.retry, func(ctx context.Context) error {
		return c.send(ctx, http.MethodGet, path, query, out)
	}, "Plex "+path)
}

// send performs one request. A non-2xx status becomes a *util.StatusError;
// out may be nil when the body is not needed.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Product", "radio-monitor")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &util.RateLimitError{Service: service, RetryAfter: util.ParseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &util.StatusError{Service: service, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
