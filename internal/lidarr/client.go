// Package lidarr onboards artists into a Lidarr library.
package lidarr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/franz/radio-monitor/internal/util"
)

const (
	// DefaultURL is where a local Lidarr listens.
	DefaultURL = "http://localhost:8686"

	// DefaultTimeout bounds a single API call.
	DefaultTimeout = 30 * time.Second

	defaultRootFolder = "/data/music/"
	service           = "Lidarr"
)

// Options configures a Client. MonitorNewArtists and SearchForMissingAlbums
// are applied to every added artist.
type Options struct {
	URL                    string
	APIKey                 string
	QualityProfileID       int
	MetadataProfileID      int
	RootFolderPath         string
	MonitorNewArtists      bool
	SearchForMissingAlbums bool
	Timeout                time.Duration
	// Backoff replaces the retry schedule for transient errors, mostly for tests.
	Backoff func(attempt int) time.Duration
}

// Client talks to the Lidarr v1 API
type Client struct {
	httpClient *http.Client
	baseURL    string
	opts       Options
	retry      *util.RetryConfig
}

// NewClient validates opts and returns a client. An empty API key is a
// configuration error.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("%w: lidarr.api_key is empty", util.ErrInvalidConfig)
	}
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if _, err := url.Parse(opts.URL); err != nil {
		return nil, fmt.Errorf("%w: lidarr.url: %v", util.ErrInvalidConfig, err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.QualityProfileID <= 0 {
		opts.QualityProfileID = 1
	}
	if opts.MetadataProfileID <= 0 {
		opts.MetadataProfileID = 1
	}
	if opts.RootFolderPath == "" {
		opts.RootFolderPath = defaultRootFolder
	}

	retry := util.DefaultRetryConfig()
	retry.Backoff = opts.Backoff

	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		baseURL:    strings.TrimRight(opts.URL, "/"),
		opts:       opts,
		retry:      retry,
	}, nil
}

// Status is the subset of /system/status we report
type Status struct {
	AppName string `json:"appName"`
	Version string `json:"version"`
}

// RootFolder is a library location artists can be added under
type RootFolder struct {
	ID         int    `json:"id"`
	Path       string `json:"path"`
	Accessible bool   `json:"accessible"`
	FreeSpace  int64  `json:"freeSpace"`
}

// Profile is a quality or metadata profile
type Profile struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Outcome describes what ImportArtist did
type Outcome string

const (
	Imported      Outcome = "imported"
	AlreadyExists Outcome = "already_exists"
)

// TestConnection checks the URL and API key.
func (c *Client) TestConnection(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.getJSON(ctx, "/api/v1/system/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// RootFolders lists configured root folders.
func (c *Client) RootFolders(ctx context.Context) ([]RootFolder, error) {
	var out []RootFolder
	if err := c.getJSON(ctx, "/api/v1/rootfolder", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// QualityProfiles lists quality profiles.
func (c *Client) QualityProfiles(ctx context.Context) ([]Profile, error) {
	var out []Profile
	if err := c.getJSON(ctx, "/api/v1/qualityprofile", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MetadataProfiles lists metadata profiles.
func (c *Client) MetadataProfiles(ctx context.Context) ([]Profile, error) {
	var out []Profile
	if err := c.getJSON(ctx, "/api/v1/metadataprofile", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ImportArtist adds the artist with mbid to Lidarr. The lookup result is
// posted back with our profile settings; an artist Lidarr already tracks
// (lookup carries an id, or the add returns 409) is a success.
func (c *Client) ImportArtist(ctx context.Context, mbid, name string) (Outcome, error) {
	if mbid == "" {
		return "", fmt.Errorf("MBID cannot be empty")
	}

	var found []map[string]any
	if err := c.getJSON(ctx, "/api/v1/artist/lookup?term="+url.QueryEscape("lidarr:"+mbid), &found); err != nil {
		return "", fmt.Errorf("lookup of %s failed: %w", name, err)
	}
	if len(found) == 0 {
		return "", fmt.Errorf("MBID %s for %s: %w", mbid, name, util.ErrNotFound)
	}

	artist := found[0]
	if id, ok := artist["id"]; ok && id != nil {
		util.DebugLog("Lidarr: %s already exists (ID: %v)", name, id)
		return AlreadyExists, nil
	}

	artist["qualityProfileId"] = c.opts.QualityProfileID
	artist["metadataProfileId"] = c.opts.MetadataProfileID
	artist["monitored"] = c.opts.MonitorNewArtists
	artist["rootFolderPath"] = c.opts.RootFolderPath
	artist["addOptions"] = map[string]any{
		"monitor":                "all",
		"searchForMissingAlbums": c.opts.SearchForMissingAlbums,
	}

	body, err := json.Marshal(artist)
	if err != nil {
		return "", fmt.Errorf("failed to encode artist: %w", err)
	}

	status, respBody, err := c.do(ctx, http.MethodPost, "/api/v1/artist", body)
	if err != nil {
		return "", err
	}
	switch {
	case status == http.StatusConflict:
		util.DebugLog("Lidarr: %s already exists", name)
		return AlreadyExists, nil
	case status >= 200 && status < 300:
		util.InfoLog("Imported %s to Lidarr", name)
		return Imported, nil
	default:
		return "", &util.StatusError{Service: service, StatusCode: status, Body: errorMessage(respBody)}
	}
}

// errorMessage pulls Lidarr's validation message out of an error body, which
// is either a list of {errorMessage} or a single {message}.
func errorMessage(body []byte) string {
	var list []struct {
		ErrorMessage string `json:"errorMessage"`
	}
	if json.Unmarshal(body, &list) == nil && len(list) > 0 && list[0].ErrorMessage != "" {
		return list[0].ErrorMessage
	}
	var single struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &single) == nil && single.Message != "" {
		return single.Message
	}
	return strings.TrimSpace(string(body))
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return util.Retry(ctx, c.retry, func(ctx context.Context) error {
		status, body, err := c.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return &util.StatusError{Service: service, StatusCode: status, Body: errorMessage(body)}
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}, "Lidarr "+path)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.opts.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return resp.StatusCode, respBody, &util.RateLimitError{Service: service, RetryAfter: util.ParseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	return resp.StatusCode, respBody, nil
}
