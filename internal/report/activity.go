package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/franz/radio-monitor/internal/store"
)

// Activity event types
const (
	EventScrape        = "scrape"
	EventStationHealth = "station_health"
	EventImport        = "lidarr_import"
	EventPlaylist      = "playlist_update"
	EventMBIDRetry     = "mbid_retry"
	EventBackup        = "backup"
	EventCleanup       = "cleanup"
	EventSystem        = "system"
)

// Activity sources
const (
	SourceScheduler = "scheduler"
	SourceCLI       = "cli"
	SourceSystem    = "system"
)

// levelPriority orders severities for the mirror's level filter
var levelPriority = map[string]int{
	"debug":                0,
	store.SeverityInfo:     1,
	store.SeveritySuccess:  1,
	store.SeverityWarning:  2,
	store.SeverityError:    3,
	store.SeverityCritical: 4,
}

// ActivityStore receives every entry.
type ActivityStore interface {
	LogActivity(e store.ActivityEntry) (int64, error)
}

// jsonEntry is one line of the JSONL mirror
type jsonEntry struct {
	ID          int64          `json:"id,omitempty"`
	Timestamp   time.Time      `json:"ts"`
	Type        string         `json:"event"`
	Severity    string         `json:"level"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Source      string         `json:"source,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ActivityLogger appends entries to the activity log and mirrors them to an
// optional JSONL file. The level filter applies to the mirror only; the
// store keeps every entry.
type ActivityLogger struct {
	store    ActivityStore
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel string
	now      func() time.Time
}

// NewActivityLogger creates a logger over st. When jsonDir is non-empty a
// file named activity-<timestamp>.jsonl is created there for the mirror.
func NewActivityLogger(st ActivityStore, jsonDir, minLevel string) (*ActivityLogger, error) {
	if _, ok := levelPriority[minLevel]; !ok {
		minLevel = store.SeverityInfo
	}
	l := &ActivityLogger{store: st, minLevel: minLevel, now: time.Now}
	if jsonDir == "" {
		return l, nil
	}

	if err := os.MkdirAll(jsonDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(jsonDir, fmt.Sprintf("activity-%s.jsonl", l.now().Format("20060102-150405")))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create activity log: %w", err)
	}
	l.file = file
	l.encoder = json.NewEncoder(file)
	l.path = path
	return l, nil
}

// Log writes e to the store and, at or above the minimum level, to the
// mirror. A nil logger discards entries.
func (l *ActivityLogger) Log(e store.ActivityEntry) error {
	if l == nil {
		return nil
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	if e.Severity == "" {
		e.Severity = store.SeverityInfo
	}

	var id int64
	if l.store != nil {
		var err error
		if id, err = l.store.LogActivity(e); err != nil {
			return err
		}
	}

	if l.file == nil || levelPriority[e.Severity] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.encoder.Encode(jsonEntry{
		ID:          id,
		Timestamp:   e.Timestamp,
		Type:        e.Type,
		Severity:    e.Severity,
		Title:       e.Title,
		Description: e.Description,
		Source:      e.Source,
		Metadata:    e.Metadata,
	}); err != nil {
		return fmt.Errorf("failed to encode activity: %w", err)
	}
	return nil
}

// Info logs an informational entry.
func (l *ActivityLogger) Info(eventType, source, title, description string, metadata map[string]any) error {
	return l.Log(store.ActivityEntry{
		Type:        eventType,
		Severity:    store.SeverityInfo,
		Title:       title,
		Description: description,
		Metadata:    metadata,
		Source:      source,
	})
}

// Success logs a completed operation.
func (l *ActivityLogger) Success(eventType, source, title, description string, metadata map[string]any) error {
	return l.Log(store.ActivityEntry{
		Type:        eventType,
		Severity:    store.SeveritySuccess,
		Title:       title,
		Description: description,
		Metadata:    metadata,
		Source:      source,
	})
}

// Warn logs a degraded outcome.
func (l *ActivityLogger) Warn(eventType, source, title, description string, metadata map[string]any) error {
	return l.Log(store.ActivityEntry{
		Type:        eventType,
		Severity:    store.SeverityWarning,
		Title:       title,
		Description: description,
		Metadata:    metadata,
		Source:      source,
	})
}

// Error logs a failed operation. err's text becomes the description.
func (l *ActivityLogger) Error(eventType, source, title string, err error, metadata map[string]any) error {
	desc := ""
	if err != nil {
		desc = err.Error()
	}
	return l.Log(store.ActivityEntry{
		Type:        eventType,
		Severity:    store.SeverityError,
		Title:       title,
		Description: desc,
		Metadata:    metadata,
		Source:      source,
	})
}

// Close closes the mirror file
func (l *ActivityLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Path returns the mirror file path, or "" without a mirror
func (l *ActivityLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}
