// Package notify delivers event notifications to the sinks configured in the
// store: chat webhooks, push services, email and MQTT.
package notify

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// AppName is the sender name shown by sinks that support one.
const AppName = "Radio Monitor"

// Severity of an event
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeveritySuccess  Severity = "success"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Trigger names the condition a sink subscribes to.
type Trigger string

const (
	OnScrapeComplete  Trigger = "on_scrape_complete"
	OnScrapeError     Trigger = "on_scrape_error"
	OnImportComplete  Trigger = "on_import_complete"
	OnImportError     Trigger = "on_import_error"
	OnPlaylistUpdate  Trigger = "on_playlist_update"
	OnPlaylistError   Trigger = "on_playlist_error"
	OnHighFailureRate Trigger = "on_high_failure_rate"
	OnStationHealth   Trigger = "on_station_health"
	OnSystemError     Trigger = "on_system_error"

	// OnTest is used by Dispatcher.Test and is never subscribed to.
	OnTest Trigger = "test"
)

// Triggers lists every subscribable trigger.
var Triggers = []Trigger{
	OnScrapeComplete, OnScrapeError,
	OnImportComplete, OnImportError,
	OnPlaylistUpdate, OnPlaylistError,
	OnHighFailureRate, OnStationHealth, OnSystemError,
}

// ValidTrigger reports whether name is a subscribable trigger.
func ValidTrigger(name string) bool {
	return slices.Contains(Triggers, Trigger(name))
}

// Event is one notification offered to the dispatcher.
type Event struct {
	Trigger  Trigger
	Title    string
	Message  string
	Severity Severity
	Metadata map[string]any
}

var severityColors = map[Severity]int{
	SeverityInfo:     0x3498db,
	SeveritySuccess:  0x2ecc71,
	SeverityWarning:  0xf39c12,
	SeverityError:    0xe74c3c,
	SeverityCritical: 0x8e44ad,
}

// Color returns the severity's RGB color.
func (s Severity) Color() int {
	if c, ok := severityColors[s]; ok {
		return c
	}
	return severityColors[SeverityInfo]
}

// HexColor returns the color as "#rrggbb".
func (s Severity) HexColor() string {
	return fmt.Sprintf("#%06x", s.Color())
}

// field is one metadata entry rendered for display.
type field struct {
	Name  string
	Value string
}

// fields renders metadata in key order, skipping nil values. Values longer
// than max runes are truncated when max > 0.
func fields(md map[string]any, max int) []field {
	caser := cases.Title(language.Und)
	var out []field
	for _, k := range slices.Sorted(maps.Keys(md)) {
		v := md[k]
		if v == nil {
			continue
		}
		out = append(out, field{
			Name:  caser.String(strings.ReplaceAll(k, "_", " ")),
			Value: truncate(fmt.Sprint(v), max),
		})
	}
	return out
}

// details renders metadata as "key: value" lines.
func details(md map[string]any, sep string) string {
	var lines []string
	for _, k := range slices.Sorted(maps.Keys(md)) {
		if md[k] != nil {
			lines = append(lines, fmt.Sprintf("%s: %v", k, md[k]))
		}
	}
	return strings.Join(lines, sep)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if max <= 3 || len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
