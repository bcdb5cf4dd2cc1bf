package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/franz/radio-monitor/internal/store"
	"github.com/franz/radio-monitor/internal/util"
)

// SummaryStore is the read side of the store a summary needs.
type SummaryStore interface {
	Stats() (*store.Stats, error)
	TopSongs(q store.SongQuery) ([]store.RankedSong, error)
	TopArtists(q store.SongQuery) ([]store.ArtistPlays, error)
	StationDistribution(days int) ([]store.StationPlays, error)
	DailyPlays(days int, stationID string) ([]store.DayPlays, error)
	ListPendingArtists(limit int) ([]store.Artist, error)
	UnresolvedPlexFailures(limit int) ([]store.PlexFailure, error)
	RecentActivity(limit int, eventType string) ([]store.ActivityEntry, error)
}

// SummaryReport is a snapshot of what the monitor has heard over a window.
type SummaryReport struct {
	GeneratedAt time.Time
	Days        int

	Stats      store.Stats
	TopSongs   []store.RankedSong
	TopArtists []store.ArtistPlays
	Stations   []store.StationPlays
	Daily      []store.DayPlays

	// PendingArtists is capped at pendingLimit; Stats.PendingArtists has the total.
	PendingArtists []store.Artist
	PlexFailures   []store.PlexFailure
	RecentErrors   []store.ActivityEntry

	DatabasePath string
}

const (
	topLimit     = 20
	pendingLimit = 20
	errorLimit   = 10
)

// GenerateSummary builds a summary of the last days days (0 means all time).
func GenerateSummary(db SummaryStore, days int) (*SummaryReport, error) {
	report := &SummaryReport{GeneratedAt: time.Now(), Days: days}

	stats, err := db.Stats()
	if err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}
	report.Stats = *stats

	q := store.SongQuery{Days: days, Limit: topLimit}
	if report.TopSongs, err = db.TopSongs(q); err != nil {
		return nil, fmt.Errorf("failed to load top songs: %w", err)
	}
	if report.TopArtists, err = db.TopArtists(q); err != nil {
		return nil, fmt.Errorf("failed to load top artists: %w", err)
	}
	if report.Stations, err = db.StationDistribution(days); err != nil {
		return nil, fmt.Errorf("failed to load station distribution: %w", err)
	}

	window := days
	if window <= 0 || window > 14 {
		window = 14
	}
	if report.Daily, err = db.DailyPlays(window, ""); err != nil {
		return nil, fmt.Errorf("failed to load daily plays: %w", err)
	}

	// Secondary sections are best effort.
	if report.PendingArtists, err = db.ListPendingArtists(pendingLimit); err != nil {
		util.WarnLog("Summary: failed to list pending artists: %v", err)
	}
	if report.PlexFailures, err = db.UnresolvedPlexFailures(topLimit); err != nil {
		util.WarnLog("Summary: failed to list Plex failures: %v", err)
	}
	if recent, err := db.RecentActivity(200, ""); err != nil {
		util.WarnLog("Summary: failed to read activity: %v", err)
	} else {
		for _, e := range recent {
			if e.Severity == store.SeverityError || e.Severity == store.SeverityCritical {
				report.RecentErrors = append(report.RecentErrors, e)
				if len(report.RecentErrors) == errorLimit {
					break
				}
			}
		}
	}

	return report, nil
}

// Markdown renders the report.
func (r *SummaryReport) Markdown() string {
	var md strings.Builder

	md.WriteString("# Radio Monitor - Summary Report\n\n")
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", r.GeneratedAt.Format("2006-01-02 15:04:05")))
	if r.Days > 0 {
		md.WriteString(fmt.Sprintf("**Window:** last %d days\n\n", r.Days))
	} else {
		md.WriteString("**Window:** all time\n\n")
	}
	if r.DatabasePath != "" {
		md.WriteString(fmt.Sprintf("**Database:** `%s`\n\n", r.DatabasePath))
	}
	md.WriteString("---\n\n")

	// Overview
	md.WriteString("## 📊 Overview\n\n")
	md.WriteString("| Metric | Value |\n")
	md.WriteString("|--------|-------|\n")
	md.WriteString(fmt.Sprintf("| Artists | %s |\n", util.FormatCount(int64(r.Stats.Artists))))
	if r.Stats.PendingArtists > 0 {
		md.WriteString(fmt.Sprintf("| Pending Artists | %s |\n", util.FormatCount(int64(r.Stats.PendingArtists))))
	}
	md.WriteString(fmt.Sprintf("| Songs | %s |\n", util.FormatCount(int64(r.Stats.Songs))))
	md.WriteString(fmt.Sprintf("| Plays | %s |\n", util.FormatCount(int64(r.Stats.Plays))))
	md.WriteString(fmt.Sprintf("| Plays Today | %s |\n", util.FormatCount(int64(r.Stats.PlaysToday))))
	md.WriteString(fmt.Sprintf("| Stations | %d (%d enabled) |\n", r.Stats.Stations, r.Stats.EnabledStations))
	md.WriteString("\n")

	if len(r.TopSongs) > 0 {
		md.WriteString(fmt.Sprintf("## 🎵 Top Songs (Top %d)\n\n", topLimit))
		md.WriteString("| # | Song | Artist | Plays |\n")
		md.WriteString("|---|------|--------|-------|\n")
		for i, s := range r.TopSongs {
			md.WriteString(fmt.Sprintf("| %d | %s | %s | %d |\n", i+1, cell(s.Title), cell(s.ArtistName), s.Plays))
		}
		md.WriteString("\n")
	}

	if len(r.TopArtists) > 0 {
		md.WriteString(fmt.Sprintf("## 🎤 Top Artists (Top %d)\n\n", topLimit))
		md.WriteString("| # | Artist | Plays |\n")
		md.WriteString("|---|--------|-------|\n")
		for i, a := range r.TopArtists {
			md.WriteString(fmt.Sprintf("| %d | %s | %d |\n", i+1, cell(a.Name), a.Plays))
		}
		md.WriteString("\n")
	}

	if len(r.Stations) > 0 {
		total := 0
		for _, s := range r.Stations {
			total += s.Plays
		}
		md.WriteString("## 📻 Stations\n\n")
		md.WriteString("| Station | Plays | Share |\n")
		md.WriteString("|---------|-------|-------|\n")
		for _, s := range r.Stations {
			share := 0.0
			if total > 0 {
				share = float64(s.Plays) * 100 / float64(total)
			}
			md.WriteString(fmt.Sprintf("| %s | %d | %.1f%% |\n", cell(stationLabel(s)), s.Plays, share))
		}
		md.WriteString("\n")
	}

	if len(r.Daily) > 0 {
		md.WriteString("## 📅 Daily Plays\n\n")
		md.WriteString("| Date | Plays |\n")
		md.WriteString("|------|-------|\n")
		for _, d := range r.Daily {
			md.WriteString(fmt.Sprintf("| %s | %d |\n", d.Date, d.Plays))
		}
		md.WriteString("\n")
	}

	if len(r.PendingArtists) > 0 {
		md.WriteString("## ⏳ Pending Artists\n\n")
		md.WriteString("*Artists without a MusicBrainz ID; run `rmon retry-pending` to resolve them*\n\n")
		for _, a := range r.PendingArtists {
			md.WriteString(fmt.Sprintf("- %s (first seen on %s, %s)\n", a.Name, a.FirstSeenStation, util.FormatAge(a.FirstSeenAt)))
		}
		if extra := r.Stats.PendingArtists - len(r.PendingArtists); extra > 0 {
			md.WriteString(fmt.Sprintf("- ... and %d more\n", extra))
		}
		md.WriteString("\n")
	}

	if len(r.PlexFailures) > 0 {
		md.WriteString("## 🔍 Unmatched in Plex\n\n")
		md.WriteString("| Song | Artist | Reason | Attempts |\n")
		md.WriteString("|------|--------|--------|----------|\n")
		for _, f := range r.PlexFailures {
			md.WriteString(fmt.Sprintf("| %s | %s | %s | %d |\n", cell(f.SongTitle), cell(f.ArtistName), f.Reason, f.SearchAttempts))
		}
		md.WriteString("\n")
	}

	if len(r.RecentErrors) > 0 {
		md.WriteString("## ⚠️ Recent Errors\n\n")
		md.WriteString("| When | Event | Title | Detail |\n")
		md.WriteString("|------|-------|-------|--------|\n")
		for _, e := range r.RecentErrors {
			md.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
				e.Timestamp.Format("2006-01-02 15:04"), e.Type, cell(e.Title), cell(truncate(e.Description, 80))))
		}
		md.WriteString("\n")
	}

	md.WriteString("---\n\n")
	md.WriteString("*Generated by [rmon](https://github.com/franz/radio-monitor) - Radio Monitor*\n")
	return md.String()
}

// WriteMarkdownReport writes the summary report as Markdown
func WriteMarkdownReport(report *SummaryReport, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(outputPath, []byte(report.Markdown()), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func stationLabel(s store.StationPlays) string {
	if s.StationName == "" || s.StationName == s.StationID {
		return s.StationID
	}
	return fmt.Sprintf("%s (%s)", s.StationName, s.StationID)
}

// cell escapes pipes so a value cannot break a Markdown table row.
func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// truncate shortens s to maxLen runes, keeping the start
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
