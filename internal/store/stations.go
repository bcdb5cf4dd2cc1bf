package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/franz/radio-monitor/internal/util"
)

// MaxConsecutiveFailures disables a station (~24h at a 10 minute interval).
const MaxConsecutiveFailures = 144

// SupportedScraperType is the only scraper flavor stations may use.
const SupportedScraperType = "iheart"

// Station is a monitored radio station
type Station struct {
	ID                  string
	Name                string
	URL                 string
	Genre               string
	Market              string
	HasMBID             bool
	ScraperType         string
	WaitTime            int
	Enabled             bool
	ConsecutiveFailures int
	LastFailureAt       time.Time
	CreatedAt           time.Time
	SortOrder           int
}

const stationColumns = `id, name, url, COALESCE(genre, ''), COALESCE(market, ''), COALESCE(has_mbid, 0),
	COALESCE(scraper_type, 'iheart'), COALESCE(wait_time, 10), COALESCE(enabled, 1),
	COALESCE(consecutive_failures, 0), last_failure_at, created_at, COALESCE(sort_order, 0)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStation(r rowScanner) (*Station, error) {
	st := &Station{}
	var lastFailure, created sql.NullString
	err := r.Scan(&st.ID, &st.Name, &st.URL, &st.Genre, &st.Market, &st.HasMBID,
		&st.ScraperType, &st.WaitTime, &st.Enabled,
		&st.ConsecutiveFailures, &lastFailure, &created, &st.SortOrder)
	if err != nil {
		return nil, err
	}
	st.LastFailureAt = parseTime(lastFailure)
	st.CreatedAt = parseTime(created)
	return st, nil
}

// SeedStations inserts stations that are not present yet. Existing rows are
// left untouched so user edits survive restarts.
func (s *Store) SeedStations(stations []Station) (int, error) {
	now := formatTime(s.clock())
	added := 0
	err := s.Transaction(func(tx *sql.Tx) error {
		for i, st := range stations {
			scraper := st.ScraperType
			if scraper == "" {
				scraper = SupportedScraperType
			}
			res, err := tx.Exec(`
				INSERT OR IGNORE INTO stations
					(id, name, url, genre, market, has_mbid, scraper_type, wait_time, enabled, created_at, sort_order)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
			`, st.ID, st.Name, st.URL, st.Genre, st.Market, boolInt(st.HasMBID), scraper, waitOrDefault(st.WaitTime), now, i+1)
			if err != nil {
				return fmt.Errorf("failed to seed station %s: %w", st.ID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				added++
			}
		}
		return nil
	})
	return added, err
}

func waitOrDefault(w int) int {
	if w <= 0 {
		return 10
	}
	return w
}

// AddStation inserts a new station. It returns false if the id already exists.
// Only the iheart scraper type is accepted.
func (s *Store) AddStation(st Station) (bool, error) {
	if st.ScraperType == "" {
		st.ScraperType = SupportedScraperType
	}
	if st.ScraperType != SupportedScraperType {
		return false, fmt.Errorf("scraper type %q: %w", st.ScraperType, util.ErrUnsupported)
	}
	if strings.TrimSpace(st.ID) == "" || strings.TrimSpace(st.URL) == "" {
		return false, fmt.Errorf("station id and url are required: %w", util.ErrInvalidConfig)
	}

	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO stations
			(id, name, url, genre, market, has_mbid, scraper_type, wait_time, enabled, created_at, sort_order)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, (SELECT COALESCE(MAX(sort_order), 0) + 1 FROM stations))
	`, st.ID, st.Name, st.URL, st.Genre, st.Market, boolInt(st.HasMBID), st.ScraperType,
		waitOrDefault(st.WaitTime), formatTime(s.clock()))
	if err != nil {
		return false, fmt.Errorf("failed to add station %s: %w", st.ID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpdateStation rewrites the editable fields of a station.
func (s *Store) UpdateStation(st Station) (bool, error) {
	if st.ScraperType != "" && st.ScraperType != SupportedScraperType {
		return false, fmt.Errorf("scraper type %q: %w", st.ScraperType, util.ErrUnsupported)
	}
	res, err := s.db.Exec(`
		UPDATE stations
		SET name = ?, url = ?, genre = ?, market = ?, has_mbid = ?, wait_time = ?, enabled = ?
		WHERE id = ?
	`, st.Name, st.URL, st.Genre, st.Market, boolInt(st.HasMBID), waitOrDefault(st.WaitTime), boolInt(st.Enabled), st.ID)
	if err != nil {
		return false, fmt.Errorf("failed to update station %s: %w", st.ID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteStation removes a station. Stations with recorded plays are only
// removed when force is set, in which case their plays go too.
func (s *Store) DeleteStation(id string, force bool) (bool, error) {
	var plays int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM song_plays_daily WHERE station_id = ?`, id).Scan(&plays); err != nil {
		return false, fmt.Errorf("failed to count plays for station %s: %w", id, err)
	}
	if plays > 0 && !force {
		return false, fmt.Errorf("station %s has %d play records: %w", id, plays, util.ErrConflict)
	}

	var deleted bool
	err := s.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM song_plays_daily WHERE station_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE artists SET first_seen_station = NULL WHERE first_seen_station = ?`, id); err != nil {
			return err
		}
		res, err := tx.Exec(`DELETE FROM stations WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		deleted = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete station %s: %w", id, err)
	}
	return deleted, nil
}

// GetStation returns a station by id, or nil if it does not exist.
func (s *Store) GetStation(id string) (*Station, error) {
	st, err := scanStation(s.db.QueryRow(`SELECT `+stationColumns+` FROM stations WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get station: %w", err)
	}
	return st, nil
}

// ListStations returns stations in display order.
func (s *Store) ListStations(enabledOnly bool) ([]Station, error) {
	query := `SELECT ` + stationColumns + ` FROM stations`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY sort_order, id`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list stations: %w", err)
	}
	defer rows.Close()

	var stations []Station
	for rows.Next() {
		st, err := scanStation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan station: %w", err)
		}
		stations = append(stations, *st)
	}
	return stations, rows.Err()
}

// SetStationEnabled enables or disables a station.
func (s *Store) SetStationEnabled(id string, enabled bool) error {
	_, err := s.db.Exec(`UPDATE stations SET enabled = ? WHERE id = ?`, boolInt(enabled), id)
	if err != nil {
		return fmt.Errorf("failed to update station %s: %w", id, err)
	}
	return nil
}

// RecordScrapeSuccess resets the failure counter and re-enables the station.
func (s *Store) RecordScrapeSuccess(id string) error {
	_, err := s.db.Exec(`
		UPDATE stations SET consecutive_failures = 0, enabled = 1 WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to record scrape success for %s: %w", id, err)
	}
	return nil
}

// RecordScrapeFailure increments the station's failure counter. It reports
// true only when this failure disabled a station that was still enabled; an
// error-severity activity entry is written in that case.
func (s *Store) RecordScrapeFailure(id string) (bool, error) {
	now := s.clock()
	var (
		failures   int
		name       string
		wasEnabled bool
	)

	err := s.Transaction(func(tx *sql.Tx) error {
		err := tx.QueryRow(`SELECT COALESCE(consecutive_failures, 0), name, COALESCE(enabled, 0) FROM stations WHERE id = ?`, id).
			Scan(&failures, &name, &wasEnabled)
		if err != nil {
			return err
		}
		failures++
		_, err = tx.Exec(`
			UPDATE stations
			SET consecutive_failures = ?,
			    last_failure_at = ?,
			    enabled = CASE WHEN ? >= ? THEN 0 ELSE enabled END
			WHERE id = ?
		`, failures, formatTime(now), failures, MaxConsecutiveFailures, id)
		return err
	})
	if err == sql.ErrNoRows {
		util.WarnLog("Station %s not found in database", id)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to record scrape failure for %s: %w", id, err)
	}

	if failures < MaxConsecutiveFailures || !wasEnabled {
		return false, nil
	}

	util.ErrorLog("Station %s disabled after %d consecutive failures", id, failures)
	if _, err := s.LogActivity(ActivityEntry{
		Type:        "station_health",
		Severity:    SeverityError,
		Title:       fmt.Sprintf("Station disabled: %s", name),
		Description: fmt.Sprintf("%s was disabled after %d consecutive scrape failures", name, failures),
		Metadata:    map[string]any{"station_id": id, "consecutive_failures": failures},
		Source:      "system",
	}); err != nil {
		util.WarnLog("Failed to log station health activity: %v", err)
	}
	return true, nil
}
