package store

import (
	"database/sql"
	"fmt"
)

// RecordPlay records one observation of songID on stationID. It returns
// false without touching any counter when an earlier play of the same song on
// the same station and date lies within the duplicate window.
func (s *Store) RecordPlay(songID int64, stationID string) (bool, error) {
	// One clock read: date, hour and minute must agree across midnight.
	now := s.clock()
	date := now.Format(dateLayout)
	hour := now.Hour()
	minute := now.Minute()
	window := s.DuplicateWindow()
	stamp := formatTime(now)

	recorded := false
	err := s.Transaction(func(tx *sql.Tx) error {
		rows, err := tx.Query(`
			SELECT hour, minute FROM song_plays_daily
			WHERE song_id = ? AND station_id = ? AND date = ?
			  AND hour IN (?, ?, ?) AND minute IS NOT NULL
		`, songID, stationID, date, hour-1, hour, hour+1)
		if err != nil {
			return err
		}
		current := hour*60 + minute
		for rows.Next() {
			var h, m int
			if err := rows.Scan(&h, &m); err != nil {
				rows.Close()
				return err
			}
			delta := current - (h*60 + m)
			if delta < 0 {
				delta = -delta
			}
			if delta <= window {
				rows.Close()
				return nil
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		res, err := tx.Exec(`
			UPDATE song_plays_daily SET play_count = play_count + 1, minute = ?
			WHERE date = ? AND hour = ? AND song_id = ? AND station_id = ?
		`, minute, date, hour, songID, stationID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if _, err := tx.Exec(`
				INSERT INTO song_plays_daily (date, hour, minute, song_id, station_id, play_count)
				VALUES (?, ?, ?, ?, ?, 1)
			`, date, hour, minute, songID, stationID); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(`
			UPDATE songs SET play_count = play_count + 1, last_seen_at = ? WHERE id = ?
		`, stamp, songID); err != nil {
			return err
		}
		if _, err := tx.Exec(`
			UPDATE artists SET last_seen_at = ?
			WHERE mbid = (SELECT artist_mbid FROM songs WHERE id = ?)
		`, stamp, songID); err != nil {
			return err
		}
		recorded = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to record play of song %d on %s: %w", songID, stationID, err)
	}
	return recorded, nil
}

// PlayRecord is one hour bucket of plays
type PlayRecord struct {
	Date      string
	Hour      int
	Minute    sql.NullInt64
	SongID    int64
	StationID string
	PlayCount int
}

// PlaysForSong returns every play bucket of a song, oldest first.
func (s *Store) PlaysForSong(songID int64) ([]PlayRecord, error) {
	rows, err := s.db.Query(`
		SELECT date, hour, minute, song_id, station_id, play_count
		FROM song_plays_daily WHERE song_id = ?
		ORDER BY date, hour, station_id
	`, songID)
	if err != nil {
		return nil, fmt.Errorf("failed to query plays: %w", err)
	}
	defer rows.Close()

	var out []PlayRecord
	for rows.Next() {
		var p PlayRecord
		if err := rows.Scan(&p.Date, &p.Hour, &p.Minute, &p.SongID, &p.StationID, &p.PlayCount); err != nil {
			return nil, fmt.Errorf("failed to scan play: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
