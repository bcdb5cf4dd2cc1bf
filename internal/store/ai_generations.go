package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AIGeneration records one externally generated playlist. The store only
// keeps the record; generation itself happens elsewhere.
type AIGeneration struct {
	ID                int64
	Instructions      string
	StationIDs        []string
	MinPlays          int
	DateRangeDays     int
	MaxSongs          int
	GeneratedAt       time.Time
	SongCount         int
	HallucinatedCount int
	Songs             json.RawMessage
	PlexPlaylistName  string
	Model             string
	Status            string
}

// LogAIGeneration stores a generation record and returns its id.
func (s *Store) LogAIGeneration(g AIGeneration) (int64, error) {
	if g.GeneratedAt.IsZero() {
		g.GeneratedAt = s.clock()
	}
	if g.Status == "" {
		g.Status = "completed"
	}
	if len(g.Songs) == 0 {
		g.Songs = json.RawMessage("[]")
	}
	res, err := s.db.Exec(`
		INSERT INTO ai_playlist_generations
			(instructions, station_ids, min_plays, date_range_days, max_songs, generated_at,
			 song_count, hallucinated_count, songs_json, plex_playlist_name, model_used, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, g.Instructions, encodeStationIDs(g.StationIDs), max(g.MinPlays, 1), nullInt(g.DateRangeDays), g.MaxSongs,
		formatTime(g.GeneratedAt), g.SongCount, g.HallucinatedCount, string(g.Songs),
		g.PlexPlaylistName, g.Model, g.Status)
	if err != nil {
		return 0, fmt.Errorf("failed to log AI generation: %w", err)
	}
	return res.LastInsertId()
}

// ListAIGenerations returns the newest generation records first.
func (s *Store) ListAIGenerations(limit int) ([]AIGeneration, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, instructions, COALESCE(station_ids, '[]'), COALESCE(min_plays, 1), COALESCE(date_range_days, 0),
		       COALESCE(max_songs, 50), generated_at, COALESCE(song_count, 0), COALESCE(hallucinated_count, 0),
		       songs_json, COALESCE(plex_playlist_name, ''), COALESCE(model_used, ''), COALESCE(status, 'completed')
		FROM ai_playlist_generations
		ORDER BY generated_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list AI generations: %w", err)
	}
	defer rows.Close()

	var out []AIGeneration
	for rows.Next() {
		var (
			g               AIGeneration
			stations, songs string
			generated       sql.NullString
		)
		if err := rows.Scan(&g.ID, &g.Instructions, &stations, &g.MinPlays, &g.DateRangeDays,
			&g.MaxSongs, &generated, &g.SongCount, &g.HallucinatedCount,
			&songs, &g.PlexPlaylistName, &g.Model, &g.Status); err != nil {
			return nil, fmt.Errorf("failed to scan AI generation: %w", err)
		}
		g.StationIDs = decodeStationIDs(stations)
		g.GeneratedAt = parseTime(generated)
		g.Songs = json.RawMessage(songs)
		out = append(out, g)
	}
	return out, rows.Err()
}
