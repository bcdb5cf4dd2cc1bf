package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/franz/radio-monitor/internal/util"
)

// BlocklistEntry excludes an artist or a single song from playlists
type BlocklistEntry struct {
	ID         int64
	EntityType string // "artist" or "song"
	ArtistMBID string
	SongID     int64
	Reason     string
	CreatedAt  time.Time
	Label      string // artist name, or "artist - title" for songs
}

// BlockArtist blocklists an artist. Blocking twice is a no-op.
func (s *Store) BlockArtist(mbid, reason string) (bool, error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO blocklist (entity_type, entity_id, artist_mbid, song_id, reason, created_at)
		VALUES ('artist', ?, ?, NULL, ?, ?)
	`, "artist:"+mbid, mbid, reason, formatTime(s.clock()))
	if err != nil {
		return false, fmt.Errorf("failed to block artist %s: %w", mbid, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// BlockSong blocklists one song. Blocking twice is a no-op.
func (s *Store) BlockSong(songID int64, reason string) (bool, error) {
	mbid, err := s.SongArtistMBID(songID)
	if err != nil {
		return false, err
	}
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO blocklist (entity_type, entity_id, artist_mbid, song_id, reason, created_at)
		VALUES ('song', ?, ?, ?, ?, ?)
	`, fmt.Sprintf("song:%d", songID), mbid, songID, reason, formatTime(s.clock()))
	if err != nil {
		return false, fmt.Errorf("failed to block song %d: %w", songID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Unblock removes a blocklist entry by id.
func (s *Store) Unblock(id int64) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM blocklist WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to remove blocklist entry %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListBlocklist returns entries, newest first. An empty entityType matches both.
func (s *Store) ListBlocklist(entityType string) ([]BlocklistEntry, error) {
	if entityType != "" && entityType != "artist" && entityType != "song" {
		return nil, fmt.Errorf("entity type %q: %w", entityType, util.ErrInvalidConfig)
	}
	query := `
		SELECT b.id, b.entity_type, COALESCE(b.artist_mbid, ''), COALESCE(b.song_id, 0),
		       COALESCE(b.reason, ''), b.created_at,
		       CASE b.entity_type
		         WHEN 'artist' THEN COALESCE(a.name, b.artist_mbid)
		         ELSE COALESCE(s.artist_name || ' - ' || s.song_title, b.entity_id)
		       END
		FROM blocklist b
		LEFT JOIN artists a ON a.mbid = b.artist_mbid
		LEFT JOIN songs s ON s.id = b.song_id`
	args := []any{}
	if entityType != "" {
		query += ` WHERE b.entity_type = ?`
		args = append(args, entityType)
	}
	query += ` ORDER BY b.created_at DESC, b.id DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocklist: %w", err)
	}
	defer rows.Close()

	var out []BlocklistEntry
	for rows.Next() {
		var (
			e       BlocklistEntry
			created sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.EntityType, &e.ArtistMBID, &e.SongID, &e.Reason, &created, &e.Label); err != nil {
			return nil, fmt.Errorf("failed to scan blocklist entry: %w", err)
		}
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// IsSongBlocked reports whether the song or its artist is blocklisted.
func (s *Store) IsSongBlocked(songID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM blocklist
		WHERE (entity_type = 'song' AND song_id = ?)
		   OR (entity_type = 'artist' AND artist_mbid = (SELECT artist_mbid FROM songs WHERE id = ?))
	`, songID, songID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check blocklist: %w", err)
	}
	return n > 0, nil
}

// blocklistFilter is a WHERE fragment excluding blocklisted songs aliased as s.
const blocklistFilter = `
	NOT EXISTS (SELECT 1 FROM blocklist b WHERE b.entity_type = 'song' AND b.song_id = s.id)
	AND NOT EXISTS (SELECT 1 FROM blocklist b WHERE b.entity_type = 'artist' AND b.artist_mbid = s.artist_mbid)`
