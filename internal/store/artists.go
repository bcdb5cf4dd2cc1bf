package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/franz/radio-monitor/internal/normalize"
	"github.com/franz/radio-monitor/internal/util"
)

// Artist is a resolved (or PENDING) artist
type Artist struct {
	MBID              string
	Name              string
	FirstSeenStation  string
	FirstSeenAt       time.Time
	LastSeenAt        time.Time
	NeedsLidarrImport bool
	LidarrImportedAt  time.Time
}

// IsPending reports whether the artist still carries a placeholder MBID.
func (a *Artist) IsPending() bool {
	return normalize.IsPending(a.MBID)
}

// DeleteCounts reports what a cascaded artist delete removed.
type DeleteCounts struct {
	ArtistName   string
	Songs        int64
	Plays        int64
	PlexFailures int64
	Overrides    int64
}

// ImportCandidate is an artist eligible for Lidarr onboarding.
type ImportCandidate struct {
	MBID       string
	Name       string
	TotalPlays int
	SongCount  int
}

const artistColumns = `mbid, name, COALESCE(first_seen_station, ''), first_seen_at, last_seen_at,
	COALESCE(needs_lidarr_import, 1), lidarr_imported_at`

func scanArtist(r rowScanner) (*Artist, error) {
	a := &Artist{}
	var first, last, imported sql.NullString
	if err := r.Scan(&a.MBID, &a.Name, &a.FirstSeenStation, &first, &last, &a.NeedsLidarrImport, &imported); err != nil {
		return nil, err
	}
	a.FirstSeenAt = parseTime(first)
	a.LastSeenAt = parseTime(last)
	a.LidarrImportedAt = parseTime(imported)
	return a, nil
}

// AddArtist inserts an artist if neither its MBID nor its normalized name is
// taken. It reports whether a row was created.
func (s *Store) AddArtist(mbid, name, firstSeenStation string) (bool, error) {
	name = normalize.Artist(name)
	if mbid == "" || name == "" {
		return false, fmt.Errorf("artist mbid and name are required: %w", util.ErrInvalidConfig)
	}

	var station sql.NullString
	if firstSeenStation != "" {
		station = sql.NullString{String: firstSeenStation, Valid: true}
	}
	now := formatTime(s.clock())

	_, err := s.db.Exec(`
		INSERT INTO artists (mbid, name, first_seen_station, first_seen_at, last_seen_at, needs_lidarr_import)
		VALUES (?, ?, ?, ?, ?, 1)
	`, mbid, name, station, now, now)
	if isConstraintError(err) {
		util.DebugLog("Artist %s (%s) already exists", name, mbid)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to add artist %s: %w", name, err)
	}
	return true, nil
}

// GetArtist returns an artist by MBID, or nil if absent.
func (s *Store) GetArtist(mbid string) (*Artist, error) {
	a, err := scanArtist(s.db.QueryRow(`SELECT `+artistColumns+` FROM artists WHERE mbid = ?`, mbid))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artist: %w", err)
	}
	return a, nil
}

// GetArtistByName returns the artist stored under the normalized form of
// name, or nil if absent.
func (s *Store) GetArtistByName(name string) (*Artist, error) {
	a, err := scanArtist(s.db.QueryRow(`SELECT `+artistColumns+` FROM artists WHERE name = ?`, normalize.Artist(name)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artist by name: %w", err)
	}
	return a, nil
}

// UpdateArtistMBIDFromPending rewrites the PENDING artist called name to
// newMBID. When newMBID already belongs to another artist the PENDING
// artist's songs are merged into it; otherwise the row is re-keyed. It
// reports false when name has no PENDING row. A constraint violation during
// the rewrite means another worker already merged the artist and is treated
// as success.
func (s *Store) UpdateArtistMBIDFromPending(name, newMBID string) (bool, error) {
	if newMBID == "" || normalize.IsPending(newMBID) {
		return false, fmt.Errorf("target MBID %q is not a real MBID: %w", newMBID, util.ErrInvalidConfig)
	}
	name = normalize.Artist(name)

	s.mbidMu.Lock()
	defer s.mbidMu.Unlock()

	ctx := context.Background()
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	var oldMBID string
	err = conn.QueryRowContext(ctx, `SELECT mbid FROM artists WHERE name = ? AND mbid LIKE 'PENDING-%'`, name).Scan(&oldMBID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to find pending artist %s: %w", name, err)
	}

	// foreign_keys cannot change inside a transaction.
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return false, fmt.Errorf("failed to relax foreign keys: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			util.ErrorLog("Failed to restore foreign keys: %v", err)
		}
	}()

	merged, err := reconcilePending(ctx, conn, oldMBID, name, newMBID)
	if isConstraintError(err) {
		util.InfoLog("Pending artist %s was already merged by another worker", name)
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to update MBID for %s: %w", name, err)
	}

	if merged != "" {
		util.InfoLog("Merged pending artist %s into existing artist %s (%s)", name, merged, newMBID)
	} else {
		util.InfoLog("Resolved pending artist %s: %s", name, newMBID)
	}
	return true, nil
}

// reconcilePending runs the re-key or merge in one transaction. It returns the
// existing artist's name when a merge happened.
func reconcilePending(ctx context.Context, conn *sql.Conn, oldMBID, name, newMBID string) (string, error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var existingName string
	err = tx.QueryRowContext(ctx, `SELECT name FROM artists WHERE mbid = ?`, newMBID).Scan(&existingName)
	switch {
	case err == nil:
		if err := mergeArtist(ctx, tx, oldMBID, newMBID, existingName); err != nil {
			return "", err
		}
	case errors.Is(err, sql.ErrNoRows):
		existingName = ""
		if err := rekeyArtist(ctx, tx, oldMBID, name, newMBID); err != nil {
			return "", err
		}
	default:
		return "", err
	}

	return existingName, tx.Commit()
}

func rekeyArtist(ctx context.Context, tx *sql.Tx, oldMBID, name, newMBID string) error {
	suffix := newMBID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	tempName := name + "-" + suffix

	stmts := []struct {
		query string
		args  []any
	}{
		{`INSERT INTO artists (mbid, name, first_seen_station, first_seen_at, last_seen_at, needs_lidarr_import, lidarr_imported_at)
		  SELECT ?, ?, first_seen_station, first_seen_at, last_seen_at, needs_lidarr_import, lidarr_imported_at
		  FROM artists WHERE mbid = ?`, []any{newMBID, tempName, oldMBID}},
		{`UPDATE songs SET artist_mbid = ? WHERE artist_mbid = ?`, []any{newMBID, oldMBID}},
		{`UPDATE OR IGNORE blocklist SET artist_mbid = ?, entity_id = 'artist:' || ?
		  WHERE entity_type = 'artist' AND artist_mbid = ?`, []any{newMBID, newMBID, oldMBID}},
		{`UPDATE blocklist SET artist_mbid = ? WHERE entity_type = 'song' AND artist_mbid = ?`, []any{newMBID, oldMBID}},
		{`DELETE FROM artists WHERE mbid = ?`, []any{oldMBID}},
		{`UPDATE artists SET name = ? WHERE mbid = ?`, []any{name, newMBID}},
	}
	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
			return err
		}
	}
	return nil
}

func mergeArtist(ctx context.Context, tx *sql.Tx, oldMBID, newMBID, targetName string) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT o.id, t.id
		FROM songs o
		JOIN songs t ON t.artist_mbid = ? AND t.song_title = o.song_title
		WHERE o.artist_mbid = ?
	`, newMBID, oldMBID)
	if err != nil {
		return err
	}
	type pair struct{ from, to int64 }
	var dups []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.from, &p.to); err != nil {
			rows.Close()
			return err
		}
		dups = append(dups, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, p := range dups {
		if err := mergeSong(ctx, tx, p.from, p.to, newMBID); err != nil {
			return err
		}
	}

	stmts := []struct {
		query string
		args  []any
	}{
		{`UPDATE songs SET artist_mbid = ?, artist_name = ? WHERE artist_mbid = ?`, []any{newMBID, targetName, oldMBID}},
		{`UPDATE artists SET
			first_seen_at = MIN(COALESCE(first_seen_at, '9999'), COALESCE((SELECT first_seen_at FROM artists WHERE mbid = ?), '9999')),
			last_seen_at = MAX(COALESCE(last_seen_at, ''), COALESCE((SELECT last_seen_at FROM artists WHERE mbid = ?), ''))
		  WHERE mbid = ?`, []any{oldMBID, oldMBID, newMBID}},
		{`UPDATE OR IGNORE blocklist SET artist_mbid = ?, entity_id = 'artist:' || ?
		  WHERE entity_type = 'artist' AND artist_mbid = ?`, []any{newMBID, newMBID, oldMBID}},
		{`DELETE FROM blocklist WHERE entity_type = 'artist' AND artist_mbid = ?`, []any{oldMBID}},
		{`UPDATE blocklist SET artist_mbid = ? WHERE entity_type = 'song' AND artist_mbid = ?`, []any{newMBID, oldMBID}},
		{`DELETE FROM artists WHERE mbid = ?`, []any{oldMBID}},
	}
	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
			return err
		}
	}
	return nil
}

// mergeSong folds song from into song to: plays are summed per hour bucket
// and every reference is re-pointed before from is deleted.
func mergeSong(ctx context.Context, tx *sql.Tx, from, to int64, artistMBID string) error {
	stmts := []struct {
		query string
		args  []any
	}{
		{`INSERT INTO song_plays_daily (date, hour, minute, song_id, station_id, play_count)
		  SELECT date, hour, minute, ?, station_id, play_count FROM song_plays_daily WHERE song_id = ?
		  ON CONFLICT(date, hour, song_id, station_id) DO UPDATE SET
		    play_count = song_plays_daily.play_count + excluded.play_count`, []any{to, from}},
		{`DELETE FROM song_plays_daily WHERE song_id = ?`, []any{from}},
		{`UPDATE songs SET
		    play_count = play_count + COALESCE((SELECT play_count FROM songs WHERE id = ?), 0),
		    last_seen_at = MAX(COALESCE(last_seen_at, ''), COALESCE((SELECT last_seen_at FROM songs WHERE id = ?), ''))
		  WHERE id = ?`, []any{from, from, to}},
		{`UPDATE OR IGNORE manual_playlist_songs SET song_id = ? WHERE song_id = ?`, []any{to, from}},
		{`DELETE FROM manual_playlist_songs WHERE song_id = ?`, []any{from}},
		{`UPDATE OR IGNORE playlist_builder_state SET song_id = ? WHERE song_id = ?`, []any{to, from}},
		{`DELETE FROM playlist_builder_state WHERE song_id = ?`, []any{from}},
		{`UPDATE plex_match_failures SET song_id = ? WHERE song_id = ?`, []any{to, from}},
		{`UPDATE OR IGNORE blocklist SET song_id = ?, entity_id = 'song:' || ?, artist_mbid = ?
		  WHERE entity_type = 'song' AND song_id = ?`, []any{to, to, artistMBID, from}},
		{`DELETE FROM blocklist WHERE entity_type = 'song' AND song_id = ?`, []any{from}},
		{`DELETE FROM songs WHERE id = ?`, []any{from}},
	}
	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
			return err
		}
	}
	return nil
}

// DeleteArtist removes an artist and everything that references it in one
// transaction. It returns nil counts if the artist does not exist.
func (s *Store) DeleteArtist(mbid string) (*DeleteCounts, error) {
	counts := &DeleteCounts{}
	err := s.Transaction(func(tx *sql.Tx) error {
		if err := tx.QueryRow(`SELECT name FROM artists WHERE mbid = ?`, mbid).Scan(&counts.ArtistName); err != nil {
			return err
		}

		songIDs := `SELECT id FROM songs WHERE artist_mbid = ?`
		exec := func(query string, args ...any) (int64, error) {
			res, err := tx.Exec(query, args...)
			if err != nil {
				return 0, err
			}
			return res.RowsAffected()
		}

		var err error
		if counts.Plays, err = exec(`DELETE FROM song_plays_daily WHERE song_id IN (`+songIDs+`)`, mbid); err != nil {
			return err
		}
		if counts.PlexFailures, err = exec(`DELETE FROM plex_match_failures WHERE song_id IN (`+songIDs+`)`, mbid); err != nil {
			return err
		}
		if _, err = exec(`DELETE FROM manual_playlist_songs WHERE song_id IN (`+songIDs+`)`, mbid); err != nil {
			return err
		}
		if _, err = exec(`DELETE FROM playlist_builder_state WHERE song_id IN (`+songIDs+`)`, mbid); err != nil {
			return err
		}
		if _, err = exec(`DELETE FROM blocklist WHERE artist_mbid = ?`, mbid); err != nil {
			return err
		}
		if counts.Overrides, err = exec(`DELETE FROM manual_mbid_overrides WHERE artist_name_normalized = ?`,
			strings.ToLower(counts.ArtistName)); err != nil {
			return err
		}
		if counts.Songs, err = exec(`DELETE FROM songs WHERE artist_mbid = ?`, mbid); err != nil {
			return err
		}
		_, err = exec(`DELETE FROM artists WHERE mbid = ?`, mbid)
		return err
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete artist %s: %w", mbid, err)
	}

	util.InfoLog("Deleted artist '%s' (MBID: %s): %d songs, %d plays, %d Plex failures, %d MBID overrides",
		counts.ArtistName, mbid, counts.Songs, counts.Plays, counts.PlexFailures, counts.Overrides)
	return counts, nil
}

// ListPendingArtists returns PENDING artists, oldest first. limit <= 0 means all.
func (s *Store) ListPendingArtists(limit int) ([]Artist, error) {
	query := `SELECT ` + artistColumns + ` FROM artists WHERE mbid LIKE 'PENDING-%' ORDER BY first_seen_at, name`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryArtists(query, args...)
}

func (s *Store) queryArtists(query string, args ...any) ([]Artist, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query artists: %w", err)
	}
	defer rows.Close()

	var artists []Artist
	for rows.Next() {
		a, err := scanArtist(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artist: %w", err)
		}
		artists = append(artists, *a)
	}
	return artists, rows.Err()
}

// DeletePendingArtistsOlderThan removes PENDING artists first seen more than
// days ago, together with their songs and plays.
func (s *Store) DeletePendingArtistsOlderThan(days int) (artists int64, songs int64, err error) {
	cutoff := formatTime(s.clock().AddDate(0, 0, -days))
	victims := `SELECT id FROM songs WHERE artist_mbid IN (
		SELECT mbid FROM artists WHERE mbid LIKE 'PENDING-%' AND first_seen_at < ?)`

	err = s.Transaction(func(tx *sql.Tx) error {
		for _, table := range []string{"song_plays_daily", "plex_match_failures", "manual_playlist_songs", "playlist_builder_state", "blocklist"} {
			if _, err := tx.Exec(`DELETE FROM `+table+` WHERE song_id IN (`+victims+`)`, cutoff); err != nil {
				return err
			}
		}
		res, err := tx.Exec(`DELETE FROM songs WHERE artist_mbid IN (
			SELECT mbid FROM artists WHERE mbid LIKE 'PENDING-%' AND first_seen_at < ?)`, cutoff)
		if err != nil {
			return err
		}
		songs, _ = res.RowsAffected()

		if _, err := tx.Exec(`DELETE FROM blocklist WHERE entity_type = 'artist' AND artist_mbid IN (
			SELECT mbid FROM artists WHERE mbid LIKE 'PENDING-%' AND first_seen_at < ?)`, cutoff); err != nil {
			return err
		}
		res, err = tx.Exec(`DELETE FROM artists WHERE mbid LIKE 'PENDING-%' AND first_seen_at < ?`, cutoff)
		if err != nil {
			return err
		}
		artists, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete old pending artists: %w", err)
	}

	util.InfoLog("Deleted %d PENDING artists older than %d days (%d songs)", artists, days, songs)
	return artists, songs, nil
}

// DeleteOrphanSongs removes songs whose artist no longer exists, with the
// rows that reference them.
func (s *Store) DeleteOrphanSongs() (int64, error) {
	orphans := `SELECT id FROM songs WHERE artist_mbid NOT IN (SELECT mbid FROM artists)`
	var n int64
	err := s.Transaction(func(tx *sql.Tx) error {
		for _, table := range []string{"song_plays_daily", "plex_match_failures", "manual_playlist_songs", "playlist_builder_state", "blocklist"} {
			if _, err := tx.Exec(`DELETE FROM ` + table + ` WHERE song_id IN (` + orphans + `)`); err != nil {
				return err
			}
		}
		res, err := tx.Exec(`DELETE FROM songs WHERE id IN (` + orphans + `)`)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphan songs: %w", err)
	}
	if n > 0 {
		util.InfoLog("Deleted %d orphan songs", n)
	}
	return n, nil
}

// ArtistImportStats returns the artist's total plays and distinct songs.
func (s *Store) ArtistImportStats(mbid string) (totalPlays, songCount int, err error) {
	err = s.db.QueryRow(`
		SELECT COALESCE(SUM(play_count), 0), COUNT(id) FROM songs WHERE artist_mbid = ?
	`, mbid).Scan(&totalPlays, &songCount)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get import stats for %s: %w", mbid, err)
	}
	return totalPlays, songCount, nil
}

// MarkArtistImported records a successful Lidarr onboarding.
func (s *Store) MarkArtistImported(mbid string) error {
	_, err := s.db.Exec(`
		UPDATE artists SET needs_lidarr_import = 0, lidarr_imported_at = ? WHERE mbid = ?
	`, formatTime(s.clock()), mbid)
	if err != nil {
		return fmt.Errorf("failed to mark artist %s imported: %w", mbid, err)
	}
	return nil
}

// ResetLidarrImportStatus flags every artist as needing onboarding again.
func (s *Store) ResetLidarrImportStatus() (int64, error) {
	res, err := s.db.Exec(`UPDATE artists SET needs_lidarr_import = 1, lidarr_imported_at = NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset import status: %w", err)
	}
	return res.RowsAffected()
}

// ArtistsNeedingImport returns resolved, not yet imported artists with at
// least minPlays recorded plays, most played first. An empty stationID
// matches all stations.
func (s *Store) ArtistsNeedingImport(minPlays int, stationID string) ([]ImportCandidate, error) {
	query := `
		SELECT a.mbid, a.name, SUM(p.play_count) AS total_plays, COUNT(DISTINCT s.id)
		FROM artists a
		JOIN songs s ON a.mbid = s.artist_mbid
		JOIN song_plays_daily p ON s.id = p.song_id
		WHERE a.mbid NOT LIKE 'PENDING-%'
		  AND a.lidarr_imported_at IS NULL`
	args := []any{}
	if stationID != "" && stationID != "all" {
		query += ` AND p.station_id = ?`
		args = append(args, stationID)
	}
	query += `
		GROUP BY a.mbid, a.name
		HAVING total_plays >= ?
		ORDER BY total_plays DESC, a.name COLLATE NOCASE`
	args = append(args, minPlays)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query import candidates: %w", err)
	}
	defer rows.Close()

	var out []ImportCandidate
	for rows.Next() {
		var c ImportCandidate
		if err := rows.Scan(&c.MBID, &c.Name, &c.TotalPlays, &c.SongCount); err != nil {
			return nil, fmt.Errorf("failed to scan import candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
