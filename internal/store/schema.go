package store

import (
	"database/sql"
	"fmt"
)

// migration is one forward schema step. Each step runs in its own
// transaction and records itself in schema_version before committing.
type migration struct {
	version     int
	description string
	apply       func(tx *sql.Tx) error
}

var migrations = []migration{
	{1, "initial schema: stations, artists, songs, daily plays", execStatements(schemaV1...)},
	{2, "auto playlists", execStatements(schemaV2...)},
	{3, "unified playlists with is_auto and max_plays", migrateV3},
	{4, "activity log", execStatements(schemaV4...)},
	{5, "plex match failures and notifications", execStatements(schemaV5...)},
	{6, "playlist consecutive failures", func(tx *sql.Tx) error {
		return addColumn(tx, "playlists", "consecutive_failures", "INTEGER DEFAULT 0")
	}},
	{7, "minute-level play tracking", func(tx *sql.Tx) error {
		return addColumn(tx, "song_plays_daily", "minute", "INTEGER")
	}},
	{8, "station page wait time", func(tx *sql.Tx) error {
		return addColumn(tx, "stations", "wait_time", "INTEGER DEFAULT 10")
	}},
	{9, "manual MBID overrides", execStatements(schemaV9...)},
	{10, "AI playlist generations", execStatements(schemaV10...)},
	{11, "disable unsupported scraper types", execStatements(
		`UPDATE stations SET enabled = 0 WHERE scraper_type IS NULL OR scraper_type != 'iheart'`,
	)},
	{12, "blocklist", execStatements(schemaV12...)},
	{13, "manual playlists and builder state", execStatements(schemaV13...)},
	{14, "station sort order", migrateV14},
}

// currentSchemaVersion is the version a freshly migrated store reports.
var currentSchemaVersion = migrations[len(migrations)-1].version

var schemaV1 = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT,
		description TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS stations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		genre TEXT,
		market TEXT,
		has_mbid INTEGER DEFAULT 0,
		scraper_type TEXT DEFAULT 'iheart',
		enabled INTEGER DEFAULT 1,
		consecutive_failures INTEGER DEFAULT 0,
		last_failure_at TEXT,
		created_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stations_enabled ON stations(enabled)`,
	`CREATE TABLE IF NOT EXISTS artists (
		mbid TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		first_seen_station TEXT REFERENCES stations(id),
		first_seen_at TEXT,
		last_seen_at TEXT,
		needs_lidarr_import INTEGER DEFAULT 1,
		lidarr_imported_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_artists_needs_import ON artists(needs_lidarr_import) WHERE needs_lidarr_import = 1`,
	`CREATE INDEX IF NOT EXISTS idx_artists_last_seen ON artists(last_seen_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_artists_first_seen ON artists(first_seen_at DESC)`,
	`CREATE TABLE IF NOT EXISTS songs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		artist_mbid TEXT REFERENCES artists(mbid),
		artist_name TEXT NOT NULL,
		song_title TEXT NOT NULL,
		first_seen_at TEXT,
		last_seen_at TEXT,
		play_count INTEGER DEFAULT 0,
		UNIQUE(artist_mbid, song_title)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_songs_play_count ON songs(play_count DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_songs_last_seen ON songs(last_seen_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_songs_first_seen ON songs(first_seen_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_songs_artist_name ON songs(artist_name)`,
	`CREATE TABLE IF NOT EXISTS song_plays_daily (
		date TEXT NOT NULL,
		hour INTEGER NOT NULL,
		song_id INTEGER NOT NULL REFERENCES songs(id),
		station_id TEXT NOT NULL REFERENCES stations(id),
		play_count INTEGER DEFAULT 1,
		PRIMARY KEY (date, hour, song_id, station_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_plays_date ON song_plays_daily(date)`,
	`CREATE INDEX IF NOT EXISTS idx_plays_song_station ON song_plays_daily(song_id, station_id, date)`,
}

var schemaV2 = []string{
	`CREATE TABLE IF NOT EXISTS auto_playlists (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		interval_minutes INTEGER,
		station_ids TEXT NOT NULL,
		max_songs INTEGER NOT NULL,
		mode TEXT NOT NULL,
		min_plays INTEGER DEFAULT 1,
		days INTEGER,
		enabled INTEGER DEFAULT 1,
		last_updated TEXT,
		next_update TEXT,
		plex_playlist_name TEXT,
		created_at TEXT
	)`,
}

func migrateV3(tx *sql.Tx) error {
	exists, err := tableExists(tx, "playlists")
	if err != nil {
		return err
	}
	if !exists {
		if _, err := tx.Exec(`ALTER TABLE auto_playlists RENAME TO playlists`); err != nil {
			return fmt.Errorf("failed to rename auto_playlists: %w", err)
		}
	}
	if err := addColumn(tx, "playlists", "is_auto", "INTEGER DEFAULT 1"); err != nil {
		return err
	}
	if err := addColumn(tx, "playlists", "max_plays", "INTEGER"); err != nil {
		return err
	}
	return execStatements(
		`CREATE INDEX IF NOT EXISTS idx_playlists_enabled ON playlists(enabled)`,
		`CREATE INDEX IF NOT EXISTS idx_playlists_next_update ON playlists(next_update)`,
		`CREATE INDEX IF NOT EXISTS idx_playlists_is_auto ON playlists(is_auto)`,
	)(tx)
}

var schemaV4 = []string{
	`CREATE TABLE IF NOT EXISTS activity_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		event_type TEXT NOT NULL,
		event_severity TEXT DEFAULT 'info',
		title TEXT NOT NULL,
		description TEXT,
		metadata TEXT,
		source TEXT DEFAULT 'system'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_timestamp ON activity_log(timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_type ON activity_log(event_type)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_severity ON activity_log(event_severity)`,
}

var schemaV5 = []string{
	`CREATE TABLE IF NOT EXISTS plex_match_failures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		song_id INTEGER NOT NULL REFERENCES songs(id),
		playlist_id INTEGER REFERENCES playlists(id),
		failure_date TEXT NOT NULL,
		failure_reason TEXT NOT NULL,
		search_attempts INTEGER DEFAULT 1,
		search_terms_used TEXT,
		resolved INTEGER DEFAULT 0,
		resolved_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_failures_song ON plex_match_failures(song_id)`,
	`CREATE INDEX IF NOT EXISTS idx_failures_date ON plex_match_failures(failure_date DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_failures_resolved ON plex_match_failures(resolved)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		notification_type TEXT NOT NULL,
		name TEXT NOT NULL UNIQUE,
		enabled INTEGER DEFAULT 1,
		config TEXT NOT NULL,
		triggers TEXT NOT NULL,
		created_at TEXT,
		last_triggered TEXT,
		failure_count INTEGER DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_enabled ON notifications(enabled)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_type ON notifications(notification_type)`,
	`CREATE TABLE IF NOT EXISTS notification_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		notification_id INTEGER NOT NULL REFERENCES notifications(id),
		sent_at TEXT NOT NULL,
		event_type TEXT NOT NULL,
		event_severity TEXT,
		title TEXT,
		message TEXT,
		success INTEGER DEFAULT 1,
		error_message TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_notification ON notification_history(notification_id)`,
	`CREATE INDEX IF NOT EXISTS idx_history_sent_at ON notification_history(sent_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_history_event_type ON notification_history(event_type)`,
}

var schemaV9 = []string{
	`CREATE TABLE IF NOT EXISTS manual_mbid_overrides (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		artist_name_normalized TEXT NOT NULL UNIQUE,
		artist_name_original TEXT NOT NULL,
		mbid TEXT NOT NULL,
		notes TEXT,
		created_at TEXT,
		updated_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_mbid_overrides_mbid ON manual_mbid_overrides(mbid)`,
}

var schemaV10 = []string{
	`CREATE TABLE IF NOT EXISTS ai_playlist_generations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instructions TEXT NOT NULL,
		station_ids TEXT,
		min_plays INTEGER DEFAULT 1,
		date_range_days INTEGER,
		max_songs INTEGER DEFAULT 50,
		generated_at TEXT NOT NULL,
		song_count INTEGER DEFAULT 0,
		hallucinated_count INTEGER DEFAULT 0,
		songs_json TEXT NOT NULL,
		plex_playlist_name TEXT,
		model_used TEXT,
		status TEXT DEFAULT 'completed'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ai_gen_timestamp ON ai_playlist_generations(generated_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_ai_gen_status ON ai_playlist_generations(status)`,
}

var schemaV12 = []string{
	`CREATE TABLE IF NOT EXISTS blocklist (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type TEXT NOT NULL CHECK (entity_type IN ('artist', 'song')),
		entity_id TEXT NOT NULL UNIQUE,
		artist_mbid TEXT,
		song_id INTEGER,
		reason TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_blocklist_artist ON blocklist(artist_mbid)`,
	`CREATE INDEX IF NOT EXISTS idx_blocklist_song ON blocklist(song_id)`,
}

var schemaV13 = []string{
	`CREATE TABLE IF NOT EXISTS manual_playlists (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		plex_playlist_name TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS manual_playlist_songs (
		playlist_id INTEGER NOT NULL REFERENCES manual_playlists(id),
		song_id INTEGER NOT NULL REFERENCES songs(id),
		added_at TEXT NOT NULL,
		PRIMARY KEY (playlist_id, song_id)
	)`,
	`CREATE TABLE IF NOT EXISTS playlist_builder_state (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		song_id INTEGER NOT NULL REFERENCES songs(id),
		added_at TEXT NOT NULL,
		UNIQUE(session_id, song_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_builder_session ON playlist_builder_state(session_id)`,
}

func migrateV14(tx *sql.Tx) error {
	if err := addColumn(tx, "stations", "sort_order", "INTEGER DEFAULT 0"); err != nil {
		return err
	}
	_, err := tx.Exec(`UPDATE stations SET sort_order = rowid WHERE sort_order IS NULL OR sort_order = 0`)
	return err
}

func execStatements(stmts ...string) func(tx *sql.Tx) error {
	return func(tx *sql.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

// addColumn adds column to table unless it is already present.
func addColumn(tx *sql.Tx, table, column, decl string) error {
	has, err := hasColumn(tx, table, column)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	if _, err := tx.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("failed to add %s.%s: %w", table, column, err)
	}
	return nil
}

func hasColumn(tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func tableExists(tx *sql.Tx, table string) (bool, error) {
	var n int
	err := tx.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	return n > 0, err
}
