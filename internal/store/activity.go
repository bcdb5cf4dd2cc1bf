package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Activity severities
const (
	SeverityInfo     = "info"
	SeveritySuccess  = "success"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// ActivityEntry is one row of the activity log. Entries are never updated.
type ActivityEntry struct {
	ID          int64
	Timestamp   time.Time
	Type        string
	Severity    string
	Title       string
	Description string
	Metadata    map[string]any
	Source      string
}

// LogActivity appends an entry and returns its id. A zero Timestamp means now.
func (s *Store) LogActivity(e ActivityEntry) (int64, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.clock()
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	if e.Source == "" {
		e.Source = "system"
	}

	var meta sql.NullString
	if len(e.Metadata) > 0 {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to encode activity metadata: %w", err)
		}
		meta = sql.NullString{String: string(data), Valid: true}
	}

	res, err := s.db.Exec(`
		INSERT INTO activity_log (timestamp, event_type, event_severity, title, description, metadata, source)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, formatTime(e.Timestamp), e.Type, e.Severity, e.Title, e.Description, meta, e.Source)
	if err != nil {
		return 0, fmt.Errorf("failed to log activity: %w", err)
	}
	return res.LastInsertId()
}

// RecentActivity returns the newest entries first. An empty eventType matches all.
func (s *Store) RecentActivity(limit int, eventType string) ([]ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, timestamp, event_type, COALESCE(event_severity, 'info'), title,
	                 COALESCE(description, ''), metadata, COALESCE(source, 'system')
	          FROM activity_log`
	args := []any{}
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	var entries []ActivityEntry
	for rows.Next() {
		var (
			e    ActivityEntry
			ts   sql.NullString
			meta sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.Type, &e.Severity, &e.Title, &e.Description, &meta, &e.Source); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		e.Timestamp = parseTime(ts)
		if meta.Valid && meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CleanupActivity deletes entries older than days and returns the count.
func (s *Store) CleanupActivity(days int) (int64, error) {
	cutoff := formatTime(s.clock().AddDate(0, 0, -days))
	res, err := s.db.Exec(`DELETE FROM activity_log WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up activity log: %w", err)
	}
	return res.RowsAffected()
}
