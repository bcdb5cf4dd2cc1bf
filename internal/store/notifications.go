package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/franz/radio-monitor/internal/util"
)

// NotificationConfig is one configured notification sink
type NotificationConfig struct {
	ID            int64
	Type          string
	Name          string
	Enabled       bool
	Config        json.RawMessage
	Triggers      []string
	CreatedAt     time.Time
	LastTriggered time.Time
	FailureCount  int
}

// NotificationSend is one delivery attempt
type NotificationSend struct {
	ID               int64
	NotificationID   int64
	NotificationName string
	SentAt           time.Time
	EventType        string
	Severity         string
	Title            string
	Message          string
	Success          bool
	ErrorMessage     string
}

const notificationColumns = `id, notification_type, name, COALESCE(enabled, 1), config, triggers,
	created_at, last_triggered, COALESCE(failure_count, 0)`

func scanNotification(r rowScanner) (*NotificationConfig, error) {
	n := &NotificationConfig{}
	var (
		config, triggers string
		created, last    sql.NullString
	)
	if err := r.Scan(&n.ID, &n.Type, &n.Name, &n.Enabled, &config, &triggers, &created, &last, &n.FailureCount); err != nil {
		return nil, err
	}
	n.Config = json.RawMessage(config)
	if err := json.Unmarshal([]byte(triggers), &n.Triggers); err != nil {
		util.WarnLog("Notification %s has unreadable triggers: %v", n.Name, err)
	}
	n.CreatedAt = parseTime(created)
	n.LastTriggered = parseTime(last)
	return n, nil
}

// AddNotification stores a sink definition and returns its id.
func (s *Store) AddNotification(n NotificationConfig) (int64, error) {
	if n.Type == "" || n.Name == "" {
		return 0, fmt.Errorf("notification type and name are required: %w", util.ErrInvalidConfig)
	}
	if len(n.Config) == 0 {
		n.Config = json.RawMessage("{}")
	}
	triggers, err := json.Marshal(n.Triggers)
	if err != nil {
		return 0, fmt.Errorf("failed to encode triggers: %w", err)
	}
	res, err := s.db.Exec(`
		INSERT INTO notifications (notification_type, name, enabled, config, triggers, created_at, failure_count)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`, n.Type, n.Name, boolInt(n.Enabled), string(n.Config), string(triggers), formatTime(s.clock()))
	if isConstraintError(err) {
		return 0, fmt.Errorf("notification %q already exists: %w", n.Name, util.ErrConflict)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to add notification: %w", err)
	}
	return res.LastInsertId()
}

// UpdateNotification rewrites a sink definition.
func (s *Store) UpdateNotification(n NotificationConfig) (bool, error) {
	triggers, err := json.Marshal(n.Triggers)
	if err != nil {
		return false, fmt.Errorf("failed to encode triggers: %w", err)
	}
	res, err := s.db.Exec(`
		UPDATE notifications SET notification_type = ?, name = ?, enabled = ?, config = ?, triggers = ?
		WHERE id = ?
	`, n.Type, n.Name, boolInt(n.Enabled), string(n.Config), string(triggers), n.ID)
	if err != nil {
		return false, fmt.Errorf("failed to update notification %d: %w", n.ID, err)
	}
	c, _ := res.RowsAffected()
	return c > 0, nil
}

// DeleteNotification removes a sink and its history.
func (s *Store) DeleteNotification(id int64) (bool, error) {
	var deleted bool
	err := s.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM notification_history WHERE notification_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.Exec(`DELETE FROM notifications WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		deleted = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete notification %d: %w", id, err)
	}
	return deleted, nil
}

// GetNotification returns a sink by id, or nil.
func (s *Store) GetNotification(id int64) (*NotificationConfig, error) {
	n, err := scanNotification(s.db.QueryRow(`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

// ListNotifications returns every configured sink.
func (s *Store) ListNotifications() ([]NotificationConfig, error) {
	rows, err := s.db.Query(`SELECT ` + notificationColumns + ` FROM notifications ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []NotificationConfig
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// NotificationsForEvent returns enabled sinks subscribed to trigger.
func (s *Store) NotificationsForEvent(trigger string) ([]NotificationConfig, error) {
	all, err := s.ListNotifications()
	if err != nil {
		return nil, err
	}
	var out []NotificationConfig
	for _, n := range all {
		if n.Enabled && slices.Contains(n.Triggers, trigger) {
			out = append(out, n)
		}
	}
	return out, nil
}

// LogNotificationSend appends a delivery attempt to the history.
func (s *Store) LogNotificationSend(h NotificationSend) error {
	if h.SentAt.IsZero() {
		h.SentAt = s.clock()
	}
	var errMsg sql.NullString
	if h.ErrorMessage != "" {
		errMsg = sql.NullString{String: h.ErrorMessage, Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO notification_history
			(notification_id, sent_at, event_type, event_severity, title, message, success, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, h.NotificationID, formatTime(h.SentAt), h.EventType, h.Severity, h.Title, h.Message, boolInt(h.Success), errMsg)
	if err != nil {
		return fmt.Errorf("failed to log notification send: %w", err)
	}
	return nil
}

// MarkNotificationTriggered records a successful delivery.
func (s *Store) MarkNotificationTriggered(id int64) error {
	_, err := s.db.Exec(`UPDATE notifications SET last_triggered = ? WHERE id = ?`, formatTime(s.clock()), id)
	if err != nil {
		return fmt.Errorf("failed to update notification %d: %w", id, err)
	}
	return nil
}

// IncrementNotificationFailures records a failed delivery.
func (s *Store) IncrementNotificationFailures(id int64) error {
	_, err := s.db.Exec(`UPDATE notifications SET failure_count = COALESCE(failure_count, 0) + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to update notification %d: %w", id, err)
	}
	return nil
}

// NotificationHistory returns the newest delivery attempts first.
func (s *Store) NotificationHistory(limit int) ([]NotificationSend, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT h.id, h.notification_id, COALESCE(n.name, ''), h.sent_at, h.event_type,
		       COALESCE(h.event_severity, ''), COALESCE(h.title, ''), COALESCE(h.message, ''),
		       COALESCE(h.success, 0), COALESCE(h.error_message, '')
		FROM notification_history h
		LEFT JOIN notifications n ON n.id = h.notification_id
		ORDER BY h.sent_at DESC, h.id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notification history: %w", err)
	}
	defer rows.Close()

	var out []NotificationSend
	for rows.Next() {
		var (
			h    NotificationSend
			sent sql.NullString
		)
		if err := rows.Scan(&h.ID, &h.NotificationID, &h.NotificationName, &sent, &h.EventType,
			&h.Severity, &h.Title, &h.Message, &h.Success, &h.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan notification history: %w", err)
		}
		h.SentAt = parseTime(sent)
		out = append(out, h)
	}
	return out, rows.Err()
}
