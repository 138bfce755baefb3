package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foxace/ajax-sync-core/internal/ajax"
)

// Query limit bounds.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// ModeTransition is one hub security-mode change.
type ModeTransition struct {
	ID         string         `json:"id"`
	HubID      string         `json:"hub_id"`
	From       ajax.ArmedMode `json:"from"`
	To         ajax.ArmedMode `json:"to"`
	Source     ajax.Source    `json:"source"`
	UserName   string         `json:"user_name,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Filter controls which notifications to return.
type Filter struct {
	HubID    string        // optional: limit to one hub
	Severity ajax.Severity // optional: limit to one severity
	Tag      string        // optional: limit to one event tag
	Limit    int           // default 50, max 200
	Offset   int           // pagination offset
}

// ListResult contains paginated notification results.
type ListResult struct {
	Notifications []ajax.NotificationEvent `json:"notifications"`
	Total         int                      `json:"total"`
	Limit         int                      `json:"limit"`
	Offset        int                      `json:"offset"`
}

// Repository defines the journal operations.
type Repository interface {
	RecordNotification(ctx context.Context, n *ajax.NotificationEvent) error
	RecordModeTransition(ctx context.Context, t *ModeTransition) error
	ListNotifications(ctx context.Context, filter Filter) (*ListResult, error)
	ListModeTransitions(ctx context.Context, hubID string, limit int) ([]ModeTransition, error)
}

// SQLiteRepository persists journal entries in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a journal repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordNotification inserts one notification. A missing id is filled in.
func (r *SQLiteRepository) RecordNotification(ctx context.Context, n *ajax.NotificationEvent) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.OccurredAt.IsZero() {
		n.OccurredAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications
			(id, hub_id, code, tag, device_id, device_name, room_name, user_name, severity, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.HubID, n.Code, n.Tag, n.DeviceID, n.DeviceName, n.RoomName, n.UserName,
		string(n.Severity), n.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

// RecordModeTransition inserts one mode transition.
func (r *SQLiteRepository) RecordModeTransition(ctx context.Context, t *ModeTransition) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.OccurredAt.IsZero() {
		t.OccurredAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mode_transitions
			(id, hub_id, from_mode, to_mode, source, user_name, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.HubID, string(t.From), string(t.To), string(t.Source), t.UserName,
		t.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting mode transition: %w", err)
	}
	return nil
}

// ListNotifications returns notifications matching the filter, newest
// first.
func (r *SQLiteRepository) ListNotifications(ctx context.Context, filter Filter) (*ListResult, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var (
		conds []string
		args  []any
	)
	if filter.HubID != "" {
		conds = append(conds, "hub_id = ?")
		args = append(args, filter.HubID)
	}
	if filter.Severity != "" {
		conds = append(conds, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.Tag != "" {
		conds = append(conds, "tag = ?")
		args = append(args, filter.Tag)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications"+where, args...,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting notifications: %w", err)
	}

	query := `
		SELECT id, hub_id, code, tag, device_id, device_name, room_name, user_name, severity, occurred_at
		FROM notifications` + where + `
		ORDER BY occurred_at DESC
		LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	result := &ListResult{Limit: limit, Offset: offset, Total: total}
	for rows.Next() {
		var (
			n        ajax.NotificationEvent
			severity string
		)
		if err := rows.Scan(
			&n.ID, &n.HubID, &n.Code, &n.Tag, &n.DeviceID, &n.DeviceName,
			&n.RoomName, &n.UserName, &severity, &n.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		n.Severity = ajax.Severity(severity)
		result.Notifications = append(result.Notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notifications: %w", err)
	}
	return result, nil
}

// ListModeTransitions returns a hub's mode history, newest first.
func (r *SQLiteRepository) ListModeTransitions(ctx context.Context, hubID string, limit int) ([]ModeTransition, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, hub_id, from_mode, to_mode, source, user_name, occurred_at
		FROM mode_transitions
		WHERE hub_id = ?
		ORDER BY occurred_at DESC
		LIMIT ?`, hubID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying mode transitions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []ModeTransition
	for rows.Next() {
		var (
			t                ModeTransition
			from, to, source string
		)
		if err := rows.Scan(&t.ID, &t.HubID, &from, &to, &source, &t.UserName, &t.OccurredAt); err != nil {
			return nil, fmt.Errorf("scanning mode transition: %w", err)
		}
		t.From = ajax.ArmedMode(from)
		t.To = ajax.ArmedMode(to)
		t.Source = ajax.Source(source)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating mode transitions: %w", err)
	}
	return out, nil
}
