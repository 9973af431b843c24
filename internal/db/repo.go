package db

import (
	"context"
	"database/sql"
	"time"

	"logwatch/internal/models"
)

// Repository is the notification journal. It records what was delivered;
// only the status API reads it back, the pipeline never does.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *Repository) Close() error { return r.db.Close() }

func (r *Repository) InsertNotification(ctx context.Context, n models.Notification) (int64, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO notifications (ts,chat_id,container,rule,status,error,text) VALUES (?,?,?,?,?,?,?)`,
		n.TS.UTC(), n.ChatID, n.Container, n.Rule, n.Status, n.Error, n.Text)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentNotifications returns up to limit entries, newest first. An empty
// container matches every container.
func (r *Repository) RecentNotifications(ctx context.Context, container string, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `SELECT id,ts,chat_id,container,rule,status,error,text FROM notifications`
	args := []any{}
	if container != "" {
		query += ` WHERE container = ?`
		args = append(args, container)
	}
	query += ` ORDER BY ts DESC, id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Notification, 0, limit)
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.TS, &n.ChatID, &n.Container, &n.Rule, &n.Status, &n.Error, &n.Text); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *Repository) CountNotifications(ctx context.Context, status string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE status = ?`, status).Scan(&n)
	return n, err
}

// RecordSession appends a resolved chat session to the audit trail.
func (r *Repository) RecordSession(ctx context.Context, s models.ChatSession, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO sessions (chat_id,last_update_id,resolved_ts) VALUES (?,?,?)`, s.ChatID, s.LastUpdateID, at.UTC())
	return err
}

func (r *Repository) LastSession(ctx context.Context) (models.ChatSession, time.Time, error) {
	var s models.ChatSession
	var at time.Time
	err := r.db.QueryRowContext(ctx, `SELECT chat_id,last_update_id,resolved_ts FROM sessions ORDER BY id DESC LIMIT 1`).Scan(&s.ChatID, &s.LastUpdateID, &at)
	return s, at, err
}

func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE ts < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE resolved_ts < ? AND id NOT IN (SELECT MAX(id) FROM sessions)`, cutoff.UTC()); err != nil {
		return n, err
	}
	_, _ = r.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	_, _ = r.db.ExecContext(ctx, `PRAGMA optimize`)
	return n, nil
}
