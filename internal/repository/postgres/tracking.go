package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/mail-tracker/internal/domain"
	"github.com/ignite/mail-tracker/internal/service/tracking"
)

// TrackingRepo implements tracking.Repository against PostgreSQL.
type TrackingRepo struct{ db *sql.DB }

// NewTrackingRepo creates a Postgres-backed tracking repository.
func NewTrackingRepo(db *sql.DB) *TrackingRepo { return &TrackingRepo{db: db} }

var _ tracking.Repository = (*TrackingRepo)(nil)

const emailColumns = `id, sent_at, status, open_count, click_count, attachment_downloads,
	attachment_opens, last_opened_at, last_clicked_at, recipient_email, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmail(row rowScanner) (*domain.EmailRecord, error) {
	var rec domain.EmailRecord
	var status string
	err := row.Scan(&rec.ID, &rec.SentAt, &status, &rec.OpenCount, &rec.ClickCount,
		&rec.AttachmentDownloads, &rec.AttachmentOpens, &rec.LastOpenedAt, &rec.LastClickedAt,
		&rec.RecipientEmail, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = domain.EmailStatus(status)
	return &rec, nil
}

func (r *TrackingRepo) FindEmail(ctx context.Context, id string) (*domain.EmailRecord, error) {
	rec, err := scanEmail(r.db.QueryRowContext(ctx,
		`SELECT `+emailColumns+` FROM tracked_emails WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tracking.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find email: %w", err)
	}
	return rec, nil
}

func (r *TrackingRepo) FindRecentOpen(ctx context.Context, emailID, recipient string, since time.Time) (*domain.OpenEvent, error) {
	var o domain.OpenEvent
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email_id, recipient_email, user_agent, ip_address, device_type, opened_at
		FROM tracked_opens
		WHERE email_id = $1 AND recipient_email = $2 AND opened_at >= $3
		ORDER BY opened_at DESC
		LIMIT 1
	`, emailID, recipient, since).Scan(&o.ID, &o.EmailID, &o.RecipientEmail, &o.UserAgent, &o.IPAddress, &o.DeviceType, &o.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tracking.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find recent open: %w", err)
	}
	return &o, nil
}

// withTx runs fn in a transaction on a single pooled connection. The
// connection goes back to the pool on every path, including panics.
func (r *TrackingRepo) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func ensureEmail(ctx context.Context, tx *sql.Tx, id, recipient string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tracked_emails (id, sent_at, status, recipient_email, created_at, updated_at)
		VALUES ($1, $2, 'sent', $3, $2, $2)
		ON CONFLICT (id) DO NOTHING
	`, id, at, recipient)
	if err != nil {
		return fmt.Errorf("ensure email: %w", err)
	}
	return nil
}

func (r *TrackingRepo) RecordOpen(ctx context.Context, evt *domain.OpenEvent) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureEmail(ctx, tx, evt.EmailID, evt.RecipientEmail, evt.Timestamp); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tracked_opens (id, email_id, recipient_email, user_agent, ip_address, device_type, opened_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, evt.ID, evt.EmailID, evt.RecipientEmail, evt.UserAgent, evt.IPAddress, evt.DeviceType, evt.Timestamp); err != nil {
			return fmt.Errorf("insert open: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE tracked_emails
			SET open_count = open_count + 1,
			    last_opened_at = $2,
			    recipient_email = COALESCE(NULLIF($3, ''), recipient_email),
			    status = CASE WHEN status = 'sent' THEN 'opened' ELSE status END,
			    updated_at = $2
			WHERE id = $1
		`, evt.EmailID, evt.Timestamp, evt.RecipientEmail); err != nil {
			return fmt.Errorf("increment opens: %w", err)
		}
		return nil
	})
}

func (r *TrackingRepo) RecordClick(ctx context.Context, evt *domain.ClickEvent) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureEmail(ctx, tx, evt.EmailID, evt.RecipientEmail, evt.Timestamp); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tracked_clicks (id, email_id, recipient_email, url, user_agent, ip_address, device_type, clicked_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, evt.ID, evt.EmailID, evt.RecipientEmail, evt.URL, evt.UserAgent, evt.IPAddress, evt.DeviceType, evt.Timestamp); err != nil {
			return fmt.Errorf("insert click: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE tracked_emails
			SET click_count = click_count + 1,
			    last_clicked_at = $2,
			    recipient_email = COALESCE(NULLIF($3, ''), recipient_email),
			    status = CASE WHEN status IN ('sent', 'opened') THEN 'clicked' ELSE status END,
			    updated_at = $2
			WHERE id = $1
		`, evt.EmailID, evt.Timestamp, evt.RecipientEmail); err != nil {
			return fmt.Errorf("increment clicks: %w", err)
		}
		return nil
	})
}

const (
	incrementDownloads = `UPDATE tracked_emails SET attachment_downloads = attachment_downloads + 1, updated_at = $2 WHERE id = $1`
	incrementAttOpens  = `UPDATE tracked_emails SET attachment_opens = attachment_opens + 1, updated_at = $2 WHERE id = $1`
)

func (r *TrackingRepo) RecordAttachment(ctx context.Context, evt *domain.AttachmentEvent) error {
	increment := incrementDownloads
	if evt.Kind == domain.AttachmentOpen {
		increment = incrementAttOpens
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureEmail(ctx, tx, evt.EmailID, evt.RecipientEmail, evt.Timestamp); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tracked_attachment_events (id, email_id, recipient_email, kind, filename, user_agent, ip_address, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, evt.ID, evt.EmailID, evt.RecipientEmail, string(evt.Kind), evt.Filename, evt.UserAgent, evt.IPAddress, evt.Timestamp); err != nil {
			return fmt.Errorf("insert attachment event: %w", err)
		}
		if _, err := tx.ExecContext(ctx, increment, evt.EmailID, evt.Timestamp); err != nil {
			return fmt.Errorf("increment attachment %s: %w", evt.Kind, err)
		}
		return nil
	})
}

func (r *TrackingRepo) RegisterEmail(ctx context.Context, rec *domain.EmailRecord) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO tracked_emails (id, sent_at, status, recipient_email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.SentAt, string(rec.Status), rec.RecipientEmail, rec.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("register email: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("register email rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *TrackingRepo) SetStatus(ctx context.Context, id string, status domain.EmailStatus, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tracked_emails (id, sent_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $2, $2)
		ON CONFLICT (id) DO UPDATE SET status = $3, updated_at = $2
	`, id, at, string(status))
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

func (r *TrackingRepo) ListEmails(ctx context.Context, f tracking.ListFilter) ([]domain.EmailRecord, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tracked_emails WHERE updated_at >= $1`, f.Since,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count emails: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+emailColumns+`
		FROM tracked_emails
		WHERE updated_at >= $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`, f.Since, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list emails: %w", err)
	}
	defer rows.Close()

	var out []domain.EmailRecord
	for rows.Next() {
		rec, err := scanEmail(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan email: %w", err)
		}
		out = append(out, *rec)
	}
	return out, total, rows.Err()
}

func (r *TrackingRepo) ListOpens(ctx context.Context, emailID string) ([]domain.OpenEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email_id, recipient_email, user_agent, ip_address, device_type, opened_at
		FROM tracked_opens
		WHERE email_id = $1
		ORDER BY opened_at
	`, emailID)
	if err != nil {
		return nil, fmt.Errorf("list opens: %w", err)
	}
	defer rows.Close()

	var out []domain.OpenEvent
	for rows.Next() {
		var o domain.OpenEvent
		if err := rows.Scan(&o.ID, &o.EmailID, &o.RecipientEmail, &o.UserAgent, &o.IPAddress, &o.DeviceType, &o.Timestamp); err != nil {
			return nil, fmt.Errorf("scan open: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *TrackingRepo) ListClicks(ctx context.Context, emailID string) ([]domain.ClickEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email_id, recipient_email, url, user_agent, ip_address, device_type, clicked_at
		FROM tracked_clicks
		WHERE email_id = $1
		ORDER BY clicked_at
	`, emailID)
	if err != nil {
		return nil, fmt.Errorf("list clicks: %w", err)
	}
	defer rows.Close()

	var out []domain.ClickEvent
	for rows.Next() {
		var c domain.ClickEvent
		if err := rows.Scan(&c.ID, &c.EmailID, &c.RecipientEmail, &c.URL, &c.UserAgent, &c.IPAddress, &c.DeviceType, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("scan click: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
