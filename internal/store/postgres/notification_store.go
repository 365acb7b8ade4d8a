package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// NotificationStore implements domain.NotificationStore using PostgreSQL.
type NotificationStore struct {
	pool *pgxpool.Pool
}

// NewNotificationStore creates a new NotificationStore backed by the given pool.
func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{pool: pool}
}

const notificationCols = `id, alert_id, product_id, channel, status, payload,
	sent_at, error_message, created_at, updated_at`

func scanNotification(row pgx.Row) (domain.Notification, error) {
	var n domain.Notification
	var productID *int64
	var channel, status string
	err := row.Scan(
		&n.ID, &n.AlertID, &productID, &channel, &status, &n.Payload,
		&n.SentAt, &n.ErrorMessage, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return domain.Notification{}, err
	}
	if productID != nil {
		n.ProductID = *productID
	}
	n.Channel = domain.NotificationChannel(channel)
	n.Status = domain.NotificationStatus(status)
	return n, nil
}

// Create inserts a notification in pending state. A zero ProductID is
// stored as NULL so store-level notices do not need a product row.
func (s *NotificationStore) Create(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	if n.Status == "" {
		n.Status = domain.NotificationStatusPending
	}
	if n.Payload == nil {
		n.Payload = map[string]any{}
	}
	var productID *int64
	if n.ProductID != 0 {
		productID = &n.ProductID
	}

	const query = `
		INSERT INTO notifications (alert_id, product_id, channel, status, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err := s.pool.QueryRow(ctx, query,
		n.AlertID, productID, string(n.Channel), string(n.Status), n.Payload,
	).Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return domain.Notification{}, fmt.Errorf("postgres: create notification: %w", err)
	}
	return n, nil
}

// MarkSent transitions a notification to sent with its delivery time.
func (s *NotificationStore) MarkSent(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET status = 'sent', sent_at = $2, updated_at = NOW()
		 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("postgres: mark notification %d sent: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkFailed transitions a notification to failed and records the reason.
func (s *NotificationStore) MarkFailed(ctx context.Context, id int64, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET status = 'failed', error_message = $2, updated_at = NOW()
		 WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("postgres: mark notification %d failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// LastSent returns the most recent sent notification for a product and
// alert pair inside the given window. A nil alertID matches notifications
// with no alert, not any alert. domain.ErrNotFound means no match, which
// the dedup check treats as clearance to send.
func (s *NotificationStore) LastSent(ctx context.Context, productID int64, alertID *int64, since time.Time) (domain.Notification, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+notificationCols+` FROM notifications
		 WHERE product_id = $1
		   AND status = 'sent'
		   AND created_at >= $3
		   AND (($2::bigint IS NULL AND alert_id IS NULL) OR alert_id = $2)
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`, productID, alertID, since)
	n, err := scanNotification(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Notification{}, domain.ErrNotFound
		}
		return domain.Notification{}, fmt.Errorf("postgres: last sent notification for product %d: %w", productID, err)
	}
	return n, nil
}

// ListPending returns notifications awaiting delivery, oldest first.
func (s *NotificationStore) ListPending(ctx context.Context, limit int) ([]domain.Notification, error) {
	query := `SELECT ` + notificationCols + ` FROM notifications
		WHERE status = 'pending'
		ORDER BY created_at, id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	return s.queryNotifications(ctx, "list pending notifications", query, args...)
}

// ListBefore returns notifications older than the cutoff, oldest first, for
// archival before pruning.
func (s *NotificationStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Notification, error) {
	query := `SELECT ` + notificationCols + ` FROM notifications
		WHERE created_at < $1
		ORDER BY created_at, id`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	return s.queryNotifications(ctx, "list notifications before cutoff", query, args...)
}

func (s *NotificationStore) queryNotifications(ctx context.Context, op, query string, args ...any) ([]domain.Notification, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var notifications []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s scan: %w", op, err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return notifications, nil
}

// DeleteBefore removes notifications older than the cutoff and reports how
// many rows went away.
func (s *NotificationStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM notifications WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete notifications before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}
