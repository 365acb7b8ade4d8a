package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// AlertStore implements domain.AlertStore using PostgreSQL.
type AlertStore struct {
	pool *pgxpool.Pool
}

// NewAlertStore creates a new AlertStore backed by the given pool.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

const alertCols = `id, product_id, alert_type, target_value, min_change_threshold,
	is_active, is_triggered, triggered_at, deleted_at, created_at, updated_at`

func scanAlert(row pgx.Row) (domain.Alert, error) {
	var a domain.Alert
	var alertType string
	err := row.Scan(
		&a.ID, &a.ProductID, &alertType, &a.TargetValue, &a.MinChangeThreshold,
		&a.IsActive, &a.IsTriggered, &a.TriggeredAt, &a.DeletedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Alert{}, err
	}
	a.Type = domain.AlertType(alertType)
	return a, nil
}

// Create inserts a new alert rule for a product.
func (s *AlertStore) Create(ctx context.Context, a domain.Alert) (domain.Alert, error) {
	const query = `
		INSERT INTO alerts (product_id, alert_type, target_value, min_change_threshold, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err := s.pool.QueryRow(ctx, query,
		a.ProductID, string(a.Type), a.TargetValue, a.MinChangeThreshold, a.IsActive,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return domain.Alert{}, fmt.Errorf("postgres: create alert: %w", err)
	}
	return a, nil
}

// GetByID retrieves an alert by its primary key.
func (s *AlertStore) GetByID(ctx context.Context, id int64) (domain.Alert, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+alertCols+` FROM alerts WHERE id = $1 AND deleted_at IS NULL`, id)
	a, err := scanAlert(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Alert{}, domain.ErrNotFound
		}
		return domain.Alert{}, fmt.Errorf("postgres: get alert %d: %w", id, err)
	}
	return a, nil
}

// ListActiveByProduct returns the active, untriggered-or-repeating alert
// rules for one product. Evaluation runs against this set after each
// successful scrape.
func (s *AlertStore) ListActiveByProduct(ctx context.Context, productID int64) ([]domain.Alert, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+alertCols+` FROM alerts
		 WHERE product_id = $1 AND is_active AND deleted_at IS NULL
		 ORDER BY id`, productID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alerts for product %d: %w", productID, err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: alert rows: %w", err)
	}
	return alerts, nil
}

// MarkTriggered records that an alert fired at the given time.
func (s *AlertStore) MarkTriggered(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET is_triggered = TRUE, triggered_at = $2, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("postgres: mark alert %d triggered: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetActive enables or disables an alert rule. Re-enabling clears the
// triggered flag so the rule can fire again.
func (s *AlertStore) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts
		 SET is_active = $2,
		     is_triggered = CASE WHEN $2 THEN FALSE ELSE is_triggered END,
		     updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id, active)
	if err != nil {
		return fmt.Errorf("postgres: set alert %d active=%t: %w", id, active, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
