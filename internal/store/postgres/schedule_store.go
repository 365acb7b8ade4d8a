package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// ScheduleStore implements domain.ScheduleStore using PostgreSQL.
type ScheduleStore struct {
	pool *pgxpool.Pool
}

// NewScheduleStore creates a new ScheduleStore backed by the given pool.
func NewScheduleStore(pool *pgxpool.Pool) *ScheduleStore {
	return &ScheduleStore{pool: pool}
}

const scheduleCols = `id, product_id, store_domain, cron_expression, is_active,
	last_run_at, next_run_at, deleted_at, created_at, updated_at`

func scanSchedule(row pgx.Row) (domain.Schedule, error) {
	var sc domain.Schedule
	err := row.Scan(
		&sc.ID, &sc.ProductID, &sc.StoreDomain, &sc.CronExpr, &sc.IsActive,
		&sc.LastRunAt, &sc.NextRunAt, &sc.DeletedAt, &sc.CreatedAt, &sc.UpdatedAt,
	)
	if err != nil {
		return domain.Schedule{}, err
	}
	return sc, nil
}

// Create inserts a custom check schedule. Exactly one of ProductID and
// StoreDomain should be set; the table CHECK constraint rejects neither.
func (s *ScheduleStore) Create(ctx context.Context, sc domain.Schedule) (domain.Schedule, error) {
	const query = `
		INSERT INTO schedules (product_id, store_domain, cron_expression, is_active, next_run_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err := s.pool.QueryRow(ctx, query,
		sc.ProductID, sc.StoreDomain, sc.CronExpr, sc.IsActive, sc.NextRunAt,
	).Scan(&sc.ID, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("postgres: create schedule: %w", err)
	}
	return sc, nil
}

// GetByID retrieves a schedule by its primary key.
func (s *ScheduleStore) GetByID(ctx context.Context, id int64) (domain.Schedule, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+scheduleCols+` FROM schedules WHERE id = $1 AND deleted_at IS NULL`, id)
	sc, err := scanSchedule(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Schedule{}, domain.ErrNotFound
		}
		return domain.Schedule{}, fmt.Errorf("postgres: get schedule %d: %w", id, err)
	}
	return sc, nil
}

// GetByProduct returns the schedule attached to a single product.
func (s *ScheduleStore) GetByProduct(ctx context.Context, productID int64) (domain.Schedule, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+scheduleCols+` FROM schedules
		 WHERE product_id = $1 AND deleted_at IS NULL
		 ORDER BY id DESC LIMIT 1`, productID)
	sc, err := scanSchedule(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Schedule{}, domain.ErrNotFound
		}
		return domain.Schedule{}, fmt.Errorf("postgres: get schedule for product %d: %w", productID, err)
	}
	return sc, nil
}

// GetByStore returns the store-wide schedule for a domain.
func (s *ScheduleStore) GetByStore(ctx context.Context, domainName string) (domain.Schedule, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+scheduleCols+` FROM schedules
		 WHERE store_domain = $1 AND product_id IS NULL AND deleted_at IS NULL
		 ORDER BY id DESC LIMIT 1`, domainName)
	sc, err := scanSchedule(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Schedule{}, domain.ErrNotFound
		}
		return domain.Schedule{}, fmt.Errorf("postgres: get schedule for store %s: %w", domainName, err)
	}
	return sc, nil
}

// ListActive returns every live, enabled schedule.
func (s *ScheduleStore) ListActive(ctx context.Context) ([]domain.Schedule, error) {
	return s.querySchedules(ctx, "list active schedules",
		`SELECT `+scheduleCols+` FROM schedules
		 WHERE is_active AND deleted_at IS NULL
		 ORDER BY id`)
}

// ListDue returns enabled schedules whose next run time has passed.
func (s *ScheduleStore) ListDue(ctx context.Context, now time.Time) ([]domain.Schedule, error) {
	return s.querySchedules(ctx, "list due schedules",
		`SELECT `+scheduleCols+` FROM schedules
		 WHERE is_active AND deleted_at IS NULL
		   AND next_run_at IS NOT NULL AND next_run_at <= $1
		 ORDER BY next_run_at`, now)
}

func (s *ScheduleStore) querySchedules(ctx context.Context, op, query string, args ...any) ([]domain.Schedule, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s scan: %w", op, err)
		}
		schedules = append(schedules, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return schedules, nil
}

// UpdateRun records a completed run and the computed time of the next one.
func (s *ScheduleStore) UpdateRun(ctx context.Context, id int64, lastRun, nextRun time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE schedules SET last_run_at = $2, next_run_at = $3, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id, lastRun, nextRun)
	if err != nil {
		return fmt.Errorf("postgres: update run for schedule %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetActive pauses or resumes a schedule.
func (s *ScheduleStore) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE schedules SET is_active = $2, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id, active)
	if err != nil {
		return fmt.Errorf("postgres: set schedule %d active=%t: %w", id, active, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete soft-deletes a schedule and disables it in the same statement.
func (s *ScheduleStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE schedules SET deleted_at = NOW(), is_active = FALSE, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete schedule %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
