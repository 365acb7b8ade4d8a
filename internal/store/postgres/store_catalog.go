package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// StoreCatalog implements domain.StoreCatalog using PostgreSQL.
type StoreCatalog struct {
	pool *pgxpool.Pool
}

// NewStoreCatalog creates a new StoreCatalog backed by the given pool.
func NewStoreCatalog(pool *pgxpool.Pool) *StoreCatalog {
	return &StoreCatalog{pool: pool}
}

// Upsert inserts or refreshes a store configuration. Operator-owned fields
// come from the seed; the learned health fields (success_rate,
// last_success_at) are deliberately absent from the update list so a seed
// refresh never erases them.
func (s *StoreCatalog) Upsert(ctx context.Context, st domain.Store) error {
	const query = `
		INSERT INTO stores (
			domain, name, is_whitelisted, is_active,
			selectors, rate_limit_rpm, success_rate, last_success_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			NOW(), NOW()
		)
		ON CONFLICT (domain) DO UPDATE SET
			name           = EXCLUDED.name,
			is_whitelisted = EXCLUDED.is_whitelisted,
			is_active      = EXCLUDED.is_active,
			selectors      = EXCLUDED.selectors,
			rate_limit_rpm = EXCLUDED.rate_limit_rpm,
			updated_at     = NOW()`

	_, err := s.pool.Exec(ctx, query,
		st.Domain, st.Name, st.IsWhitelisted, st.IsActive,
		st.Selectors, st.RateLimitRPM, st.SuccessRate, st.LastSuccessAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert store %s: %w", st.Domain, err)
	}
	return nil
}

// scanStore scans a single store row into a domain.Store.
func scanStore(row pgx.Row) (domain.Store, error) {
	var st domain.Store
	err := row.Scan(
		&st.Domain, &st.Name, &st.IsWhitelisted, &st.IsActive,
		&st.Selectors, &st.RateLimitRPM, &st.SuccessRate, &st.LastSuccessAt,
		&st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return domain.Store{}, err
	}
	return st, nil
}

const storeCols = `domain, name, is_whitelisted, is_active,
	selectors, rate_limit_rpm, success_rate, last_success_at,
	created_at, updated_at`

// GetByDomain retrieves a store by its normalized domain.
func (s *StoreCatalog) GetByDomain(ctx context.Context, domainName string) (domain.Store, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+storeCols+` FROM stores WHERE domain = $1`, domainName)
	st, err := scanStore(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Store{}, domain.ErrNotFound
		}
		return domain.Store{}, fmt.Errorf("postgres: get store %s: %w", domainName, err)
	}
	return st, nil
}

// ListActive returns all active stores ordered by domain.
func (s *StoreCatalog) ListActive(ctx context.Context) ([]domain.Store, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+storeCols+` FROM stores WHERE is_active ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active stores: %w", err)
	}
	defer rows.Close()

	var stores []domain.Store
	for rows.Next() {
		st, err := scanStore(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan store: %w", err)
		}
		stores = append(stores, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active stores rows: %w", err)
	}
	return stores, nil
}

// UpdateSelectors replaces a store's selector configuration, typically after
// a successful healing cycle.
func (s *StoreCatalog) UpdateSelectors(ctx context.Context, domainName string, sel domain.Selectors) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE stores SET selectors = $2, updated_at = NOW() WHERE domain = $1`,
		domainName, sel)
	if err != nil {
		return fmt.Errorf("postgres: update selectors for %s: %w", domainName, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateHealth persists a recomputed success rate. last_success_at only
// moves forward when a new value is provided.
func (s *StoreCatalog) UpdateHealth(ctx context.Context, domainName string, successRate float64, lastSuccessAt *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE stores
		 SET success_rate = $2,
		     last_success_at = COALESCE($3, last_success_at),
		     updated_at = NOW()
		 WHERE domain = $1`,
		domainName, successRate, lastSuccessAt)
	if err != nil {
		return fmt.Errorf("postgres: update health for %s: %w", domainName, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Count returns the total number of configured stores.
func (s *StoreCatalog) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM stores").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count stores: %w", err)
	}
	return count, nil
}
