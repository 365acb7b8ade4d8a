package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// CanonicalStore implements domain.CanonicalStore using PostgreSQL.
type CanonicalStore struct {
	pool *pgxpool.Pool
}

// NewCanonicalStore creates a new CanonicalStore backed by the given pool.
func NewCanonicalStore(pool *pgxpool.Pool) *CanonicalStore {
	return &CanonicalStore{pool: pool}
}

// Create inserts a canonical product. Two listings with the same non-empty
// UPC map to the same canonical row, so a duplicate insert reports
// domain.ErrAlreadyExists and the caller should fetch by UPC instead.
func (s *CanonicalStore) Create(ctx context.Context, c domain.CanonicalProduct) (domain.CanonicalProduct, error) {
	const query = `
		INSERT INTO canonical_products (name, brand, upc, category)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	err := s.pool.QueryRow(ctx, query, c.Name, c.Brand, c.UPC, c.Category).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.CanonicalProduct{}, domain.ErrAlreadyExists
		}
		return domain.CanonicalProduct{}, fmt.Errorf("postgres: create canonical product: %w", err)
	}
	return c, nil
}

// GetByUPC retrieves a canonical product by its UPC.
func (s *CanonicalStore) GetByUPC(ctx context.Context, upc string) (domain.CanonicalProduct, error) {
	var c domain.CanonicalProduct
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, brand, upc, category, deleted_at, created_at, updated_at
		 FROM canonical_products
		 WHERE upc = $1 AND deleted_at IS NULL`, upc).
		Scan(&c.ID, &c.Name, &c.Brand, &c.UPC, &c.Category, &c.DeletedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.CanonicalProduct{}, domain.ErrNotFound
		}
		return domain.CanonicalProduct{}, fmt.Errorf("postgres: get canonical product by upc: %w", err)
	}
	return c, nil
}
