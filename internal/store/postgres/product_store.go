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

// ProductStore implements domain.ProductStore using PostgreSQL.
type ProductStore struct {
	pool *pgxpool.Pool
}

// NewProductStore creates a new ProductStore backed by the given pool.
func NewProductStore(pool *pgxpool.Pool) *ProductStore {
	return &ProductStore{pool: pool}
}

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

// Create inserts a product and returns it with generated fields filled in.
// A second product with the same URL maps to domain.ErrAlreadyExists.
func (s *ProductStore) Create(ctx context.Context, p domain.Product) (domain.Product, error) {
	const query = `
		INSERT INTO products (
			url, store_domain, name, brand, upc, image_url,
			current_price, original_price, currency, in_stock,
			status, consecutive_failures, last_checked_at, canonical_id
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14
		)
		RETURNING id, created_at, updated_at`

	status := p.Status
	if status == "" {
		status = domain.ProductStatusActive
	}
	currency := p.Currency
	if currency == "" {
		currency = "CAD"
	}

	err := s.pool.QueryRow(ctx, query,
		p.URL, p.StoreDomain, p.Name, p.Brand, p.UPC, p.ImageURL,
		p.CurrentPrice, p.OriginalPrice, currency, p.InStock,
		string(status), p.ConsecutiveFailures, p.LastCheckedAt, p.CanonicalID,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.Product{}, domain.ErrAlreadyExists
		}
		return domain.Product{}, fmt.Errorf("postgres: create product: %w", err)
	}
	p.Status = status
	p.Currency = currency
	return p, nil
}

// scanProduct scans a single product row into a domain.Product.
func scanProduct(row pgx.Row) (domain.Product, error) {
	var p domain.Product
	var status string
	err := row.Scan(
		&p.ID, &p.URL, &p.StoreDomain, &p.Name, &p.Brand, &p.UPC, &p.ImageURL,
		&p.CurrentPrice, &p.OriginalPrice, &p.Currency, &p.InStock,
		&status, &p.ConsecutiveFailures, &p.LastCheckedAt, &p.CanonicalID,
		&p.DeletedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Product{}, err
	}
	p.Status = domain.ProductStatus(status)
	return p, nil
}

const productCols = `id, url, store_domain, name, brand, upc, image_url,
	current_price, original_price, currency, in_stock,
	status, consecutive_failures, last_checked_at, canonical_id,
	deleted_at, created_at, updated_at`

// GetByID retrieves a product by its primary key.
func (s *ProductStore) GetByID(ctx context.Context, id int64) (domain.Product, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+productCols+` FROM products WHERE id = $1 AND deleted_at IS NULL`, id)
	p, err := scanProduct(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Product{}, domain.ErrNotFound
		}
		return domain.Product{}, fmt.Errorf("postgres: get product %d: %w", id, err)
	}
	return p, nil
}

// GetByURL retrieves a product by its normalized URL.
func (s *ProductStore) GetByURL(ctx context.Context, url string) (domain.Product, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+productCols+` FROM products WHERE url = $1 AND deleted_at IS NULL`, url)
	p, err := scanProduct(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Product{}, domain.ErrNotFound
		}
		return domain.Product{}, fmt.Errorf("postgres: get product by url: %w", err)
	}
	return p, nil
}

// ListActive returns products eligible for routine monitoring: not deleted,
// and in a status the daily cycle still checks.
func (s *ProductStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Product, error) {
	query := `SELECT ` + productCols + ` FROM products
		WHERE deleted_at IS NULL
		  AND status IN ('active', 'error', 'price_unavailable')`
	args := []any{}
	argIdx := 1

	query += " ORDER BY id"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryProducts(ctx, "list active products", query, args...)
}

// ListByStore returns all live products for one store.
func (s *ProductStore) ListByStore(ctx context.Context, domainName string, opts domain.ListOpts) ([]domain.Product, error) {
	query := `SELECT ` + productCols + ` FROM products
		WHERE deleted_at IS NULL AND store_domain = $1`
	args := []any{domainName}
	argIdx := 2

	query += " ORDER BY id"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryProducts(ctx, "list products by store", query, args...)
}

// ListHealingCandidates returns products that have failed at least
// minFailures times in a row and have not already been parked, worst first.
func (s *ProductStore) ListHealingCandidates(ctx context.Context, minFailures, limit int) ([]domain.Product, error) {
	query := `SELECT ` + productCols + ` FROM products
		WHERE deleted_at IS NULL
		  AND consecutive_failures >= $1
		  AND status NOT IN ('needs_attention', 'archived', 'paused')
		ORDER BY consecutive_failures DESC, id
		LIMIT $2`
	return s.queryProducts(ctx, "list healing candidates", query, minFailures, limit)
}

func (s *ProductStore) queryProducts(ctx context.Context, op, query string, args ...any) ([]domain.Product, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s scan: %w", op, err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return products, nil
}

// Update persists the mutable fields of an existing product.
func (s *ProductStore) Update(ctx context.Context, p domain.Product) error {
	const query = `
		UPDATE products SET
			name            = $2,
			brand           = $3,
			upc             = $4,
			image_url       = $5,
			current_price   = $6,
			original_price  = $7,
			currency        = $8,
			in_stock        = $9,
			status          = $10,
			last_checked_at = $11,
			canonical_id    = $12,
			updated_at      = NOW()
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.Name, p.Brand, p.UPC, p.ImageURL,
		p.CurrentPrice, p.OriginalPrice, p.Currency, p.InStock,
		string(p.Status), p.LastCheckedAt, p.CanonicalID,
	)
	if err != nil {
		return fmt.Errorf("postgres: update product %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// IncrementFailures bumps the consecutive failure counter and returns the
// new value, so callers can apply threshold rules without a second query.
func (s *ProductStore) IncrementFailures(ctx context.Context, id int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`UPDATE products
		 SET consecutive_failures = consecutive_failures + 1, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL
		 RETURNING consecutive_failures`, id).Scan(&n)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("postgres: increment failures for product %d: %w", id, err)
	}
	return n, nil
}

// ResetFailures zeroes the consecutive failure counter.
func (s *ProductStore) ResetFailures(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE products
		 SET consecutive_failures = 0, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("postgres: reset failures for product %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetStatus moves a product to a new lifecycle status.
func (s *ProductStore) SetStatus(ctx context.Context, id int64, status domain.ProductStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: set status for product %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SoftDelete hides a product from every read path while keeping its history.
func (s *ProductStore) SoftDelete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("postgres: soft delete product %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Count returns the number of live products.
func (s *ProductStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM products WHERE deleted_at IS NULL").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count products: %w", err)
	}
	return count, nil
}
