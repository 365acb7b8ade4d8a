package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// PriceHistoryStore implements domain.PriceHistoryStore using PostgreSQL.
type PriceHistoryStore struct {
	pool *pgxpool.Pool
}

// NewPriceHistoryStore creates a new PriceHistoryStore backed by the given pool.
func NewPriceHistoryStore(pool *pgxpool.Pool) *PriceHistoryStore {
	return &PriceHistoryStore{pool: pool}
}

const pricePointCols = `id, product_id, price, original_price, in_stock, scraped_at`

func scanPricePoint(row pgx.Row) (domain.PricePoint, error) {
	var pt domain.PricePoint
	err := row.Scan(&pt.ID, &pt.ProductID, &pt.Price, &pt.OriginalPrice, &pt.InStock, &pt.ScrapedAt)
	if err != nil {
		return domain.PricePoint{}, err
	}
	return pt, nil
}

// Append records one observed price point for a product.
func (s *PriceHistoryStore) Append(ctx context.Context, pt domain.PricePoint) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_history (product_id, price, original_price, in_stock, scraped_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		pt.ProductID, pt.Price, pt.OriginalPrice, pt.InStock, pt.ScrapedAt)
	if err != nil {
		return fmt.Errorf("postgres: append price point for product %d: %w", pt.ProductID, err)
	}
	return nil
}

// Latest returns the most recently recorded price point for a product.
func (s *PriceHistoryStore) Latest(ctx context.Context, productID int64) (domain.PricePoint, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pricePointCols+` FROM price_history
		 WHERE product_id = $1
		 ORDER BY scraped_at DESC, id DESC
		 LIMIT 1`, productID)
	pt, err := scanPricePoint(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.PricePoint{}, domain.ErrNotFound
		}
		return domain.PricePoint{}, fmt.Errorf("postgres: latest price for product %d: %w", productID, err)
	}
	return pt, nil
}

// ListByProduct returns price points for a product, newest first. Since and
// Until bound the scraped_at range when set.
func (s *PriceHistoryStore) ListByProduct(ctx context.Context, productID int64, opts domain.ListOpts) ([]domain.PricePoint, error) {
	query := `SELECT ` + pricePointCols + ` FROM price_history WHERE product_id = $1`
	args := []any{productID}
	argIdx := 2

	if !opts.Since.IsZero() {
		query += fmt.Sprintf(" AND scraped_at >= $%d", argIdx)
		args = append(args, opts.Since)
		argIdx++
	}
	if !opts.Until.IsZero() {
		query += fmt.Sprintf(" AND scraped_at < $%d", argIdx)
		args = append(args, opts.Until)
		argIdx++
	}

	query += " ORDER BY scraped_at DESC, id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list price history for product %d: %w", productID, err)
	}
	defer rows.Close()

	var points []domain.PricePoint
	for rows.Next() {
		pt, err := scanPricePoint(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan price point: %w", err)
		}
		points = append(points, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: price history rows: %w", err)
	}
	return points, nil
}
