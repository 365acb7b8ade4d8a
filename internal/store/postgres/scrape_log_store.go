package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// ScrapeLogStore implements domain.ScrapeLogStore using PostgreSQL.
type ScrapeLogStore struct {
	pool *pgxpool.Pool
}

// NewScrapeLogStore creates a new ScrapeLogStore backed by the given pool.
func NewScrapeLogStore(pool *pgxpool.Pool) *ScrapeLogStore {
	return &ScrapeLogStore{pool: pool}
}

const scrapeLogCols = `id, product_id, success, strategy_used, error_type,
	error_message, response_time_ms, batch_id, scraped_at`

func scanScrapeLog(row pgx.Row) (domain.ScrapeLog, error) {
	var l domain.ScrapeLog
	var strategy, errorType string
	err := row.Scan(
		&l.ID, &l.ProductID, &l.Success, &strategy, &errorType,
		&l.ErrorMessage, &l.ResponseTimeMS, &l.BatchID, &l.ScrapedAt,
	)
	if err != nil {
		return domain.ScrapeLog{}, err
	}
	l.StrategyUsed = domain.ExtractionStrategy(strategy)
	l.ErrorType = domain.ScrapeErrorType(errorType)
	return l, nil
}

// Insert records the outcome of one scrape attempt.
func (s *ScrapeLogStore) Insert(ctx context.Context, l domain.ScrapeLog) error {
	scrapedAt := l.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scrape_logs (
			product_id, success, strategy_used, error_type,
			error_message, response_time_ms, batch_id, scraped_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.ProductID, l.Success, string(l.StrategyUsed), string(l.ErrorType),
		l.ErrorMessage, l.ResponseTimeMS, l.BatchID, scrapedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert scrape log for product %d: %w", l.ProductID, err)
	}
	return nil
}

// LatestByProduct returns the newest log entry for a product.
func (s *ScrapeLogStore) LatestByProduct(ctx context.Context, productID int64) (domain.ScrapeLog, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+scrapeLogCols+` FROM scrape_logs
		 WHERE product_id = $1
		 ORDER BY scraped_at DESC, id DESC
		 LIMIT 1`, productID)
	l, err := scanScrapeLog(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ScrapeLog{}, domain.ErrNotFound
		}
		return domain.ScrapeLog{}, fmt.Errorf("postgres: latest scrape log for product %d: %w", productID, err)
	}
	return l, nil
}

// LatestFailure returns the newest failed log entry for a product. The
// healing pass uses it to decide whether the failure category is fixable.
func (s *ScrapeLogStore) LatestFailure(ctx context.Context, productID int64) (domain.ScrapeLog, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+scrapeLogCols+` FROM scrape_logs
		 WHERE product_id = $1 AND NOT success
		 ORDER BY scraped_at DESC, id DESC
		 LIMIT 1`, productID)
	l, err := scanScrapeLog(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ScrapeLog{}, domain.ErrNotFound
		}
		return domain.ScrapeLog{}, fmt.Errorf("postgres: latest failed scrape log for product %d: %w", productID, err)
	}
	return l, nil
}

// ListByProduct returns recent log entries for a product, newest first.
func (s *ScrapeLogStore) ListByProduct(ctx context.Context, productID int64, limit int) ([]domain.ScrapeLog, error) {
	query := `SELECT ` + scrapeLogCols + ` FROM scrape_logs
		WHERE product_id = $1
		ORDER BY scraped_at DESC, id DESC`
	args := []any{productID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list scrape logs for product %d: %w", productID, err)
	}
	defer rows.Close()

	var logs []domain.ScrapeLog
	for rows.Next() {
		l, err := scanScrapeLog(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan scrape log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scrape log rows: %w", err)
	}
	return logs, nil
}

// CountSince returns total and succeeded attempt counts for one store over
// a window, joining through products to resolve the store.
func (s *ScrapeLogStore) CountSince(ctx context.Context, storeDomain string, since time.Time) (total, succeeded int64, err error) {
	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE l.success)
		 FROM scrape_logs l
		 JOIN products p ON p.id = l.product_id
		 WHERE p.store_domain = $1 AND l.scraped_at >= $2`,
		storeDomain, since).Scan(&total, &succeeded)
	if err != nil {
		return 0, 0, fmt.Errorf("postgres: count scrape logs for store %s: %w", storeDomain, err)
	}
	return total, succeeded, nil
}

// LatestSuccess returns the time of the most recent successful scrape of
// any of the store's products.
func (s *ScrapeLogStore) LatestSuccess(ctx context.Context, storeDomain string) (time.Time, error) {
	var at time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT l.scraped_at
		 FROM scrape_logs l
		 JOIN products p ON p.id = l.product_id
		 WHERE p.store_domain = $1 AND l.success
		 ORDER BY l.scraped_at DESC
		 LIMIT 1`,
		storeDomain).Scan(&at)
	if err != nil {
		if err == pgx.ErrNoRows {
			return time.Time{}, domain.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("postgres: latest success for store %s: %w", storeDomain, err)
	}
	return at, nil
}

// ListBefore returns log entries older than the cutoff, oldest first, for
// archival before pruning.
func (s *ScrapeLogStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.ScrapeLog, error) {
	query := `SELECT ` + scrapeLogCols + ` FROM scrape_logs
		WHERE scraped_at < $1
		ORDER BY scraped_at, id`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list scrape logs before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var logs []domain.ScrapeLog
	for rows.Next() {
		l, err := scanScrapeLog(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan scrape log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scrape log rows: %w", err)
	}
	return logs, nil
}

// DeleteBefore removes log entries older than the cutoff and reports how
// many rows went away.
func (s *ScrapeLogStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM scrape_logs WHERE scraped_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete scrape logs before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}
