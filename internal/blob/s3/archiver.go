package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/pricewatch/internal/domain"
)

// ScrapeLogSource and NotificationSource are the read slices of the store
// interfaces the archiver needs. A limit of 0 means no limit; the retention
// window keeps the expired set small between cleanup runs.

type ScrapeLogSource interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.ScrapeLog, error)
}

type NotificationSource interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Notification, error)
}

// Archive implements domain.Archiver by copying expired rows to
// date-partitioned JSONL objects:
//
//	scrape_logs/2026/08/24.jsonl
//	notifications/2026/08/24.jsonl
//
// Callers pass a cutoff on a UTC day boundary, so every object covers a
// complete day and a rerun after a partial failure rewrites identical
// content. Pruning the archived rows is the caller's job; an error from
// either method means the upload is incomplete and nothing may be deleted.
type Archive struct {
	writer        domain.BlobWriter
	logs          ScrapeLogSource
	notifications NotificationSource
}

func NewArchive(writer domain.BlobWriter, logs ScrapeLogSource, notifications NotificationSource) *Archive {
	return &Archive{
		writer:        writer,
		logs:          logs,
		notifications: notifications,
	}
}

// scrapeLogRecord is the archived form of a scrape log row. The shape is
// frozen independently of the domain struct so old archives stay readable.
type scrapeLogRecord struct {
	ID             int64     `json:"id"`
	ProductID      int64     `json:"product_id"`
	Success        bool      `json:"success"`
	StrategyUsed   string    `json:"strategy_used,omitempty"`
	ErrorType      string    `json:"error_type,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	ResponseTimeMS int       `json:"response_time_ms"`
	BatchID        string    `json:"batch_id,omitempty"`
	ScrapedAt      time.Time `json:"scraped_at"`
}

type notificationRecord struct {
	ID           int64          `json:"id"`
	AlertID      *int64         `json:"alert_id,omitempty"`
	ProductID    int64          `json:"product_id"`
	Channel      string         `json:"channel"`
	Status       string         `json:"status"`
	Payload      map[string]any `json:"payload,omitempty"`
	SentAt       *time.Time     `json:"sent_at,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ArchiveScrapeLogs uploads every scrape log older than the cutoff, one
// object per UTC day, and returns the number of rows archived.
func (a *Archive) ArchiveScrapeLogs(ctx context.Context, before time.Time) (int64, error) {
	logs, err := a.logs.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive scrape logs query: %w", err)
	}
	if len(logs) == 0 {
		return 0, nil
	}

	byDay := make(map[string][]scrapeLogRecord)
	for _, l := range logs {
		day := l.ScrapedAt.UTC().Format("2006/01/02")
		byDay[day] = append(byDay[day], scrapeLogRecord{
			ID:             l.ID,
			ProductID:      l.ProductID,
			Success:        l.Success,
			StrategyUsed:   string(l.StrategyUsed),
			ErrorType:      string(l.ErrorType),
			ErrorMessage:   l.ErrorMessage,
			ResponseTimeMS: l.ResponseTimeMS,
			BatchID:        l.BatchID,
			ScrapedAt:      l.ScrapedAt.UTC(),
		})
	}

	if err := uploadPartitions(ctx, a.writer, "scrape_logs", byDay); err != nil {
		return 0, err
	}
	return int64(len(logs)), nil
}

// ArchiveNotifications uploads every notification older than the cutoff,
// one object per UTC day, and returns the number of rows archived.
func (a *Archive) ArchiveNotifications(ctx context.Context, before time.Time) (int64, error) {
	notifications, err := a.notifications.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive notifications query: %w", err)
	}
	if len(notifications) == 0 {
		return 0, nil
	}

	byDay := make(map[string][]notificationRecord)
	for _, n := range notifications {
		day := n.CreatedAt.UTC().Format("2006/01/02")
		byDay[day] = append(byDay[day], notificationRecord{
			ID:           n.ID,
			AlertID:      n.AlertID,
			ProductID:    n.ProductID,
			Channel:      string(n.Channel),
			Status:       string(n.Status),
			Payload:      n.Payload,
			SentAt:       n.SentAt,
			ErrorMessage: n.ErrorMessage,
			CreatedAt:    n.CreatedAt.UTC(),
		})
	}

	if err := uploadPartitions(ctx, a.writer, "notifications", byDay); err != nil {
		return 0, err
	}
	return int64(len(notifications)), nil
}

// uploadPartitions writes one JSONL object per day under the given prefix,
// oldest day first. Objects past the multipart threshold go through the
// upload manager.
func uploadPartitions[T any](ctx context.Context, w domain.BlobWriter, prefix string, byDay map[string][]T) error {
	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	for _, day := range days {
		path := prefix + "/" + day + ".jsonl"
		buf, err := marshalJSONL(byDay[day])
		if err != nil {
			return fmt.Errorf("s3blob: archive marshal %s: %w", path, err)
		}
		if int64(len(buf)) > minPartSize {
			if err := w.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize); err != nil {
				return fmt.Errorf("s3blob: archive upload %s: %w", path, err)
			}
			continue
		}
		if err := w.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return fmt.Errorf("s3blob: archive upload %s: %w", path, err)
		}
	}
	return nil
}

// marshalJSONL serializes records as newline-delimited JSON, one compact
// line per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
