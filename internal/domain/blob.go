package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver copies expired rows to cold storage. The cleanup job archives
// before it prunes; an archive failure must abort the prune.
type Archiver interface {
	ArchiveScrapeLogs(ctx context.Context, before time.Time) (int64, error)
	ArchiveNotifications(ctx context.Context, before time.Time) (int64, error)
}
