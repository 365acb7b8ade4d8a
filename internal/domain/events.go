package domain

import "time"

// IndexEventKind names the vector-index sync operations the core emits.
type IndexEventKind string

const (
	IndexEventIndexed  IndexEventKind = "product.indexed"
	IndexEventMetadata IndexEventKind = "product.metadata"
	IndexEventReembed  IndexEventKind = "product.reembed"
	IndexEventRemoved  IndexEventKind = "product.removed"
)

// IndexEvent asks the search side to (re)index one product. Events are
// published fire-and-forget; the monitoring core never blocks on them.
type IndexEvent struct {
	Kind        IndexEventKind `json:"kind"`
	ProductID   int64          `json:"product_id"`
	StoreDomain string         `json:"store_domain,omitempty"`
	Name        string         `json:"name,omitempty"`
	Brand       string         `json:"brand,omitempty"`
	Price       *float64       `json:"price,omitempty"`
	InStock     bool           `json:"in_stock"`
	EmittedAt   time.Time      `json:"emitted_at"`
}
