package memory

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by a Retriever after Close.
var ErrClosed = errors.New("memory: retriever closed")

// Store is a per-agent vector similarity store of memory records.
type Store interface {
	// Add persists a new record. Adding an existing id overwrites it.
	Add(ctx context.Context, rec Record) error
	// QuerySimilar returns up to k records nearest to text, closest first,
	// with cosine distances in [0, 2].
	QuerySimilar(ctx context.Context, text string, k int) ([]Candidate, error)
	// GetByIDs returns the records that exist among ids.
	GetByIDs(ctx context.Context, ids []string) ([]Record, error)
	// UpdateAccessed advances LastAccessedAt for each id in one batch.
	// Implementations must not move an access time backwards.
	UpdateAccessed(ctx context.Context, touches map[string]time.Time) error
	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
	Close() error
}
