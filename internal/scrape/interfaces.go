package scrape

import (
	"context"
	"time"
)

// Store persists result records keyed by request ID and queryable by cache key.
type Store interface {
	// FindByKey returns the current record for (url, selector) or ErrNotFound.
	FindByKey(ctx context.Context, url, selector string) (Result, error)
	// FindByID returns the record with the given ID or ErrNotFound.
	FindByID(ctx context.Context, requestID string) (Result, error)
	// Create inserts a new pending record. The ID must not exist yet.
	Create(ctx context.Context, result Result) error
	// Delete removes a record; its ID is never valid again.
	Delete(ctx context.Context, requestID string) error
	// Commit writes the terminal fields of a record exactly once.
	// Committing an already terminal record is a no-op.
	Commit(ctx context.Context, result Result) error
	// Close releases backend resources.
	Close() error
}

// Fetcher retrieves raw page content for a URL, optionally narrowed to a selector.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (string, error)
}

// Queue provides enqueue/dequeue semantics for scheduled workflows.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces request IDs.
type IDGenerator interface {
	NewID() (string, error)
}
