package bulletin

import (
	"context"
	"time"
)

// Source fetches a page and returns the text of its bulletin region.
// A page with no matching region yields an empty string and no error.
type Source interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Extractor turns raw page text into candidate records.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]Record, error)
}

// Store is a content-addressed key-value cache. Get reports a miss with
// ok=false and a nil error.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Put(ctx context.Context, key string, value []byte) error
}

// Hasher computes hex digests used as cache keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Publisher pushes newly seen records to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator produces request IDs.
type IDGenerator interface {
	NewID() (string, error)
}
