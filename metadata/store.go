package metadata

import (
	"context"
	"encoding/json"
	"time"
)

// StaleGrace is how long a store keeps an entry past its freshness deadline
// so it can still be served when the provider is unreachable.
const StaleGrace = 24 * time.Hour

// Entry is one provider's cached metadata: the raw discovery document and
// JWKS as fetched, plus freshness bookkeeping. Entries are immutable once
// stored; a refresh replaces the whole entry.
type Entry struct {
	Endpoint   string          `json:"endpoint"`
	Discovery  json.RawMessage `json:"discovery"`
	JWKS       json.RawMessage `json:"jwks"`
	FetchedAt  time.Time       `json:"fetched_at"`
	FreshUntil time.Time       `json:"fresh_until"`
}

// Fresh reports whether the entry may be used at now without a refresh.
func (e *Entry) Fresh(now time.Time) bool { return now.Before(e.FreshUntil) }

// Retention is how long a store should keep the entry once it is written.
// It is measured from FetchedAt so that it only depends on the clock that
// stamped the entry, not on the store's.
func (e *Entry) Retention() time.Duration {
	d := e.FreshUntil.Sub(e.FetchedAt) + StaleGrace
	if d < time.Second {
		return time.Second
	}
	return d
}

// Store persists entries keyed by discovery endpoint.
type Store interface {
	// Get returns the entry for endpoint, or nil with a nil error when there
	// is none. Errors are reserved for backend failures.
	Get(ctx context.Context, endpoint string) (*Entry, error)
	// Put stores e unless the store already holds a newer entry for the same
	// endpoint.
	Put(ctx context.Context, e *Entry) error
	// Close releases backend resources.
	Close() error
}
