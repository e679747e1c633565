// Package memory is an in-process metadata.Store backed by
// github.com/patrickmn/go-cache. Entries expire once their stale grace
// period has passed.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ggoodman/oauth2-sasl-go/metadata"
	gocache "github.com/patrickmn/go-cache"
)

// Store implements metadata.Store.
type Store struct {
	mu sync.Mutex
	c  *gocache.Cache
}

var _ metadata.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		c: gocache.New(metadata.DefaultTTL+metadata.StaleGrace, time.Minute),
	}
}

func (s *Store) Get(ctx context.Context, endpoint string) (*metadata.Entry, error) {
	v, ok := s.c.Get(endpoint)
	if !ok {
		return nil, nil
	}
	e, _ := v.(*metadata.Entry)
	return e, nil
}

func (s *Store) Put(ctx context.Context, e *metadata.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.c.Get(e.Endpoint); ok {
		if prev, _ := v.(*metadata.Entry); prev != nil && prev.FetchedAt.After(e.FetchedAt) {
			return nil
		}
	}
	s.c.Set(e.Endpoint, e, e.Retention())
	return nil
}

// Close stops nothing; go-cache's janitor is collected with the cache.
func (s *Store) Close() error {
	s.c.Flush()
	return nil
}
