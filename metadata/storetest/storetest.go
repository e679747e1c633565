// Package storetest is a conformance suite for metadata.Store backends.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/oauth2-sasl-go/metadata"
)

// StoreFactory creates a new, empty Store for a test. The suite closes it.
type StoreFactory func(t *testing.T) metadata.Store

// RunStoreTests runs the complete Store test suite against the provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("GetMissReturnsNil", func(t *testing.T) { testGetMiss(t, factory) })
	t.Run("PutThenGet", func(t *testing.T) { testPutThenGet(t, factory) })
	t.Run("PutReplacesWithNewer", func(t *testing.T) { testPutNewer(t, factory) })
	t.Run("PutKeepsNewerOverOlder", func(t *testing.T) { testPutOlder(t, factory) })
	t.Run("IsolationBetweenEndpoints", func(t *testing.T) { testIsolation(t, factory) })
	t.Run("StaleEntryRetained", func(t *testing.T) { testStaleRetained(t, factory) })
	t.Run("ConcurrentPutGet", func(t *testing.T) { testConcurrent(t, factory) })
	t.Run("RetentionIgnoresWallClock", func(t *testing.T) { testSkewedClock(t, factory) })
}

func uniqueEndpoint(t *testing.T, name string) string {
	return fmt.Sprintf("https://%s.test/%d/.well-known/openid-configuration", name, time.Now().UnixNano())
}

func entry(endpoint string, fetched time.Time, ttl time.Duration, kid string) *metadata.Entry {
	return &metadata.Entry{
		Endpoint:   endpoint,
		Discovery:  json.RawMessage(`{"issuer":"https://idp.test","jwks_uri":"https://idp.test/keys"}`),
		JWKS:       json.RawMessage(fmt.Sprintf(`{"keys":[{"kid":%q}]}`, kid)),
		FetchedAt:  fetched,
		FreshUntil: fetched.Add(ttl),
	}
}

func kidOf(t *testing.T, e *metadata.Entry) string {
	t.Helper()
	var set struct {
		Keys []struct {
			KID string `json:"kid"`
		} `json:"keys"`
	}
	if err := json.Unmarshal(e.JWKS, &set); err != nil || len(set.Keys) != 1 {
		t.Fatalf("unexpected jwks %s: %v", e.JWKS, err)
	}
	return set.Keys[0].KID
}

func testGetMiss(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()
	e, err := s.Get(context.Background(), uniqueEndpoint(t, "miss"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e != nil {
		t.Fatalf("expected nil entry, got %+v", e)
	}
}

func testPutThenGet(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()
	ctx := context.Background()
	ep := uniqueEndpoint(t, "put")
	now := time.Now().Truncate(time.Microsecond)
	if err := s.Put(ctx, entry(ep, now, time.Hour, "k1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, ep)
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.Endpoint != ep || !got.FetchedAt.Equal(now) || !got.FreshUntil.Equal(now.Add(time.Hour)) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if kidOf(t, got) != "k1" {
		t.Fatalf("jwks mismatch: %s", got.JWKS)
	}
}

func testPutNewer(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()
	ctx := context.Background()
	ep := uniqueEndpoint(t, "newer")
	now := time.Now()
	_ = s.Put(ctx, entry(ep, now, time.Hour, "old"))
	if err := s.Put(ctx, entry(ep, now.Add(time.Second), time.Hour, "new")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, _ := s.Get(ctx, ep)
	if got == nil || kidOf(t, got) != "new" {
		t.Fatalf("expected newer entry, got %+v", got)
	}
}

func testPutOlder(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()
	ctx := context.Background()
	ep := uniqueEndpoint(t, "older")
	now := time.Now()
	_ = s.Put(ctx, entry(ep, now, time.Hour, "new"))
	if err := s.Put(ctx, entry(ep, now.Add(-time.Minute), time.Hour, "old")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, _ := s.Get(ctx, ep)
	if got == nil || kidOf(t, got) != "new" {
		t.Fatalf("older entry replaced newer one: %+v", got)
	}
}

func testIsolation(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()
	ctx := context.Background()
	a, b := uniqueEndpoint(t, "a"), uniqueEndpoint(t, "b")
	now := time.Now()
	_ = s.Put(ctx, entry(a, now, time.Hour, "ka"))
	_ = s.Put(ctx, entry(b, now, time.Hour, "kb"))
	ga, _ := s.Get(ctx, a)
	gb, _ := s.Get(ctx, b)
	if ga == nil || gb == nil || kidOf(t, ga) != "ka" || kidOf(t, gb) != "kb" {
		t.Fatalf("entries crossed: %+v %+v", ga, gb)
	}
}

func testStaleRetained(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()
	ctx := context.Background()
	ep := uniqueEndpoint(t, "stale")
	fetched := time.Now().Add(-2 * time.Hour)
	if err := s.Put(ctx, entry(ep, fetched, time.Hour, "k")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, ep)
	if err != nil || got == nil {
		t.Fatalf("stale entry should still be served: %v %v", got, err)
	}
	if got.Fresh(time.Now()) {
		t.Fatalf("entry should be stale")
	}
}

// testSkewedClock writes an entry stamped by a clock far behind the wall
// clock. Retention comes from the entry's own timestamps, so the entry must
// outlive the one-second floor a wall clock comparison would give it.
func testSkewedClock(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()
	ctx := context.Background()
	ep := uniqueEndpoint(t, "skew")
	if err := s.Put(ctx, entry(ep, time.Now().Add(-30*24*time.Hour), time.Hour, "k")); err != nil {
		t.Fatalf("put: %v", err)
	}
	time.Sleep(1500 * time.Millisecond)
	got, err := s.Get(ctx, ep)
	if err != nil || got == nil {
		t.Fatalf("entry evicted early: %v %v", got, err)
	}
}

func testConcurrent(t *testing.T, factory StoreFactory) {
	s := factory(t)
	defer s.Close()
	ctx := context.Background()
	ep := uniqueEndpoint(t, "conc")
	base := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Put(ctx, entry(ep, base.Add(time.Duration(i)*time.Millisecond), time.Hour, fmt.Sprintf("k%d", i)))
			if _, err := s.Get(ctx, ep); err != nil {
				t.Errorf("get: %v", err)
			}
		}(i)
	}
	wg.Wait()
	got, _ := s.Get(ctx, ep)
	if got == nil || kidOf(t, got) != "k15" {
		t.Fatalf("expected newest entry to win, got %+v", got)
	}
}
