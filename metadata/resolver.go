// Package metadata resolves an OpenID Connect provider's discovery document
// and signing keys, caching them according to the provider's cache
// directives. A refresh failure is absorbed by serving the previous key set
// for as long as the store retains it.
package metadata

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ggoodman/oauth2-sasl-go/internal/logctx"
	"github.com/ggoodman/oauth2-sasl-go/internal/metrics"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNetwork reports a transport failure, timeout or non-200 response
	// with nothing cached to fall back on.
	ErrNetwork = errors.New("metadata: network failure")
	// ErrFormat reports a discovery document or JWKS that could not be
	// decoded.
	ErrFormat = errors.New("metadata: invalid provider metadata")
)

const (
	// DefaultTTL applies when a response carries no usable cache directive.
	DefaultTTL = time.Hour
	// MinTTL is the floor for provider-supplied freshness.
	MinTTL = time.Minute
	// MaxTTL is the ceiling for provider-supplied freshness.
	MaxTTL = 24 * time.Hour
	// MinRefreshInterval rate-limits forced refreshes per endpoint.
	MinRefreshInterval = time.Minute
)

// Resolver yields the key set for a discovery endpoint.
type Resolver interface {
	// Resolve returns a key set that is fresh, or stale if a refresh failed.
	Resolve(ctx context.Context, endpoint string) (*KeySet, error)
	// Refresh re-fetches the endpoint even if the cached copy is fresh,
	// unless it was fetched, or a forced fetch was attempted, less than
	// MinRefreshInterval ago.
	Refresh(ctx context.Context, endpoint string) (*KeySet, error)
}

// Option configures an HTTPResolver.
type Option func(*HTTPResolver)

// WithHTTPClient replaces the HTTP client. Timeout and TLS options are not
// applied to a supplied client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *HTTPResolver) { r.client = c; r.customClient = true }
}

// WithTimeout bounds a complete fetch (discovery plus JWKS).
func WithTimeout(d time.Duration) Option {
	return func(r *HTTPResolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
func WithInsecureSkipVerify(skip bool) Option {
	return func(r *HTTPResolver) { r.insecure = skip }
}

// WithDefaultTTL sets the freshness used when providers send no directive.
func WithDefaultTTL(d time.Duration) Option {
	return func(r *HTTPResolver) {
		if d > 0 {
			r.defaultTTL = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *HTTPResolver) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *HTTPResolver) { r.log = l }
}

// HTTPResolver fetches metadata over HTTP and caches it in a Store.
type HTTPResolver struct {
	store        Store
	client       *http.Client
	customClient bool
	timeout      time.Duration
	insecure     bool
	defaultTTL   time.Duration
	now          func() time.Time
	log          *slog.Logger

	sf     singleflight.Group
	mu     sync.Mutex
	parsed map[string]*KeySet
	forced map[string]time.Time // last forced fetch attempt per endpoint
}

var _ Resolver = (*HTTPResolver)(nil)

// NewHTTPResolver returns a resolver backed by store.
func NewHTTPResolver(store Store, opts ...Option) *HTTPResolver {
	r := &HTTPResolver{
		store:      store,
		timeout:    10 * time.Second,
		defaultTTL: DefaultTTL,
		now:        time.Now,
		log:        slog.Default(),
		parsed:     map[string]*KeySet{},
		forced:     map[string]time.Time{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if !r.customClient {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		if r.insecure {
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in
		}
		r.client = &http.Client{Timeout: r.timeout, Transport: tr}
	}
	return r
}

// Resolve implements Resolver.
func (r *HTTPResolver) Resolve(ctx context.Context, endpoint string) (*KeySet, error) {
	ctx = logctx.WithProviderData(ctx, &logctx.ProviderData{Endpoint: endpoint})
	cur := r.cached(ctx, endpoint)
	if cur != nil && cur.Fresh(r.now()) {
		return r.keySet(cur)
	}
	return r.refresh(ctx, endpoint, cur, false)
}

// Refresh implements Resolver.
func (r *HTTPResolver) Refresh(ctx context.Context, endpoint string) (*KeySet, error) {
	ctx = logctx.WithProviderData(ctx, &logctx.ProviderData{Endpoint: endpoint})
	cur := r.cached(ctx, endpoint)
	return r.refresh(ctx, endpoint, cur, true)
}

// cached reads the store. A broken backend degrades to fetching every time.
func (r *HTTPResolver) cached(ctx context.Context, endpoint string) *Entry {
	e, err := r.store.Get(ctx, endpoint)
	if err != nil {
		r.log.WarnContext(ctx, "metadata.store.get.fail", slog.String("err", err.Error()))
		return nil
	}
	return e
}

type fetchResult struct {
	entry   *Entry
	fetched bool
}

func (r *HTTPResolver) refresh(ctx context.Context, endpoint string, cur *Entry, forced bool) (*KeySet, error) {
	if forced && !r.allowForced(endpoint, cur) {
		if cur != nil {
			return r.keySet(cur)
		}
		return nil, fmt.Errorf("%w: forced refresh of %s is rate limited", ErrNetwork, endpoint)
	}

	// The fetch runs detached from the first caller's cancellation so that
	// callers coalesced onto it are not failed by someone else hanging up.
	ch := r.sf.DoChan(endpoint, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		if !forced {
			if e := r.cached(fctx, endpoint); e != nil && e.Fresh(r.now()) {
				return fetchResult{entry: e}, nil
			}
		}
		e, err := r.fetch(fctx, endpoint)
		if err != nil {
			return nil, err
		}
		if perr := r.store.Put(fctx, e); perr != nil {
			r.log.WarnContext(ctx, "metadata.store.put.fail", slog.String("err", perr.Error()))
		}
		return fetchResult{entry: e, fetched: true}, nil
	})

	var err error
	select {
	case res := <-ch:
		if res.Err == nil {
			fr := res.Val.(fetchResult)
			if fr.fetched {
				metrics.MetadataFetches.WithLabelValues("ok").Inc()
			}
			return r.keySet(fr.entry)
		}
		err = res.Err
		metrics.MetadataFetches.WithLabelValues("error").Inc()
	case <-ctx.Done():
		err = fmt.Errorf("%w: %v", ErrNetwork, ctx.Err())
	}

	if cur != nil {
		r.log.WarnContext(ctx, "metadata.refresh.stale",
			slog.String("err", err.Error()),
			slog.Time("fetched_at", cur.FetchedAt),
			slog.Time("fresh_until", cur.FreshUntil),
		)
		metrics.MetadataStaleServed.Inc()
		return r.keySet(cur)
	}
	r.log.ErrorContext(ctx, "metadata.fetch.fail", slog.String("err", err.Error()))
	return nil, err
}

// allowForced reports whether a forced fetch may start now and, if so,
// records the attempt. Failed attempts count against the limit as well.
func (r *HTTPResolver) allowForced(endpoint string, cur *Entry) bool {
	now := r.now()
	if cur != nil && now.Sub(cur.FetchedAt) < MinRefreshInterval {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if last, ok := r.forced[endpoint]; ok && now.Sub(last) < MinRefreshInterval {
		return false
	}
	r.forced[endpoint] = now
	return true
}

// keySet returns the decoded form of e, reusing a previous decode of the
// same fetch.
func (r *HTTPResolver) keySet(e *Entry) (*KeySet, error) {
	r.mu.Lock()
	ks, ok := r.parsed[e.Endpoint]
	r.mu.Unlock()
	if ok && ks.FetchedAt.Equal(e.FetchedAt) {
		return ks, nil
	}
	ks, err := newKeySet(e)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if prev, ok := r.parsed[e.Endpoint]; !ok || !prev.FetchedAt.After(ks.FetchedAt) {
		r.parsed[e.Endpoint] = ks
	}
	r.mu.Unlock()
	return ks, nil
}

func (r *HTTPResolver) fetch(ctx context.Context, endpoint string) (*Entry, error) {
	start := r.now()
	doc, docTTL, err := r.get(ctx, endpoint, discoveryTypes)
	if err != nil {
		return nil, err
	}
	pc, err := decodeProvider(doc)
	if err != nil {
		return nil, err
	}
	jwks, jwksTTL, err := r.get(ctx, pc.JWKSURL, jwksTypes)
	if err != nil {
		return nil, err
	}
	e := &Entry{Endpoint: endpoint, Discovery: doc, JWKS: jwks}
	if _, err := newKeySet(e); err != nil {
		return nil, err
	}

	ttl := min(docTTL, jwksTTL)
	e.FetchedAt = r.now()
	e.FreshUntil = e.FetchedAt.Add(ttl)
	r.log.DebugContext(ctx, "metadata.fetch.ok",
		slog.String("jwks_uri", pc.JWKSURL),
		slog.Duration("ttl", ttl),
		slog.Duration("took", e.FetchedAt.Sub(start)),
	)
	return e, nil
}
