package oauth2sasl

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/oauth2-sasl-go/metadata"
	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Plugin.
type Option func(*options)

type options struct {
	handler  slog.Handler
	client   *http.Client
	store    metadata.Store
	registry prometheus.Registerer
	now      func() time.Time
}

// WithLogger directs diagnostics to l's handler. Records below the level
// selected by oauth2_debug are dropped before they reach it. The default
// writes text to stderr.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.handler = l.Handler()
		}
	}
}

// WithHTTPClient sets the client used to fetch provider metadata. The
// oauth2_timeout and oauth2_ssl_verify settings are not applied to it.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithMetadataStore supplies the metadata cache instead of building one from
// oauth2_cache. The plugin does not close a supplied store.
func WithMetadataStore(s metadata.Store) Option {
	return func(o *options) { o.store = s }
}

// WithMetricsRegisterer registers the plugin's collectors on reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

// WithClock overrides the time source for token and cache checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}
