// Package oauth2sasl wires configuration, provider metadata and token
// validation into a handle that hands out XOAUTH2 and OAUTHBEARER server
// sessions.
package oauth2sasl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/ggoodman/oauth2-sasl-go/auth"
	"github.com/ggoodman/oauth2-sasl-go/config"
	"github.com/ggoodman/oauth2-sasl-go/internal/logctx"
	"github.com/ggoodman/oauth2-sasl-go/internal/metrics"
	"github.com/ggoodman/oauth2-sasl-go/metadata"
	"github.com/ggoodman/oauth2-sasl-go/metadata/memory"
	"github.com/ggoodman/oauth2-sasl-go/metadata/redis"
	"github.com/ggoodman/oauth2-sasl-go/sasl"
	"github.com/ggoodman/oauth2-sasl-go/settings"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrClosed is returned by NewSession after Close.
	ErrClosed = errors.New("oauth2sasl: plugin closed")
	// ErrResourceExhausted is returned by NewSession when
	// oauth2_max_sessions sessions are already open.
	ErrResourceExhausted = auth.ErrResourceExhausted
)

// Plugin is the long-lived handle a host keeps between connections. It is
// safe for concurrent use.
type Plugin struct {
	cfg       *config.Config
	log       *slog.Logger
	level     *slog.LevelVar
	store     metadata.Store
	ownsStore bool
	authn     auth.Authenticator
	sem       *semaphore.Weighted
	discovery string
	closed    atomic.Bool
}

// New loads configuration from src and prepares the shared resources. A
// configuration error is returned as *config.Error.
func New(ctx context.Context, src settings.Source, opts ...Option) (*Plugin, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	var h slog.Handler
	if o.handler != nil {
		h = leveled{Handler: o.handler, level: level}
	} else {
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	log := slog.New(logctx.Handler{Handler: h})

	cfg, err := config.Load(src, config.WithLogger(log))
	if err != nil {
		log.ErrorContext(ctx, "plugin.config.invalid", slog.String("err", err.Error()))
		return nil, err
	}
	level.Set(cfg.LogLevel())

	if o.registry != nil {
		if err := metrics.Register(o.registry); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	p := &Plugin{cfg: cfg, log: log, level: level}
	if eps := cfg.DiscoveryURLs(); len(eps) == 1 {
		p.discovery = eps[0]
	}
	if cfg.MaxSessions > 0 {
		p.sem = semaphore.NewWeighted(int64(cfg.MaxSessions))
	}

	var resolver metadata.Resolver
	if cfg.VerifySignature {
		if err := p.openStore(ctx, o); err != nil {
			return nil, err
		}
		ropts := []metadata.Option{
			metadata.WithTimeout(cfg.Timeout),
			metadata.WithInsecureSkipVerify(!cfg.SSLVerify),
			metadata.WithDefaultTTL(cfg.CacheTTL),
			metadata.WithLogger(log),
		}
		if o.client != nil {
			ropts = append(ropts, metadata.WithHTTPClient(o.client))
		}
		if o.now != nil {
			ropts = append(ropts, metadata.WithClock(o.now))
		}
		resolver = metadata.NewHTTPResolver(p.store, ropts...)
	} else {
		log.WarnContext(ctx, "plugin.signature.unverified")
	}

	aopts := []auth.Option{auth.WithLogger(log)}
	if o.now != nil {
		aopts = append(aopts, auth.WithClock(o.now))
	}
	p.authn, err = auth.New(cfg, resolver, aopts...)
	if err != nil {
		_ = p.Close()
		return nil, err
	}

	log.DebugContext(ctx, "plugin.ready",
		slog.Any("discovery_urls", cfg.DiscoveryURLs()),
		slog.Any("issuers", cfg.Issuers()),
		slog.String("cache", string(cfg.Cache)),
		slog.Int("max_sessions", cfg.MaxSessions),
	)
	return p, nil
}

func (p *Plugin) openStore(ctx context.Context, o *options) error {
	if o.store != nil {
		p.store = o.store
		return nil
	}
	switch p.cfg.Cache {
	case config.CacheRedis:
		s, err := redis.New(ctx, redis.Config{RedisAddr: p.cfg.CacheRedisAddr, KeyPrefix: p.cfg.CachePrefix})
		if err != nil {
			return fmt.Errorf("open metadata cache: %w", err)
		}
		p.store = s
	default:
		p.store = memory.New()
	}
	p.ownsStore = true
	return nil
}

// Config returns the loaded configuration.
func (p *Plugin) Config() *config.Config { return p.cfg }

// Authenticator returns the token validator shared by all sessions.
func (p *Plugin) Authenticator() auth.Authenticator { return p.authn }

// Logger returns the plugin's logger.
func (p *Plugin) Logger() *slog.Logger { return p.log }

// Mechanisms lists the mechanism names in order of preference.
func (p *Plugin) Mechanisms() []string {
	return []string{sasl.OAuthBearer, sasl.XOAuth2}
}

// NewSession starts an attempt for mech. The session must be closed, or run
// to completion, to free its slot under oauth2_max_sessions.
func (p *Plugin) NewSession(mech string, opts ...sasl.SessionOption) (*sasl.ServerSession, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	base := []sasl.SessionOption{
		sasl.WithUserMatch(p.cfg.UserMatch),
		sasl.WithSessionLogger(p.log),
		sasl.WithErrorHints(p.cfg.Scope, p.discovery),
	}
	if p.sem != nil {
		if !p.sem.TryAcquire(1) {
			metrics.Attempts.WithLabelValues(mech, sasl.CodeResourceExhausted.String()).Inc()
			p.log.Warn("plugin.sessions.exhausted", slog.Int("max_sessions", p.cfg.MaxSessions))
			return nil, fmt.Errorf("%w: %d sessions open", ErrResourceExhausted, p.cfg.MaxSessions)
		}
		base = append(base, sasl.WithRelease(func() { p.sem.Release(1) }))
	}
	s, err := sasl.NewServerSession(mech, p.authn, append(base, opts...)...)
	if err != nil && p.sem != nil {
		p.sem.Release(1)
	}
	return s, err
}

// Close releases the metadata cache. Sessions already handed out keep
// working against the in-memory key sets they hold.
func (p *Plugin) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	if p.ownsStore && p.store != nil {
		return p.store.Close()
	}
	return nil
}

// leveled drops records below level before the wrapped handler sees them.
type leveled struct {
	slog.Handler
	level slog.Leveler
}

func (h leveled) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.level.Level() && h.Handler.Enabled(ctx, l)
}

func (h leveled) WithAttrs(attrs []slog.Attr) slog.Handler {
	return leveled{Handler: h.Handler.WithAttrs(attrs), level: h.level}
}

func (h leveled) WithGroup(name string) slog.Handler {
	return leveled{Handler: h.Handler.WithGroup(name), level: h.level}
}
