package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/ggoodman/oauth2-sasl-go/config"
	"github.com/ggoodman/oauth2-sasl-go/internal/jwtauth"
	"github.com/ggoodman/oauth2-sasl-go/metadata"
)

// Option configures optional aspects of the token authenticator.
type Option func(*options)

type options struct {
	algs []string
	jwt  []jwtauth.Option
}

// WithAllowedAlgs restricts allowed JWS algorithms. "none" and HMAC
// algorithms are never accepted, even when listed.
func WithAllowedAlgs(algs ...string) Option {
	return func(o *options) { o.algs = append([]string(nil), algs...) }
}

// WithClock overrides the time source used for exp, nbf and iat.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.jwt = append(o.jwt, jwtauth.WithClock(now)) }
}

// WithLogger sets the logger used for debug diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.jwt = append(o.jwt, jwtauth.WithLogger(l)) }
}

// New returns an Authenticator that validates OAuth 2.0 / OIDC bearer tokens
// against the providers named by cfg, fetching their keys through resolver.
// resolver may be nil when cfg disables signature verification.
func New(cfg *config.Config, resolver metadata.Resolver, opts ...Option) (Authenticator, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	jc := jwtauth.DefaultConfig()
	jc.Issuers = cfg.Issuers()
	jc.DiscoveryURLs = cfg.DiscoveryURLs()
	jc.DerivedDiscovery = cfg.DerivedDiscovery()
	jc.Audiences = cfg.Audiences()
	jc.UserClaim = cfg.UserClaim
	jc.VerifySignature = cfg.VerifySignature
	jc.Leeway = cfg.ClockSkew
	if len(o.algs) > 0 {
		jc.AllowedAlgs = safeAlgs(o.algs)
	}

	internal, err := jwtauth.New(jc, resolver, o.jwt...)
	if err != nil {
		return nil, err
	}
	return &adapter{a: internal}, nil
}

// safeAlgs drops anything outside the asymmetric default set.
func safeAlgs(algs []string) []string {
	var out []string
	for _, a := range algs {
		for _, d := range jwtauth.DefaultAlgs {
			if a == d {
				out = append(out, a)
			}
		}
	}
	if len(out) == 0 {
		// An empty list would fall back to the defaults inside jwtauth;
		// an impossible algorithm keeps every token rejected instead.
		return []string{"-"}
	}
	return out
}

// adapter wraps the internal authenticator to satisfy the public interface.
type adapter struct {
	a *jwtauth.Authenticator
}

func (ad *adapter) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	ui, err := ad.a.CheckAuthentication(ctx, tok)
	if err != nil {
		return nil, err
	}
	return userInfoAdapter{ui: ui}, nil
}

type userInfoAdapter struct{ ui jwtauth.UserInfo }

func (u userInfoAdapter) Username() string     { return u.ui.Username() }
func (u userInfoAdapter) Issuer() string       { return u.ui.Issuer() }
func (u userInfoAdapter) Endpoint() string     { return u.ui.Endpoint() }
func (u userInfoAdapter) Claims(ref any) error { return u.ui.Claims(ref) }
