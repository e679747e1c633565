package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/ggoodman/oauth2-sasl-go/metadata"
	"github.com/ggoodman/oauth2-sasl-go/token"
	"github.com/golang-jwt/jwt/v5"
)

// Config controls validation behavior for bearer tokens presented over SASL.
type Config struct {
	// Issuers, when non-empty, is the set of accepted "iss" values.
	Issuers []string
	// DiscoveryURLs are the providers' discovery endpoints. When
	// DerivedDiscovery is set, DiscoveryURLs[i] belongs to Issuers[i].
	DiscoveryURLs    []string
	DerivedDiscovery bool
	// Audiences, when non-empty, must intersect the token's "aud".
	Audiences []string
	// UserClaim names the string claim that carries the user name.
	UserClaim       string
	VerifySignature bool
	AllowedAlgs     []string
	Leeway          time.Duration
}

// DefaultAlgs are the asymmetric JWS algorithms accepted by default.
var DefaultAlgs = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// maxIssuedAtSkew bounds how far in the future "iat" may be.
const maxIssuedAtSkew = 5 * time.Minute

// DefaultConfig returns a Config with safe defaults for algorithm and claim.
func DefaultConfig() *Config {
	return &Config{
		UserClaim:       "email",
		VerifySignature: true,
		AllowedAlgs:     append([]string(nil), DefaultAlgs...),
	}
}

var (
	ErrFormat               = errors.New("jwtauth: malformed token")
	ErrNetwork              = errors.New("jwtauth: provider unreachable")
	ErrExpired              = errors.New("jwtauth: token expired")
	ErrNotYetValid          = errors.New("jwtauth: token not yet valid")
	ErrIssuerMismatch       = errors.New("jwtauth: issuer mismatch")
	ErrAudienceMismatch     = errors.New("jwtauth: audience mismatch")
	ErrSignatureInvalid     = errors.New("jwtauth: signature invalid")
	ErrMissingUsernameClaim = errors.New("jwtauth: missing username claim")
	ErrInternal             = errors.New("jwtauth: internal error")
)

// Reason returns a short stable label for err, suitable for metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrFormat):
		return "format"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrNotYetValid):
		return "not_yet_valid"
	case errors.Is(err, ErrIssuerMismatch):
		return "issuer_mismatch"
	case errors.Is(err, ErrAudienceMismatch):
		return "audience_mismatch"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, ErrMissingUsernameClaim):
		return "missing_username_claim"
	default:
		return "internal"
	}
}

// UserInfo is the internal user claims carrier for validated tokens.
type UserInfo interface {
	Username() string
	Issuer() string
	Endpoint() string
	Claims(ref any) error
}

type userInfo struct {
	username string
	issuer   string
	endpoint string
	claims   token.Claims
}

func (u *userInfo) Username() string     { return u.username }
func (u *userInfo) Issuer() string       { return u.issuer }
func (u *userInfo) Endpoint() string     { return u.endpoint }
func (u *userInfo) Claims(ref any) error { return u.claims.Decode(ref) }

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithClock overrides the time source used for temporal checks.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

// WithLogger sets the logger used for debug diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(a *Authenticator) { a.log = l }
}

// Authenticator validates bearer tokens against the configured providers.
// It is safe for concurrent use; the only shared mutable state is the
// resolver's cache.
type Authenticator struct {
	cfg      Config
	resolver metadata.Resolver
	now      func() time.Time
	log      *slog.Logger
}

// New constructs an Authenticator. resolver may be nil only when signature
// verification is disabled.
func New(cfg *Config, resolver metadata.Resolver, opts ...Option) (*Authenticator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if len(cfg.DiscoveryURLs) == 0 && len(cfg.Issuers) == 0 {
		return nil, errors.New("at least one issuer or discovery endpoint is required")
	}
	if cfg.DerivedDiscovery && len(cfg.DiscoveryURLs) != len(cfg.Issuers) {
		return nil, errors.New("derived discovery requires one endpoint per issuer")
	}
	if cfg.VerifySignature && resolver == nil {
		return nil, errors.New("resolver is required when verifying signatures")
	}
	c := *cfg
	c.Issuers = append([]string(nil), cfg.Issuers...)
	c.DiscoveryURLs = append([]string(nil), cfg.DiscoveryURLs...)
	c.Audiences = append([]string(nil), cfg.Audiences...)
	if c.UserClaim == "" {
		c.UserClaim = "email"
	}
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = append([]string(nil), DefaultAlgs...)
	}
	a := &Authenticator{cfg: c, resolver: resolver, now: time.Now, log: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// CheckAuthentication runs the checks in a fixed order and reports the
// first one that fails: structure, time window, issuer, audience,
// signature, then the user name claim.
func (a *Authenticator) CheckAuthentication(ctx context.Context, raw string) (UserInfo, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrFormat)
	}
	tok, err := token.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}

	if err := a.checkTime(tok.Claims, a.now()); err != nil {
		return nil, err
	}

	iss, _ := tok.Claims.Issuer()
	if len(a.cfg.Issuers) > 0 && !slices.Contains(a.cfg.Issuers, iss) {
		return nil, fmt.Errorf("%w: %q is not a configured issuer", ErrIssuerMismatch, iss)
	}

	if len(a.cfg.Audiences) > 0 && !audIntersects(tok.Claims.Audience(), a.cfg.Audiences) {
		return nil, fmt.Errorf("%w: token audience %v", ErrAudienceMismatch, tok.Claims.Audience())
	}

	var endpoint string
	if a.cfg.VerifySignature {
		endpoint, err = a.verify(ctx, tok, iss)
		if err != nil {
			return nil, err
		}
	}

	username, ok := tok.Claims.String(a.cfg.UserClaim)
	if !ok || username == "" {
		return nil, fmt.Errorf("%w: %q", ErrMissingUsernameClaim, a.cfg.UserClaim)
	}

	return &userInfo{username: username, issuer: iss, endpoint: endpoint, claims: tok.Claims}, nil
}

func (a *Authenticator) checkTime(c token.Claims, now time.Time) error {
	exp, ok, err := c.Expiry()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFormat, err)
	}
	if ok && !now.Before(exp.Add(a.cfg.Leeway)) {
		return fmt.Errorf("%w: expired at %s", ErrExpired, exp.UTC().Format(time.RFC3339))
	}

	nbf, ok, err := c.NotBefore()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFormat, err)
	}
	if ok && nbf.After(now.Add(a.cfg.Leeway)) {
		return fmt.Errorf("%w: not before %s", ErrNotYetValid, nbf.UTC().Format(time.RFC3339))
	}

	iat, ok, err := c.IssuedAt()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFormat, err)
	}
	if ok && iat.After(now.Add(a.cfg.Leeway+maxIssuedAtSkew)) {
		return fmt.Errorf("%w: iat too far in future", ErrNotYetValid)
	}
	return nil
}

func (a *Authenticator) verify(ctx context.Context, tok *token.Token, iss string) (string, error) {
	alg := tok.Header.Algorithm()
	if !slices.Contains(a.cfg.AllowedAlgs, alg) {
		return "", fmt.Errorf("%w: algorithm %q not permitted", ErrSignatureInvalid, alg)
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return "", fmt.Errorf("%w: unknown algorithm %q", ErrSignatureInvalid, alg)
	}

	ks, err := a.selectProvider(ctx, iss)
	if err != nil {
		return "", err
	}

	kid := tok.Header.KeyID()
	keys, err := ks.Candidates(kid, alg)
	if errors.Is(err, metadata.ErrKeyNotFound) && kid != "" {
		// The provider may have rotated keys since the set was cached.
		a.log.DebugContext(ctx, "jwtauth.kid.unknown", slog.String("kid", kid), slog.String("endpoint", ks.Endpoint))
		if fresh, rerr := a.resolver.Refresh(ctx, ks.Endpoint); rerr == nil {
			ks = fresh
			keys, err = ks.Candidates(kid, alg)
		}
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}

	for _, key := range keys {
		if err := method.Verify(tok.SigningInput(), tok.Signature, key); err == nil {
			return ks.Endpoint, nil
		}
	}
	return "", fmt.Errorf("%w: no key verified the signature", ErrSignatureInvalid)
}

func wrapResolveErr(err error) error {
	if errors.Is(err, metadata.ErrFormat) {
		return fmt.Errorf("%w: %w", ErrFormat, err)
	}
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}

// audIntersects reports whether any token audience is accepted.
func audIntersects(have, want []string) bool {
	for _, h := range have {
		if slices.Contains(want, h) {
			return true
		}
	}
	return false
}
