// Package config turns raw key/value settings into the immutable Config
// shared by every authentication attempt.
package config

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ggoodman/oauth2-sasl-go/settings"
)

// Setting keys. All live in the "oauth2" namespace.
const (
	KeyDiscoveryURL    = "oauth2_discovery_url"
	KeyDiscoveryURLs   = "oauth2_discovery_urls"
	KeyIssuer          = "oauth2_issuer"
	KeyIssuers         = "oauth2_issuers"
	KeyClientID        = "oauth2_client_id"
	KeyClientSecret    = "oauth2_client_secret"
	KeyAudience        = "oauth2_audience"
	KeyAudiences       = "oauth2_audiences"
	KeyScope           = "oauth2_scope"
	KeyUserClaim       = "oauth2_user_claim"
	KeyVerifySignature = "oauth2_verify_signature"
	KeySSLVerify       = "oauth2_ssl_verify"
	KeyTimeout         = "oauth2_timeout"
	KeyDebug           = "oauth2_debug"
	KeyClockSkew       = "oauth2_clock_skew"
	KeyUserMatch       = "oauth2_user_match"
	KeyCache           = "oauth2_cache"
	KeyCacheTTL        = "oauth2_cache_ttl"
	KeyCacheRedisAddr  = "oauth2_cache_redis_addr"
	KeyCachePrefix     = "oauth2_cache_prefix"
	KeyMaxSessions     = "oauth2_max_sessions"
)

// Defaults.
const (
	DefaultScope          = "openid email profile"
	DefaultUserClaim      = "email"
	DefaultTimeout        = 10 * time.Second
	DefaultCacheTTL       = time.Hour
	DefaultCacheRedisAddr = "localhost:6379"
	DefaultCachePrefix    = "oauth2:metadata:"
)

// WellKnownPath is appended to an issuer to derive its discovery endpoint.
const WellKnownPath = "/.well-known/openid-configuration"

// UserMatch controls how a client-asserted user name is compared with the
// name taken from the token.
type UserMatch string

const (
	// UserMatchNone trusts the token claim and ignores the asserted name.
	UserMatchNone UserMatch = "none"
	// UserMatchExact requires byte-for-byte equality.
	UserMatchExact UserMatch = "exact"
	// UserMatchCaseFold requires equality under Unicode case folding.
	UserMatchCaseFold UserMatch = "casefold"
)

// CacheBackend selects where fetched provider metadata is kept.
type CacheBackend string

const (
	CacheMemory CacheBackend = "memory"
	CacheRedis  CacheBackend = "redis"
)

// Secret is a string that is never printed.
type Secret string

func (s Secret) String() string { return "[REDACTED]" }

// MarshalText keeps the secret out of encoded output as well.
func (s Secret) MarshalText() ([]byte, error) { return []byte("[REDACTED]"), nil }

// Value returns the raw secret.
func (s Secret) Value() string { return string(s) }

// Config is the validated plugin configuration. It is never mutated after
// Load returns; slice accessors hand out copies.
type Config struct {
	discoveryURLs    []string
	issuers          []string
	audiences        []string
	derivedDiscovery bool

	ClientID        string
	ClientSecret    Secret
	Scope           string
	UserClaim       string
	VerifySignature bool
	SSLVerify       bool
	Timeout         time.Duration
	Debug           bool
	ClockSkew       time.Duration
	UserMatch       UserMatch

	Cache          CacheBackend
	CacheTTL       time.Duration
	CacheRedisAddr string
	CachePrefix    string
	MaxSessions    int
}

// DiscoveryURLs returns the discovery endpoints in configured order.
func (c *Config) DiscoveryURLs() []string { return append([]string(nil), c.discoveryURLs...) }

// Issuers returns the accepted issuers in configured order. It is empty when
// the deployment was configured purely by discovery endpoints.
func (c *Config) Issuers() []string { return append([]string(nil), c.issuers...) }

// Audiences returns the accepted audiences, empty when unchecked.
func (c *Config) Audiences() []string { return append([]string(nil), c.audiences...) }

// DerivedDiscovery reports whether the discovery endpoints were derived from
// the issuer list, in which case DiscoveryURLs()[i] belongs to Issuers()[i].
func (c *Config) DerivedDiscovery() bool { return c.derivedDiscovery }

// LogLevel is the minimum level for diagnostic output.
func (c *Config) LogLevel() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	return slog.LevelWarn
}

// DiscoveryURLFor derives the discovery endpoint of an issuer.
func DiscoveryURLFor(issuer string) string {
	return strings.TrimSuffix(issuer, "/") + WellKnownPath
}

// LoadOption configures Load.
type LoadOption func(*loadConfig)

type loadConfig struct {
	log *slog.Logger
}

// WithLogger sets the logger used to report settings that fell back to their
// defaults.
func WithLogger(l *slog.Logger) LoadOption {
	return func(c *loadConfig) { c.log = l }
}

// Load reads and validates settings from src.
func Load(src settings.Source, opts ...LoadOption) (*Config, error) {
	lc := &loadConfig{log: slog.Default()}
	for _, opt := range opts {
		opt(lc)
	}
	r := &reader{src: src, log: lc.log}

	discovery, err := r.list(KeyDiscoveryURL, KeyDiscoveryURLs)
	if err != nil {
		return nil, err
	}
	issuers, err := r.list(KeyIssuer, KeyIssuers)
	if err != nil {
		return nil, err
	}
	audiences, err := r.list(KeyAudience, KeyAudiences)
	if err != nil {
		return nil, err
	}
	if len(discovery) == 0 && len(issuers) == 0 {
		return nil, &Error{
			Kind:   KindMissingRequired,
			Keys:   []string{KeyDiscoveryURLs, KeyIssuers},
			Reason: "at least one discovery endpoint or issuer is required",
		}
	}
	clientID, _ := r.string(KeyClientID)
	if strings.TrimSpace(clientID) == "" {
		return nil, &Error{Kind: KindMissingRequired, Keys: []string{KeyClientID}}
	}

	cfg := &Config{
		discoveryURLs: discovery,
		issuers:       issuers,
		audiences:     audiences,

		ClientID:        clientID,
		Scope:           r.stringOr(KeyScope, DefaultScope),
		UserClaim:       r.stringOr(KeyUserClaim, DefaultUserClaim),
		VerifySignature: r.bool(KeyVerifySignature, true),
		SSLVerify:       r.bool(KeySSLVerify, true),
		Timeout:         time.Duration(r.int(KeyTimeout, 10, 1, 300)) * time.Second,
		Debug:           r.bool(KeyDebug, false),
		ClockSkew:       time.Duration(r.int(KeyClockSkew, 0, 0, 300)) * time.Second,
		UserMatch:       UserMatch(r.enum(KeyUserMatch, string(UserMatchNone), string(UserMatchExact), string(UserMatchCaseFold))),

		Cache:          CacheBackend(r.enum(KeyCache, string(CacheMemory), string(CacheRedis))),
		CacheTTL:       time.Duration(r.int(KeyCacheTTL, int(DefaultCacheTTL/time.Second), 60, 86400)) * time.Second,
		CacheRedisAddr: r.stringOr(KeyCacheRedisAddr, DefaultCacheRedisAddr),
		CachePrefix:    r.stringOr(KeyCachePrefix, DefaultCachePrefix),
		MaxSessions:    r.int(KeyMaxSessions, 0, 0, 1<<20),
	}
	if s, ok := r.string(KeyClientSecret); ok {
		cfg.ClientSecret = Secret(s)
	}

	if len(cfg.discoveryURLs) == 0 {
		cfg.derivedDiscovery = true
		cfg.discoveryURLs = make([]string, len(issuers))
		for i, iss := range issuers {
			cfg.discoveryURLs[i] = DiscoveryURLFor(iss)
		}
	}

	return cfg, nil
}

type reader struct {
	src settings.Source
	log *slog.Logger
}

func (r *reader) string(key string) (string, bool) {
	if r.src == nil {
		return "", false
	}
	return r.src.Lookup(key)
}

func (r *reader) stringOr(key, def string) string {
	v, ok := r.string(key)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return def
	}
	return v
}

// list resolves a singular/plural key pair. Presence of both is a conflict
// even when one of them is empty.
func (r *reader) list(singular, plural string) ([]string, error) {
	sv, sok := r.string(singular)
	pv, pok := r.string(plural)
	if sok && pok {
		return nil, &Error{
			Kind:   KindConflictingSetting,
			Keys:   []string{singular, plural},
			Reason: "use only one of the two forms",
		}
	}
	if sok {
		return strings.Fields(sv), nil
	}
	if pok {
		return strings.Fields(pv), nil
	}
	return nil, nil
}

func (r *reader) bool(key string, def bool) bool {
	v, ok := r.string(key)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true", "1":
		return true
	default:
		return false
	}
}

func (r *reader) int(key string, def, lo, hi int) int {
	v, ok := r.string(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < lo || n > hi {
		r.log.Warn("config.int.invalid",
			slog.String("key", key),
			slog.String("value", v),
			slog.Int("default", def),
		)
		return def
	}
	return n
}

// enum returns the lower-cased value of key if it is one of allowed. The
// first allowed value is the default.
func (r *reader) enum(key string, allowed ...string) string {
	def := allowed[0]
	v, ok := r.string(key)
	if !ok {
		return def
	}
	v = strings.ToLower(strings.TrimSpace(v))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	r.log.Warn("config.enum.invalid",
		slog.String("key", key),
		slog.String("value", v),
		slog.String("default", def),
	)
	return def
}
