// Package oidctest runs an in-process OpenID Connect provider for tests: a
// discovery document, a JWKS endpoint and an RS256 signer whose keys the
// JWKS publishes.
package oidctest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// Provider is a mock identity provider.
type Provider struct {
	srv *httptest.Server

	mu           sync.Mutex
	key          *rsa.PrivateKey
	kid          string
	keys         []jose.JSONWebKey
	issuer       string
	cacheControl string
	failStatus   int
	delay        time.Duration
	contentType  string

	discoveryHits atomic.Int64
	jwksHits      atomic.Int64
}

// New starts a provider whose issuer is its own base URL. The server is
// closed when the test ends.
func New(t testing.TB) *Provider {
	t.Helper()
	p := &Provider{contentType: "application/json"}
	p.key, p.kid = GenerateRSA(t), "test-key"
	p.keys = []jose.JSONWebKey{publicJWK(p.key, p.kid)}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		p.discoveryHits.Add(1)
		if !p.prelude(w) {
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                p.Issuer(),
			"jwks_uri":                              p.srv.URL + "/keys",
			"authorization_endpoint":                p.srv.URL + "/oauth2/auth",
			"token_endpoint":                        p.srv.URL + "/oauth2/token",
			"response_types_supported":              []string{"code"},
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		p.jwksHits.Add(1)
		if !p.prelude(w) {
			return
		}
		p.mu.Lock()
		set := jose.JSONWebKeySet{Keys: append([]jose.JSONWebKey(nil), p.keys...)}
		p.mu.Unlock()
		_ = json.NewEncoder(w).Encode(set)
	})
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *Provider) prelude(w http.ResponseWriter) bool {
	p.mu.Lock()
	delay, fail, cc, ct := p.delay, p.failStatus, p.cacheControl, p.contentType
	p.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if fail != 0 {
		http.Error(w, "unavailable", fail)
		return false
	}
	if cc != "" {
		w.Header().Set("Cache-Control", cc)
	}
	w.Header().Set("Content-Type", ct)
	return true
}

// URL is the server's base URL.
func (p *Provider) URL() string { return p.srv.URL }

// Issuer is the issuer advertised in discovery and used by Sign helpers.
func (p *Provider) Issuer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.issuer != "" {
		return p.issuer
	}
	return p.srv.URL
}

// DiscoveryURL is the provider's well-known configuration endpoint.
func (p *Provider) DiscoveryURL() string {
	return p.srv.URL + "/.well-known/openid-configuration"
}

// Client trusts the provider's server.
func (p *Provider) Client() *http.Client { return p.srv.Client() }

// SetIssuer overrides the advertised issuer.
func (p *Provider) SetIssuer(iss string) { p.mu.Lock(); p.issuer = iss; p.mu.Unlock() }

// SetCacheControl sets the Cache-Control header on both endpoints.
func (p *Provider) SetCacheControl(v string) { p.mu.Lock(); p.cacheControl = v; p.mu.Unlock() }

// SetContentType sets the Content-Type header on both endpoints.
func (p *Provider) SetContentType(v string) { p.mu.Lock(); p.contentType = v; p.mu.Unlock() }

// SetFailing makes both endpoints answer with status, or succeed again when
// status is 0.
func (p *Provider) SetFailing(status int) { p.mu.Lock(); p.failStatus = status; p.mu.Unlock() }

// SetDelay delays every response.
func (p *Provider) SetDelay(d time.Duration) { p.mu.Lock(); p.delay = d; p.mu.Unlock() }

// DiscoveryHits counts requests to the discovery endpoint.
func (p *Provider) DiscoveryHits() int64 { return p.discoveryHits.Load() }

// JWKSHits counts requests to the JWKS endpoint.
func (p *Provider) JWKSHits() int64 { return p.jwksHits.Load() }

// KeyID is the id of the current signing key.
func (p *Provider) KeyID() string { p.mu.Lock(); defer p.mu.Unlock(); return p.kid }

// SigningKey is the current private key.
func (p *Provider) SigningKey() *rsa.PrivateKey { p.mu.Lock(); defer p.mu.Unlock(); return p.key }

// RotateKey replaces the signing key. When keepOld is true the previous
// public key stays published.
func (p *Provider) RotateKey(t testing.TB, kid string, keepOld bool) {
	t.Helper()
	key := GenerateRSA(t)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.key, p.kid = key, kid
	jwk := publicJWK(key, kid)
	if keepOld {
		p.keys = append(p.keys, jwk)
	} else {
		p.keys = []jose.JSONWebKey{jwk}
	}
}

// Sign signs claims with the provider's current key.
func (p *Provider) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	p.mu.Lock()
	key, kid := p.key, p.kid
	p.mu.Unlock()
	return SignWith(t, key, kid, claims)
}

// Claims returns a valid claim set for this provider: issuer, the given
// email, an hour of lifetime and audience aud when non-empty.
func (p *Provider) Claims(email, aud string) jwt.MapClaims {
	now := time.Now()
	c := jwt.MapClaims{
		"iss":   p.Issuer(),
		"sub":   "user-123",
		"email": email,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	if aud != "" {
		c["aud"] = aud
	}
	return c
}

// GenerateRSA returns a fresh 2048-bit key.
func GenerateRSA(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	return pk
}

func publicJWK(pk *rsa.PrivateKey, kid string) jose.JSONWebKey {
	return jose.JSONWebKey{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"}
}

// SignWith signs claims with key under kid (omitted when empty).
func SignWith(t testing.TB, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

// Unsigned builds an "alg":"none" token. Its signature segment is a
// placeholder.
func Unsigned(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	hdr := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	b, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	return fmt.Sprintf("%s.%s.bm9uZQ", hdr, base64.RawURLEncoding.EncodeToString(b))
}
