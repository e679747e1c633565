package jwtauth

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/ggoodman/oauth2-sasl-go/internal/oidctest"
	"github.com/ggoodman/oauth2-sasl-go/metadata"
	"github.com/ggoodman/oauth2-sasl-go/metadata/memory"
)

// sharedResolver trusts every provider's test server; httptest clients only
// differ in their root pool, and all httptest servers share one certificate.
func sharedResolver(t *testing.T, p *oidctest.Provider) *metadata.HTTPResolver {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })
	return metadata.NewHTTPResolver(store, metadata.WithHTTPClient(p.Client()))
}

func explicitConfig(eps ...string) *Config {
	cfg := DefaultConfig()
	cfg.DiscoveryURLs = eps
	return cfg
}

func TestSelectProvider_MatchesAdvertisedIssuer(t *testing.T) {
	a, b := oidctest.New(t), oidctest.New(t)
	auth := newAuthenticator(t, explicitConfig(a.DiscoveryURL(), b.DiscoveryURL()), sharedResolver(t, a))

	ui, err := auth.CheckAuthentication(context.Background(), b.Sign(t, b.Claims("bob@example.com", "")))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ui.Endpoint() != b.DiscoveryURL() {
		t.Fatalf("endpoint = %q, want %q", ui.Endpoint(), b.DiscoveryURL())
	}
}

func TestSelectProvider_Ambiguous(t *testing.T) {
	a, b := oidctest.New(t), oidctest.New(t)
	b.SetIssuer(a.Issuer())
	auth := newAuthenticator(t, explicitConfig(a.DiscoveryURL(), b.DiscoveryURL()), sharedResolver(t, a))

	_, err := auth.CheckAuthentication(context.Background(), a.Sign(t, a.Claims("a@b", "")))
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("want ErrSignatureInvalid for ambiguous issuer, got %v", err)
	}
}

func TestSelectProvider_NoMatch(t *testing.T) {
	a, b := oidctest.New(t), oidctest.New(t)
	auth := newAuthenticator(t, explicitConfig(a.DiscoveryURL(), b.DiscoveryURL()), sharedResolver(t, a))

	claims := a.Claims("a@b", "")
	claims["iss"] = "https://unknown.example"
	_, err := auth.CheckAuthentication(context.Background(), a.Sign(t, claims))
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("want ErrSignatureInvalid, got %v", err)
	}
}

func TestSelectProvider_OneDownOtherMatches(t *testing.T) {
	a, b := oidctest.New(t), oidctest.New(t)
	a.SetFailing(http.StatusServiceUnavailable)
	auth := newAuthenticator(t, explicitConfig(a.DiscoveryURL(), b.DiscoveryURL()), sharedResolver(t, a))

	if _, err := auth.CheckAuthentication(context.Background(), b.Sign(t, b.Claims("a@b", ""))); err != nil {
		t.Fatalf("healthy provider should still match: %v", err)
	}

	_, err := auth.CheckAuthentication(context.Background(), a.Sign(t, a.Claims("a@b", "")))
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("want ErrNetwork when the only candidate is down, got %v", err)
	}
}

func TestSelectProvider_DerivedPairsByIndex(t *testing.T) {
	a, b := oidctest.New(t), oidctest.New(t)
	cfg := DefaultConfig()
	cfg.Issuers = []string{a.Issuer(), b.Issuer()}
	cfg.DiscoveryURLs = []string{a.DiscoveryURL(), b.DiscoveryURL()}
	cfg.DerivedDiscovery = true
	auth := newAuthenticator(t, cfg, sharedResolver(t, a))

	if _, err := auth.CheckAuthentication(context.Background(), b.Sign(t, b.Claims("a@b", ""))); err != nil {
		t.Fatalf("check: %v", err)
	}
	if a.DiscoveryHits() != 0 {
		t.Fatalf("derived discovery should only contact the paired endpoint")
	}

	// A token claiming a's issuer but signed by b's key fails.
	claims := b.Claims("a@b", "")
	claims["iss"] = a.Issuer()
	if _, err := auth.CheckAuthentication(context.Background(), b.Sign(t, claims)); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("want ErrSignatureInvalid, got %v", err)
	}
}

func TestSelectProvider_ProviderFormatError(t *testing.T) {
	p := oidctest.New(t)
	p.SetContentType("text/html")
	auth := newAuthenticator(t, explicitConfig(p.DiscoveryURL()), sharedResolver(t, p))

	_, err := auth.CheckAuthentication(context.Background(), p.Sign(t, p.Claims("a@b", "")))
	if !errors.Is(err, ErrFormat) || !errors.Is(err, metadata.ErrFormat) {
		t.Fatalf("want provider ErrFormat, got %v", err)
	}
}
