package metadata

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

func entryWithKeys(t *testing.T, keys ...jose.JSONWebKey) *Entry {
	t.Helper()
	jwks, err := json.Marshal(jose.JSONWebKeySet{Keys: keys})
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	now := time.Now()
	return &Entry{
		Endpoint:   "https://idp.example.com/.well-known/openid-configuration",
		Discovery:  json.RawMessage(`{"issuer":"https://idp.example.com","jwks_uri":"https://idp.example.com/keys"}`),
		JWKS:       jwks,
		FetchedAt:  now,
		FreshUntil: now.Add(time.Hour),
	}
}

func rsaPublic(t *testing.T) *rsa.PublicKey {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &k.PublicKey
}

func TestCandidatesHonourUse(t *testing.T) {
	ks, err := newKeySet(entryWithKeys(t,
		jose.JSONWebKey{Key: rsaPublic(t), KeyID: "enc", Algorithm: "RS256", Use: "enc"},
		jose.JSONWebKey{Key: rsaPublic(t), KeyID: "sig", Algorithm: "RS256", Use: "sig"},
		jose.JSONWebKey{Key: rsaPublic(t), KeyID: "bare", Algorithm: "RS256"},
	))
	if err != nil {
		t.Fatalf("key set: %v", err)
	}

	if _, err := ks.Candidates("enc", "RS256"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("encryption key returned for kid lookup: %v", err)
	}
	for _, kid := range []string{"sig", "bare"} {
		if keys, err := ks.Candidates(kid, "RS256"); err != nil || len(keys) != 1 {
			t.Fatalf("kid %q: %v %v", kid, keys, err)
		}
	}
	if keys, err := ks.Candidates("", "RS256"); err != nil || len(keys) != 2 {
		t.Fatalf("without kid: %d keys, %v", len(keys), err)
	}
}

func TestCandidatesHonourAlg(t *testing.T) {
	ks, err := newKeySet(entryWithKeys(t, jose.JSONWebKey{Key: rsaPublic(t), KeyID: "k", Algorithm: "RS512", Use: "sig"}))
	if err != nil {
		t.Fatalf("key set: %v", err)
	}
	if _, err := ks.Candidates("k", "RS256"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("alg mismatch should not match, got %v", err)
	}
}

func TestRetentionUsesEntryClock(t *testing.T) {
	// Stamped by a clock far behind the wall clock.
	fetched := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	e := &Entry{FetchedAt: fetched, FreshUntil: fetched.Add(time.Hour)}
	if got, want := e.Retention(), time.Hour+StaleGrace; got != want {
		t.Fatalf("retention = %v, want %v", got, want)
	}
	e.FreshUntil = fetched.Add(-StaleGrace - time.Hour)
	if got := e.Retention(); got != time.Second {
		t.Fatalf("retention floor = %v", got)
	}
}
