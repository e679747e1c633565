package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/MicahParks/jwkset"
	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// ErrKeyNotFound reports that no key in the set matches a token header.
var ErrKeyNotFound = errors.New("metadata: key not found")

// signingUses are the JWK "use" values a verification key may carry. Keys
// that omit "use" are accepted.
var signingUses = []jwkset.USE{jwkset.UseSig, ""}

// KeySet is the decoded, read-only view of an Entry.
type KeySet struct {
	Endpoint   string
	Issuer     string
	JWKSURI    string
	FetchedAt  time.Time
	FreshUntil time.Time

	provider oidc.ProviderConfig
	keys     []jose.JSONWebKey
	byKID    keyfunc.Keyfunc
}

func decodeProvider(doc []byte) (oidc.ProviderConfig, error) {
	var pc oidc.ProviderConfig
	if err := json.Unmarshal(doc, &pc); err != nil {
		return pc, fmt.Errorf("%w: discovery document: %v", ErrFormat, err)
	}
	if pc.JWKSURL == "" {
		return pc, fmt.Errorf("%w: discovery document has no jwks_uri", ErrFormat)
	}
	return pc, nil
}

func newKeySet(e *Entry) (*KeySet, error) {
	pc, err := decodeProvider(e.Discovery)
	if err != nil {
		return nil, err
	}

	var rawSet struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(e.JWKS, &rawSet); err != nil {
		return nil, fmt.Errorf("%w: jwks: %v", ErrFormat, err)
	}
	ks := &KeySet{
		Endpoint:   e.Endpoint,
		Issuer:     pc.IssuerURL,
		JWKSURI:    pc.JWKSURL,
		FetchedAt:  e.FetchedAt,
		FreshUntil: e.FreshUntil,
		provider:   pc,
	}
	// Keys of unsupported types are skipped so one exotic key does not take
	// the whole provider down.
	for _, raw := range rawSet.Keys {
		var k jose.JSONWebKey
		if err := json.Unmarshal(raw, &k); err != nil {
			continue
		}
		pub := k.Public()
		if !pub.Valid() {
			continue
		}
		ks.keys = append(ks.keys, pub)
	}

	var set jwkset.JWKSMarshal
	if err := json.Unmarshal(e.JWKS, &set); err == nil {
		if storage, err := set.ToStorage(); err == nil {
			if kf, err := keyfunc.New(keyfunc.Options{Storage: storage, UseWhitelist: signingUses}); err == nil {
				ks.byKID = kf
			}
		}
	}
	return ks, nil
}

// Provider returns the decoded discovery document.
func (k *KeySet) Provider() oidc.ProviderConfig { return k.provider }

// KeyIDs lists the key ids in the set, sorted.
func (k *KeySet) KeyIDs() []string {
	out := make([]string, 0, len(k.keys))
	for _, key := range k.keys {
		if key.KeyID != "" {
			out = append(out, key.KeyID)
		}
	}
	sort.Strings(out)
	return out
}

// Len is the number of usable keys.
func (k *KeySet) Len() int { return len(k.keys) }

// HasKeyID reports whether kid names a key in the set.
func (k *KeySet) HasKeyID(kid string) bool {
	for _, key := range k.keys {
		if key.KeyID == kid {
			return true
		}
	}
	return false
}

// Candidates returns the verification keys that may have produced a token
// with the given kid and alg headers. With a kid the match is exact; without
// one every signing key compatible with alg is returned.
func (k *KeySet) Candidates(kid, alg string) ([]any, error) {
	if kid != "" {
		if k.byKID != nil {
			key, err := k.byKID.Keyfunc(&jwt.Token{Header: map[string]any{"kid": kid, "alg": alg}})
			if err == nil {
				return []any{key}, nil
			}
			if !k.HasKeyID(kid) {
				return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
			}
			return nil, fmt.Errorf("%w: kid %q: %v", ErrKeyNotFound, kid, err)
		}
		var out []any
		for _, key := range k.keys {
			if key.KeyID == kid && usable(key, alg) {
				out = append(out, key.Key)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
		}
		return out, nil
	}

	var out []any
	for _, key := range k.keys {
		if usable(key, alg) {
			out = append(out, key.Key)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no key for alg %q", ErrKeyNotFound, alg)
	}
	return out, nil
}

func usable(key jose.JSONWebKey, alg string) bool {
	if key.Use != "" && key.Use != "sig" {
		return false
	}
	return key.Algorithm == "" || key.Algorithm == alg
}
