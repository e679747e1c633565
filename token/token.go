// Package token splits a compact JWS bearer token into its header, claims
// and signature without verifying anything. Verification policy lives in
// the authenticator; this package only guarantees the token is well formed.
package token

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed reports a token that is not a three-part compact JWS with
// JSON object header and payload.
var ErrMalformed = errors.New("token: malformed")

var parser = jwt.NewParser(jwt.WithPaddingAllowed(), jwt.WithJSONNumber())

// Token is a parsed, unverified bearer token.
type Token struct {
	Raw       string
	Header    Header
	Claims    Claims
	Signature []byte

	signingInput string
}

// SigningInput returns the "header.payload" portion exactly as received.
func (t *Token) SigningInput() string { return t.signingInput }

// Parse decodes raw. It accepts base64url with or without padding.
func Parse(raw string) (*Token, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: want 3 segments, got %d", ErrMalformed, len(parts))
	}
	if parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, fmt.Errorf("%w: empty segment", ErrMalformed)
	}

	claims := jwt.MapClaims{}
	jt, _, err := parser.ParseUnverified(raw, claims)
	// An unknown or missing alg only makes the token unverifiable; the
	// authenticator rejects it against its own allow list.
	if err != nil && !errors.Is(err, jwt.ErrTokenUnverifiable) {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if jt == nil || jt.Header == nil {
		return nil, fmt.Errorf("%w: header is not a JSON object", ErrMalformed)
	}
	// The claims decoder stops after the first value, so a JSON null or
	// trailing data would otherwise pass as an empty claim set.
	if pb, err := parser.DecodeSegment(parts[1]); err != nil || !json.Valid(pb) || !bytes.HasPrefix(bytes.TrimSpace(pb), []byte("{")) {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrMalformed)
	}
	sig, err := parser.DecodeSegment(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrMalformed, err)
	}

	return &Token{
		Raw:          raw,
		Header:       Header(jt.Header),
		Claims:       Claims(claims),
		Signature:    sig,
		signingInput: parts[0] + "." + parts[1],
	}, nil
}

// Header is the decoded JOSE header.
type Header map[string]any

// Algorithm returns the "alg" header, or "" when absent or not a string.
func (h Header) Algorithm() string { s, _ := h["alg"].(string); return s }

// KeyID returns the "kid" header.
func (h Header) KeyID() string { s, _ := h["kid"].(string); return s }

// Type returns the "typ" header.
func (h Header) Type() string { s, _ := h["typ"].(string); return s }

// Claims is the decoded payload. Numbers are held as json.Number.
type Claims jwt.MapClaims

// String returns the named claim if it is a JSON string.
func (c Claims) String(name string) (string, bool) {
	s, ok := c[name].(string)
	return s, ok
}

// Issuer returns the "iss" claim.
func (c Claims) Issuer() (string, bool) { return c.String("iss") }

// Subject returns the "sub" claim.
func (c Claims) Subject() (string, bool) { return c.String("sub") }

// Audience returns the "aud" claim normalized to a list. A scalar string
// becomes a single element. A list holding anything but strings is treated
// as no audience at all.
func (c Claims) Audience() []string {
	aud, err := jwt.MapClaims(c).GetAudience()
	if err != nil || len(aud) == 0 {
		return nil
	}
	return []string(aud)
}

// Expiry returns the "exp" claim. ok is false when the claim is absent;
// err is set when it is present but not a number.
func (c Claims) Expiry() (time.Time, bool, error) {
	return numericDate("exp")(jwt.MapClaims(c).GetExpirationTime())
}

// NotBefore returns the "nbf" claim.
func (c Claims) NotBefore() (time.Time, bool, error) {
	return numericDate("nbf")(jwt.MapClaims(c).GetNotBefore())
}

// IssuedAt returns the "iat" claim.
func (c Claims) IssuedAt() (time.Time, bool, error) {
	return numericDate("iat")(jwt.MapClaims(c).GetIssuedAt())
}

func numericDate(name string) func(*jwt.NumericDate, error) (time.Time, bool, error) {
	return func(d *jwt.NumericDate, err error) (time.Time, bool, error) {
		if err != nil {
			return time.Time{}, true, fmt.Errorf("%w: claim %q: %v", ErrMalformed, name, err)
		}
		if d == nil {
			return time.Time{}, false, nil
		}
		return d.Time, true, nil
	}
}

// Decode re-encodes the claims into ref.
func (c Claims) Decode(ref any) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}
