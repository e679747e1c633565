package auth

import (
	"context"
	"errors"

	"github.com/ggoodman/oauth2-sasl-go/internal/jwtauth"
	"github.com/ggoodman/oauth2-sasl-go/metadata"
)

// Validation failures. Every error returned by an Authenticator wraps exactly
// one of these, so callers branch with errors.Is.
var (
	ErrFormat               = jwtauth.ErrFormat
	ErrNetwork              = jwtauth.ErrNetwork
	ErrExpired              = jwtauth.ErrExpired
	ErrNotYetValid          = jwtauth.ErrNotYetValid
	ErrIssuerMismatch       = jwtauth.ErrIssuerMismatch
	ErrAudienceMismatch     = jwtauth.ErrAudienceMismatch
	ErrSignatureInvalid     = jwtauth.ErrSignatureInvalid
	ErrMissingUsernameClaim = jwtauth.ErrMissingUsernameClaim
	ErrInternal             = jwtauth.ErrInternal
)

// ErrUsernameMismatch indicates the client asserted a user name that differs
// from the one carried by the token.
var ErrUsernameMismatch = errors.New("auth: username mismatch")

// ErrResourceExhausted indicates the attempt was refused before validation
// because too many are in flight.
var ErrResourceExhausted = errors.New("auth: too many concurrent attempts")

// IsValidationError reports whether err is a verdict about the token itself,
// as opposed to an infrastructure failure that a retry might clear. A
// provider serving undecodable metadata is the server's trouble, not the
// token's.
func IsValidationError(err error) bool {
	if errors.Is(err, metadata.ErrFormat) {
		return false
	}
	for _, target := range []error{
		ErrFormat,
		ErrExpired,
		ErrNotYetValid,
		ErrIssuerMismatch,
		ErrAudienceMismatch,
		ErrSignatureInvalid,
		ErrMissingUsernameClaim,
		ErrUsernameMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Reason is a short stable label for err, used in logs and metrics.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrUsernameMismatch):
		return "username_mismatch"
	case errors.Is(err, ErrResourceExhausted):
		return "resource_exhausted"
	case errors.Is(err, metadata.ErrFormat):
		return "provider_format"
	}
	return jwtauth.Reason(err)
}

// UserInfo represents an authenticated principal.
type UserInfo interface {
	// Username is the value of the configured user name claim.
	Username() string
	// Issuer is the token's "iss" claim.
	Issuer() string
	// Endpoint is the discovery endpoint whose keys verified the token. It is
	// empty when signature verification is disabled.
	Endpoint() string
	// Claims unmarshals the token's claims into the provided struct reference.
	Claims(ref any) error
}

// Authenticator validates bearer tokens and returns associated user info.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}
