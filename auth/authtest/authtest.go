// Package authtest provides Authenticator fakes for exercising SASL sessions
// without an identity provider.
package authtest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ggoodman/oauth2-sasl-go/auth"
)

// Static maps raw tokens to outcomes. Tokens with no entry fail with
// auth.ErrSignatureInvalid.
type Static struct {
	mu     sync.Mutex
	users  map[string]string
	errs   map[string]error
	panics map[string]any
	seen   []string
}

var _ auth.Authenticator = (*Static)(nil)

// NewStatic returns an empty Static authenticator.
func NewStatic() *Static {
	return &Static{users: map[string]string{}, errs: map[string]error{}, panics: map[string]any{}}
}

// Accept makes tok authenticate as username.
func (s *Static) Accept(tok, username string) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[tok] = username
	return s
}

// Reject makes tok fail with err.
func (s *Static) Reject(tok string, err error) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[tok] = err
	return s
}

// Panic makes validating tok panic with v.
func (s *Static) Panic(tok string, v any) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panics[tok] = v
	return s
}

// Seen returns the tokens checked so far, in order.
func (s *Static) Seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

// CheckAuthentication implements auth.Authenticator.
func (s *Static) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	s.mu.Lock()
	s.seen = append(s.seen, tok)
	user, ok := s.users[tok]
	err := s.errs[tok]
	p, shouldPanic := s.panics[tok]
	s.mu.Unlock()

	if shouldPanic {
		panic(p)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, auth.ErrSignatureInvalid
	}
	return &userInfo{username: user}, nil
}

type userInfo struct {
	username string
}

func (u *userInfo) Username() string { return u.username }
func (u *userInfo) Issuer() string   { return "https://authtest.invalid" }
func (u *userInfo) Endpoint() string { return "" }

func (u *userInfo) Claims(ref any) error {
	b, err := json.Marshal(map[string]any{"email": u.username})
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}
