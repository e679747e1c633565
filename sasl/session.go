package sasl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ggoodman/oauth2-sasl-go/auth"
	"github.com/ggoodman/oauth2-sasl-go/config"
	"github.com/ggoodman/oauth2-sasl-go/internal/logctx"
	"github.com/ggoodman/oauth2-sasl-go/internal/metrics"
	"github.com/google/uuid"
)

// State is the position of a server session in its exchange.
type State int

const (
	StateStart State = iota
	// StateAwaitingAck follows an OAUTHBEARER error continuation.
	StateAwaitingAck
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateAwaitingAck:
		return "awaiting_ack"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// SessionOption configures a ServerSession.
type SessionOption func(*ServerSession)

// WithUserMatch sets how the client-asserted user name is compared with the
// token's. The default is config.UserMatchNone.
func WithUserMatch(m config.UserMatch) SessionOption {
	return func(s *ServerSession) { s.match = m }
}

// WithSessionLogger sets the logger for attempt outcomes.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *ServerSession) { s.log = l }
}

// WithErrorHints sets the scope and discovery URL advertised in OAUTHBEARER
// error continuations.
func WithErrorHints(scope, discovery string) SessionOption {
	return func(s *ServerSession) { s.scope, s.discovery = scope, discovery }
}

// WithRelease registers fn to run exactly once when the session finishes or
// is closed. Functions from repeated options all run, last registered first.
func WithRelease(fn func()) SessionOption {
	return func(s *ServerSession) {
		if fn == nil {
			return
		}
		if prev := s.release; prev != nil {
			s.release = func() { defer prev(); fn() }
			return
		}
		s.release = fn
	}
}

// ServerSession drives one authentication attempt. It is owned by a single
// connection; Next calls must not overlap.
type ServerSession struct {
	id        string
	mech      string
	authn     auth.Authenticator
	match     config.UserMatch
	scope     string
	discovery string
	log       *slog.Logger

	mu       sync.Mutex
	state    State
	username string
	err      error

	release     func()
	releaseOnce sync.Once
}

// NewServerSession starts a session for mech, which must be XOAuth2 or
// OAuthBearer.
func NewServerSession(mech string, authn auth.Authenticator, opts ...SessionOption) (*ServerSession, error) {
	switch mech {
	case XOAuth2, OAuthBearer:
	default:
		return nil, fmt.Errorf("sasl: unsupported mechanism %q", mech)
	}
	if authn == nil {
		return nil, errors.New("sasl: authenticator is required")
	}
	s := &ServerSession{
		id:    uuid.NewString(),
		mech:  mech,
		authn: authn,
		match: config.UserMatchNone,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	metrics.OpenSessions.Inc()
	return s, nil
}

// ID uniquely identifies the attempt in logs.
func (s *ServerSession) ID() string { return s.id }

// Mechanism is the mechanism name the session was created for.
func (s *ServerSession) Mechanism() string { return s.mech }

// State returns the session's current state.
func (s *ServerSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Username is the authenticated user name, empty until the session succeeds.
func (s *ServerSession) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// Err is the error the session failed with, if any. For OAUTHBEARER it is
// set as soon as the error continuation is produced.
func (s *ServerSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close abandons the session. Closing a finished session has no effect.
func (s *ServerSession) Close() error {
	s.mu.Lock()
	abandoned := s.state != StateDone
	if abandoned {
		s.state = StateDone
		if s.err == nil {
			s.err = fmt.Errorf("%w: session closed before completion", ErrMalformedMessage)
		}
	}
	s.mu.Unlock()
	s.done()
	return nil
}

// Next processes one client message. On success it returns done with a nil
// error. An OAUTHBEARER failure first returns the JSON error continuation as
// challenge with done false; the following call consumes the client's
// acknowledgement and returns done with the failure.
func (s *ServerSession) Next(ctx context.Context, response []byte) (challenge []byte, done bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = logctx.WithAttemptData(ctx, &logctx.AttemptData{ID: s.id, Mechanism: s.mech, State: s.state.String()})

	switch s.state {
	case StateDone:
		return nil, true, ErrSessionDone
	case StateAwaitingAck:
		ferr := s.err
		if !IsAck(response) {
			ferr = fmt.Errorf("%w: expected acknowledgement of error continuation: %w", ErrMalformedMessage, s.err)
		}
		s.finish(ctx, ferr)
		return nil, true, ferr
	}

	username, err := s.step(ctx, response)
	if err == nil {
		s.username = username
		s.finish(ctx, nil)
		return nil, true, nil
	}

	if s.mech == OAuthBearer {
		body, merr := json.Marshal(serverErrorFor(err, s.scope, s.discovery))
		if merr == nil {
			s.err = err
			s.state = StateAwaitingAck
			return body, false, nil
		}
		err = fmt.Errorf("%w: encode error continuation: %v", auth.ErrInternal, merr)
	}
	s.finish(ctx, err)
	return nil, true, err
}

// step parses and validates the client's initial message.
func (s *ServerSession) step(ctx context.Context, response []byte) (username string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", auth.ErrInternal, r)
		}
	}()

	var asserted, tok string
	switch s.mech {
	case XOAuth2:
		m, err := ParseXOAuth2(response)
		if err != nil {
			return "", err
		}
		asserted, tok = m.User, m.Token
	case OAuthBearer:
		m, err := ParseOAuthBearer(response)
		if err != nil {
			return "", err
		}
		asserted, tok = m.AuthzID, m.Token
	}

	ui, err := s.authn.CheckAuthentication(ctx, tok)
	if err != nil {
		return "", err
	}
	username = ui.Username()
	if !s.userMatches(asserted, username) {
		return "", fmt.Errorf("%w: client asserted %q", auth.ErrUsernameMismatch, asserted)
	}
	return username, nil
}

func (s *ServerSession) userMatches(asserted, username string) bool {
	switch s.match {
	case config.UserMatchExact:
		return asserted == "" || asserted == username
	case config.UserMatchCaseFold:
		return asserted == "" || strings.EqualFold(asserted, username)
	}
	return true
}

// finish moves to StateDone and reports the attempt's outcome.
func (s *ServerSession) finish(ctx context.Context, err error) {
	s.state = StateDone
	s.err = err
	code := CodeOf(err)
	metrics.Attempts.WithLabelValues(s.mech, code.String()).Inc()

	switch {
	case err == nil:
		s.log.InfoContext(ctx, "sasl.auth.ok", slog.String("username", s.username))
	case code == CodeInternal:
		s.log.ErrorContext(ctx, "sasl.auth.fail", slog.String("reason", reason(err)), slog.String("err", err.Error()))
	default:
		metrics.ValidationFailures.WithLabelValues(reason(err)).Inc()
		s.log.WarnContext(ctx, "sasl.auth.fail", slog.String("reason", reason(err)), slog.String("err", err.Error()))
	}
	s.done()
}

func (s *ServerSession) done() {
	s.releaseOnce.Do(func() {
		metrics.OpenSessions.Dec()
		if s.release != nil {
			s.release()
		}
	})
}
