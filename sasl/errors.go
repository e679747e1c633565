package sasl

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ggoodman/oauth2-sasl-go/auth"
	"github.com/ggoodman/oauth2-sasl-go/metadata"
)

// ErrSessionDone is returned by Next once a session has finished.
var ErrSessionDone = errors.New("sasl: session already finished")

// Code is the outcome of a step as reported to the host framework.
type Code int

const (
	CodeOK Code = iota
	CodeContinue
	CodeMalformed
	CodeRejected
	CodeResourceExhausted
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeContinue:
		return "continue"
	case CodeMalformed:
		return "malformed"
	case CodeRejected:
		return "rejected"
	case CodeResourceExhausted:
		return "resource_exhausted"
	case CodeInternal:
		return "internal"
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// CodeOf maps an error from a session to the code the host should report.
// A nil error is CodeOK.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrMalformedMessage), errors.Is(err, ErrSessionDone):
		return CodeMalformed
	case errors.Is(err, auth.ErrResourceExhausted):
		return CodeResourceExhausted
	case errors.Is(err, metadata.ErrFormat),
		errors.Is(err, auth.ErrNetwork),
		errors.Is(err, auth.ErrInternal):
		return CodeInternal
	case auth.IsValidationError(err):
		return CodeRejected
	}
	return CodeInternal
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrMalformedMessage):
		return "malformed_message"
	case errors.Is(err, ErrSessionDone):
		return "session_done"
	}
	return auth.Reason(err)
}

// OAUTHBEARER error statuses (RFC 7628 section 3.2.2).
const (
	StatusInvalidRequest = "invalid_request"
	StatusInvalidToken   = "invalid_token"
	StatusServerError    = "server_error"
)

// ServerError is the JSON body of an OAUTHBEARER error continuation.
type ServerError struct {
	Status              string `json:"status"`
	Description         string `json:"description,omitempty"`
	Scope               string `json:"scope,omitempty"`
	OpenIDConfiguration string `json:"openid-configuration,omitempty"`
}

func (e *ServerError) Error() string {
	if e.Description == "" {
		return "sasl: server error: " + e.Status
	}
	return "sasl: server error: " + e.Status + ": " + e.Description
}

// ParseServerError decodes an error continuation sent by a server.
func ParseServerError(b []byte) (*ServerError, error) {
	var e ServerError
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("%w: error continuation: %v", ErrMalformedMessage, err)
	}
	if e.Status == "" {
		return nil, fmt.Errorf("%w: error continuation without status", ErrMalformedMessage)
	}
	return &e, nil
}

// serverErrorFor builds the continuation for err. The description is fixed
// per status so the client learns nothing about which check failed.
func serverErrorFor(err error, scope, discovery string) *ServerError {
	e := &ServerError{Scope: scope, OpenIDConfiguration: discovery}
	switch CodeOf(err) {
	case CodeMalformed:
		e.Status, e.Description = StatusInvalidRequest, "malformed request"
	case CodeRejected:
		e.Status, e.Description = StatusInvalidToken, "token rejected"
	default:
		e.Status, e.Description = StatusServerError, "temporary server failure"
	}
	return e
}
