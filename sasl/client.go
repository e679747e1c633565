package sasl

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/oauth2"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHostPort adds the host and port pairs to OAUTHBEARER messages.
func WithHostPort(host string, port int) ClientOption {
	return func(c *Client) { c.host, c.port = host, port }
}

// Client produces the client side of either mechanism from an OAuth 2.0
// token source.
type Client struct {
	mech     string
	username string
	ts       oauth2.TokenSource
	host     string
	port     int

	started bool
	done    bool
}

// NewClient returns a client for mech authenticating as username with
// tokens from ts.
func NewClient(mech, username string, ts oauth2.TokenSource, opts ...ClientOption) (*Client, error) {
	switch mech {
	case XOAuth2, OAuthBearer:
	default:
		return nil, fmt.Errorf("sasl: unsupported mechanism %q", mech)
	}
	if ts == nil {
		return nil, errors.New("sasl: token source is required")
	}
	c := &Client{mech: mech, username: username, ts: ts}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Mechanism is the mechanism name the client speaks.
func (c *Client) Mechanism() string { return c.mech }

// Start returns the initial client response.
func (c *Client) Start(ctx context.Context) ([]byte, error) {
	if c.started {
		return nil, errors.New("sasl: client already started")
	}
	tok, err := c.ts.Token()
	if err != nil {
		return nil, fmt.Errorf("sasl: obtain token: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, errors.New("sasl: token source returned an empty access token")
	}
	c.started = true

	if c.mech == XOAuth2 {
		return EncodeXOAuth2(c.username, tok.AccessToken), nil
	}
	var kv []KV
	if c.host != "" {
		kv = append(kv, KV{Key: "host", Value: c.host})
	}
	if c.port > 0 {
		kv = append(kv, KV{Key: "port", Value: strconv.Itoa(c.port)})
	}
	return EncodeOAuthBearer(c.username, tok.AccessToken, kv...), nil
}

// Next answers a server challenge. Both mechanisms only challenge to report
// a failure, so the response is the acknowledgement the server expects and
// the returned error is the decoded *ServerError. The caller must still send
// the response to let the server conclude the exchange.
func (c *Client) Next(ctx context.Context, challenge []byte) ([]byte, error) {
	if !c.started {
		return nil, errors.New("sasl: client not started")
	}
	if c.done {
		return nil, ErrSessionDone
	}
	c.done = true

	se, err := ParseServerError(challenge)
	if err != nil {
		return nil, err
	}
	if c.mech == OAuthBearer {
		return []byte{0x01}, se
	}
	return []byte{}, se
}
