package sasl

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Mechanism names as registered with IANA.
const (
	XOAuth2     = "XOAUTH2"
	OAuthBearer = "OAUTHBEARER"
)

// MaxMessageSize bounds any client message accepted by a server session.
const MaxMessageSize = 64 << 10

const (
	sep          = "\x01"
	bearerScheme = "bearer"
)

// ErrMalformedMessage reports a client message that does not follow the
// mechanism's wire format.
var ErrMalformedMessage = errors.New("sasl: malformed message")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedMessage, fmt.Sprintf(format, args...))
}

// XOAuth2Message is the single client message of XOAUTH2:
//
//	user=<name>^Aauth=Bearer <token>^A^A
type XOAuth2Message struct {
	User  string
	Token string
}

// EncodeXOAuth2 builds an XOAUTH2 client message.
func EncodeXOAuth2(user, token string) []byte {
	return []byte("user=" + user + sep + "auth=Bearer " + token + sep + sep)
}

// ParseXOAuth2 decodes an XOAUTH2 client message.
func ParseXOAuth2(msg []byte) (*XOAuth2Message, error) {
	if len(msg) > MaxMessageSize {
		return nil, malformed("message exceeds %d bytes", MaxMessageSize)
	}
	s := string(msg)
	if !strings.HasSuffix(s, sep+sep) {
		return nil, malformed("missing terminator")
	}
	fields := strings.Split(strings.TrimSuffix(s, sep+sep), sep)
	if len(fields) != 2 {
		return nil, malformed("want user and auth fields, got %d fields", len(fields))
	}
	user, ok := strings.CutPrefix(fields[0], "user=")
	if !ok {
		return nil, malformed("missing user field")
	}
	authz, ok := strings.CutPrefix(fields[1], "auth=")
	if !ok {
		return nil, malformed("missing auth field")
	}
	tok, err := bearerToken(authz)
	if err != nil {
		return nil, err
	}
	return &XOAuth2Message{User: user, Token: tok}, nil
}

// KV is a key/value pair of an OAUTHBEARER client message.
type KV struct {
	Key   string
	Value string
}

// OAuthBearerMessage is the initial client message of OAUTHBEARER (RFC 7628):
//
//	n,a=<authzid>,^Ahost=<host>^Aport=<port>^Aauth=Bearer <token>^A^A
type OAuthBearerMessage struct {
	// AuthzID is the optional authorization identity, unescaped.
	AuthzID string
	// ChannelBinding reports the "y" GS2 flag: the client supports channel
	// binding but thinks the server does not.
	ChannelBinding bool
	Token          string
	// Params holds the key/value pairs other than auth, in message order.
	Params []KV
}

// Param returns the value of the first pair named key.
func (m *OAuthBearerMessage) Param(key string) (string, bool) {
	for _, kv := range m.Params {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// EncodeOAuthBearer builds an OAUTHBEARER initial client message. kv pairs
// such as host and port precede the auth pair.
func EncodeOAuthBearer(authzid, token string, kv ...KV) []byte {
	var b bytes.Buffer
	b.WriteString("n,")
	if authzid != "" {
		b.WriteString("a=")
		b.WriteString(escapeSASLName(authzid))
	}
	b.WriteString("," + sep)
	for _, p := range kv {
		b.WriteString(p.Key + "=" + p.Value + sep)
	}
	b.WriteString("auth=Bearer " + token + sep + sep)
	return b.Bytes()
}

// ParseOAuthBearer decodes an OAUTHBEARER initial client message.
func ParseOAuthBearer(msg []byte) (*OAuthBearerMessage, error) {
	if len(msg) > MaxMessageSize {
		return nil, malformed("message exceeds %d bytes", MaxMessageSize)
	}
	gs2, rest, ok := strings.Cut(string(msg), sep)
	if !ok {
		return nil, malformed("missing GS2 header terminator")
	}
	m := &OAuthBearerMessage{}
	if err := parseGS2(gs2, m); err != nil {
		return nil, err
	}

	if !strings.HasSuffix(rest, sep) {
		return nil, malformed("missing terminator")
	}
	rest = strings.TrimSuffix(rest, sep)
	if !strings.HasSuffix(rest, sep) {
		return nil, malformed("missing terminator")
	}
	var authz string
	var haveAuth bool
	for _, field := range strings.Split(strings.TrimSuffix(rest, sep), sep) {
		k, v, ok := strings.Cut(field, "=")
		if !ok || !validKey(k) {
			return nil, malformed("invalid key/value pair")
		}
		if k == "auth" {
			if haveAuth {
				return nil, malformed("duplicate auth field")
			}
			authz, haveAuth = v, true
			continue
		}
		m.Params = append(m.Params, KV{Key: k, Value: v})
	}
	if !haveAuth {
		return nil, malformed("missing auth field")
	}
	tok, err := bearerToken(authz)
	if err != nil {
		return nil, err
	}
	m.Token = tok
	return m, nil
}

// parseGS2 reads "<flag>,[a=<authzid>]," into m.
func parseGS2(h string, m *OAuthBearerMessage) error {
	parts := strings.Split(h, ",")
	if len(parts) != 3 || parts[2] != "" {
		return malformed("invalid GS2 header")
	}
	switch {
	case parts[0] == "n":
	case parts[0] == "y":
		m.ChannelBinding = true
	case strings.HasPrefix(parts[0], "p="):
		return malformed("channel binding is not supported")
	default:
		return malformed("invalid GS2 flag %q", parts[0])
	}
	if parts[1] == "" {
		return nil
	}
	name, ok := strings.CutPrefix(parts[1], "a=")
	if !ok || name == "" {
		return malformed("invalid authzid")
	}
	u, err := unescapeSASLName(name)
	if err != nil {
		return err
	}
	m.AuthzID = u
	return nil
}

// bearerToken extracts the token from an auth value. The scheme is matched
// without regard to case.
func bearerToken(v string) (string, error) {
	scheme, tok, ok := strings.Cut(v, " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return "", malformed("auth value is not a bearer credential")
	}
	if tok == "" || strings.ContainsAny(tok, " \t\r\n") {
		return "", malformed("invalid bearer token")
	}
	return tok, nil
}

func validKey(k string) bool {
	if k == "" {
		return false
	}
	for _, c := range k {
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}

// escapeSASLName applies RFC 5801 escaping to an authzid.
func escapeSASLName(s string) string {
	return strings.NewReplacer("=", "=3D", ",", "=2C").Replace(s)
}

func unescapeSASLName(s string) (string, error) {
	if !strings.Contains(s, "=") {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '=' {
			b.WriteByte(s[i])
			continue
		}
		if i+3 > len(s) {
			return "", malformed("truncated escape in authzid")
		}
		switch s[i+1 : i+3] {
		case "2C":
			b.WriteByte(',')
		case "3D":
			b.WriteByte('=')
		default:
			return "", malformed("invalid escape in authzid")
		}
		i += 2
	}
	return b.String(), nil
}

// IsAck reports whether msg acknowledges an OAUTHBEARER error continuation.
func IsAck(msg []byte) bool {
	return len(msg) == 0 || (len(msg) == 1 && msg[0] == 0x01)
}
