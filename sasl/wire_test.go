package sasl

import (
	"errors"
	"strings"
	"testing"
)

func TestXOAuth2RoundTrip(t *testing.T) {
	for _, tc := range []struct{ user, token string }{
		{"alice@example.com", "eyJhbGciOi.eyJzdWIi.c2ln"},
		{"", "t"},
		{"user with=equals", "abc"},
	} {
		m, err := ParseXOAuth2(EncodeXOAuth2(tc.user, tc.token))
		if err != nil {
			t.Fatalf("parse(%q,%q): %v", tc.user, tc.token, err)
		}
		if m.User != tc.user || m.Token != tc.token {
			t.Fatalf("round trip mismatch: got %+v", m)
		}
	}
}

func TestParseXOAuth2Malformed(t *testing.T) {
	tests := map[string]string{
		"empty":              "",
		"no terminator":      "user=a\x01auth=Bearer t",
		"single terminator":  "user=a\x01auth=Bearer t\x01",
		"no user":            "auth=Bearer t\x01\x01",
		"user not first":     "x=a\x01auth=Bearer t\x01\x01",
		"no auth":            "user=a\x01\x01",
		"no bearer":          "user=a\x01auth=Basic dXNlcg==\x01\x01",
		"no scheme space":    "user=a\x01auth=Bearert\x01\x01",
		"empty token":        "user=a\x01auth=Bearer \x01\x01",
		"token with space":   "user=a\x01auth=Bearer t u\x01\x01",
		"extra field":        "user=a\x01host=x\x01auth=Bearer t\x01\x01",
		"oversized":          "user=a\x01auth=Bearer " + strings.Repeat("x", MaxMessageSize) + "\x01\x01",
		"oauthbearer wire":   "n,a=a,\x01auth=Bearer t\x01\x01",
		"missing delimiters": "user=aauth=Bearer t",
	}
	for name, msg := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseXOAuth2([]byte(msg)); !errors.Is(err, ErrMalformedMessage) {
				t.Fatalf("want ErrMalformedMessage, got %v", err)
			}
		})
	}
}

func TestParseXOAuth2SchemeCaseInsensitive(t *testing.T) {
	m, err := ParseXOAuth2([]byte("user=a\x01auth=bEaReR tok\x01\x01"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Token != "tok" {
		t.Fatalf("token = %q", m.Token)
	}
}

func TestOAuthBearerRoundTrip(t *testing.T) {
	msg := EncodeOAuthBearer("user,name=x", "tok", KV{Key: "host", Value: "imap.example.com"}, KV{Key: "port", Value: "993"})
	want := "n,a=user=2Cname=3Dx,\x01host=imap.example.com\x01port=993\x01auth=Bearer tok\x01\x01"
	if string(msg) != want {
		t.Fatalf("encoded %q, want %q", msg, want)
	}
	m, err := ParseOAuthBearer(msg)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.AuthzID != "user,name=x" || m.Token != "tok" || m.ChannelBinding {
		t.Fatalf("unexpected message %+v", m)
	}
	if host, _ := m.Param("host"); host != "imap.example.com" {
		t.Fatalf("host = %q", host)
	}
	if port, _ := m.Param("port"); port != "993" {
		t.Fatalf("port = %q", port)
	}
}

func TestParseOAuthBearerVariants(t *testing.T) {
	m, err := ParseOAuthBearer([]byte("n,,\x01auth=Bearer tok\x01\x01"))
	if err != nil {
		t.Fatalf("no authzid: %v", err)
	}
	if m.AuthzID != "" || m.Token != "tok" {
		t.Fatalf("unexpected %+v", m)
	}

	m, err = ParseOAuthBearer([]byte("y,a=bob,\x01auth=Bearer tok\x01\x01"))
	if err != nil {
		t.Fatalf("y flag: %v", err)
	}
	if !m.ChannelBinding || m.AuthzID != "bob" {
		t.Fatalf("unexpected %+v", m)
	}
}

func TestParseOAuthBearerMalformed(t *testing.T) {
	tests := map[string]string{
		"empty":             "",
		"no gs2 terminator": "n,a=bob,auth=Bearer tok",
		"channel binding":   "p=tls-unique,a=bob,\x01auth=Bearer tok\x01\x01",
		"bad flag":          "x,a=bob,\x01auth=Bearer tok\x01\x01",
		"gs2 missing comma": "n,a=bob\x01auth=Bearer tok\x01\x01",
		"empty authzid":     "n,a=,\x01auth=Bearer tok\x01\x01",
		"bad authzid":       "n,b=bob,\x01auth=Bearer tok\x01\x01",
		"bad escape":        "n,a=bo=2Xb,\x01auth=Bearer tok\x01\x01",
		"truncated escape":  "n,a=bob=2,\x01auth=Bearer tok\x01\x01",
		"no auth":           "n,a=bob,\x01host=x\x01\x01",
		"duplicate auth":    "n,,\x01auth=Bearer a\x01auth=Bearer b\x01\x01",
		"no terminator":     "n,,\x01auth=Bearer tok\x01",
		"empty pair":        "n,,\x01\x01auth=Bearer tok\x01\x01",
		"bad key":           "n,,\x01ho-st=x\x01auth=Bearer tok\x01\x01",
		"pair without =":    "n,,\x01host\x01auth=Bearer tok\x01\x01",
		"not bearer":        "n,,\x01auth=MAC tok\x01\x01",
		"xoauth2 wire":      "user=a\x01auth=Bearer t\x01\x01",
		"oversized":         "n,,\x01auth=Bearer " + strings.Repeat("x", MaxMessageSize) + "\x01\x01",
	}
	for name, msg := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseOAuthBearer([]byte(msg)); !errors.Is(err, ErrMalformedMessage) {
				t.Fatalf("want ErrMalformedMessage, got %v", err)
			}
		})
	}
}

func TestIsAck(t *testing.T) {
	if !IsAck(nil) || !IsAck([]byte{}) || !IsAck([]byte{0x01}) {
		t.Fatalf("empty and ^A are acknowledgements")
	}
	if IsAck([]byte{0x01, 0x01}) || IsAck([]byte("x")) {
		t.Fatalf("anything else is not")
	}
}
