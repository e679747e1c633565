package main

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ggoodman/oauth2-sasl-go/internal/oidctest"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestEncode(t *testing.T) {
	out, err := run(t, "encode", "-u", "alice", "tok")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("output not base64: %v", err)
	}
	if string(b) != "user=alice\x01auth=Bearer tok\x01\x01" {
		t.Fatalf("decoded %q", b)
	}

	out, err = run(t, "encode", "-m", "OAUTHBEARER", "-u", "alice", "--host", "mx", "--raw", "tok")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if out != "n,a=alice,\x01host=mx\x01auth=Bearer tok\x01\x01" {
		t.Fatalf("raw %q", out)
	}

	if _, err := run(t, "encode", "-m", "plain", "tok"); err == nil {
		t.Fatalf("unknown mechanism accepted")
	}
}

func TestConfigFromFileRedactsSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oauth2.yaml")
	body := "oauth2_issuers: https://idp.example/realm/\noauth2_client_id: mail\noauth2_client_secret: hunter2\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := run(t, "--config", path, "config")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if strings.Contains(out, "hunter2") {
		t.Fatalf("secret printed:\n%s", out)
	}
	if !strings.Contains(out, "https://idp.example/realm/.well-known/openid-configuration") {
		t.Fatalf("derived endpoint missing:\n%s", out)
	}
}

func TestConfigOverridesAndErrors(t *testing.T) {
	if _, err := run(t, "--set", "oauth2_client_id=mail", "config"); err == nil {
		t.Fatalf("missing issuer accepted")
	}
	if _, err := run(t, "--set", "oauth2_issuer", "config"); err == nil {
		t.Fatalf("malformed --set accepted")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OAUTH2_ISSUER", "https://env.example")
	t.Setenv("OAUTH2_CLIENT_ID", "mail")
	out, err := run(t, "--env", "config")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if !strings.Contains(out, "https://env.example") {
		t.Fatalf("env issuer missing:\n%s", out)
	}
}

func TestDiscoverAndValidate(t *testing.T) {
	p := oidctest.New(t)
	base := []string{"--set", "oauth2_issuer=" + p.Issuer(), "--set", "oauth2_client_id=mail"}

	out, err := run(t, append(base, "discover")...)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if !strings.Contains(out, p.KeyID()) || !strings.Contains(out, "token_endpoint") {
		t.Fatalf("unexpected discover output:\n%s", out)
	}

	tok := p.Sign(t, p.Claims("alice@example.com", ""))
	out, err = run(t, append(base, "validate", "--claims", tok)...)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "username: alice@example.com") || !strings.Contains(out, `"sub": "user-123"`) {
		t.Fatalf("unexpected validate output:\n%s", out)
	}

	if _, err := run(t, append(base, "validate", "a.b.c")...); err == nil || !strings.Contains(err.Error(), "format") {
		t.Fatalf("want format rejection, got %v", err)
	}
}

func TestExchange(t *testing.T) {
	p := oidctest.New(t)
	base := []string{"--set", "oauth2_issuer=" + p.Issuer(), "--set", "oauth2_client_id=mail"}

	tok := p.Sign(t, p.Claims("alice@example.com", ""))
	out, err := run(t, append(base, "exchange", "-m", "xoauth2", "-u", "alice@example.com", "--token", tok)...)
	if err != nil {
		t.Fatalf("exchange: %v\n%s", err, out)
	}
	if !strings.Contains(out, "result: ok") || !strings.Contains(out, "username: alice@example.com") {
		t.Fatalf("unexpected output:\n%s", out)
	}

	out, err = run(t, append(base, "exchange", "--token", "not.a.jwt")...)
	if err == nil {
		t.Fatalf("bad token accepted:\n%s", out)
	}
	if !strings.Contains(out, "invalid_token") || !strings.Contains(out, "result: rejected") {
		t.Fatalf("expected continuation then rejection:\n%s", out)
	}
}
