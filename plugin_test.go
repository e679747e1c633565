package oauth2sasl_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	oauth2sasl "github.com/ggoodman/oauth2-sasl-go"
	"github.com/ggoodman/oauth2-sasl-go/config"
	"github.com/ggoodman/oauth2-sasl-go/internal/oidctest"
	"github.com/ggoodman/oauth2-sasl-go/metadata/memory"
	"github.com/ggoodman/oauth2-sasl-go/sasl"
	"github.com/ggoodman/oauth2-sasl-go/settings"
	"github.com/prometheus/client_golang/prometheus"
)

func newPlugin(t *testing.T, p *oidctest.Provider, extra settings.Map, opts ...oauth2sasl.Option) *oauth2sasl.Plugin {
	t.Helper()
	src := settings.Map{
		config.KeyIssuer:   p.Issuer(),
		config.KeyClientID: "mail",
	}
	for k, v := range extra {
		src[k] = v
	}
	opts = append([]oauth2sasl.Option{oauth2sasl.WithHTTPClient(p.Client())}, opts...)
	pl, err := oauth2sasl.New(context.Background(), src, opts...)
	if err != nil {
		t.Fatalf("new plugin: %v", err)
	}
	t.Cleanup(func() { _ = pl.Close() })
	return pl
}

func TestPluginXOAuth2(t *testing.T) {
	p := oidctest.New(t)
	pl := newPlugin(t, p, nil)

	s, err := pl.NewSession(sasl.XOAuth2)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer s.Close()

	tok := p.Sign(t, p.Claims("alice@example.com", ""))
	if _, done, err := s.Next(context.Background(), sasl.EncodeXOAuth2("alice@example.com", tok)); !done || err != nil {
		t.Fatalf("next: done=%v err=%v", done, err)
	}
	if s.Username() != "alice@example.com" {
		t.Fatalf("username = %q", s.Username())
	}
}

func TestPluginOAuthBearerHints(t *testing.T) {
	p := oidctest.New(t)
	pl := newPlugin(t, p, settings.Map{config.KeyScope: "openid mail"})

	s, err := pl.NewSession(sasl.OAuthBearer)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer s.Close()

	challenge, done, err := s.Next(context.Background(), sasl.EncodeOAuthBearer("", "not.a.jwt"))
	if done || err != nil {
		t.Fatalf("expected continuation, got done=%v err=%v", done, err)
	}
	se, err := sasl.ParseServerError(challenge)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if se.Scope != "openid mail" || se.OpenIDConfiguration != config.DiscoveryURLFor(p.Issuer()) {
		t.Fatalf("unexpected hints %+v", se)
	}
}

func TestPluginMaxSessions(t *testing.T) {
	p := oidctest.New(t)
	pl := newPlugin(t, p, settings.Map{config.KeyMaxSessions: "1"})

	first, err := pl.NewSession(sasl.XOAuth2)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := pl.NewSession(sasl.XOAuth2); !errors.Is(err, oauth2sasl.ErrResourceExhausted) {
		t.Fatalf("want ErrResourceExhausted, got %v", err)
	} else if sasl.CodeOf(err) != sasl.CodeResourceExhausted {
		t.Fatalf("code = %v", sasl.CodeOf(err))
	}

	// Finishing the attempt frees the slot.
	_, _, _ = first.Next(context.Background(), []byte("garbage"))
	second, err := pl.NewSession(sasl.XOAuth2)
	if err != nil {
		t.Fatalf("slot not released: %v", err)
	}
	_ = second.Close()

	if _, err := pl.NewSession("PLAIN"); err == nil {
		t.Fatalf("unsupported mechanism accepted")
	}
	third, err := pl.NewSession(sasl.XOAuth2)
	if err != nil {
		t.Fatalf("failed NewSession leaked a slot: %v", err)
	}
	_ = third.Close()
}

func TestPluginMaxSessionsWithCallerRelease(t *testing.T) {
	p := oidctest.New(t)
	pl := newPlugin(t, p, settings.Map{config.KeyMaxSessions: "1"})

	var released bool
	s, err := pl.NewSession(sasl.XOAuth2, sasl.WithRelease(func() { released = true }))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	_ = s.Close()
	if !released {
		t.Fatalf("caller release did not run")
	}
	again, err := pl.NewSession(sasl.XOAuth2)
	if err != nil {
		t.Fatalf("slot leaked by caller release: %v", err)
	}
	_ = again.Close()
}

func TestPluginConfigError(t *testing.T) {
	_, err := oauth2sasl.New(context.Background(), settings.Map{
		config.KeyIssuer:   "https://a",
		config.KeyIssuers:  "https://a https://b",
		config.KeyClientID: "mail",
	}, oauth2sasl.WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	var cerr *config.Error
	if !errors.As(err, &cerr) || cerr.Kind != config.KindConflictingSetting {
		t.Fatalf("want conflicting setting, got %v", err)
	}
}

func TestPluginRedisUnreachable(t *testing.T) {
	_, err := oauth2sasl.New(context.Background(), settings.Map{
		config.KeyIssuer:         "https://a",
		config.KeyClientID:       "mail",
		config.KeyCache:          "redis",
		config.KeyCacheRedisAddr: "127.0.0.1:1",
	}, oauth2sasl.WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	if err == nil {
		t.Fatalf("expected error for unreachable redis")
	}
}

func TestPluginSuppliedStoreNotClosed(t *testing.T) {
	p := oidctest.New(t)
	store := memory.New()
	pl := newPlugin(t, p, nil, oauth2sasl.WithMetadataStore(store))
	if err := pl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := pl.NewSession(sasl.XOAuth2); !errors.Is(err, oauth2sasl.ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
	// The store still serves reads after the plugin is gone.
	if _, err := store.Get(context.Background(), "x"); err != nil {
		t.Fatalf("store closed by plugin: %v", err)
	}
}

func TestPluginLogging(t *testing.T) {
	p := oidctest.New(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	quiet := newPlugin(t, p, nil, oauth2sasl.WithLogger(logger))
	s, _ := quiet.NewSession(sasl.XOAuth2)
	_, _, _ = s.Next(context.Background(), sasl.EncodeXOAuth2("a", p.Sign(t, p.Claims("a", ""))))
	if strings.Contains(buf.String(), "sasl.auth.ok") {
		t.Fatalf("info records should be dropped without oauth2_debug: %s", buf.String())
	}

	buf.Reset()
	loud := newPlugin(t, p, settings.Map{config.KeyDebug: "yes"}, oauth2sasl.WithLogger(logger))
	s, _ = loud.NewSession(sasl.XOAuth2)
	_, _, _ = s.Next(context.Background(), sasl.EncodeXOAuth2("a", p.Sign(t, p.Claims("a", ""))))

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		if rec["msg"] != "sasl.auth.ok" {
			continue
		}
		found = true
		attempt, _ := rec["attempt"].(map[string]any)
		if attempt["id"] != s.ID() || attempt["mechanism"] != sasl.XOAuth2 {
			t.Fatalf("attempt group missing: %v", rec)
		}
	}
	if !found {
		t.Fatalf("no sasl.auth.ok record in %s", buf.String())
	}
}

func TestPluginMetrics(t *testing.T) {
	p := oidctest.New(t)
	reg := prometheus.NewRegistry()
	pl := newPlugin(t, p, nil, oauth2sasl.WithMetricsRegisterer(reg))
	s, _ := pl.NewSession(sasl.XOAuth2)
	_, _, _ = s.Next(context.Background(), sasl.EncodeXOAuth2("a", "bad"))

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var names []string
	for _, mf := range mfs {
		names = append(names, mf.GetName())
	}
	if !strings.Contains(strings.Join(names, ","), "oauth2_sasl_attempts_total") {
		t.Fatalf("attempts counter not registered: %v", names)
	}
}

func TestPluginMechanisms(t *testing.T) {
	p := oidctest.New(t)
	pl := newPlugin(t, p, nil)
	if got := strings.Join(pl.Mechanisms(), ","); got != "OAUTHBEARER,XOAUTH2" {
		t.Fatalf("mechanisms = %s", got)
	}
	if pl.Config().ClientID != "mail" || pl.Authenticator() == nil {
		t.Fatalf("accessors not wired")
	}
}
