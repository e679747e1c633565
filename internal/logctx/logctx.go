package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates records with the attempt and provider carried by the
// context.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if ad, ok := ctx.Value(attemptDataKey{}).(*AttemptData); ok {
		r.AddAttrs(slog.Group("attempt",
			slog.String("id", ad.ID),
			slog.String("mechanism", ad.Mechanism),
			slog.String("state", ad.State),
		))
	}

	if pd, ok := ctx.Value(providerDataKey{}).(*ProviderData); ok {
		r.AddAttrs(slog.Group("provider",
			slog.String("endpoint", pd.Endpoint),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type attemptDataKey struct{}

type AttemptData struct {
	ID        string
	Mechanism string
	State     string
}

func WithAttemptData(ctx context.Context, data *AttemptData) context.Context {
	return context.WithValue(ctx, attemptDataKey{}, data)
}

type providerDataKey struct{}

type ProviderData struct {
	Endpoint string
}

func WithProviderData(ctx context.Context, data *ProviderData) context.Context {
	return context.WithValue(ctx, providerDataKey{}, data)
}
