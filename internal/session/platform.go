package session

import (
	"context"
	"log/slog"
)

// StaticPlatform reports a fixed user agent and dapp URL. Redirects are
// handed to Open when set and logged otherwise.
type StaticPlatform struct {
	Agent  string
	URL    string
	Open   func(ctx context.Context, url string) error
	Logger *slog.Logger
}

// UserAgent implements Platform.
func (p StaticPlatform) UserAgent() string { return p.Agent }

// CurrentURL implements Platform.
func (p StaticPlatform) CurrentURL() string { return p.URL }

// Redirect implements Platform.
func (p StaticPlatform) Redirect(ctx context.Context, url string) error {
	if p.Open != nil {
		return p.Open(ctx, url)
	}
	if p.Logger != nil {
		p.Logger.InfoContext(ctx, "open wallet app", slog.String("url", url))
	}
	return nil
}
