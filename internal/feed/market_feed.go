// Package feed keeps the shared market book current from the backend's
// push channel and fans updates out over the signal bus.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/alanyoungcy/bnbmarket/internal/market"
	"github.com/alanyoungcy/bnbmarket/internal/platform/backend"
)

const (
	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	connectTimeout = 15 * time.Second
)

// MarketFeed connects to the backend push channel and folds every
// market:update into the book. Applied records are cached and published on
// domain.ChannelMarkets. It reconnects on disconnect.
type MarketFeed struct {
	wsURL  string
	book   *market.Book
	cache  domain.MarketCache
	bus    domain.SignalBus
	logger *slog.Logger

	baseDelay time.Duration
	closeOnce sync.Once
	done      chan struct{}
}

// NewMarketFeed creates a feed for the socket.io endpoint wsURL. cache and
// bus may be nil.
func NewMarketFeed(wsURL string, book *market.Book, cache domain.MarketCache, bus domain.SignalBus, logger *slog.Logger) *MarketFeed {
	return &MarketFeed{
		wsURL:     wsURL,
		book:      book,
		cache:     cache,
		bus:       bus,
		logger:    logger.With(slog.String("component", "market_feed")),
		baseDelay: reconnectDelay,
		done:      make(chan struct{}),
	}
}

// Run connects and applies updates until ctx is cancelled or Close is
// called. Reconnects with exponential backoff on disconnect.
func (f *MarketFeed) Run(ctx context.Context) error {
	delay := f.baseDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		connected, err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = f.baseDelay
		}
		f.logger.Warn("market feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection serves one connection. connected reports whether the
// handshake succeeded; a nil error means the feed was closed.
func (f *MarketFeed) runConnection(ctx context.Context) (connected bool, err error) {
	client := backend.NewPushClient(f.wsURL)
	client.OnMarketUpdate(func(raw market.Raw) { f.Apply(ctx, raw) })

	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	err = client.Connect(connCtx)
	cancel()
	if err != nil {
		return false, err
	}
	defer client.Close()
	f.logger.Info("market feed connected", slog.String("url", f.wsURL))

	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-f.done:
		return true, nil
	case <-client.Done():
		return true, client.Err()
	}
}

// Apply upserts one pushed document and propagates the merged record.
func (f *MarketFeed) Apply(ctx context.Context, raw market.Raw) {
	rec, ok := f.book.Upsert(raw)
	if !ok {
		f.logger.Debug("market update without identity dropped")
		return
	}

	if f.cache != nil {
		if err := f.cache.Set(ctx, rec); err != nil {
			f.logger.Warn("cache market failed",
				slog.String("market_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if f.bus != nil {
		payload, err := json.Marshal(rec)
		if err != nil {
			return
		}
		if err := f.bus.Publish(ctx, domain.ChannelMarkets, payload); err != nil {
			f.logger.Warn("publish market failed",
				slog.String("market_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Close stops the feed.
func (f *MarketFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
