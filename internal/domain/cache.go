package domain

import (
	"context"
	"time"
)

// MarketCache provides fast market record lookups.
type MarketCache interface {
	Set(ctx context.Context, market MarketRecord) error
	Get(ctx context.Context, id string) (MarketRecord, error)
	GetByOnChainID(ctx context.Context, onChainID int64) (MarketRecord, error)
	Invalidate(ctx context.Context, id string) error
}

// PreferenceStore persists the last chosen wallet vendor. Read reports
// ok=false when nothing valid is stored. Write(nil) clears the value.
type PreferenceStore interface {
	Read(ctx context.Context) (WalletType, bool, error)
	Write(ctx context.Context, w *WalletType) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locks that stay held until released.
// lost is closed when ownership expires. Hold returns ErrLockHeld when
// another party owns key.
type LockManager interface {
	Hold(ctx context.Context, key string, ttl time.Duration) (release func(), lost <-chan struct{}, err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams. StreamRead never
// blocks; it returns what is stored after lastID.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channels. ChannelTransactions carries entries read back from
// StreamTxEvents.
const (
	ChannelMarkets      = "markets"
	ChannelSession      = "session"
	ChannelTransactions = "transactions"
	StreamTxEvents      = "stream:tx"
)

// CacheTTL is the default lifetime of cached market records.
const CacheTTL = 10 * time.Minute
