package feed

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/alanyoungcy/bnbmarket/internal/market"
)

// BusRelay subscribes to domain.ChannelMarkets and folds records published
// by another process's MarketFeed into a local book.
type BusRelay struct {
	bus    domain.SignalBus
	book   *market.Book
	logger *slog.Logger
}

// NewBusRelay creates a BusRelay.
func NewBusRelay(bus domain.SignalBus, book *market.Book, logger *slog.Logger) *BusRelay {
	return &BusRelay{
		bus:    bus,
		book:   book,
		logger: logger.With(slog.String("component", "bus_relay")),
	}
}

// Run relays until ctx is cancelled or the subscription closes.
func (r *BusRelay) Run(ctx context.Context) error {
	ch, err := r.bus.Subscribe(ctx, domain.ChannelMarkets)
	if err != nil {
		return err
	}
	r.logger.Info("bus relay started")
	defer r.logger.Info("bus relay stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			raw, err := market.DecodeRaw(data)
			if err != nil {
				r.logger.Debug("bus relay decode failed",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
				continue
			}
			r.book.Upsert(raw)
		}
	}
}
