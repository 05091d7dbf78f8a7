package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/alanyoungcy/bnbmarket/internal/feed"
	"github.com/alanyoungcy/bnbmarket/internal/market"
	"github.com/alanyoungcy/bnbmarket/internal/network"
	"github.com/alanyoungcy/bnbmarket/internal/notify"
	"github.com/alanyoungcy/bnbmarket/internal/platform/backend"
	"github.com/alanyoungcy/bnbmarket/internal/server"
	"github.com/alanyoungcy/bnbmarket/internal/server/handler"
	"github.com/alanyoungcy/bnbmarket/internal/server/ws"
	"github.com/alanyoungcy/bnbmarket/internal/service"
	"github.com/alanyoungcy/bnbmarket/internal/session"
)

const (
	shutdownTimeout = 10 * time.Second
	txStreamPoll    = time.Second
	txStreamBatch   = 100
)

// ServerMode serves the HTTP API and websocket hub, keeps the market book
// current and restores the last wallet session.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, w *Wallet) error {
	a.logger.InfoContext(ctx, "entering server mode")

	g, ctx := errgroup.WithContext(ctx)

	a.loadFirstPage(ctx, deps)

	hub := ws.NewHub(deps.SignalBus, ws.Config{
		BusChannels:    []string{domain.ChannelMarkets},
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		Initial:        initialMessages(w.Sessions, deps.Book, a.logger),
	}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, a.handlers(deps, w), hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	// Session changes go to local clients directly and to other processes
	// over the bus.
	snapshots, unsubscribe := w.Sessions.Subscribe()
	g.Go(func() error {
		defer unsubscribe()
		return relaySessions(ctx, snapshots, hub, deps.SignalBus, deps.Notifier, a.logger)
	})

	// Transactions sent by any process sharing the bus, one-shot commands
	// included, reach websocket clients through the stream.
	if deps.SignalBus != nil {
		start := time.Now()
		g.Go(func() error {
			return relayTxStream(ctx, deps.SignalBus, hub, start, txStreamPoll, a.logger)
		})
	}

	// Without a bus, book changes never reach the hub through a bus
	// subscription.
	if deps.SignalBus == nil {
		updates, unsubscribe := deps.Book.Subscribe()
		g.Go(func() error {
			defer unsubscribe()
			return relayBook(ctx, updates, deps.Book, hub)
		})
	} else {
		relay := feed.NewBusRelay(deps.SignalBus, deps.Book, a.logger)
		g.Go(func() error {
			return relay.Run(ctx)
		})
	}

	if err := a.startFeed(ctx, g, deps); err != nil {
		return err
	}

	g.Go(func() error {
		w.Sessions.EagerConnect(ctx)
		return nil
	})

	g.Go(func() error {
		return a.maintenanceLoop(ctx, w.Betting, deps, w.Dedup)
	})

	return g.Wait()
}

// WatchMode keeps the market book, cache and bus current without a wallet
// and replays backend records of transactions that failed to sync.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering watch mode")

	g, ctx := errgroup.WithContext(ctx)

	a.loadFirstPage(ctx, deps)

	if err := a.startFeed(ctx, g, deps); err != nil {
		return err
	}

	g.Go(func() error {
		return a.maintenanceLoop(ctx, resyncService(deps, a.logger), deps, nil)
	})

	return g.Wait()
}

// handlers builds the REST handlers for the server.
func (a *App) handlers(deps *Dependencies, w *Wallet) server.Handlers {
	h := server.Handlers{
		Health:  handler.NewHealthHandler(healthChecks(deps), a.logger),
		Session: handler.NewSessionHandler(w.Sessions, w.Guard, a.logger),
		Markets: handler.NewMarketHandler(deps.Markets, a.cfg.Backend.PageSize, a.logger),
		Txs:     handler.NewTxHandler(w.Betting, txReader(deps), a.logger),
	}
	if deps.ImageUploader != nil {
		h.Images = handler.NewImageHandler(deps.ImageUploader, a.logger)
	}
	if w.Submitter != nil {
		h.Chain = handler.NewChainHandler(w.Submitter, chainInfo(deps.Target, w.Submitter.ContractAddress()), a.logger)
	}
	return h
}

// chainInfo describes the deployment the client targets.
func chainInfo(target network.Metadata, addr common.Address) handler.ChainInfo {
	return handler.ChainInfo{
		ChainID:     target.ChainID,
		Name:        target.Name,
		Currency:    target.Currency.Symbol,
		Contract:    addr.Hex(),
		ContractURL: target.AddressURL(addr.Hex()),
	}
}

func txReader(deps *Dependencies) handler.TxReader {
	if deps.TxStore == nil {
		return nil
	}
	return deps.TxStore
}

// healthChecks pings every enabled store.
func healthChecks(deps *Dependencies) map[string]handler.Check {
	checks := make(map[string]handler.Check)
	if deps.Redis != nil {
		checks["redis"] = deps.Redis.Ping
	}
	if deps.Postgres != nil {
		checks["postgres"] = func(ctx context.Context) error {
			return deps.Postgres.Pool().Ping(ctx)
		}
	}
	if deps.S3 != nil {
		checks["s3"] = deps.S3.Health
	}
	return checks
}

// loadFirstPage fills the book before clients connect. A failure is
// logged; the feed and later requests retry.
func (a *App) loadFirstPage(ctx context.Context, deps *Dependencies) {
	pg, err := deps.Markets.Refresh(ctx, backend.ListOpts{
		Page:   1,
		Limit:  a.cfg.Backend.PageSize,
		Status: domain.MarketStatusActive,
	})
	if err != nil {
		a.logger.WarnContext(ctx, "initial market load failed", slog.String("error", err.Error()))
		return
	}
	a.logger.InfoContext(ctx, "markets loaded",
		slog.Int("count", len(pg.Markets)),
		slog.Int("total", pg.Total),
	)
}

// startFeed runs the market feed. With a lock manager only the process
// holding the leader lock runs it; the rest follow the bus.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	wsURL := a.cfg.Backend.SocketURL
	if wsURL == "" {
		var err error
		if wsURL, err = backend.SocketURL(a.cfg.Backend.APIBaseURL); err != nil {
			return fmt.Errorf("app: socket url: %w", err)
		}
	}
	f := feed.NewMarketFeed(wsURL, deps.Book, deps.MarketCache, deps.SignalBus, a.logger)

	if deps.LockManager == nil {
		g.Go(func() error {
			return ignoreCanceled(f.Run(ctx))
		})
		return nil
	}

	key := "feed:" + deps.Target.ChainID
	g.Go(func() error {
		return runAsLeader(ctx, deps.LockManager, key, a.cfg.Watch.LockTTL.Duration, f.Run, a.logger)
	})
	return nil
}

// maintenanceLoop periodically replays unsynced transactions and drops
// expired dedup keys. dedup may be nil.
func (a *App) maintenanceLoop(ctx context.Context, betting *service.BettingService, deps *Dependencies, dedup *service.Dedup) error {
	interval := a.cfg.Watch.ResyncInterval.Duration
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if dedup != nil {
			dedup.Cleanup()
		}
		if deps.Unsynced == nil {
			continue
		}
		if _, err := betting.Resync(ctx, deps.Unsynced, a.cfg.Watch.ResyncBatch); err != nil && ctx.Err() == nil {
			a.logger.WarnContext(ctx, "resync failed", slog.String("error", err.Error()))
		}
	}
}

// runAsLeader runs fn while holding key. It waits one ttl between
// attempts when another process holds the lock and restarts the election
// when ownership is lost. It returns nil when ctx ends.
func runAsLeader(ctx context.Context, lock domain.LockManager, key string, ttl time.Duration, fn func(context.Context) error, logger *slog.Logger) error {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	for {
		release, lost, err := lock.Hold(ctx, key, ttl)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, domain.ErrLockHeld) {
				logger.WarnContext(ctx, "leader election failed",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(ttl):
			}
			continue
		}

		logger.InfoContext(ctx, "leadership acquired", slog.String("key", key))
		runCtx, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-lost:
				cancel()
			case <-runCtx.Done():
			}
		}()
		err = fn(runCtx)
		cancel()
		release()

		if ctx.Err() != nil {
			return nil
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("app: leader task %s: %w", key, err)
		}
		logger.WarnContext(ctx, "leadership lost", slog.String("key", key))
	}
}

// broadcaster queues a payload for websocket clients.
type broadcaster interface {
	Broadcast(channel string, payload any)
}

// relaySessions forwards every session snapshot to the hub and the bus
// and notifies when a wallet connects. bus and notifier may be nil.
func relaySessions(ctx context.Context, ch <-chan session.Snapshot, hub broadcaster, bus domain.SignalBus, notifier *notify.Notifier, logger *slog.Logger) error {
	var last string
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-ch:
			if !ok {
				return nil
			}
			hub.Broadcast(domain.ChannelSession, snap)

			if bus != nil {
				if data, err := json.Marshal(snap); err == nil {
					if err := bus.Publish(ctx, domain.ChannelSession, data); err != nil {
						logger.DebugContext(ctx, "session publish failed", slog.String("error", err.Error()))
					}
				}
			}

			if snap.Connected && snap.Address != last {
				err := notifier.Notify(ctx, notify.Event{
					Kind:  notify.EventWalletConnected,
					Title: "Wallet connected",
					Fields: map[string]string{
						"address": snap.Address,
						"chain":   snap.ChainID,
						"wallet":  snap.WalletType.Label(),
					},
				})
				if err != nil {
					logger.WarnContext(ctx, "notify", slog.String("error", err.Error()))
				}
			}
			last = snap.Address
		}
	}
}

// relayBook forwards book changes to the hub: a replaced book as the full
// list, an upsert as the single record.
func relayBook(ctx context.Context, ch <-chan market.Update, book *market.Book, hub broadcaster) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-ch:
			if !ok {
				return nil
			}
			if u.Replaced {
				hub.Broadcast(domain.ChannelMarkets, book.All())
				continue
			}
			hub.Broadcast(domain.ChannelMarkets, u.Record)
		}
	}
}

// relayTxStream tails the transaction stream from start and forwards each
// entry to the hub. Read errors are logged and retried on the next poll.
func relayTxStream(ctx context.Context, bus domain.SignalBus, hub broadcaster, start time.Time, poll time.Duration, logger *slog.Logger) error {
	lastID := fmt.Sprintf("%d-0", start.UnixMilli())
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		msgs, err := bus.StreamRead(ctx, domain.StreamTxEvents, lastID, txStreamBatch)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.WarnContext(ctx, "tx stream read failed", slog.String("error", err.Error()))
			continue
		}
		for _, m := range msgs {
			hub.Broadcast(domain.ChannelTransactions, json.RawMessage(m.Payload))
			lastID = m.ID
		}
	}
}

// initialMessages sends a new websocket client the current session and
// market list.
func initialMessages(sessions interface{ Snapshot() session.Snapshot }, book *market.Book, logger *slog.Logger) func() []ws.Message {
	return func() []ws.Message {
		var msgs []ws.Message
		for _, m := range []struct {
			channel string
			payload any
		}{
			{domain.ChannelSession, sessions.Snapshot()},
			{domain.ChannelMarkets, book.All()},
		} {
			data, err := json.Marshal(m.payload)
			if err != nil {
				logger.Warn("initial message encode failed",
					slog.String("channel", m.channel),
					slog.String("error", err.Error()),
				)
				continue
			}
			msgs = append(msgs, ws.Message{Channel: m.channel, Data: data})
		}
		return msgs
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
