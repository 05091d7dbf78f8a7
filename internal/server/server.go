// Package server exposes the wallet session, markets and contract actions
// over HTTP and streams market and session updates over a websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/alanyoungcy/bnbmarket/internal/server/handler"
	"github.com/alanyoungcy/bnbmarket/internal/server/middleware"
	"github.com/alanyoungcy/bnbmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit caps write requests per client IP per minute; 0 disables it.
	RateLimit int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Images may be nil when no blob store is configured, Chain when no
// contract reader is wired.
type Handlers struct {
	Health  *handler.HealthHandler
	Session *handler.SessionHandler
	Markets *handler.MarketHandler
	Txs     *handler.TxHandler
	Images  *handler.ImageHandler
	Chain   *handler.ChainHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           Routes(cfg, handlers, hub, limiter, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Contract actions wait for a receipt.
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// Routes builds the routed, middleware-wrapped handler.
func Routes(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/session", handlers.Session.GetSession)
	mux.HandleFunc("POST /api/session/connect", handlers.Session.Connect)
	mux.HandleFunc("POST /api/session/disconnect", handlers.Session.Disconnect)
	mux.HandleFunc("POST /api/network/switch", handlers.Session.SwitchNetwork)

	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)

	mux.HandleFunc("POST /api/bets", handlers.Txs.PlaceBet)
	mux.HandleFunc("POST /api/liquidity", handlers.Txs.ProvideLiquidity)
	mux.HandleFunc("POST /api/withdrawals", handlers.Txs.Withdraw)
	mux.HandleFunc("POST /api/claims", handlers.Txs.Claim)
	mux.HandleFunc("GET /api/transactions", handlers.Txs.ListTransactions)

	if handlers.Images != nil {
		mux.HandleFunc("POST /api/images", handlers.Images.Upload)
	}
	if handlers.Chain != nil {
		mux.HandleFunc("GET /api/chain", handlers.Chain.GetChain)
		mux.HandleFunc("GET /api/markets/{id}/position", handlers.Chain.GetPosition)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute, logger, http.MethodPost)(h)
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
