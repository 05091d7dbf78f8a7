// Package service composes the wallet session, the transaction submitter and
// the backend into the user-facing market operations.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/alanyoungcy/bnbmarket/internal/market"
	"github.com/alanyoungcy/bnbmarket/internal/platform/backend"
)

// MarketLister fetches market pages from the backend.
type MarketLister interface {
	ListMarkets(ctx context.Context, opts backend.ListOpts) (backend.MarketPage, error)
}

// MarketService keeps the in-memory book in step with the backend and
// serves lookups from the book, then the cache.
type MarketService struct {
	lister MarketLister
	book   *market.Book
	cache  domain.MarketCache
	logger *slog.Logger
}

// NewMarketService creates a MarketService. cache may be nil.
func NewMarketService(lister MarketLister, book *market.Book, cache domain.MarketCache, logger *slog.Logger) *MarketService {
	return &MarketService{
		lister: lister,
		book:   book,
		cache:  cache,
		logger: logger.With(slog.String("component", "market_service")),
	}
}

// Book returns the live book.
func (s *MarketService) Book() *market.Book { return s.book }

// Page is a normalized market listing.
type Page struct {
	Markets []domain.MarketRecord `json:"markets"`
	Total   int                   `json:"total"`
	Page    int                   `json:"page"`
	Limit   int                   `json:"limit"`
}

// Refresh fetches one page and replaces the book with it. Records are
// written through to the cache; cache failures are logged only.
func (s *MarketService) Refresh(ctx context.Context, opts backend.ListOpts) (Page, error) {
	pg, err := s.lister.ListMarkets(ctx, opts)
	if err != nil {
		return Page{}, fmt.Errorf("service: refresh markets: %w", err)
	}
	recs := s.book.Replace(pg.Markets)
	s.cacheAll(ctx, recs)

	s.logger.DebugContext(ctx, "markets refreshed",
		slog.Int("count", len(recs)),
		slog.Int("page", pg.Page),
	)
	return Page{Markets: recs, Total: pg.Total, Page: pg.Page, Limit: pg.Limit}, nil
}

func (s *MarketService) cacheAll(ctx context.Context, recs []domain.MarketRecord) {
	if s.cache == nil {
		return
	}
	for _, r := range recs {
		if r.ID == "" {
			continue
		}
		if err := s.cache.Set(ctx, r); err != nil {
			s.logger.WarnContext(ctx, "cache market",
				slog.String("market_id", r.ID),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

// Get returns the market with backend id.
func (s *MarketService) Get(ctx context.Context, id string) (domain.MarketRecord, error) {
	if rec, ok := s.book.Get(id); ok {
		return rec, nil
	}
	if s.cache != nil {
		rec, err := s.cache.Get(ctx, id)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.MarketRecord{}, fmt.Errorf("service: get market %s: %w", id, err)
		}
	}
	return domain.MarketRecord{}, fmt.Errorf("service: market %s: %w", id, domain.ErrNotFound)
}

// GetByOnChainID returns the market with contract index id.
func (s *MarketService) GetByOnChainID(ctx context.Context, id int64) (domain.MarketRecord, error) {
	if rec, ok := s.book.GetByOnChainID(id); ok {
		return rec, nil
	}
	if s.cache != nil {
		rec, err := s.cache.GetByOnChainID(ctx, id)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.MarketRecord{}, fmt.Errorf("service: get market #%d: %w", id, err)
		}
	}
	return domain.MarketRecord{}, fmt.Errorf("service: market #%d: %w", id, domain.ErrNotFound)
}

// Target is a market resolved for a contract call.
type Target struct {
	Record    domain.MarketRecord
	OnChainID int64
}

// Resolve finds the market a request refers to. ref is a backend id or,
// failing that, a contract index. The contract index comes from the
// record's onChainId, then its legacy marketId.
func (s *MarketService) Resolve(ctx context.Context, ref string) (Target, error) {
	if ref == "" {
		return Target{}, fmt.Errorf("%w: empty market reference", domain.ErrInvalidMarketID)
	}

	rec, err := s.Get(ctx, ref)
	if errors.Is(err, domain.ErrNotFound) {
		if n, perr := parseIndex(ref); perr == nil {
			rec, err = s.GetByOnChainID(ctx, n)
			if errors.Is(err, domain.ErrNotFound) {
				// Unknown to the book; the contract index alone is enough.
				return Target{Record: domain.MarketRecord{OnChainID: &n}, OnChainID: n}, nil
			}
		}
	}
	if err != nil {
		return Target{}, err
	}

	switch {
	case rec.OnChainID != nil:
		return Target{Record: rec, OnChainID: *rec.OnChainID}, nil
	case rec.MarketID != nil:
		return Target{Record: rec, OnChainID: *rec.MarketID}, nil
	}
	return Target{}, fmt.Errorf("%w: market %s has no on-chain identifier", domain.ErrInvalidMarketID, rec.ID)
}
