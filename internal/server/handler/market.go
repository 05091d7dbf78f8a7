package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/alanyoungcy/bnbmarket/internal/market"
	"github.com/alanyoungcy/bnbmarket/internal/platform/backend"
	"github.com/alanyoungcy/bnbmarket/internal/service"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	Refresh(ctx context.Context, opts backend.ListOpts) (service.Page, error)
	Get(ctx context.Context, id string) (domain.MarketRecord, error)
	GetByOnChainID(ctx context.Context, id int64) (domain.MarketRecord, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets  MarketService
	pageSize int
	logger   *slog.Logger
}

// NewMarketHandler creates a MarketHandler. pageSize is the default limit.
func NewMarketHandler(markets MarketService, pageSize int, logger *slog.Logger) *MarketHandler {
	if pageSize <= 0 {
		pageSize = 10
	}
	return &MarketHandler{markets: markets, pageSize: pageSize, logger: logger}
}

// marketView is a record with its derived figures.
type marketView struct {
	domain.MarketRecord
	Identifier    int64     `json:"identifier"`
	YesPercentage int       `json:"yesPercentage"`
	Probability   []float64 `json:"probabilityHistory,omitempty"`
}

type listMarketsResponse struct {
	Markets []marketView `json:"markets"`
	Total   int          `json:"total"`
	Page    int          `json:"page"`
	Limit   int          `json:"limit"`
}

// ListMarkets fetches one page from the backend and returns it normalized.
// GET /api/markets?page=1&limit=10&status=ACTIVE&field=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := backend.ListOpts{
		Page:   max(queryInt(q.Get("page"), 1), 1),
		Limit:  clamp(queryInt(q.Get("limit"), h.pageSize), 1, 100),
		Status: q.Get("status"),
	}
	if v := q.Get("field"); v != "" {
		f, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "field must be an integer")
			return
		}
		opts.Field = &f
	}

	pg, err := h.markets.Refresh(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}

	views := make([]marketView, 0, len(pg.Markets))
	for i, rec := range pg.Markets {
		views = append(views, marketView{
			MarketRecord:  rec,
			Identifier:    market.Identifier(rec, (opts.Page-1)*opts.Limit+i),
			YesPercentage: market.YesPercentage(rec),
		})
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: views,
		Total:   pg.Total,
		Page:    pg.Page,
		Limit:   pg.Limit,
	})
}

// GetMarket returns a single market by backend id or contract index, with
// its probability history.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	rec, err := h.markets.Get(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		if n, perr := strconv.ParseInt(id, 10, 64); perr == nil && n >= 0 {
			rec, err = h.markets.GetByOnChainID(r.Context(), n)
		}
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}

	writeJSON(w, http.StatusOK, marketView{
		MarketRecord:  rec,
		Identifier:    market.Identifier(rec, 0),
		YesPercentage: market.YesPercentage(rec),
		Probability:   market.ProbabilitySeries(rec),
	})
}
