package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/alanyoungcy/bnbmarket/internal/service"
)

// BettingService runs the contract actions.
type BettingService interface {
	PlaceBet(ctx context.Context, req service.BetRequest) (service.Result, error)
	ProvideLiquidity(ctx context.Context, req service.LiquidityRequest) (service.Result, error)
	Withdraw(ctx context.Context, req service.WithdrawRequest) (service.Result, error)
	Claim(ctx context.Context, market string, kind domain.TxKind) (service.Result, error)
}

// TxReader lists the local transaction history.
type TxReader interface {
	ListByAccount(ctx context.Context, account string, opts domain.ListOpts) ([]domain.TxRecord, error)
	ListByMarket(ctx context.Context, onChainID string, opts domain.ListOpts) ([]domain.TxRecord, error)
}

// TxHandler serves the transaction endpoints.
type TxHandler struct {
	betting BettingService
	txs     TxReader
	logger  *slog.Logger
}

// NewTxHandler creates a TxHandler. txs may be nil when no history store
// is configured.
func NewTxHandler(betting BettingService, txs TxReader, logger *slog.Logger) *TxHandler {
	return &TxHandler{betting: betting, txs: txs, logger: logger}
}

type claimRequest struct {
	Market string `json:"market" validate:"required"`
	Kind   string `json:"kind" validate:"required,oneof=claim_winnings claim_liquidity_fees refund"`
}

// PlaceBet stakes on one side of a market.
// POST /api/bets
func (h *TxHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req service.BetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.betting.PlaceBet(r.Context(), req)
	h.respond(w, r, "place bet", res, err)
}

// ProvideLiquidity deposits liquidity into a market.
// POST /api/liquidity
func (h *TxHandler) ProvideLiquidity(w http.ResponseWriter, r *http.Request) {
	var req service.LiquidityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.betting.ProvideLiquidity(r.Context(), req)
	h.respond(w, r, "provide liquidity", res, err)
}

// Withdraw withdraws liquidity from a market.
// POST /api/withdrawals
func (h *TxHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req service.WithdrawRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.betting.Withdraw(r.Context(), req)
	h.respond(w, r, "withdraw", res, err)
}

// Claim collects winnings, liquidity fees or a refund.
// POST /api/claims
func (h *TxHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.betting.Claim(r.Context(), req.Market, domain.TxKind(req.Kind))
	h.respond(w, r, "claim", res, err)
}

func (h *TxHandler) respond(w http.ResponseWriter, r *http.Request, op string, res service.Result, err error) {
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type txView struct {
	ID            string          `json:"id"`
	Hash          string          `json:"hash"`
	Kind          domain.TxKind   `json:"kind"`
	MarketID      string          `json:"marketId,omitempty"`
	OnChainID     string          `json:"onChainId"`
	Account       string          `json:"account"`
	ChainID       string          `json:"chainId"`
	Amount        string          `json:"amount"`
	IsYes         *bool           `json:"isYes,omitempty"`
	Status        domain.TxStatus `json:"status"`
	BackendSynced bool            `json:"backendSynced"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     string          `json:"createdAt"`
}

// ListTransactions returns the local history for an account or a market.
// GET /api/transactions?account=0x...&market=12&limit=50&offset=0
func (h *TxHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	if h.txs == nil {
		writeError(w, http.StatusServiceUnavailable, "transaction history is not configured")
		return
	}
	q := r.URL.Query()
	account := strings.TrimSpace(q.Get("account"))
	marketID := strings.TrimSpace(q.Get("market"))
	if account == "" && marketID == "" {
		writeError(w, http.StatusBadRequest, "account or market query parameter required")
		return
	}

	opts := parseListOpts(r)
	var (
		recs []domain.TxRecord
		err  error
	)
	if marketID != "" {
		recs, err = h.txs.ListByMarket(r.Context(), marketID, opts)
	} else {
		recs, err = h.txs.ListByAccount(r.Context(), account, opts)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "list transactions", err)
		return
	}

	views := make([]txView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, txView{
			ID: rec.ID, Hash: rec.Hash, Kind: rec.Kind, MarketID: rec.MarketID,
			OnChainID: rec.OnChainID, Account: rec.Account, ChainID: rec.ChainID,
			Amount: rec.Amount, IsYes: rec.IsYes, Status: rec.Status,
			BackendSynced: rec.BackendSynced, Error: rec.Error,
			CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": views})
}
