package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bnbmarket/internal/contract"
	"github.com/alanyoungcy/bnbmarket/internal/executor"
)

// ChainReader reads prediction market state from the contract.
type ChainReader interface {
	CreationFee(ctx context.Context) (*big.Int, error)
	MarketCount(ctx context.Context) (*big.Int, error)
	Market(ctx context.Context, marketID any) (contract.Market, error)
	BetPosition(ctx context.Context, marketID any, account string) (contract.BetPosition, error)
	LiquidityPosition(ctx context.Context, marketID any, account string) (contract.LiquidityPosition, error)
}

// ChainInfo is the static description of the target deployment.
type ChainInfo struct {
	ChainID     string `json:"chainId"`
	Name        string `json:"name"`
	Currency    string `json:"currency"`
	Contract    string `json:"contract"`
	ContractURL string `json:"contractUrl"`
}

// ChainHandler serves contract reads.
type ChainHandler struct {
	reader ChainReader
	info   ChainInfo
	logger *slog.Logger
}

// NewChainHandler creates a ChainHandler.
func NewChainHandler(reader ChainReader, info ChainInfo, logger *slog.Logger) *ChainHandler {
	return &ChainHandler{reader: reader, info: info, logger: logger}
}

type chainResponse struct {
	ChainInfo
	CreationFee string `json:"creationFee"`
	MarketCount string `json:"marketCount"`
}

// GetChain returns the deployment with its creation fee and market count.
// GET /api/chain
func (h *ChainHandler) GetChain(w http.ResponseWriter, r *http.Request) {
	fee, err := h.reader.CreationFee(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "read creation fee", err)
		return
	}
	count, err := h.reader.MarketCount(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "read market count", err)
		return
	}
	writeJSON(w, http.StatusOK, chainResponse{
		ChainInfo:   h.info,
		CreationFee: executor.FormatWei(fee),
		MarketCount: count.String(),
	})
}

type onChainMarket struct {
	Question       string `json:"question"`
	Creator        string `json:"creator"`
	ClosingTime    uint64 `json:"closingTime"`
	TotalYesStake  string `json:"totalYesStake"`
	TotalNoStake   string `json:"totalNoStake"`
	TotalLiquidity string `json:"totalLiquidity"`
	Outcome        uint8  `json:"outcome"`
	Resolved       bool   `json:"resolved"`
}

type positionResponse struct {
	Market    onChainMarket `json:"market"`
	Bet       betView       `json:"bet"`
	Liquidity liquidityView `json:"liquidity"`
}

type betView struct {
	YesStake string `json:"yesStake"`
	NoStake  string `json:"noStake"`
	Claimed  bool   `json:"claimed"`
}

type liquidityView struct {
	Deposit     string `json:"deposit"`
	PendingFees string `json:"pendingFees"`
	Shares      string `json:"shares"`
}

// GetPosition returns a market's on-chain state and an account's stake and
// liquidity in it. Without an account the connected wallet's is used.
// GET /api/markets/{id}/position?account=0x...
func (h *ChainHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	account := r.URL.Query().Get("account")
	if account != "" && !common.IsHexAddress(account) {
		writeError(w, http.StatusBadRequest, "account must be a hex address")
		return
	}

	ctx := r.Context()
	m, err := h.reader.Market(ctx, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "read market", err)
		return
	}
	bet, err := h.reader.BetPosition(ctx, id, account)
	if err != nil {
		writeServiceError(w, r, h.logger, "read bet position", err)
		return
	}
	liq, err := h.reader.LiquidityPosition(ctx, id, account)
	if err != nil {
		writeServiceError(w, r, h.logger, "read liquidity position", err)
		return
	}

	writeJSON(w, http.StatusOK, positionResponse{
		Market: onChainMarket{
			Question:       m.Question,
			Creator:        m.Creator.Hex(),
			ClosingTime:    m.ClosingTime,
			TotalYesStake:  executor.FormatWei(m.TotalYesStake),
			TotalNoStake:   executor.FormatWei(m.TotalNoStake),
			TotalLiquidity: executor.FormatWei(m.TotalLiquidity),
			Outcome:        m.Outcome,
			Resolved:       m.Resolved,
		},
		Bet: betView{
			YesStake: executor.FormatWei(bet.YesStake),
			NoStake:  executor.FormatWei(bet.NoStake),
			Claimed:  bet.Claimed,
		},
		Liquidity: liquidityView{
			Deposit:     executor.FormatWei(liq.DepositAmount),
			PendingFees: executor.FormatWei(liq.PendingFees),
			Shares:      executor.FormatWei(liq.Shares),
		},
	})
}
