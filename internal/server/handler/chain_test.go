package handler

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bnbmarket/internal/contract"
	"github.com/alanyoungcy/bnbmarket/internal/domain"
)

func wei(s string) *big.Int {
	n, _ := new(big.Int).SetString(s, 10)
	return n
}

type fakeChain struct {
	err      error
	markets  []any
	accounts []string
}

func (f *fakeChain) CreationFee(context.Context) (*big.Int, error) {
	return wei("10000000000000000"), f.err
}

func (f *fakeChain) MarketCount(context.Context) (*big.Int, error) {
	return big.NewInt(4), f.err
}

func (f *fakeChain) Market(_ context.Context, id any) (contract.Market, error) {
	f.markets = append(f.markets, id)
	if f.err != nil {
		return contract.Market{}, f.err
	}
	return contract.Market{
		Question:       "Will it rain?",
		Creator:        common.HexToAddress("0x00000000000000000000000000000000000000c1"),
		ClosingTime:    1700000000,
		TotalYesStake:  wei("1500000000000000000"),
		TotalNoStake:   wei("500000000000000000"),
		TotalLiquidity: wei("2000000000000000000"),
	}, nil
}

func (f *fakeChain) BetPosition(_ context.Context, _ any, account string) (contract.BetPosition, error) {
	f.accounts = append(f.accounts, account)
	return contract.BetPosition{YesStake: wei("1000000000000000000")}, f.err
}

func (f *fakeChain) LiquidityPosition(context.Context, any, string) (contract.LiquidityPosition, error) {
	return contract.LiquidityPosition{
		DepositAmount: wei("2000000000000000000"),
		PendingFees:   wei("1000000000000000"),
		Shares:        wei("2000000000000000000"),
	}, f.err
}

func chainMux(reader ChainReader) *http.ServeMux {
	h := NewChainHandler(reader, ChainInfo{
		ChainID:     "0x61",
		Name:        "BNB Smart Chain Testnet",
		Currency:    "tBNB",
		Contract:    "0xC0",
		ContractURL: "https://testnet.bscscan.com/address/0xC0",
	}, discardLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/chain", h.GetChain)
	mux.HandleFunc("GET /api/markets/{id}/position", h.GetPosition)
	return mux
}

func TestGetChain(t *testing.T) {
	rec := httptest.NewRecorder()
	chainMux(&fakeChain{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chain", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "0x61", body["chainId"])
	assert.Equal(t, "https://testnet.bscscan.com/address/0xC0", body["contractUrl"])
	assert.Equal(t, "0.01", body["creationFee"])
	assert.Equal(t, "4", body["marketCount"])
}

func TestGetPosition(t *testing.T) {
	f := &fakeChain{}
	mux := chainMux(f)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/3/position?account=0x00000000000000000000000000000000000000a1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"3"}, f.markets)
	assert.Equal(t, []string{"0x00000000000000000000000000000000000000a1"}, f.accounts)

	body := decode(t, rec)
	m := body["market"].(map[string]any)
	assert.Equal(t, "Will it rain?", m["question"])
	assert.Equal(t, "1.5", m["totalYesStake"])
	assert.Equal(t, "0.5", m["totalNoStake"])
	assert.Equal(t, "2", m["totalLiquidity"])
	bet := body["bet"].(map[string]any)
	assert.Equal(t, "1", bet["yesStake"])
	assert.Equal(t, "0", bet["noStake"])
	liq := body["liquidity"].(map[string]any)
	assert.Equal(t, "0.001", liq["pendingFees"])

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/3/position", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", f.accounts[1])
}

func TestGetPositionErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		err    error
		status int
	}{
		{"bad account", "/api/markets/1/position?account=alice", nil, http.StatusBadRequest},
		{"bad market", "/api/markets/x/position", fmt.Errorf("executor: %w", domain.ErrInvalidMarketID), http.StatusBadRequest},
		{"no wallet", "/api/markets/1/position", domain.ErrNotConnected, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeChain{err: tt.err}
			rec := httptest.NewRecorder()
			chainMux(f).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
			if tt.err == nil {
				assert.Empty(t, f.markets)
			}
		})
	}

	rec := httptest.NewRecorder()
	chainMux(&fakeChain{err: domain.ErrNotConnected}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chain", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}
