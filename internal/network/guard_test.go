package network

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/alanyoungcy/bnbmarket/internal/wallet"
	"github.com/alanyoungcy/bnbmarket/internal/wallet/wallettest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct{ p wallet.Provider }

func (s staticSource) Provider() wallet.Provider { return s.p }

type recordingSetter struct{ ids []string }

func (r *recordingSetter) SetChainID(id string) { r.ids = append(r.ids, id) }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSwitchAlreadyOnTarget(t *testing.T) {
	p := wallettest.MetaMask().Return(wallet.MethodChainID, "0x61")
	setter := &recordingSetter{}
	g := NewGuard(BSCTestnet, staticSource{p}, setter, discard())

	require.NoError(t, g.SwitchToTargetChain(context.Background(), ""))
	assert.Len(t, p.Log(), 1)
	assert.Equal(t, 1, p.Calls(wallet.MethodChainID))
	assert.Equal(t, []string{"0x61"}, setter.ids)
}

func TestSwitchKnownChain(t *testing.T) {
	p := wallettest.MetaMask().
		Return(wallet.MethodChainID, "0x1").
		Return(wallet.MethodSwitchChain, nil)
	setter := &recordingSetter{}
	g := NewGuard(BSCTestnet, staticSource{p}, setter, discard())

	require.NoError(t, g.SwitchToTargetChain(context.Background(), ""))
	assert.Equal(t, 1, p.Calls(wallet.MethodSwitchChain))
	assert.Equal(t, 0, p.Calls(wallet.MethodAddChain))
	assert.Equal(t, []string{"0x61"}, setter.ids)

	call, ok := p.Last(wallet.MethodSwitchChain)
	require.True(t, ok)
	assert.JSONEq(t, `[{"chainId":"0x61"}]`, string(call.Params))
}

func TestSwitchUnknownChainAdds(t *testing.T) {
	p := wallettest.MetaMask().
		Return(wallet.MethodChainID, "0x1").
		Fail(wallet.MethodSwitchChain, &wallet.ProviderError{Code: wallet.CodeUnrecognizedChain, Message: "Unrecognized chain ID"}).
		Return(wallet.MethodAddChain, nil)
	setter := &recordingSetter{}
	g := NewGuard(BSCTestnet, staticSource{p}, setter, discard())

	require.NoError(t, g.SwitchToTargetChain(context.Background(), ""))
	assert.Equal(t, 1, p.Calls(wallet.MethodAddChain))
	assert.Equal(t, []string{"0x61"}, setter.ids)

	call, _ := p.Last(wallet.MethodAddChain)
	var params []wallet.AddChainParams
	require.NoError(t, json.Unmarshal(call.Params, &params))
	require.Len(t, params, 1)
	assert.Equal(t, "BNB Smart Chain Testnet", params[0].ChainName)
	assert.Equal(t, []string{"https://testnet.bscscan.com"}, params[0].BlockExplorerURLs)
	assert.Equal(t, "tBNB", params[0].NativeCurrency.Symbol)
	assert.Equal(t, 18, params[0].NativeCurrency.Decimals)
}

func TestSwitchPropagatesOtherErrors(t *testing.T) {
	rejected := &wallet.ProviderError{Code: wallet.CodeUserRejected, Message: "User rejected the request."}
	p := wallettest.MetaMask().
		Return(wallet.MethodChainID, "0x1").
		Fail(wallet.MethodSwitchChain, rejected)
	setter := &recordingSetter{}
	g := NewGuard(BSCTestnet, staticSource{p}, setter, discard())

	err := g.SwitchToTargetChain(context.Background(), "")
	assert.Same(t, rejected, err)
	assert.ErrorIs(t, err, domain.ErrUserRejected)
	assert.Equal(t, 0, p.Calls(wallet.MethodAddChain))
	assert.Empty(t, setter.ids)
}

func TestSwitchAddRejected(t *testing.T) {
	p := wallettest.MetaMask().
		Return(wallet.MethodChainID, "0x1").
		Fail(wallet.MethodSwitchChain, &wallet.ProviderError{Code: wallet.CodeUnrecognizedChain, Message: "Unrecognized chain ID"}).
		Fail(wallet.MethodAddChain, &wallet.ProviderError{Code: wallet.CodeUserRejected, Message: "no"})
	setter := &recordingSetter{}
	g := NewGuard(BSCTestnet, staticSource{p}, setter, discard())

	err := g.SwitchToTargetChain(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrUserRejected)
	assert.Empty(t, setter.ids)
}

func TestSwitchUnknownChainWithoutMetadata(t *testing.T) {
	p := wallettest.MetaMask().
		Return(wallet.MethodChainID, "0x61").
		Fail(wallet.MethodSwitchChain, &wallet.ProviderError{Code: wallet.CodeUnrecognizedChain, Message: "Unrecognized chain ID"})
	g := NewGuard(BSCTestnet, staticSource{p}, nil, discard())

	err := g.SwitchToTargetChain(context.Background(), "0x89")
	assert.ErrorIs(t, err, domain.ErrUnknownChain)
	assert.Equal(t, 0, p.Calls(wallet.MethodAddChain))
}

func TestSwitchWithoutProvider(t *testing.T) {
	g := NewGuard(BSCTestnet, staticSource{}, nil, discard())
	assert.ErrorIs(t, g.SwitchToTargetChain(context.Background(), ""), domain.ErrWalletUnavailable)
}

func TestTargetAndExplorer(t *testing.T) {
	m, err := Target("", "")
	require.NoError(t, err)
	assert.Equal(t, "0x61", m.ChainID)

	m, err = Target("56", "https://rpc.example")
	require.NoError(t, err)
	assert.Equal(t, "0x38", m.ChainID)
	assert.Equal(t, []string{"https://rpc.example"}, m.RPCURLs)
	assert.Equal(t, []string{"https://bsc-dataseed.binance.org"}, BSCMainnet.RPCURLs)

	_, err = Target("0x1", "")
	assert.Error(t, err)

	assert.Equal(t, "https://testnet.bscscan.com/tx/0xaaa", ExplorerTxURL("0x61", "0xaaa"))
	assert.Equal(t, "https://bscscan.com/tx/0xbbb", ExplorerTxURL("56", "0xbbb"))
	assert.Empty(t, ExplorerTxURL("0x1", "0xccc"))
}
