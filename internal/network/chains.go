// Package network holds the chain definitions the client can target and
// the guard that moves a wallet onto the target chain.
package network

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/bnbmarket/internal/wallet"
)

// Metadata describes an EVM chain as a wallet needs it to add the network.
type Metadata struct {
	ChainID     string
	Name        string
	RPCURLs     []string
	ExplorerURL string
	Currency    wallet.NativeCurrency
}

var (
	BSCMainnet = Metadata{
		ChainID:     "0x38",
		Name:        "BNB Smart Chain",
		RPCURLs:     []string{"https://bsc-dataseed.binance.org"},
		ExplorerURL: "https://bscscan.com",
		Currency:    wallet.NativeCurrency{Name: "BNB", Symbol: "BNB", Decimals: 18},
	}
	BSCTestnet = Metadata{
		ChainID:     "0x61",
		Name:        "BNB Smart Chain Testnet",
		RPCURLs:     []string{"https://data-seed-prebsc-1-s1.binance.org:8545"},
		ExplorerURL: "https://testnet.bscscan.com",
		Currency:    wallet.NativeCurrency{Name: "tBNB", Symbol: "tBNB", Decimals: 18},
	}
)

// DefaultChainID is used when no target chain is configured.
const DefaultChainID = "0x61"

var known = map[string]Metadata{
	BSCMainnet.ChainID: BSCMainnet,
	BSCTestnet.ChainID: BSCTestnet,
}

// Lookup returns the built-in metadata for a chain id in hex or decimal.
func Lookup(chainID string) (Metadata, bool) {
	id, ok := wallet.NormalizeChainID(chainID)
	if !ok {
		return Metadata{}, false
	}
	m, ok := known[id]
	return m, ok
}

// Target resolves the chain the contract is deployed on. An empty chainID
// selects the testnet; rpcOverride, when set, replaces the RPC list.
func Target(chainID, rpcOverride string) (Metadata, error) {
	if strings.TrimSpace(chainID) == "" {
		chainID = DefaultChainID
	}
	m, ok := Lookup(chainID)
	if !ok {
		return Metadata{}, fmt.Errorf("network: unsupported chain %q", chainID)
	}
	if rpcOverride != "" {
		m.RPCURLs = []string{rpcOverride}
	}
	return m, nil
}

// TxURL links to a transaction on the chain's explorer.
func (m Metadata) TxURL(hash string) string {
	return strings.TrimRight(m.ExplorerURL, "/") + "/tx/" + hash
}

// AddressURL links to an account on the chain's explorer.
func (m Metadata) AddressURL(addr string) string {
	return strings.TrimRight(m.ExplorerURL, "/") + "/address/" + addr
}

// AddChainParams is the wallet_addEthereumChain payload for m.
func (m Metadata) AddChainParams() wallet.AddChainParams {
	p := wallet.AddChainParams{
		ChainID:        m.ChainID,
		ChainName:      m.Name,
		RPCURLs:        append([]string(nil), m.RPCURLs...),
		NativeCurrency: m.Currency,
	}
	if m.ExplorerURL != "" {
		p.BlockExplorerURLs = []string{m.ExplorerURL}
	}
	return p
}

// ExplorerTxURL links hash on the explorer of chainID. It returns "" for
// chains without metadata.
func ExplorerTxURL(chainID, hash string) string {
	m, ok := Lookup(chainID)
	if !ok {
		return ""
	}
	return m.TxURL(hash)
}
