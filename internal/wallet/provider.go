// Package wallet models EIP-1193 wallet providers: discovery of the
// injected providers, vendor classification, error decoding and a headless
// key-backed provider.
package wallet

import (
	"context"
	"encoding/json"
)

// EIP-1193 methods used by the client.
const (
	MethodRequestAccounts  = "eth_requestAccounts"
	MethodAccounts         = "eth_accounts"
	MethodChainID          = "eth_chainId"
	MethodSwitchChain      = "wallet_switchEthereumChain"
	MethodAddChain         = "wallet_addEthereumChain"
	MethodSendTransaction  = "eth_sendTransaction"
	MethodGetReceipt       = "eth_getTransactionReceipt"
	MethodCall             = "eth_call"
	MethodPersonalSign     = "personal_sign"
	MethodGetBalance       = "eth_getBalance"
	MethodBlockNumber      = "eth_blockNumber"
	MethodEstimateGas      = "eth_estimateGas"
	MethodGetTransactionBy = "eth_getTransactionByHash"
)

// Provider events.
const (
	EventAccountsChanged = "accountsChanged"
	EventChainChanged    = "chainChanged"
)

// Listener receives the JSON payload of a provider event.
type Listener func(payload json.RawMessage)

// ListenerID identifies a registered listener for removal.
type ListenerID uint64

// Flags are the vendor-identifying markers a provider exposes.
type Flags struct {
	IsMetaMask    bool
	IsTrust       bool
	IsTrustWallet bool
}

// Provider is an EIP-1193 wallet provider. Params is marshalled to the
// JSON-RPC params array; nil means no params.
type Provider interface {
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
	On(event string, fn Listener) ListenerID
	RemoveListener(event string, id ListenerID)
	Flags() Flags
}

// MultiProvider is implemented by an injected provider that aggregates
// several installed extensions.
type MultiProvider interface {
	Provider
	Providers() []Provider
}

// Environment is the set of injected provider handles visible to the
// client. Either field may be nil.
type Environment struct {
	Ethereum    Provider
	TrustWallet Provider
}

// AddChainParams is the wallet_addEthereumChain parameter object.
type AddChainParams struct {
	ChainID           string         `json:"chainId"`
	ChainName         string         `json:"chainName"`
	RPCURLs           []string       `json:"rpcUrls"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls,omitempty"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency"`
}

// NativeCurrency describes a chain's gas token.
type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// SwitchChainParams is the wallet_switchEthereumChain parameter object.
type SwitchChainParams struct {
	ChainID string `json:"chainId"`
}

// TxArgs is the eth_sendTransaction parameter object. Quantities are 0x hex.
type TxArgs struct {
	From  string `json:"from"`
	To    string `json:"to,omitempty"`
	Value string `json:"value,omitempty"`
	Data  string `json:"data,omitempty"`
	Gas   string `json:"gas,omitempty"`
}

// Call is a typed convenience around Provider.Request.
func Call[T any](ctx context.Context, p Provider, method string, params any) (T, error) {
	var out T
	raw, err := p.Request(ctx, method, params)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &ProviderError{Code: CodeInternal, Message: "malformed " + method + " response: " + err.Error()}
	}
	return out, nil
}
