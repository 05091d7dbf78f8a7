package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/alanyoungcy/bnbmarket/internal/crypto"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	minGasLimit        = 21_000
	fallbackGasLimit   = 250_000
	defaultGasBufferPc = 10
)

// DialFunc opens an upstream JSON-RPC connection.
type DialFunc func(ctx context.Context, rawurl string) (*rpc.Client, error)

// KeystoreConfig configures a Keystore provider.
type KeystoreConfig struct {
	Key *ecdsa.PrivateKey

	// Chains the wallet knows about up front. ChainID selects the active
	// one and must be among them.
	Chains  []AddChainParams
	ChainID string

	Approver         Approver
	Flags            Flags
	GasBufferPercent int
	Dial             DialFunc
}

// Keystore is a headless EIP-1193 provider backed by a local private key.
// Account and chain management happen locally; signing requests are built
// against the active chain's upstream RPC, and every other method is
// forwarded there.
type Keystore struct {
	signer    *crypto.Signer
	approver  Approver
	flags     Flags
	gasBuffer uint64
	dial      DialFunc
	events    Emitter

	mu         sync.Mutex
	chains     map[string]AddChainParams
	chainID    string
	authorized bool
	clients    map[string]*rpc.Client
}

var _ Provider = (*Keystore)(nil)

// NewKeystore builds a Keystore provider.
func NewKeystore(cfg KeystoreConfig) (*Keystore, error) {
	if cfg.Key == nil {
		return nil, errors.New("wallet/keystore: key is required")
	}
	chainID, ok := NormalizeChainID(cfg.ChainID)
	if !ok {
		return nil, fmt.Errorf("wallet/keystore: invalid chain id %q", cfg.ChainID)
	}

	k := &Keystore{
		signer:    crypto.NewSigner(cfg.Key),
		approver:  cfg.Approver,
		flags:     cfg.Flags,
		gasBuffer: uint64(cfg.GasBufferPercent),
		dial:      cfg.Dial,
		chains:    make(map[string]AddChainParams, len(cfg.Chains)),
		chainID:   chainID,
		clients:   make(map[string]*rpc.Client),
	}
	if k.approver == nil {
		k.approver = AutoApprove{}
	}
	if k.gasBuffer == 0 {
		k.gasBuffer = defaultGasBufferPc
	}
	if k.dial == nil {
		k.dial = rpc.DialContext
	}
	for _, c := range cfg.Chains {
		id, ok := NormalizeChainID(c.ChainID)
		if !ok {
			return nil, fmt.Errorf("wallet/keystore: invalid chain id %q", c.ChainID)
		}
		c.ChainID = id
		k.chains[id] = c
	}
	if _, ok := k.chains[chainID]; !ok {
		return nil, fmt.Errorf("wallet/keystore: active chain %s has no definition", chainID)
	}
	return k, nil
}

// Address returns the lowercase account address.
func (k *Keystore) Address() string {
	return strings.ToLower(k.signer.Address().Hex())
}

// Flags implements Provider.
func (k *Keystore) Flags() Flags { return k.flags }

// On implements Provider.
func (k *Keystore) On(event string, fn Listener) ListenerID { return k.events.On(event, fn) }

// RemoveListener implements Provider.
func (k *Keystore) RemoveListener(event string, id ListenerID) { k.events.RemoveListener(event, id) }

// ListenerCount returns the number of listeners registered for event.
func (k *Keystore) ListenerCount(event string) int { return k.events.Count(event) }

// Lock revokes the dapp's account access and announces an empty account
// list, as an extension does when the user locks it.
func (k *Keystore) Lock() {
	k.mu.Lock()
	was := k.authorized
	k.authorized = false
	k.mu.Unlock()
	if was {
		k.events.Emit(EventAccountsChanged, []string{})
	}
}

// Close releases upstream connections.
func (k *Keystore) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for id, c := range k.clients {
		c.Close()
		delete(k.clients, id)
	}
}

// Request implements Provider.
func (k *Keystore) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	args, err := decodeParams(params)
	if err != nil {
		return nil, err
	}

	switch method {
	case MethodRequestAccounts:
		return k.requestAccounts(ctx)
	case MethodAccounts:
		return json.Marshal(k.accounts())
	case MethodChainID:
		k.mu.Lock()
		id := k.chainID
		k.mu.Unlock()
		return json.Marshal(id)
	case MethodSwitchChain:
		return k.switchChain(ctx, args)
	case MethodAddChain:
		return k.addChain(ctx, args)
	case MethodSendTransaction:
		return k.sendTransaction(ctx, args)
	case MethodPersonalSign:
		return k.personalSign(ctx, args)
	}
	return k.forward(ctx, method, args)
}

func decodeParams(params any) ([]json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, &ProviderError{Code: CodeInvalidParams, Message: err.Error()}
	}
	var args []json.RawMessage
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, &ProviderError{Code: CodeInvalidParams, Message: "params must be an array"}
	}
	return args, nil
}

func rejected() error {
	return &ProviderError{Code: CodeUserRejected, Message: "User rejected the request."}
}

func (k *Keystore) approve(ctx context.Context, method, detail string) error {
	k.mu.Lock()
	a := Approval{Method: method, Account: k.Address(), ChainID: k.chainID, Detail: detail}
	k.mu.Unlock()

	ok, err := k.approver.Approve(ctx, a)
	if err != nil {
		return fmt.Errorf("wallet/keystore: approval: %w", err)
	}
	if !ok {
		return rejected()
	}
	return nil
}

func (k *Keystore) accounts() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.authorized {
		return []string{}
	}
	return []string{k.Address()}
}

func (k *Keystore) requestAccounts(ctx context.Context) (json.RawMessage, error) {
	k.mu.Lock()
	authorized := k.authorized
	k.mu.Unlock()

	if !authorized {
		if err := k.approve(ctx, MethodRequestAccounts, "connect this account"); err != nil {
			return nil, err
		}
		k.mu.Lock()
		k.authorized = true
		k.mu.Unlock()
	}
	return json.Marshal([]string{k.Address()})
}

func (k *Keystore) requireAuthorized(from string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.authorized {
		return &ProviderError{Code: CodeUnauthorized, Message: "The requested account has not been authorized by the user."}
	}
	if from != "" && !strings.EqualFold(from, k.Address()) {
		return &ProviderError{Code: CodeUnauthorized, Message: "The requested account has not been authorized by the user."}
	}
	return nil
}

func (k *Keystore) switchChain(ctx context.Context, args []json.RawMessage) (json.RawMessage, error) {
	var p SwitchChainParams
	if len(args) == 0 || json.Unmarshal(args[0], &p) != nil {
		return nil, &ProviderError{Code: CodeInvalidParams, Message: "expected [{chainId}]"}
	}
	id, ok := NormalizeChainID(p.ChainID)
	if !ok {
		return nil, &ProviderError{Code: CodeInvalidParams, Message: "invalid chainId " + p.ChainID}
	}

	k.mu.Lock()
	_, known := k.chains[id]
	current := k.chainID
	k.mu.Unlock()

	if !known {
		return nil, &ProviderError{Code: CodeUnrecognizedChain, Message: "Unrecognized chain ID \"" + id + "\"."}
	}
	if id == current {
		return json.RawMessage("null"), nil
	}
	if err := k.approve(ctx, MethodSwitchChain, "switch to chain "+id); err != nil {
		return nil, err
	}
	k.setChain(id)
	return json.RawMessage("null"), nil
}

func (k *Keystore) addChain(ctx context.Context, args []json.RawMessage) (json.RawMessage, error) {
	var p AddChainParams
	if len(args) == 0 || json.Unmarshal(args[0], &p) != nil {
		return nil, &ProviderError{Code: CodeInvalidParams, Message: "expected [{chainId, chainName, rpcUrls, nativeCurrency}]"}
	}
	id, ok := NormalizeChainID(p.ChainID)
	if !ok || len(p.RPCURLs) == 0 {
		return nil, &ProviderError{Code: CodeInvalidParams, Message: "chainId and rpcUrls are required"}
	}
	p.ChainID = id

	if err := k.approve(ctx, MethodAddChain, "add network "+p.ChainName+" ("+id+")"); err != nil {
		return nil, err
	}

	k.mu.Lock()
	k.chains[id] = p
	if c, ok := k.clients[id]; ok {
		c.Close()
		delete(k.clients, id)
	}
	k.mu.Unlock()

	// Wallets offer to switch right after adding.
	k.setChain(id)
	return json.RawMessage("null"), nil
}

func (k *Keystore) setChain(id string) {
	k.mu.Lock()
	changed := k.chainID != id
	k.chainID = id
	k.mu.Unlock()
	if changed {
		k.events.Emit(EventChainChanged, id)
	}
}

func (k *Keystore) client(ctx context.Context) (*rpc.Client, *big.Int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	chainID, _ := ParseChainID(k.chainID)
	if c, ok := k.clients[k.chainID]; ok {
		return c, chainID, nil
	}
	def, ok := k.chains[k.chainID]
	if !ok || len(def.RPCURLs) == 0 {
		return nil, nil, &ProviderError{Code: CodeChainDisconnected, Message: "no RPC endpoint for chain " + k.chainID}
	}
	c, err := k.dial(ctx, def.RPCURLs[0])
	if err != nil {
		return nil, nil, &ProviderError{Code: CodeChainDisconnected, Message: err.Error()}
	}
	k.clients[k.chainID] = c
	return c, chainID, nil
}

func (k *Keystore) forward(ctx context.Context, method string, args []json.RawMessage) (json.RawMessage, error) {
	c, _, err := k.client(ctx)
	if err != nil {
		return nil, err
	}
	callArgs := make([]any, len(args))
	for i, a := range args {
		callArgs[i] = a
	}
	var out json.RawMessage
	if err := c.CallContext(ctx, &out, method, callArgs...); err != nil {
		return nil, FromRPC(err)
	}
	return out, nil
}

func (k *Keystore) personalSign(ctx context.Context, args []json.RawMessage) (json.RawMessage, error) {
	if len(args) < 2 {
		return nil, &ProviderError{Code: CodeInvalidParams, Message: "expected [message, address]"}
	}
	var data, addr string
	if json.Unmarshal(args[0], &data) != nil || json.Unmarshal(args[1], &addr) != nil {
		return nil, &ProviderError{Code: CodeInvalidParams, Message: "expected [message, address]"}
	}
	if err := k.requireAuthorized(addr); err != nil {
		return nil, err
	}

	msg := []byte(data)
	if b, err := hexutil.Decode(data); err == nil {
		msg = b
	}
	if err := k.approve(ctx, MethodPersonalSign, "sign message: "+string(msg)); err != nil {
		return nil, err
	}
	sig, err := k.signer.SignPersonal(msg)
	if err != nil {
		return nil, &ProviderError{Code: CodeInternal, Message: err.Error()}
	}
	return json.Marshal(sig)
}

func (k *Keystore) sendTransaction(ctx context.Context, args []json.RawMessage) (json.RawMessage, error) {
	var tx TxArgs
	if len(args) == 0 || json.Unmarshal(args[0], &tx) != nil {
		return nil, &ProviderError{Code: CodeInvalidParams, Message: "expected [{from, to, value, data}]"}
	}
	if err := k.requireAuthorized(tx.From); err != nil {
		return nil, err
	}

	value := new(big.Int)
	if tx.Value != "" {
		v, err := hexutil.DecodeBig(tx.Value)
		if err != nil {
			return nil, &ProviderError{Code: CodeInvalidParams, Message: "invalid value: " + err.Error()}
		}
		value = v
	}
	var data []byte
	if tx.Data != "" && tx.Data != "0x" {
		d, err := hexutil.Decode(tx.Data)
		if err != nil {
			return nil, &ProviderError{Code: CodeInvalidParams, Message: "invalid data: " + err.Error()}
		}
		data = d
	}
	var to *common.Address
	if tx.To != "" {
		if !common.IsHexAddress(tx.To) {
			return nil, &ProviderError{Code: CodeInvalidParams, Message: "invalid to address"}
		}
		a := common.HexToAddress(tx.To)
		to = &a
	}

	detail := fmt.Sprintf("send %s wei to %s", value, tx.To)
	if err := k.approve(ctx, MethodSendTransaction, detail); err != nil {
		return nil, err
	}

	rc, chainID, err := k.client(ctx)
	if err != nil {
		return nil, err
	}
	ec := ethclient.NewClient(rc)
	from := k.signer.Address()

	nonce, err := ec.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, FromRPC(err)
	}

	gas := uint64(0)
	if tx.Gas != "" {
		if gas, err = hexutil.DecodeUint64(tx.Gas); err != nil {
			return nil, &ProviderError{Code: CodeInvalidParams, Message: "invalid gas: " + err.Error()}
		}
	}
	if gas == 0 {
		gas, err = k.estimateGas(ctx, ec, ethereum.CallMsg{From: from, To: to, Value: value, Data: data})
		if err != nil {
			return nil, err
		}
	}

	unsigned, err := k.buildTx(ctx, ec, chainID, nonce, gas, to, value, data)
	if err != nil {
		return nil, err
	}
	signed, err := k.signer.SignTx(unsigned, chainID)
	if err != nil {
		return nil, &ProviderError{Code: CodeInternal, Message: err.Error()}
	}
	if err := ec.SendTransaction(ctx, signed); err != nil {
		return nil, FromRPC(err)
	}
	return json.Marshal(signed.Hash().Hex())
}

// estimateGas adds the configured buffer to the node's estimate. A revert
// during estimation is surfaced so the caller sees the reason before
// anything is broadcast.
func (k *Keystore) estimateGas(ctx context.Context, ec *ethclient.Client, msg ethereum.CallMsg) (uint64, error) {
	est, err := ec.EstimateGas(ctx, msg)
	if err != nil {
		var de rpc.DataError
		if errors.As(err, &de) && de.ErrorData() != nil {
			return 0, FromRPC(err)
		}
		if ErrorCode(err) == 3 {
			return 0, FromRPC(err)
		}
		return fallbackGasLimit, nil
	}
	est += est * k.gasBuffer / 100
	if est < minGasLimit {
		est = minGasLimit
	}
	return est, nil
}

// buildTx prefers a dynamic-fee transaction and falls back to legacy
// pricing when the node offers no tip suggestion.
func (k *Keystore) buildTx(ctx context.Context, ec *ethclient.Client, chainID *big.Int, nonce, gas uint64, to *common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	gasPrice, err := ec.SuggestGasPrice(ctx)
	if err != nil {
		return nil, FromRPC(err)
	}

	tip, err := ec.SuggestGasTipCap(ctx)
	if err != nil || tip == nil {
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       to,
			Value:    value,
			Gas:      gas,
			GasPrice: gasPrice,
			Data:     data,
		}), nil
	}

	feeCap := new(big.Int).Mul(gasPrice, big.NewInt(2))
	if feeCap.Cmp(tip) < 0 {
		feeCap.Set(tip)
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        to,
		Value:     value,
		Data:      data,
	}), nil
}
