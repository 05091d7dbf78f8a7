package wallet

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
)

// RPC is a read-only provider over a plain JSON-RPC endpoint. It holds no
// accounts and never emits events.
type RPC struct {
	client *rpc.Client
	events Emitter
}

var _ Provider = (*RPC)(nil)

// DialRPC connects to rawurl.
func DialRPC(ctx context.Context, rawurl string) (*RPC, error) {
	c, err := rpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, fmt.Errorf("wallet/rpc: dial %s: %w", rawurl, err)
	}
	return &RPC{client: c}, nil
}

// Request implements Provider.
func (r *RPC) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	switch method {
	case MethodRequestAccounts, MethodAccounts:
		return json.RawMessage("[]"), nil
	case MethodSendTransaction, MethodPersonalSign, MethodSwitchChain, MethodAddChain:
		return nil, &ProviderError{Code: CodeUnsupportedMethod, Message: method + " is not supported by a read-only provider"}
	}

	args, err := decodeParams(params)
	if err != nil {
		return nil, err
	}
	callArgs := make([]any, len(args))
	for i, a := range args {
		callArgs[i] = a
	}
	var out json.RawMessage
	if err := r.client.CallContext(ctx, &out, method, callArgs...); err != nil {
		return nil, FromRPC(err)
	}
	return out, nil
}

// On implements Provider.
func (r *RPC) On(event string, fn Listener) ListenerID { return r.events.On(event, fn) }

// RemoveListener implements Provider.
func (r *RPC) RemoveListener(event string, id ListenerID) { r.events.RemoveListener(event, id) }

// Flags implements Provider.
func (r *RPC) Flags() Flags { return Flags{} }

// Close closes the connection.
func (r *RPC) Close() { r.client.Close() }
