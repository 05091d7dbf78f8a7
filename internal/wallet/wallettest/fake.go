// Package wallettest provides a scriptable in-memory EIP-1193 provider
// for tests.
package wallettest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/alanyoungcy/bnbmarket/internal/wallet"
)

// Handler answers one method. The returned value is JSON-encoded.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Call records one Request.
type Call struct {
	Method string
	Params json.RawMessage
}

// Provider is a fake wallet provider.
type Provider struct {
	flags  wallet.Flags
	events wallet.Emitter

	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Call
}

var _ wallet.Provider = (*Provider)(nil)

// New returns a fake provider with the given vendor flags.
func New(flags wallet.Flags) *Provider {
	return &Provider{flags: flags, handlers: make(map[string]Handler)}
}

// MetaMask returns a fake flagged as MetaMask.
func MetaMask() *Provider { return New(wallet.Flags{IsMetaMask: true}) }

// Trust returns a fake flagged as Trust Wallet.
func Trust() *Provider { return New(wallet.Flags{IsTrust: true}) }

// Handle installs fn for method.
func (p *Provider) Handle(method string, fn Handler) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[method] = fn
	return p
}

// Return makes method answer v.
func (p *Provider) Return(method string, v any) *Provider {
	return p.Handle(method, func(context.Context, json.RawMessage) (any, error) { return v, nil })
}

// Fail makes method fail with err.
func (p *Provider) Fail(method string, err error) *Provider {
	return p.Handle(method, func(context.Context, json.RawMessage) (any, error) { return nil, err })
}

// Request implements wallet.Provider.
func (p *Provider) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	p.mu.Lock()
	p.calls = append(p.calls, Call{Method: method, Params: raw})
	h, ok := p.handlers[method]
	p.mu.Unlock()

	if !ok {
		return nil, &wallet.ProviderError{Code: wallet.CodeUnsupportedMethod, Message: "unsupported method " + method}
	}
	v, err := h(ctx, raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// On implements wallet.Provider.
func (p *Provider) On(event string, fn wallet.Listener) wallet.ListenerID {
	return p.events.On(event, fn)
}

// RemoveListener implements wallet.Provider.
func (p *Provider) RemoveListener(event string, id wallet.ListenerID) {
	p.events.RemoveListener(event, id)
}

// Flags implements wallet.Provider.
func (p *Provider) Flags() wallet.Flags { return p.flags }

// Emit fires a provider event.
func (p *Provider) Emit(event string, payload any) { p.events.Emit(event, payload) }

// ListenerCount returns the listeners registered for event.
func (p *Provider) ListenerCount(event string) int { return p.events.Count(event) }

// Calls returns how many times method was requested.
func (p *Provider) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Log returns every recorded call in order.
func (p *Provider) Log() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Last returns the most recent call of method.
func (p *Provider) Last(method string) (Call, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.calls) - 1; i >= 0; i-- {
		if p.calls[i].Method == method {
			return p.calls[i], true
		}
	}
	return Call{}, false
}

// Multi is an injected provider aggregating several extensions.
type Multi struct {
	*Provider
	subs []wallet.Provider
}

// NewMulti returns an aggregating provider with no vendor flags of its own.
func NewMulti(subs ...wallet.Provider) *Multi {
	return &Multi{Provider: New(wallet.Flags{}), subs: subs}
}

// Providers implements wallet.MultiProvider.
func (m *Multi) Providers() []wallet.Provider { return m.subs }

// Connected installs the handlers of an unlocked wallet on chainID.
func Connected(p *Provider, account, chainID string) *Provider {
	return p.
		Return(wallet.MethodRequestAccounts, []string{account}).
		Return(wallet.MethodAccounts, []string{account}).
		Return(wallet.MethodChainID, chainID)
}
