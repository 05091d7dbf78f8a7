package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/alanyoungcy/bnbmarket/internal/wallet"
)

// ProviderSource yields the provider of the active session, or nil.
type ProviderSource interface {
	Provider() wallet.Provider
}

// ChainSetter records a confirmed chain change on the session.
type ChainSetter interface {
	SetChainID(chainID string)
}

// Guard moves the active wallet onto the target chain.
type Guard struct {
	target Metadata
	chains map[string]Metadata
	source ProviderSource
	setter ChainSetter
	logger *slog.Logger
}

// NewGuard creates a Guard for target. setter may be nil.
func NewGuard(target Metadata, source ProviderSource, setter ChainSetter, logger *slog.Logger) *Guard {
	chains := make(map[string]Metadata, len(known)+1)
	for id, m := range known {
		chains[id] = m
	}
	chains[target.ChainID] = target
	return &Guard{
		target: target,
		chains: chains,
		source: source,
		setter: setter,
		logger: logger.With(slog.String("component", "network_guard")),
	}
}

// Target returns the chain the guard enforces.
func (g *Guard) Target() Metadata { return g.target }

// SwitchToTargetChain makes the wallet's active chain equal desired (the
// target chain when empty). It returns immediately if the wallet is
// already there, falls back to adding the chain when the wallet does not
// know it, and returns every other wallet error unchanged. The session is
// only updated after the wallet confirmed the change.
func (g *Guard) SwitchToTargetChain(ctx context.Context, desired string) error {
	if desired == "" {
		desired = g.target.ChainID
	}
	want, ok := wallet.NormalizeChainID(desired)
	if !ok {
		return fmt.Errorf("network: invalid chain id %q", desired)
	}

	p := g.source.Provider()
	if p == nil {
		return domain.ErrWalletUnavailable
	}

	current, err := wallet.Call[string](ctx, p, wallet.MethodChainID, nil)
	if err != nil {
		return err
	}
	if wallet.SameChain(current, want) {
		// The session may hold a stale chain id.
		if g.setter != nil {
			g.setter.SetChainID(want)
		}
		return nil
	}

	g.logger.InfoContext(ctx, "switching chain",
		slog.String("from", current),
		slog.String("to", want),
	)

	_, err = p.Request(ctx, wallet.MethodSwitchChain, []any{wallet.SwitchChainParams{ChainID: want}})
	if err != nil {
		if wallet.ErrorCode(err) != wallet.CodeUnrecognizedChain {
			return err
		}
		meta, ok := g.chains[want]
		if !ok {
			return fmt.Errorf("network: %s: %w", want, errors.Join(domain.ErrUnknownChain, err))
		}
		g.logger.InfoContext(ctx, "chain unknown to wallet, adding", slog.String("chain", want))
		if _, err := p.Request(ctx, wallet.MethodAddChain, []any{meta.AddChainParams()}); err != nil {
			return err
		}
	}

	if g.setter != nil {
		g.setter.SetChainID(want)
	}
	return nil
}
