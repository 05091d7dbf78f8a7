package wallet

import "github.com/alanyoungcy/bnbmarket/internal/domain"

// Flatten returns the injected provider's sub-provider list when it has a
// non-empty one, otherwise the provider itself. A nil provider yields nil.
func Flatten(p Provider) []Provider {
	if p == nil {
		return nil
	}
	if mp, ok := p.(MultiProvider); ok {
		if subs := mp.Providers(); len(subs) > 0 {
			out := make([]Provider, 0, len(subs))
			for _, s := range subs {
				if s != nil {
					out = append(out, s)
				}
			}
			return out
		}
	}
	return []Provider{p}
}

// Vendors returns every vendor a provider identifies as. Trust Wallet
// also sets the MetaMask flag, so a provider may match both.
func Vendors(p Provider) []domain.WalletType {
	f := p.Flags()
	var out []domain.WalletType
	if f.IsMetaMask {
		out = append(out, domain.WalletMetaMask)
	}
	if f.IsTrust || f.IsTrustWallet {
		out = append(out, domain.WalletTrustWallet)
	}
	return out
}

// Detect maps each wallet vendor to the first provider that identifies as
// it. The dedicated Trust Wallet handle is only consulted when the main
// list has no Trust entry. It never fails; an empty environment yields an
// empty map.
func Detect(env Environment) map[domain.WalletType]Provider {
	found := make(map[domain.WalletType]Provider, len(domain.WalletPriority))

	candidates := Flatten(env.Ethereum)
	if env.TrustWallet != nil {
		candidates = append(candidates, env.TrustWallet)
	}

	for _, p := range candidates {
		for _, wt := range Vendors(p) {
			if _, seen := found[wt]; !seen {
				found[wt] = p
			}
		}
	}
	return found
}

// Resolve picks a provider, trying preferred first and then the fixed
// fallback order. It returns (nil, "") when nothing resolves.
func Resolve(env Environment, preferred domain.WalletType) (Provider, domain.WalletType) {
	detected := Detect(env)

	order := make([]domain.WalletType, 0, len(domain.WalletPriority)+1)
	if preferred != "" {
		order = append(order, preferred)
	}
	for _, wt := range domain.WalletPriority {
		if wt != preferred {
			order = append(order, wt)
		}
	}

	for _, wt := range order {
		if p, ok := detected[wt]; ok {
			return p, wt
		}
	}
	return nil, ""
}

// Registry resolves providers from a fixed environment.
type Registry struct {
	env Environment
}

// NewRegistry returns a Registry over env.
func NewRegistry(env Environment) *Registry {
	return &Registry{env: env}
}

// Detect is Detect over the registry's environment.
func (r *Registry) Detect() map[domain.WalletType]Provider {
	return Detect(r.env)
}

// Resolve is Resolve over the registry's environment.
func (r *Registry) Resolve(preferred domain.WalletType) (Provider, domain.WalletType) {
	return Resolve(r.env, preferred)
}
