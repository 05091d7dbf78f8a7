package domain

// WalletType identifies a wallet vendor.
type WalletType string

const (
	WalletMetaMask    WalletType = "metamask"
	WalletTrustWallet WalletType = "trustwallet"
)

// WalletPriority is the fallback order used when no preference resolves.
var WalletPriority = []WalletType{WalletMetaMask, WalletTrustWallet}

// ParseWalletType validates s against the closed wallet enum. Only the
// exact enum strings are accepted.
func ParseWalletType(s string) (WalletType, bool) {
	switch WalletType(s) {
	case WalletMetaMask:
		return WalletMetaMask, true
	case WalletTrustWallet:
		return WalletTrustWallet, true
	}
	return "", false
}

// Label returns the human-readable vendor name.
func (w WalletType) Label() string {
	switch w {
	case WalletMetaMask:
		return "MetaMask"
	case WalletTrustWallet:
		return "Trust Wallet"
	}
	return string(w)
}

// WalletSession is the active wallet connection. The zero value is a
// disconnected session.
type WalletSession struct {
	Address    string     `json:"address,omitempty"`
	ChainID    string     `json:"chainId,omitempty"`
	WalletType WalletType `json:"walletType,omitempty"`
}

// Connected reports whether the session holds an account.
func (s WalletSession) Connected() bool { return s.Address != "" }

// TransactionResult describes a confirmed on-chain transaction.
type TransactionResult struct {
	Hash        string `json:"hash"`
	ChainID     string `json:"chainId"`
	ExplorerURL string `json:"explorerUrl"`
}
