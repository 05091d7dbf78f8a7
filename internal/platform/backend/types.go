package backend

import "github.com/alanyoungcy/bnbmarket/internal/market"

// ListOpts filters a market listing. A nil Field lists every category.
type ListOpts struct {
	Page   int
	Limit  int
	Status string
	Field  *int
}

// MarketPage is one page of undecoded market documents.
type MarketPage struct {
	Markets []market.Raw
	Total   int
	Page    int
	Limit   int
}

// BetRecord is posted to /market/betting after a bet confirms. Signature
// and SignedMessage carry the transaction hash for backends that verify
// either field.
type BetRecord struct {
	Player        string  `json:"player"`
	MarketID      string  `json:"market_id"`
	OnChainID     int64   `json:"onChainId"`
	Amount        float64 `json:"amount"`
	IsYes         bool    `json:"isYes"`
	CurrentPage   int     `json:"currentPage,omitempty"`
	Signature     string  `json:"signature"`
	SignedMessage string  `json:"signedMessage"`
	TxHash        string  `json:"txHash"`
	ChainID       string  `json:"chainId"`
}

// WithdrawRecord is posted to /market/withdraw after a withdrawal confirms.
type WithdrawRecord struct {
	Player    string  `json:"player"`
	MarketID  string  `json:"market_id"`
	OnChainID int64   `json:"onChainId"`
	Amount    float64 `json:"amount"`
	IsYes     bool    `json:"isYes"`
	TxHash    string  `json:"txHash"`
	ChainID   string  `json:"chainId"`
}

// LiquidityRecord is posted to /market/liquidity. Signature is a
// personal_sign over SignedMessage by Investor.
type LiquidityRecord struct {
	MarketID      string  `json:"market_id"`
	Amount        float64 `json:"amount"`
	Investor      string  `json:"investor"`
	Active        bool    `json:"active"`
	Signature     string  `json:"signature"`
	SignedMessage string  `json:"signedMessage"`
	ChainID       string  `json:"chainId"`
	TxHash        string  `json:"txHash,omitempty"`
}
