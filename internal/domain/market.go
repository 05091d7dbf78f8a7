package domain

// Outcome is the resolved result of a market.
type Outcome string

const (
	OutcomePending   Outcome = "PENDING"
	OutcomeYes       Outcome = "YES"
	OutcomeNo        Outcome = "NO"
	OutcomeCancelled Outcome = "CANCELLED"
)

// ParseOutcome validates s against the outcome enum.
func ParseOutcome(s string) (Outcome, bool) {
	switch o := Outcome(s); o {
	case OutcomePending, OutcomeYes, OutcomeNo, OutcomeCancelled:
		return o, true
	}
	return "", false
}

// ResolutionStatus tracks the oracle resolution job of a market.
type ResolutionStatus string

const (
	ResolutionIdle       ResolutionStatus = "IDLE"
	ResolutionPending    ResolutionStatus = "PENDING"
	ResolutionProcessing ResolutionStatus = "PROCESSING"
	ResolutionFailed     ResolutionStatus = "FAILED"
	ResolutionResolved   ResolutionStatus = "RESOLVED"
)

// ParseResolutionStatus validates s against the resolution enum.
func ParseResolutionStatus(s string) (ResolutionStatus, bool) {
	switch r := ResolutionStatus(s); r {
	case ResolutionIdle, ResolutionPending, ResolutionProcessing, ResolutionFailed, ResolutionResolved:
		return r, true
	}
	return "", false
}

// Market lifecycle tags used by the backend.
const (
	MarketStatusInit    = "INIT"
	MarketStatusPending = "PENDING"
	MarketStatusActive  = "ACTIVE"
	MarketStatusClosed  = "CLOSED"
)

// BetEntry is one stake on a side of a market.
type BetEntry struct {
	Player    string  `json:"player"`
	Amount    float64 `json:"amount"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// MarketRecord is the canonical form of a backend market document.
// Counters are always finite and non-negative.
type MarketRecord struct {
	ID        string `json:"_id"`
	OnChainID *int64 `json:"onChainId"`
	// MarketID is the index used by documents created before onChainId
	// was introduced.
	MarketID *int64 `json:"marketId,omitempty"`

	Question    string  `json:"question"`
	FeedName    string  `json:"feedName"`
	Description string  `json:"description"`
	ImageURL    string  `json:"imageUrl"`
	MarketField int     `json:"marketField"`
	APIType     int     `json:"apiType"`
	Task        string  `json:"task"`
	Creator     string  `json:"creator"`
	TokenA      string  `json:"tokenA"`
	TokenB      string  `json:"tokenB"`
	Market      string  `json:"market"`
	Value       float64 `json:"value"`
	Range       float64 `json:"range"`
	Date        string  `json:"date"`

	TradingAmountA  float64    `json:"tradingAmountA"`
	TradingAmountB  float64    `json:"tradingAmountB"`
	TokenAPrice     float64    `json:"tokenAPrice"`
	TokenBPrice     float64    `json:"tokenBPrice"`
	InitAmount      float64    `json:"initAmount"`
	TotalInvestment float64    `json:"totalInvestment"`
	PlayerACount    float64    `json:"playerACount"`
	PlayerBCount    float64    `json:"playerBCount"`
	PlayerA         []BetEntry `json:"playerA"`
	PlayerB         []BetEntry `json:"playerB"`
	Comments        []any      `json:"comments"`

	MarketStatus     string           `json:"marketStatus"`
	Outcome          Outcome          `json:"outcome,omitempty"`
	ResolutionStatus ResolutionStatus `json:"resolutionStatus,omitempty"`
	ResolvedAt       string           `json:"resolvedAt,omitempty"`
	ResolutionSource string           `json:"resolutionSource,omitempty"`

	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
	Version   int    `json:"__v"`
}
