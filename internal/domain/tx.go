package domain

import "time"

// TxKind names the contract action a transaction performed.
type TxKind string

const (
	TxKindBet               TxKind = "bet"
	TxKindLiquidity         TxKind = "liquidity"
	TxKindWithdraw          TxKind = "withdraw"
	TxKindClaimWinnings     TxKind = "claim_winnings"
	TxKindClaimLiquidityFee TxKind = "claim_liquidity_fees"
	TxKindRefund            TxKind = "refund"
)

// TxStatus tracks a submitted transaction.
type TxStatus string

const (
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

// TxRecord is the local history entry for a submitted transaction.
type TxRecord struct {
	ID            string
	Hash          string
	Kind          TxKind
	MarketID      string // backend document id
	OnChainID     string // contract market index
	Account       string
	ChainID       string
	Amount        string // native units, decimal string
	IsYes         *bool
	Status        TxStatus
	BackendSynced bool
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
