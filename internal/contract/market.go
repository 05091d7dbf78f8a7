// Package contract binds the prediction market contract: call data
// packing, view result decoding and event log decoding.
package contract

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultAddress is the deployed prediction market.
const DefaultAddress = "0xbFE71302361596be1F789fd789ad4eaF7cb63913"

// Contract method names.
const (
	MethodCreationFee          = "creationFee"
	MethodMarketCount          = "marketCount"
	MethodMarkets              = "markets"
	MethodProvideLiquidity     = "provideLiquidity"
	MethodPlaceBet             = "placeBet"
	MethodWithdrawLiquidity    = "withdrawLiquidity"
	MethodClaimWinnings        = "claimWinnings"
	MethodClaimLiquidityFees   = "claimLiquidityFees"
	MethodRefundLiquidity      = "refundLiquidity"
	MethodGetBetPosition       = "getBetPosition"
	MethodGetLiquidityPosition = "getLiquidityPosition"
)

// Event names.
const (
	EventMarketCreated     = "MarketCreated"
	EventLiquidityProvided = "LiquidityProvided"
	EventBetPlaced         = "BetPlaced"
	EventMarketResolved    = "MarketResolved"
)

// ErrUnknownEvent is returned for logs that are not from this contract's
// event set.
var ErrUnknownEvent = errors.New("contract: unknown event")

// Market is the on-chain state of one market.
type Market struct {
	Question             string
	MetadataURI          string
	ClosingTime          uint64
	Creator              common.Address
	TotalYesStake        *big.Int
	TotalNoStake         *big.Int
	TotalLiquidity       *big.Int
	Outcome              uint8
	Resolved             bool
	TotalLiquidityShares *big.Int
	AccFeePerShare       *big.Int
}

// BetPosition is an account's stake in a market.
type BetPosition struct {
	YesStake *big.Int
	NoStake  *big.Int
	Claimed  bool
}

// LiquidityPosition is an account's liquidity in a market.
type LiquidityPosition struct {
	DepositAmount *big.Int
	PendingFees   *big.Int
	Shares        *big.Int
}

// Event is a decoded contract log. Fields not carried by the event are
// left zero.
type Event struct {
	Name        string
	MarketID    *big.Int
	Account     common.Address // creator, provider or bettor
	IsYes       bool
	Amount      *big.Int // stake or liquidity amount
	FeeCharged  *big.Int
	Outcome     uint8
	Question    string
	ClosingTime uint64
	MetadataURI string
}

// PredictionMarket packs and unpacks calls against one deployment.
type PredictionMarket struct {
	abi     abi.ABI
	address common.Address
}

// New binds the contract at address.
func New(address string) (*PredictionMarket, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("contract: invalid address %q", address)
	}
	parsed, err := abi.JSON(strings.NewReader(PredictionMarketABI))
	if err != nil {
		return nil, fmt.Errorf("contract: parse abi: %w", err)
	}
	return &PredictionMarket{abi: parsed, address: common.HexToAddress(address)}, nil
}

// Address returns the contract address.
func (c *PredictionMarket) Address() common.Address { return c.address }

// ABI exposes the parsed ABI.
func (c *PredictionMarket) ABI() abi.ABI { return c.abi }

func (c *PredictionMarket) pack(method string, args ...any) ([]byte, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("contract: pack %s: %w", method, err)
	}
	return data, nil
}

// PlaceBet packs placeBet(marketId, isYes).
func (c *PredictionMarket) PlaceBet(marketID *big.Int, isYes bool) ([]byte, error) {
	return c.pack(MethodPlaceBet, marketID, isYes)
}

// ProvideLiquidity packs provideLiquidity(marketId).
func (c *PredictionMarket) ProvideLiquidity(marketID *big.Int) ([]byte, error) {
	return c.pack(MethodProvideLiquidity, marketID)
}

// WithdrawLiquidity packs withdrawLiquidity(marketId, amount).
func (c *PredictionMarket) WithdrawLiquidity(marketID, amount *big.Int) ([]byte, error) {
	return c.pack(MethodWithdrawLiquidity, marketID, amount)
}

// ClaimWinnings packs claimWinnings(marketId).
func (c *PredictionMarket) ClaimWinnings(marketID *big.Int) ([]byte, error) {
	return c.pack(MethodClaimWinnings, marketID)
}

// ClaimLiquidityFees packs claimLiquidityFees(marketId).
func (c *PredictionMarket) ClaimLiquidityFees(marketID *big.Int) ([]byte, error) {
	return c.pack(MethodClaimLiquidityFees, marketID)
}

// RefundLiquidity packs refundLiquidity(marketId).
func (c *PredictionMarket) RefundLiquidity(marketID *big.Int) ([]byte, error) {
	return c.pack(MethodRefundLiquidity, marketID)
}

// CreationFee packs creationFee().
func (c *PredictionMarket) CreationFee() ([]byte, error) { return c.pack(MethodCreationFee) }

// MarketCount packs marketCount().
func (c *PredictionMarket) MarketCount() ([]byte, error) { return c.pack(MethodMarketCount) }

// Market packs markets(id).
func (c *PredictionMarket) Market(marketID *big.Int) ([]byte, error) {
	return c.pack(MethodMarkets, marketID)
}

// BetPosition packs getBetPosition(id, account).
func (c *PredictionMarket) BetPosition(marketID *big.Int, account common.Address) ([]byte, error) {
	return c.pack(MethodGetBetPosition, marketID, account)
}

// LiquidityPosition packs getLiquidityPosition(id, account).
func (c *PredictionMarket) LiquidityPosition(marketID *big.Int, account common.Address) ([]byte, error) {
	return c.pack(MethodGetLiquidityPosition, marketID, account)
}

// UnpackUint decodes a single uint256 result of method.
func (c *PredictionMarket) UnpackUint(method string, data []byte) (*big.Int, error) {
	out, err := c.abi.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("contract: unpack %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("contract: unpack %s: expected 1 value, got %d", method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("contract: unpack %s: unexpected type %T", method, out[0])
	}
	return v, nil
}

// UnpackMarket decodes a markets(id) result.
func (c *PredictionMarket) UnpackMarket(data []byte) (Market, error) {
	var m Market
	if err := c.abi.UnpackIntoInterface(&m, MethodMarkets, data); err != nil {
		return Market{}, fmt.Errorf("contract: unpack markets: %w", err)
	}
	return m, nil
}

// UnpackBetPosition decodes a getBetPosition result.
func (c *PredictionMarket) UnpackBetPosition(data []byte) (BetPosition, error) {
	var p BetPosition
	if err := c.abi.UnpackIntoInterface(&p, MethodGetBetPosition, data); err != nil {
		return BetPosition{}, fmt.Errorf("contract: unpack getBetPosition: %w", err)
	}
	return p, nil
}

// UnpackLiquidityPosition decodes a getLiquidityPosition result.
func (c *PredictionMarket) UnpackLiquidityPosition(data []byte) (LiquidityPosition, error) {
	var p LiquidityPosition
	if err := c.abi.UnpackIntoInterface(&p, MethodGetLiquidityPosition, data); err != nil {
		return LiquidityPosition{}, fmt.Errorf("contract: unpack getLiquidityPosition: %w", err)
	}
	return p, nil
}

// DecodeLog decodes a log emitted by the contract. Logs from other
// addresses or with unknown topics yield ErrUnknownEvent.
func (c *PredictionMarket) DecodeLog(address common.Address, topics []common.Hash, data []byte) (Event, error) {
	if address != c.address || len(topics) == 0 {
		return Event{}, ErrUnknownEvent
	}
	ev, err := c.abi.EventByID(topics[0])
	if err != nil {
		return Event{}, ErrUnknownEvent
	}
	if len(topics) < 2 {
		return Event{}, fmt.Errorf("contract: %s: missing indexed market id", ev.Name)
	}

	values := map[string]any{}
	if err := c.abi.UnpackIntoMap(values, ev.Name, data); err != nil {
		return Event{}, fmt.Errorf("contract: unpack %s: %w", ev.Name, err)
	}

	out := Event{Name: ev.Name, MarketID: new(big.Int).SetBytes(topics[1].Bytes())}
	if len(topics) > 2 {
		out.Account = common.BytesToAddress(topics[2].Bytes())
	}

	switch ev.Name {
	case EventBetPlaced:
		out.IsYes, _ = values["isYes"].(bool)
		out.Amount, _ = values["stake"].(*big.Int)
		out.FeeCharged, _ = values["feeCharged"].(*big.Int)
	case EventLiquidityProvided:
		out.Amount, _ = values["amount"].(*big.Int)
		out.FeeCharged, _ = values["feeCharged"].(*big.Int)
	case EventMarketCreated:
		out.Question, _ = values["question"].(string)
		out.ClosingTime, _ = values["closingTime"].(uint64)
		out.MetadataURI, _ = values["metadataURI"].(string)
	case EventMarketResolved:
		out.Outcome, _ = values["outcome"].(uint8)
	}
	return out, nil
}
