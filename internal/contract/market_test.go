package contract

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bettor = common.HexToAddress("0xdef0000000000000000000000000000000000001")

func newTestContract(t *testing.T) *PredictionMarket {
	t.Helper()
	c, err := New(DefaultAddress)
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadAddress(t *testing.T) {
	_, err := New("0x123")
	assert.Error(t, err)
}

func TestPlaceBetCallData(t *testing.T) {
	c := newTestContract(t)
	data, err := c.PlaceBet(big.NewInt(7), true)
	require.NoError(t, err)

	method := c.ABI().Methods[MethodPlaceBet]
	assert.Equal(t, method.ID, data[:4])
	require.Len(t, data, 4+64)

	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(7), args[0])
	assert.Equal(t, true, args[1])
}

func TestUnpackViews(t *testing.T) {
	c := newTestContract(t)
	a := c.ABI()

	raw, err := a.Methods[MethodMarketCount].Outputs.Pack(big.NewInt(12))
	require.NoError(t, err)
	n, err := c.UnpackUint(MethodMarketCount, raw)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n.Int64())

	raw, err = a.Methods[MethodMarkets].Outputs.Pack(
		"Will BNB close above 700?", "ipfs://meta", uint64(1735689600), bettor,
		big.NewInt(5), big.NewInt(3), big.NewInt(10), uint8(1), true, big.NewInt(10), big.NewInt(0),
	)
	require.NoError(t, err)
	m, err := c.UnpackMarket(raw)
	require.NoError(t, err)
	assert.Equal(t, "Will BNB close above 700?", m.Question)
	assert.Equal(t, "ipfs://meta", m.MetadataURI)
	assert.Equal(t, uint64(1735689600), m.ClosingTime)
	assert.Equal(t, bettor, m.Creator)
	assert.Equal(t, int64(5), m.TotalYesStake.Int64())
	assert.True(t, m.Resolved)
	assert.Equal(t, uint8(1), m.Outcome)

	raw, err = a.Methods[MethodGetBetPosition].Outputs.Pack(big.NewInt(2), big.NewInt(0), false)
	require.NoError(t, err)
	bp, err := c.UnpackBetPosition(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(2), bp.YesStake.Int64())
	assert.False(t, bp.Claimed)

	raw, err = a.Methods[MethodGetLiquidityPosition].Outputs.Pack(big.NewInt(9), big.NewInt(1), big.NewInt(9))
	require.NoError(t, err)
	lp, err := c.UnpackLiquidityPosition(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(9), lp.Shares.Int64())
}

func TestDecodeBetPlaced(t *testing.T) {
	c := newTestContract(t)
	ev := c.ABI().Events[EventBetPlaced]

	data, err := ev.Inputs.NonIndexed().Pack(true, big.NewInt(500), big.NewInt(5))
	require.NoError(t, err)
	topics := []common.Hash{
		ev.ID,
		common.BigToHash(big.NewInt(7)),
		common.BytesToHash(bettor.Bytes()),
	}

	got, err := c.DecodeLog(c.Address(), topics, data)
	require.NoError(t, err)
	assert.Equal(t, EventBetPlaced, got.Name)
	assert.Equal(t, int64(7), got.MarketID.Int64())
	assert.Equal(t, bettor, got.Account)
	assert.True(t, got.IsYes)
	assert.Equal(t, int64(500), got.Amount.Int64())
	assert.Equal(t, int64(5), got.FeeCharged.Int64())

	_, err = c.DecodeLog(common.HexToAddress("0x01"), topics, data)
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = c.DecodeLog(c.Address(), []common.Hash{common.HexToHash("0xabc")}, data)
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDecodeMarketResolved(t *testing.T) {
	c := newTestContract(t)
	ev := c.ABI().Events[EventMarketResolved]
	data, err := ev.Inputs.NonIndexed().Pack(uint8(2))
	require.NoError(t, err)

	got, err := c.DecodeLog(c.Address(), []common.Hash{ev.ID, common.BigToHash(big.NewInt(3))}, data)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), got.Outcome)
	assert.Equal(t, int64(3), got.MarketID.Int64())
}
