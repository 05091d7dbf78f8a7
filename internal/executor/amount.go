package executor

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/shopspring/decimal"
)

// nativeDecimals is the precision of the chain's native currency.
const nativeDecimals = 18

// ParseMarketID coerces a market identifier into a non-negative integer.
// It accepts integers, integral floats, json.Number and decimal or 0x hex
// strings.
func ParseMarketID(v any) (*big.Int, error) {
	invalid := func() (*big.Int, error) {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMarketID, v)
	}

	var n *big.Int
	switch x := v.(type) {
	case *big.Int:
		if x == nil {
			return invalid()
		}
		n = new(big.Int).Set(x)
	case int:
		n = big.NewInt(int64(x))
	case int32:
		n = big.NewInt(int64(x))
	case int64:
		n = big.NewInt(x)
	case uint:
		n = new(big.Int).SetUint64(uint64(x))
	case uint32:
		n = new(big.Int).SetUint64(uint64(x))
	case uint64:
		n = new(big.Int).SetUint64(x)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x != math.Trunc(x) || x > math.MaxInt64 || x < math.MinInt64 {
			return invalid()
		}
		n = big.NewInt(int64(x))
	case json.Number:
		return ParseMarketID(string(x))
	case string:
		s := strings.TrimSpace(x)
		var ok bool
		switch {
		case s == "":
			return invalid()
		case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
			n, ok = new(big.Int).SetString(s[2:], 16)
		default:
			n, ok = new(big.Int).SetString(s, 10)
		}
		if !ok {
			return invalid()
		}
	default:
		return invalid()
	}

	if n.Sign() < 0 || n.BitLen() > 256 {
		return invalid()
	}
	return n, nil
}

// ParseAmount converts a positive decimal amount of native currency into
// wei.
func ParseAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, s)
	}
	if !d.IsPositive() {
		return nil, fmt.Errorf("%w: %q must be greater than zero", domain.ErrInvalidAmount, s)
	}
	wei := d.Shift(nativeDecimals)
	if !wei.IsInteger() {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", domain.ErrInvalidAmount, s, nativeDecimals)
	}
	return wei.BigInt(), nil
}

// FormatWei renders wei as a decimal amount of native currency.
func FormatWei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -nativeDecimals).String()
}
