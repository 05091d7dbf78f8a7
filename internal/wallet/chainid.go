package wallet

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// NormalizeChainID returns the canonical 0x-hex form of a chain id given
// as hex ("0x61") or decimal ("97").
func NormalizeChainID(s string) (string, bool) {
	n, ok := ParseChainID(s)
	if !ok {
		return "", false
	}
	return hexutil.EncodeBig(n), true
}

// ParseChainID parses a hex or decimal chain id.
func ParseChainID(s string) (*big.Int, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return nil, false
	}
	var (
		n  *big.Int
		ok bool
	)
	if strings.HasPrefix(s, "0x") {
		n, ok = new(big.Int).SetString(s[2:], 16)
	} else {
		n, ok = new(big.Int).SetString(s, 10)
	}
	if !ok || n.Sign() <= 0 {
		return nil, false
	}
	return n, true
}

// SameChain compares two chain ids regardless of encoding.
func SameChain(a, b string) bool {
	x, ok1 := NormalizeChainID(a)
	y, ok2 := NormalizeChainID(b)
	return ok1 && ok2 && x == y
}
