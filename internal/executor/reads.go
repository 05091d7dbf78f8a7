package executor

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/bnbmarket/internal/contract"
	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/alanyoungcy/bnbmarket/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type callArgs struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

// readProvider prefers the connected wallet and falls back to the
// read-only provider.
func (s *Submitter) readProvider() (wallet.Provider, error) {
	if _, p, err := s.sessions.RequireConnected(); err == nil {
		return p, nil
	}
	if s.reader != nil {
		return s.reader, nil
	}
	return nil, domain.ErrNotConnected
}

func (s *Submitter) call(ctx context.Context, data []byte) ([]byte, error) {
	p, err := s.readProvider()
	if err != nil {
		return nil, err
	}
	out, err := wallet.Call[hexutil.Bytes](ctx, p, wallet.MethodCall, []any{
		callArgs{To: s.contract.Address().Hex(), Data: hexutil.Encode(data)},
		"latest",
	})
	if err != nil {
		return nil, &TxError{Op: wallet.MethodCall, Message: wallet.ErrorMessage(err), Err: err}
	}
	return out, nil
}

func (s *Submitter) readUint(ctx context.Context, method string, pack func() ([]byte, error)) (*big.Int, error) {
	data, err := pack()
	if err != nil {
		return nil, err
	}
	out, err := s.call(ctx, data)
	if err != nil {
		return nil, err
	}
	return s.contract.UnpackUint(method, out)
}

// ContractAddress is the address of the prediction market contract.
func (s *Submitter) ContractAddress() common.Address { return s.contract.Address() }

// CreationFee returns the fee, in wei, for creating a market.
func (s *Submitter) CreationFee(ctx context.Context) (*big.Int, error) {
	return s.readUint(ctx, contract.MethodCreationFee, s.contract.CreationFee)
}

// MarketCount returns the number of markets created on-chain.
func (s *Submitter) MarketCount(ctx context.Context) (*big.Int, error) {
	return s.readUint(ctx, contract.MethodMarketCount, s.contract.MarketCount)
}

// Market reads the on-chain state of a market.
func (s *Submitter) Market(ctx context.Context, marketID any) (contract.Market, error) {
	id, err := ParseMarketID(marketID)
	if err != nil {
		return contract.Market{}, err
	}
	data, err := s.contract.Market(id)
	if err != nil {
		return contract.Market{}, err
	}
	out, err := s.call(ctx, data)
	if err != nil {
		return contract.Market{}, err
	}
	return s.contract.UnpackMarket(out)
}

// account resolves an explicit account or the session's.
func (s *Submitter) account(account string) (common.Address, error) {
	if account == "" {
		sess, _, err := s.sessions.RequireConnected()
		if err != nil {
			return common.Address{}, err
		}
		account = sess.Address
	}
	if !common.IsHexAddress(account) {
		return common.Address{}, fmt.Errorf("executor: invalid account %q", account)
	}
	return common.HexToAddress(account), nil
}

// BetPosition reads an account's stake; an empty account means the
// session's.
func (s *Submitter) BetPosition(ctx context.Context, marketID any, account string) (contract.BetPosition, error) {
	id, err := ParseMarketID(marketID)
	if err != nil {
		return contract.BetPosition{}, err
	}
	addr, err := s.account(account)
	if err != nil {
		return contract.BetPosition{}, err
	}
	data, err := s.contract.BetPosition(id, addr)
	if err != nil {
		return contract.BetPosition{}, err
	}
	out, err := s.call(ctx, data)
	if err != nil {
		return contract.BetPosition{}, err
	}
	return s.contract.UnpackBetPosition(out)
}

// LiquidityPosition reads an account's liquidity; an empty account means
// the session's.
func (s *Submitter) LiquidityPosition(ctx context.Context, marketID any, account string) (contract.LiquidityPosition, error) {
	id, err := ParseMarketID(marketID)
	if err != nil {
		return contract.LiquidityPosition{}, err
	}
	addr, err := s.account(account)
	if err != nil {
		return contract.LiquidityPosition{}, err
	}
	data, err := s.contract.LiquidityPosition(id, addr)
	if err != nil {
		return contract.LiquidityPosition{}, err
	}
	out, err := s.call(ctx, data)
	if err != nil {
		return contract.LiquidityPosition{}, err
	}
	return s.contract.UnpackLiquidityPosition(out)
}

// SignMessage asks the wallet to personal_sign msg with the session
// account.
func (s *Submitter) SignMessage(ctx context.Context, msg string) (string, error) {
	sess, p, err := s.sessions.RequireConnected()
	if err != nil {
		return "", err
	}
	sig, err := wallet.Call[string](ctx, p, wallet.MethodPersonalSign, []any{hexutil.Encode([]byte(msg)), sess.Address})
	if err != nil {
		return "", &TxError{Op: wallet.MethodPersonalSign, Message: wallet.ErrorMessage(err), Err: err}
	}
	return sig, nil
}
