// Package executor submits prediction market transactions through the
// active wallet and waits for them to be mined.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/bnbmarket/internal/contract"
	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/alanyoungcy/bnbmarket/internal/network"
	"github.com/alanyoungcy/bnbmarket/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const defaultPollInterval = 2 * time.Second

// SessionSource exposes the active session and its provider.
type SessionSource interface {
	RequireConnected() (domain.WalletSession, wallet.Provider, error)
}

// Config tunes receipt polling. A zero ReceiptTimeout waits until the
// context ends.
type Config struct {
	PollInterval   time.Duration
	ReceiptTimeout time.Duration
}

// TxError is the terminal error of a submission. Its message is the most
// specific reason extracted from the wallet error; the wallet error stays
// reachable through Unwrap.
type TxError struct {
	Op      string
	Message string
	Err     error
}

func (e *TxError) Error() string { return e.Message }

func (e *TxError) Unwrap() error { return e.Err }

// Submitter builds contract calls and submits them through the session's
// wallet provider.
type Submitter struct {
	contract *contract.PredictionMarket
	target   network.Metadata
	sessions SessionSource
	reader   wallet.Provider
	cfg      Config
	logger   *slog.Logger
}

// New creates a Submitter. reader, when non-nil, serves view calls while
// no wallet is connected.
func New(c *contract.PredictionMarket, target network.Metadata, sessions SessionSource, reader wallet.Provider, cfg Config, logger *slog.Logger) *Submitter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Submitter{
		contract: c,
		target:   target,
		sessions: sessions,
		reader:   reader,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "executor")),
	}
}

// PlaceBet stakes amount native units on one side of a market.
func (s *Submitter) PlaceBet(ctx context.Context, marketID any, isYes bool, amount string) (domain.TransactionResult, error) {
	id, err := ParseMarketID(marketID)
	if err != nil {
		return domain.TransactionResult{}, err
	}
	value, err := ParseAmount(amount)
	if err != nil {
		return domain.TransactionResult{}, err
	}
	data, err := s.contract.PlaceBet(id, isYes)
	if err != nil {
		return domain.TransactionResult{}, err
	}
	return s.submit(ctx, contract.MethodPlaceBet, data, value)
}

// ProvideLiquidity deposits amount native units into a market.
func (s *Submitter) ProvideLiquidity(ctx context.Context, marketID any, amount string) (domain.TransactionResult, error) {
	id, err := ParseMarketID(marketID)
	if err != nil {
		return domain.TransactionResult{}, err
	}
	value, err := ParseAmount(amount)
	if err != nil {
		return domain.TransactionResult{}, err
	}
	data, err := s.contract.ProvideLiquidity(id)
	if err != nil {
		return domain.TransactionResult{}, err
	}
	return s.submit(ctx, contract.MethodProvideLiquidity, data, value)
}

// WithdrawLiquidity withdraws amount native units of liquidity.
func (s *Submitter) WithdrawLiquidity(ctx context.Context, marketID any, amount string) (domain.TransactionResult, error) {
	id, err := ParseMarketID(marketID)
	if err != nil {
		return domain.TransactionResult{}, err
	}
	wei, err := ParseAmount(amount)
	if err != nil {
		return domain.TransactionResult{}, err
	}
	data, err := s.contract.WithdrawLiquidity(id, wei)
	if err != nil {
		return domain.TransactionResult{}, err
	}
	return s.submit(ctx, contract.MethodWithdrawLiquidity, data, nil)
}

// ClaimWinnings claims the payout of a resolved market.
func (s *Submitter) ClaimWinnings(ctx context.Context, marketID any) (domain.TransactionResult, error) {
	return s.marketAction(ctx, contract.MethodClaimWinnings, marketID, s.contract.ClaimWinnings)
}

// ClaimLiquidityFees claims accrued liquidity fees.
func (s *Submitter) ClaimLiquidityFees(ctx context.Context, marketID any) (domain.TransactionResult, error) {
	return s.marketAction(ctx, contract.MethodClaimLiquidityFees, marketID, s.contract.ClaimLiquidityFees)
}

// RefundLiquidity refunds liquidity of a market that never activated.
func (s *Submitter) RefundLiquidity(ctx context.Context, marketID any) (domain.TransactionResult, error) {
	return s.marketAction(ctx, contract.MethodRefundLiquidity, marketID, s.contract.RefundLiquidity)
}

func (s *Submitter) marketAction(ctx context.Context, op string, marketID any, pack func(*big.Int) ([]byte, error)) (domain.TransactionResult, error) {
	id, err := ParseMarketID(marketID)
	if err != nil {
		return domain.TransactionResult{}, err
	}
	data, err := pack(id)
	if err != nil {
		return domain.TransactionResult{}, err
	}
	return s.submit(ctx, op, data, nil)
}

// ready checks the session preconditions shared by every write.
func (s *Submitter) ready() (domain.WalletSession, wallet.Provider, error) {
	sess, p, err := s.sessions.RequireConnected()
	if err != nil {
		return domain.WalletSession{}, nil, err
	}
	if !wallet.SameChain(sess.ChainID, s.target.ChainID) {
		return domain.WalletSession{}, nil, fmt.Errorf("%w: wallet is on %s, contract is on %s (%s)",
			domain.ErrWrongNetwork, sess.ChainID, s.target.ChainID, s.target.Name)
	}
	return sess, p, nil
}

func (s *Submitter) submit(ctx context.Context, op string, data []byte, value *big.Int) (domain.TransactionResult, error) {
	sess, p, err := s.ready()
	if err != nil {
		return domain.TransactionResult{}, err
	}
	if value == nil {
		value = new(big.Int)
	}

	args := wallet.TxArgs{
		From:  sess.Address,
		To:    s.contract.Address().Hex(),
		Value: hexutil.EncodeBig(value),
		Data:  hexutil.Encode(data),
	}
	hash, err := wallet.Call[string](ctx, p, wallet.MethodSendTransaction, []any{args})
	if err != nil {
		return domain.TransactionResult{}, s.fail(ctx, op, err)
	}

	s.logger.InfoContext(ctx, "transaction sent",
		slog.String("op", op),
		slog.String("hash", hash),
		slog.String("from", sess.Address),
		slog.String("value", FormatWei(value)),
	)

	rcpt, err := s.waitReceipt(ctx, p, hash)
	if err != nil {
		return domain.TransactionResult{}, s.fail(ctx, op, err)
	}

	for _, ev := range s.decodeEvents(rcpt) {
		s.logger.DebugContext(ctx, "contract event",
			slog.String("event", ev.Name),
			slog.String("market_id", ev.MarketID.String()),
		)
	}

	return domain.TransactionResult{
		Hash:        hash,
		ChainID:     s.target.ChainID,
		ExplorerURL: s.target.TxURL(hash),
	}, nil
}

func (s *Submitter) fail(ctx context.Context, op string, err error) error {
	msg := wallet.ErrorMessage(err)
	if errors.Is(err, domain.ErrTransactionFailed) {
		msg = err.Error()
	}
	s.logger.WarnContext(ctx, "transaction failed",
		slog.String("op", op),
		slog.String("error", msg),
	)
	return &TxError{Op: op, Message: msg, Err: err}
}

// receipt is the subset of eth_getTransactionReceipt the client reads.
type receipt struct {
	Status          hexutil.Uint64 `json:"status"`
	BlockNumber     *hexutil.Big   `json:"blockNumber"`
	TransactionHash common.Hash    `json:"transactionHash"`
	Logs            []receiptLog   `json:"logs"`
}

type receiptLog struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
}

// waitReceipt polls until hash is mined. A reverted transaction yields
// ErrTransactionFailed.
func (s *Submitter) waitReceipt(ctx context.Context, p wallet.Provider, hash string) (receipt, error) {
	if s.cfg.ReceiptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ReceiptTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		raw, err := p.Request(ctx, wallet.MethodGetReceipt, []any{hash})
		if err != nil {
			return receipt{}, err
		}
		if len(raw) > 0 && string(raw) != "null" {
			var r receipt
			if err := json.Unmarshal(raw, &r); err != nil {
				return receipt{}, fmt.Errorf("executor: decode receipt: %w", err)
			}
			if r.BlockNumber != nil {
				if r.Status == 0 {
					return r, fmt.Errorf("%w: transaction %s reverted", domain.ErrTransactionFailed, hash)
				}
				return r, nil
			}
		}

		select {
		case <-ctx.Done():
			return receipt{}, fmt.Errorf("%w: waiting for %s: %w", domain.ErrTransactionFailed, hash, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Submitter) decodeEvents(r receipt) []contract.Event {
	var out []contract.Event
	for _, l := range r.Logs {
		ev, err := s.contract.DecodeLog(l.Address, l.Topics, l.Data)
		if err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out
}
