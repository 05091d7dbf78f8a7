package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/alanyoungcy/bnbmarket/internal/executor"
	"github.com/alanyoungcy/bnbmarket/internal/notify"
	"github.com/alanyoungcy/bnbmarket/internal/platform/backend"
)

// SyncWarning is attached to a result whose transaction confirmed but
// could not be recorded in the backend.
const SyncWarning = "bet placed on-chain, but backend sync failed"

// Sessions is the connection manager as seen by the service.
type Sessions interface {
	Session() domain.WalletSession
	Connect(ctx context.Context, preferred domain.WalletType) (domain.WalletSession, error)
}

// ChainGuard moves the wallet onto the target chain.
type ChainGuard interface {
	SwitchToTargetChain(ctx context.Context, desired string) error
}

// Chain submits contract transactions through the wallet.
type Chain interface {
	PlaceBet(ctx context.Context, marketID any, isYes bool, amount string) (domain.TransactionResult, error)
	ProvideLiquidity(ctx context.Context, marketID any, amount string) (domain.TransactionResult, error)
	WithdrawLiquidity(ctx context.Context, marketID any, amount string) (domain.TransactionResult, error)
	ClaimWinnings(ctx context.Context, marketID any) (domain.TransactionResult, error)
	ClaimLiquidityFees(ctx context.Context, marketID any) (domain.TransactionResult, error)
	RefundLiquidity(ctx context.Context, marketID any) (domain.TransactionResult, error)
	SignMessage(ctx context.Context, msg string) (string, error)
}

// Recorder reports confirmed activity to the backend.
type Recorder interface {
	RecordBet(ctx context.Context, rec backend.BetRecord) error
	RecordWithdraw(ctx context.Context, rec backend.WithdrawRecord) error
	RecordLiquidity(ctx context.Context, rec backend.LiquidityRecord) error
}

// Deps wires a BettingService. Txs, Audit, Bus, Limiter and Notifier are
// optional.
type Deps struct {
	Sessions Sessions
	Guard    ChainGuard
	Chain    Chain
	Recorder Recorder
	Markets  *MarketService
	Txs      domain.TxStore
	Audit    domain.AuditStore
	Bus      domain.SignalBus
	Limiter  domain.RateLimiter
	Notifier *notify.Notifier
	Dedup    *Dedup
	Logger   *slog.Logger
	// PageSize is the listing size refreshed after a bet.
	PageSize int
}

// BettingService runs the market actions end to end: connect, switch
// chain, submit, record in the backend, persist and refresh.
type BettingService struct {
	Deps
	now func() time.Time
}

// NewBettingService creates a BettingService.
func NewBettingService(d Deps) *BettingService {
	if d.PageSize <= 0 {
		d.PageSize = 10
	}
	d.Logger = d.Logger.With(slog.String("component", "betting_service"))
	return &BettingService{Deps: d, now: time.Now}
}

// BetRequest places a bet. Market is a backend id or a contract index.
type BetRequest struct {
	Market string `json:"market" validate:"required"`
	IsYes  bool   `json:"isYes"`
	Amount string `json:"amount" validate:"required"`
	// Page is the listing page refreshed afterwards.
	Page int `json:"page" validate:"gte=0"`
}

// Result is the outcome of a confirmed action.
type Result struct {
	domain.TransactionResult
	MarketID  string `json:"marketId,omitempty"`
	OnChainID int64  `json:"onChainId"`
	Account   string `json:"account"`
	Synced    bool   `json:"backendSynced"`
	Warning   string `json:"warning,omitempty"`
}

// PlaceBet stakes req.Amount on one side of a market. A confirmed bet is
// returned even when the backend record fails; Warning is set then.
func (s *BettingService) PlaceBet(ctx context.Context, req BetRequest) (Result, error) {
	if _, err := executor.ParseAmount(req.Amount); err != nil {
		return Result{}, err
	}
	tgt, sess, release, err := s.prepare(ctx, "bet", req.Market, fmt.Sprintf("%t:%s", req.IsYes, req.Amount))
	if err != nil {
		return Result{}, err
	}
	defer release()

	tx, err := s.Chain.PlaceBet(ctx, tgt.OnChainID, req.IsYes, req.Amount)
	if err != nil {
		return Result{}, s.failed(ctx, domain.TxKindBet, tgt, sess, req.Amount, err)
	}
	res := s.result(tx, tgt, sess)

	amount, _ := decimal.NewFromString(strings.TrimSpace(req.Amount))
	syncErr := s.Recorder.RecordBet(ctx, backend.BetRecord{
		Player:        sess.Address,
		MarketID:      tgt.Record.ID,
		OnChainID:     tgt.OnChainID,
		Amount:        amount.InexactFloat64(),
		IsYes:         req.IsYes,
		CurrentPage:   req.Page,
		Signature:     tx.Hash,
		SignedMessage: tx.Hash,
		TxHash:        tx.Hash,
		ChainID:       tx.ChainID,
	})
	s.synced(ctx, &res, syncErr)

	yes := req.IsYes
	s.persist(ctx, domain.TxRecord{
		Hash: tx.Hash, Kind: domain.TxKindBet, MarketID: tgt.Record.ID,
		OnChainID: strconv.FormatInt(tgt.OnChainID, 10), Account: sess.Address,
		ChainID: tx.ChainID, Amount: amount.String(), IsYes: &yes,
		Status: domain.TxStatusConfirmed, BackendSynced: res.Synced,
	})

	if syncErr == nil {
		s.refresh(ctx, req.Page, tgt)
	}

	side := "NO"
	if req.IsYes {
		side = "YES"
	}
	s.notify(ctx, notify.Event{
		Kind:  notify.EventBetPlaced,
		Title: "Bet placed",
		Fields: map[string]string{
			"market":   marketLabel(tgt),
			"side":     side,
			"amount":   amount.String() + " BNB",
			"account":  sess.Address,
			"explorer": tx.ExplorerURL,
		},
	})
	return res, nil
}

// LiquidityRequest deposits liquidity into a market.
type LiquidityRequest struct {
	Market string `json:"market" validate:"required"`
	Amount string `json:"amount" validate:"required"`
}

// LiquidityMessage is the text the investor signs for a deposit.
func LiquidityMessage(marketID, amount string, at time.Time) string {
	return strings.Join([]string{
		"Prediction Market Liquidity Deposit",
		"Market: " + marketID,
		"Amount (BNB): " + amount,
		"Timestamp: " + strconv.FormatInt(at.UnixMilli(), 10),
	}, "\n")
}

// ProvideLiquidity signs a deposit message, sends the deposit and records
// it with the signature.
func (s *BettingService) ProvideLiquidity(ctx context.Context, req LiquidityRequest) (Result, error) {
	if _, err := executor.ParseAmount(req.Amount); err != nil {
		return Result{}, err
	}
	tgt, sess, release, err := s.prepare(ctx, "liquidity", req.Market, req.Amount)
	if err != nil {
		return Result{}, err
	}
	defer release()

	amount, _ := decimal.NewFromString(strings.TrimSpace(req.Amount))

	ref := tgt.Record.ID
	if ref == "" {
		ref = strconv.FormatInt(tgt.OnChainID, 10)
	}
	msg := LiquidityMessage(ref, amount.String(), s.now())
	sig, err := s.Chain.SignMessage(ctx, msg)
	if err != nil {
		return Result{}, fmt.Errorf("service: sign deposit: %w", err)
	}

	tx, err := s.Chain.ProvideLiquidity(ctx, tgt.OnChainID, req.Amount)
	if err != nil {
		return Result{}, s.failed(ctx, domain.TxKindLiquidity, tgt, sess, req.Amount, err)
	}
	res := s.result(tx, tgt, sess)

	syncErr := s.Recorder.RecordLiquidity(ctx, backend.LiquidityRecord{
		MarketID:      tgt.Record.ID,
		Amount:        amount.InexactFloat64(),
		Investor:      sess.Address,
		Active:        true,
		Signature:     sig,
		SignedMessage: msg,
		ChainID:       tx.ChainID,
		TxHash:        tx.Hash,
	})
	s.synced(ctx, &res, syncErr)

	s.persist(ctx, domain.TxRecord{
		Hash: tx.Hash, Kind: domain.TxKindLiquidity, MarketID: tgt.Record.ID,
		OnChainID: strconv.FormatInt(tgt.OnChainID, 10), Account: sess.Address,
		ChainID: tx.ChainID, Amount: amount.String(),
		Status: domain.TxStatusConfirmed, BackendSynced: res.Synced,
	})
	s.notify(ctx, notify.Event{
		Kind:  notify.EventLiquidityProvided,
		Title: "Liquidity provided",
		Fields: map[string]string{
			"market":   marketLabel(tgt),
			"amount":   amount.String() + " BNB",
			"account":  sess.Address,
			"explorer": tx.ExplorerURL,
		},
	})
	return res, nil
}

// WithdrawRequest withdraws liquidity from a market.
type WithdrawRequest struct {
	Market string `json:"market" validate:"required"`
	Amount string `json:"amount" validate:"required"`
	IsYes  bool   `json:"isYes"`
}

// Withdraw withdraws liquidity and records it.
func (s *BettingService) Withdraw(ctx context.Context, req WithdrawRequest) (Result, error) {
	if _, err := executor.ParseAmount(req.Amount); err != nil {
		return Result{}, err
	}
	tgt, sess, release, err := s.prepare(ctx, "withdraw", req.Market, req.Amount)
	if err != nil {
		return Result{}, err
	}
	defer release()

	tx, err := s.Chain.WithdrawLiquidity(ctx, tgt.OnChainID, req.Amount)
	if err != nil {
		return Result{}, s.failed(ctx, domain.TxKindWithdraw, tgt, sess, req.Amount, err)
	}
	res := s.result(tx, tgt, sess)

	amount, _ := decimal.NewFromString(strings.TrimSpace(req.Amount))
	syncErr := s.Recorder.RecordWithdraw(ctx, backend.WithdrawRecord{
		Player:    sess.Address,
		MarketID:  tgt.Record.ID,
		OnChainID: tgt.OnChainID,
		Amount:    amount.InexactFloat64(),
		IsYes:     req.IsYes,
		TxHash:    tx.Hash,
		ChainID:   tx.ChainID,
	})
	s.synced(ctx, &res, syncErr)

	yes := req.IsYes
	s.persist(ctx, domain.TxRecord{
		Hash: tx.Hash, Kind: domain.TxKindWithdraw, MarketID: tgt.Record.ID,
		OnChainID: strconv.FormatInt(tgt.OnChainID, 10), Account: sess.Address,
		ChainID: tx.ChainID, Amount: amount.String(), IsYes: &yes,
		Status: domain.TxStatusConfirmed, BackendSynced: res.Synced,
	})
	s.notify(ctx, notify.Event{
		Kind:  notify.EventWithdrawn,
		Title: "Liquidity withdrawn",
		Fields: map[string]string{
			"market":   marketLabel(tgt),
			"amount":   amount.String() + " BNB",
			"account":  sess.Address,
			"explorer": tx.ExplorerURL,
		},
	})
	return res, nil
}

// Claim submits a payout action. kind is one of TxKindClaimWinnings,
// TxKindClaimLiquidityFee or TxKindRefund. Claims have no backend record.
func (s *BettingService) Claim(ctx context.Context, market string, kind domain.TxKind) (Result, error) {
	var action func(context.Context, any) (domain.TransactionResult, error)
	switch kind {
	case domain.TxKindClaimWinnings:
		action = s.Chain.ClaimWinnings
	case domain.TxKindClaimLiquidityFee:
		action = s.Chain.ClaimLiquidityFees
	case domain.TxKindRefund:
		action = s.Chain.RefundLiquidity
	default:
		return Result{}, fmt.Errorf("service: unsupported claim %q", kind)
	}

	tgt, sess, release, err := s.prepare(ctx, string(kind), market, "")
	if err != nil {
		return Result{}, err
	}
	defer release()

	tx, err := action(ctx, tgt.OnChainID)
	if err != nil {
		return Result{}, s.failed(ctx, kind, tgt, sess, "0", err)
	}
	res := s.result(tx, tgt, sess)
	res.Synced = true
	s.persist(ctx, domain.TxRecord{
		Hash: tx.Hash, Kind: kind, MarketID: tgt.Record.ID,
		OnChainID: strconv.FormatInt(tgt.OnChainID, 10), Account: sess.Address,
		ChainID: tx.ChainID, Status: domain.TxStatusConfirmed, BackendSynced: true,
	})
	return res, nil
}

// prepare resolves the market, ensures a session on the target chain and
// claims the dedup key. The returned release must be called when the
// action ends.
func (s *BettingService) prepare(ctx context.Context, op, ref, detail string) (Target, domain.WalletSession, func(), error) {
	tgt, err := s.Markets.Resolve(ctx, ref)
	if err != nil {
		return Target{}, domain.WalletSession{}, nil, err
	}

	sess := s.Sessions.Session()
	if !sess.Connected() {
		if sess, err = s.Sessions.Connect(ctx, ""); err != nil {
			return Target{}, domain.WalletSession{}, nil, err
		}
	}

	if s.Limiter != nil {
		ok, err := s.Limiter.Allow(ctx, "tx:"+sess.Address, 5, time.Minute)
		if err != nil {
			s.Logger.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		} else if !ok {
			return Target{}, domain.WalletSession{}, nil, domain.ErrRateLimited
		}
	}

	if err := s.Guard.SwitchToTargetChain(ctx, ""); err != nil {
		return Target{}, domain.WalletSession{}, nil, err
	}
	// The switch may have changed the session's chain.
	sess = s.Sessions.Session()
	if !sess.Connected() {
		return Target{}, domain.WalletSession{}, nil, domain.ErrNotConnected
	}

	key := strings.Join([]string{op, sess.Address, strconv.FormatInt(tgt.OnChainID, 10), detail}, "|")
	if !s.Dedup.Claim(key) {
		return Target{}, domain.WalletSession{}, nil, fmt.Errorf("service: %s already in flight: %w", op, domain.ErrDuplicate)
	}
	return tgt, sess, func() { s.Dedup.Release(key) }, nil
}

func (s *BettingService) result(tx domain.TransactionResult, tgt Target, sess domain.WalletSession) Result {
	return Result{
		TransactionResult: tx,
		MarketID:          tgt.Record.ID,
		OnChainID:         tgt.OnChainID,
		Account:           sess.Address,
	}
}

func (s *BettingService) synced(ctx context.Context, res *Result, err error) {
	if err == nil {
		res.Synced = true
		return
	}
	res.Warning = SyncWarning
	s.Logger.WarnContext(ctx, "backend sync failed",
		slog.String("hash", res.Hash),
		slog.String("error", err.Error()),
	)
	s.notify(ctx, notify.Event{
		Kind:  notify.EventSyncFailed,
		Title: "Backend sync failed",
		Fields: map[string]string{
			"tx":    res.Hash,
			"error": err.Error(),
		},
	})
}

// failed reports a transaction error and returns it unchanged.
func (s *BettingService) failed(ctx context.Context, kind domain.TxKind, tgt Target, sess domain.WalletSession, amount string, err error) error {
	if errors.Is(err, domain.ErrUserRejected) {
		s.Logger.InfoContext(ctx, "transaction rejected by user", slog.String("kind", string(kind)))
		return err
	}
	s.audit(ctx, "tx_failed", map[string]any{
		"kind":      kind,
		"market":    tgt.Record.ID,
		"onChainId": tgt.OnChainID,
		"account":   sess.Address,
		"amount":    amount,
		"error":     err.Error(),
	})
	s.notify(ctx, notify.Event{
		Kind:  notify.EventTxFailed,
		Title: "Transaction failed",
		Fields: map[string]string{
			"kind":    string(kind),
			"market":  marketLabel(tgt),
			"account": sess.Address,
			"error":   err.Error(),
		},
	})
	return err
}

// persist stores the record, appends it to the tx stream and audits it.
// Failures are logged; the transaction already confirmed.
func (s *BettingService) persist(ctx context.Context, rec domain.TxRecord) {
	rec.CreatedAt = s.now().UTC()
	if s.Txs != nil {
		if err := s.Txs.Create(ctx, rec); err != nil {
			s.Logger.ErrorContext(ctx, "persist transaction",
				slog.String("hash", rec.Hash),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.Bus != nil {
		payload, _ := json.Marshal(txEvent{
			Hash: rec.Hash, Kind: rec.Kind, MarketID: rec.MarketID, OnChainID: rec.OnChainID,
			Account: rec.Account, Amount: rec.Amount, IsYes: rec.IsYes, Synced: rec.BackendSynced,
			At: rec.CreatedAt,
		})
		if err := s.Bus.StreamAppend(ctx, domain.StreamTxEvents, payload); err != nil {
			s.Logger.WarnContext(ctx, "append tx stream", slog.String("error", err.Error()))
		}
	}
	s.audit(ctx, string(rec.Kind), map[string]any{
		"hash":    rec.Hash,
		"market":  rec.MarketID,
		"account": rec.Account,
		"amount":  rec.Amount,
		"synced":  rec.BackendSynced,
	})
}

// txEvent is the payload appended to the transaction stream.
type txEvent struct {
	Hash      string        `json:"hash"`
	Kind      domain.TxKind `json:"kind"`
	MarketID  string        `json:"marketId,omitempty"`
	OnChainID string        `json:"onChainId"`
	Account   string        `json:"account"`
	Amount    string        `json:"amount"`
	IsYes     *bool         `json:"isYes,omitempty"`
	Synced    bool          `json:"backendSynced"`
	At        time.Time     `json:"at"`
}

func (s *BettingService) audit(ctx context.Context, event string, detail map[string]any) {
	if s.Audit == nil {
		return
	}
	if err := s.Audit.Log(ctx, event, detail); err != nil {
		s.Logger.WarnContext(ctx, "audit log", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (s *BettingService) notify(ctx context.Context, ev notify.Event) {
	if err := s.Notifier.Notify(ctx, ev); err != nil {
		s.Logger.WarnContext(ctx, "notify", slog.String("event", ev.Kind), slog.String("error", err.Error()))
	}
}

// refresh reloads the listing page the bet was placed from.
func (s *BettingService) refresh(ctx context.Context, page int, tgt Target) {
	opts := backend.ListOpts{Page: page, Limit: s.PageSize, Status: domain.MarketStatusActive}
	if tgt.Record.ID != "" {
		field := tgt.Record.MarketField
		opts.Field = &field
	}
	if _, err := s.Markets.Refresh(ctx, opts); err != nil {
		s.Logger.WarnContext(ctx, "refresh markets after bet", slog.String("error", err.Error()))
	}
}

func marketLabel(t Target) string {
	if t.Record.Question != "" {
		return fmt.Sprintf("#%d %s", t.OnChainID, t.Record.Question)
	}
	return fmt.Sprintf("#%d", t.OnChainID)
}

// parseIndex reads a contract market index.
func parseIndex(ref string) (int64, error) {
	n, err := executor.ParseMarketID(ref)
	if err != nil {
		return 0, err
	}
	if !n.IsInt64() {
		return 0, fmt.Errorf("%w: %s", domain.ErrInvalidMarketID, ref)
	}
	return n.Int64(), nil
}
