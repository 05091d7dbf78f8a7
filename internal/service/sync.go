package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/alanyoungcy/bnbmarket/internal/platform/backend"
)

// UnsyncedLister lists confirmed transactions the backend has not
// acknowledged.
type UnsyncedLister interface {
	ListUnsynced(ctx context.Context, limit int) ([]domain.TxRecord, error)
}

// Resync replays backend records for confirmed bets and withdrawals that
// failed to sync. Liquidity deposits are skipped since their record needs
// a fresh signature from the investor. It returns the number synced.
func (s *BettingService) Resync(ctx context.Context, lister UnsyncedLister, limit int) (int, error) {
	if s.Txs == nil {
		return 0, nil
	}
	pending, err := lister.ListUnsynced(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("service: list unsynced: %w", err)
	}

	synced := 0
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		if err := s.replay(ctx, rec); err != nil {
			s.Logger.WarnContext(ctx, "resync failed",
				slog.String("hash", rec.Hash),
				slog.String("kind", string(rec.Kind)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := s.Txs.MarkSynced(ctx, rec.Hash); err != nil {
			return synced, err
		}
		synced++
	}
	if synced > 0 {
		s.Logger.InfoContext(ctx, "resynced transactions", slog.Int("count", synced))
	}
	return synced, nil
}

func (s *BettingService) replay(ctx context.Context, rec domain.TxRecord) error {
	onChain, err := strconv.ParseInt(rec.OnChainID, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", domain.ErrInvalidMarketID, rec.OnChainID)
	}
	amount, err := decimal.NewFromString(rec.Amount)
	if err != nil {
		return fmt.Errorf("%w: %q", domain.ErrInvalidAmount, rec.Amount)
	}
	isYes := rec.IsYes != nil && *rec.IsYes

	switch rec.Kind {
	case domain.TxKindBet:
		return s.Recorder.RecordBet(ctx, backend.BetRecord{
			Player:        rec.Account,
			MarketID:      rec.MarketID,
			OnChainID:     onChain,
			Amount:        amount.InexactFloat64(),
			IsYes:         isYes,
			Signature:     rec.Hash,
			SignedMessage: rec.Hash,
			TxHash:        rec.Hash,
			ChainID:       rec.ChainID,
		})
	case domain.TxKindWithdraw:
		return s.Recorder.RecordWithdraw(ctx, backend.WithdrawRecord{
			Player:    rec.Account,
			MarketID:  rec.MarketID,
			OnChainID: onChain,
			Amount:    amount.InexactFloat64(),
			IsYes:     isYes,
			TxHash:    rec.Hash,
			ChainID:   rec.ChainID,
		})
	}
	return fmt.Errorf("service: %s records are not replayed", rec.Kind)
}
