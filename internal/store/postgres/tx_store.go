package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
)

// TxStore implements domain.TxStore on the tx_records table.
type TxStore struct {
	pool *pgxpool.Pool
}

// NewTxStore creates a TxStore backed by pool.
func NewTxStore(pool *pgxpool.Pool) *TxStore {
	return &TxStore{pool: pool}
}

const txSelectCols = `id, hash, kind, market_id, on_chain_id, account, chain_id,
	amount, is_yes, status, backend_synced, error, created_at, updated_at`

func scanTx(row pgx.Row) (domain.TxRecord, error) {
	var r domain.TxRecord
	err := row.Scan(
		&r.ID, &r.Hash, &r.Kind, &r.MarketID, &r.OnChainID, &r.Account, &r.ChainID,
		&r.Amount, &r.IsYes, &r.Status, &r.BackendSynced, &r.Error, &r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

// Create inserts rec. Hashes and accounts are stored lowercased; an empty
// ID gets a fresh UUID. A second record with the same hash returns
// domain.ErrDuplicate.
func (s *TxStore) Create(ctx context.Context, rec domain.TxRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.Amount == "" {
		rec.Amount = "0"
	}

	const q = `
		INSERT INTO tx_records (
			id, hash, kind, market_id, on_chain_id, account, chain_id,
			amount, is_yes, status, backend_synced, error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`
	_, err := s.pool.Exec(ctx, q,
		rec.ID, strings.ToLower(rec.Hash), string(rec.Kind), rec.MarketID, rec.OnChainID,
		strings.ToLower(rec.Account), rec.ChainID, rec.Amount, rec.IsYes,
		string(rec.Status), rec.BackendSynced, rec.Error, rec.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: tx %s: %w", rec.Hash, domain.ErrDuplicate)
		}
		return fmt.Errorf("postgres: create tx %s: %w", rec.Hash, err)
	}
	return nil
}

// MarkSynced flags the record as recorded by the backend.
func (s *TxStore) MarkSynced(ctx context.Context, hash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tx_records SET backend_synced = TRUE, updated_at = NOW() WHERE hash = $1`,
		strings.ToLower(hash),
	)
	if err != nil {
		return fmt.Errorf("postgres: mark synced %s: %w", hash, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark synced %s: %w", hash, domain.ErrNotFound)
	}
	return nil
}

// GetByHash returns the record for hash.
func (s *TxStore) GetByHash(ctx context.Context, hash string) (domain.TxRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+txSelectCols+` FROM tx_records WHERE hash = $1`,
		strings.ToLower(hash),
	)
	rec, err := scanTx(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TxRecord{}, fmt.Errorf("postgres: tx %s: %w", hash, domain.ErrNotFound)
		}
		return domain.TxRecord{}, fmt.Errorf("postgres: get tx %s: %w", hash, err)
	}
	return rec, nil
}

// ListByAccount returns records sent from account, newest first.
func (s *TxStore) ListByAccount(ctx context.Context, account string, opts domain.ListOpts) ([]domain.TxRecord, error) {
	q := newQuery(`SELECT ` + txSelectCols + ` FROM tx_records WHERE TRUE`)
	q.where("account = $%d", strings.ToLower(account))
	q.window(opts)
	q.page("created_at DESC", opts)
	return s.list(ctx, q)
}

// ListByMarket returns records against the given contract market index,
// newest first.
func (s *TxStore) ListByMarket(ctx context.Context, onChainID string, opts domain.ListOpts) ([]domain.TxRecord, error) {
	q := newQuery(`SELECT ` + txSelectCols + ` FROM tx_records WHERE TRUE`)
	q.where("on_chain_id = $%d", onChainID)
	q.window(opts)
	q.page("created_at DESC", opts)
	return s.list(ctx, q)
}

// ListUnsynced returns confirmed records the backend has not acknowledged,
// oldest first.
func (s *TxStore) ListUnsynced(ctx context.Context, limit int) ([]domain.TxRecord, error) {
	q := newQuery(`SELECT ` + txSelectCols + ` FROM tx_records WHERE NOT backend_synced`)
	q.where("status = $%d", string(domain.TxStatusConfirmed))
	q.page("created_at ASC", domain.ListOpts{Limit: limit})
	return s.list(ctx, q)
}

func (s *TxStore) list(ctx context.Context, q *query) ([]domain.TxRecord, error) {
	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list txs: %w", err)
	}
	defer rows.Close()

	out := []domain.TxRecord{}
	for rows.Next() {
		rec, err := scanTx(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan tx: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list txs: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.TxStore = (*TxStore)(nil)
