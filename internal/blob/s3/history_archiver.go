package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
)

// archivePageSize is the number of records fetched per store query.
const archivePageSize = 500

// HistoryArchiver exports an account's transaction history to object
// storage as JSONL. Records stay in the primary store.
type HistoryArchiver struct {
	writer domain.BlobWriter
	txs    domain.TxStore
	audit  domain.AuditStore
}

// NewHistoryArchiver creates a HistoryArchiver.
func NewHistoryArchiver(writer domain.BlobWriter, txs domain.TxStore, audit domain.AuditStore) *HistoryArchiver {
	return &HistoryArchiver{writer: writer, txs: txs, audit: audit}
}

// archiveRow is the JSONL shape of one transaction.
type archiveRow struct {
	Hash          string          `json:"hash"`
	Kind          domain.TxKind   `json:"kind"`
	MarketID      string          `json:"marketId,omitempty"`
	OnChainID     string          `json:"onChainId,omitempty"`
	Account       string          `json:"account"`
	ChainID       string          `json:"chainId"`
	Amount        string          `json:"amount"`
	IsYes         *bool           `json:"isYes,omitempty"`
	Status        domain.TxStatus `json:"status"`
	BackendSynced bool            `json:"backendSynced"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// ArchiveAccount uploads every record of account created before cutoff to
// archive/tx/<account>/<YYYY-MM>.jsonl and logs an audit event. It returns
// the object key and record count; nothing is uploaded when there are no
// records.
func (a *HistoryArchiver) ArchiveAccount(ctx context.Context, account string, before time.Time) (string, int, error) {
	account = strings.ToLower(account)
	var rows []archiveRow
	for offset := 0; ; offset += archivePageSize {
		page, err := a.txs.ListByAccount(ctx, account, domain.ListOpts{
			Limit:  archivePageSize,
			Offset: offset,
			Until:  &before,
		})
		if err != nil {
			return "", 0, fmt.Errorf("s3blob: archive query %s: %w", account, err)
		}
		for _, r := range page {
			rows = append(rows, archiveRow{
				Hash: r.Hash, Kind: r.Kind, MarketID: r.MarketID, OnChainID: r.OnChainID,
				Account: r.Account, ChainID: r.ChainID, Amount: r.Amount, IsYes: r.IsYes,
				Status: r.Status, BackendSynced: r.BackendSynced, Error: r.Error, CreatedAt: r.CreatedAt,
			})
		}
		if len(page) < archivePageSize {
			break
		}
	}
	if len(rows) == 0 {
		return "", 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}
	key := fmt.Sprintf("archive/tx/%s/%s.jsonl", account, before.UTC().Format("2006-01"))
	if err := a.writer.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.tx", map[string]any{
			"path":    key,
			"account": account,
			"count":   len(rows),
			"before":  before.UTC().Format(time.RFC3339),
		}); err != nil {
			return key, len(rows), fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}
	return key, len(rows), nil
}

// marshalJSONL encodes records one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
