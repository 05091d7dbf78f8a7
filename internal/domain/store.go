package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TxStore persists the local transaction history.
type TxStore interface {
	Create(ctx context.Context, rec TxRecord) error
	MarkSynced(ctx context.Context, hash string) error
	GetByHash(ctx context.Context, hash string) (TxRecord, error)
	ListByAccount(ctx context.Context, account string, opts ListOpts) ([]TxRecord, error)
	ListByMarket(ctx context.Context, onChainID string, opts ListOpts) ([]TxRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
