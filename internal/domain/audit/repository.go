package audit

import (
	"context"
)

// Repository manages audit entry persistence. Entries are never updated or
// deleted.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	GetByTxnID(ctx context.Context, txnID string, limit, offset int) ([]*Entry, error)
	CountByTxnID(ctx context.Context, txnID string) (int64, error)
}
