package transaction

import (
	"context"
	"time"

	"github.com/cardbridge-reconciler/internal/domain/shared"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Repository defines transaction record persistence operations
type Repository interface {
	Create(ctx context.Context, record *Record) error
	GetByTxnID(ctx context.Context, txnID string) (*Record, error)
	GetByCardID(ctx context.Context, cardID string, limit, offset int) ([]*Record, error)
	CountByCardID(ctx context.Context, cardID string) (int64, error)
	List(ctx context.Context, limit, offset int) ([]*Record, error)
	Count(ctx context.Context) (int64, error)

	// MarkSettled links a settlement to its parent authorization. The update
	// is conditional on the row not being settled yet, so a replayed sync or
	// a concurrent corrective operation cannot unsettle or double-settle it.
	// Returns ErrAlreadySettled when the guard rejects the update.
	MarkSettled(ctx context.Context, txnID, settleTxnID, settleCcy string, settleAmt decimal.Decimal) error

	// MarkCancelled flips a row into its terminal CANCEL state, conditional
	// on the row not being settled yet (compare-and-swap on is_settled).
	// Returns ErrAlreadySettled when another writer got there first.
	MarkCancelled(ctx context.Context, txnID string, txnTime time.Time) error

	// UpdateWithdrawalStatus records the outcome of a ledger-side withdrawal
	UpdateWithdrawalStatus(ctx context.Context, txnID string, status shared.WithdrawalStatus, relatedTxnID *string) error

	// ListAnomalies returns the corrective-operation queue: cancellations
	// whose withdrawal succeeded but which were never settled or compensated
	ListAnomalies(ctx context.Context, limit, offset int) ([]*Record, error)

	WithTx(tx pgx.Tx) Repository
}

// ErrRecordNotFound indicates a missing transaction record
type ErrRecordNotFound struct {
	TxnID string
}

func (e ErrRecordNotFound) Error() string {
	return "transaction record not found: " + e.TxnID
}

// Is implements the errors.Is interface for ErrRecordNotFound
func (e ErrRecordNotFound) Is(target error) bool {
	t, ok := target.(ErrRecordNotFound)
	if !ok {
		return false
	}
	// An empty target TxnID matches any ErrRecordNotFound
	if t.TxnID == "" {
		return true
	}
	return e.TxnID == t.TxnID
}

// ErrDuplicateRecord indicates a txn id uniqueness violation
type ErrDuplicateRecord struct {
	TxnID string
}

func (e ErrDuplicateRecord) Error() string {
	return "duplicate transaction record: " + e.TxnID
}

// Is implements the errors.Is interface for ErrDuplicateRecord
func (e ErrDuplicateRecord) Is(target error) bool {
	t, ok := target.(ErrDuplicateRecord)
	if !ok {
		return false
	}
	if t.TxnID == "" {
		return true
	}
	return e.TxnID == t.TxnID
}
