package reconciler

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/cardbridge-reconciler/internal/provider"
)

// Gateway is the slice of the provider client the reconciliation engine
// calls. It exists so services can be tested against a mock provider.
type Gateway interface {
	ListAuthorizations(ctx context.Context, req *provider.ListRequest) (*provider.TxnPage, error)
	ListSettlements(ctx context.Context, req *provider.ListRequest) (*provider.TxnPage, error)
	Recharge(ctx context.Context, cardID, currency string, amount decimal.Decimal) (*provider.MoneyResult, error)
	Withdraw(ctx context.Context, cardID, currency string, amount decimal.Decimal) (*provider.MoneyResult, error)
	TestConnection(ctx context.Context) bool
	PageSize() int
}

// TxRunner runs a function inside one database transaction, rolling back on
// error or panic. *persistence.PostgresDB satisfies it.
type TxRunner interface {
	ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// TxnLeaser serializes corrective operations per transaction id. Acquire
// returns the lease's release function, or locking.ErrTxnBusy when the lease
// is held elsewhere.
type TxnLeaser interface {
	Acquire(ctx context.Context, txnID string) (func(context.Context), error)
}
