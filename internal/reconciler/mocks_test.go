package reconciler

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/cardbridge-reconciler/internal/domain/audit"
	"github.com/cardbridge-reconciler/internal/domain/ledgerpost"
	"github.com/cardbridge-reconciler/internal/domain/outbox"
	"github.com/cardbridge-reconciler/internal/domain/shared"
	"github.com/cardbridge-reconciler/internal/domain/transaction"
	"github.com/cardbridge-reconciler/internal/provider"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// MockGateway mocks the provider gateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) ListAuthorizations(ctx context.Context, req *provider.ListRequest) (*provider.TxnPage, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.TxnPage), args.Error(1)
}

func (m *MockGateway) ListSettlements(ctx context.Context, req *provider.ListRequest) (*provider.TxnPage, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.TxnPage), args.Error(1)
}

func (m *MockGateway) Recharge(ctx context.Context, cardID, currency string, amount decimal.Decimal) (*provider.MoneyResult, error) {
	args := m.Called(ctx, cardID, currency, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.MoneyResult), args.Error(1)
}

func (m *MockGateway) Withdraw(ctx context.Context, cardID, currency string, amount decimal.Decimal) (*provider.MoneyResult, error) {
	args := m.Called(ctx, cardID, currency, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.MoneyResult), args.Error(1)
}

func (m *MockGateway) TestConnection(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockGateway) PageSize() int {
	args := m.Called()
	return args.Int(0)
}

// MockTxnRepository mocks transaction.Repository
type MockTxnRepository struct {
	mock.Mock
}

func (m *MockTxnRepository) Create(ctx context.Context, rec *transaction.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockTxnRepository) GetByTxnID(ctx context.Context, txnID string) (*transaction.Record, error) {
	args := m.Called(ctx, txnID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transaction.Record), args.Error(1)
}

func (m *MockTxnRepository) GetByCardID(ctx context.Context, cardID string, limit, offset int) ([]*transaction.Record, error) {
	args := m.Called(ctx, cardID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*transaction.Record), args.Error(1)
}

func (m *MockTxnRepository) CountByCardID(ctx context.Context, cardID string) (int64, error) {
	args := m.Called(ctx, cardID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTxnRepository) List(ctx context.Context, limit, offset int) ([]*transaction.Record, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*transaction.Record), args.Error(1)
}

func (m *MockTxnRepository) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTxnRepository) MarkSettled(ctx context.Context, txnID, settleTxnID, settleCcy string, settleAmt decimal.Decimal) error {
	args := m.Called(ctx, txnID, settleTxnID, settleCcy, settleAmt)
	return args.Error(0)
}

func (m *MockTxnRepository) MarkCancelled(ctx context.Context, txnID string, txnTime time.Time) error {
	args := m.Called(ctx, txnID, txnTime)
	return args.Error(0)
}

func (m *MockTxnRepository) UpdateWithdrawalStatus(ctx context.Context, txnID string, status shared.WithdrawalStatus, relatedTxnID *string) error {
	args := m.Called(ctx, txnID, status, relatedTxnID)
	return args.Error(0)
}

func (m *MockTxnRepository) ListAnomalies(ctx context.Context, limit, offset int) ([]*transaction.Record, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*transaction.Record), args.Error(1)
}

func (m *MockTxnRepository) WithTx(tx pgx.Tx) transaction.Repository {
	m.Called(tx)
	return m
}

// MockOutboxRepository mocks outbox.Repository
type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) Create(ctx context.Context, message *outbox.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Message, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*outbox.Message), args.Error(1)
}

func (m *MockOutboxRepository) UpdateStatus(ctx context.Context, id int64, status shared.OutboxStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockOutboxRepository) IncrementAttempts(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) GetByBusinessID(ctx context.Context, businessID string) (*outbox.Message, error) {
	args := m.Called(ctx, businessID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*outbox.Message), args.Error(1)
}

func (m *MockOutboxRepository) WithTx(tx pgx.Tx) outbox.Repository {
	m.Called(tx)
	return m
}

// MockAuditRepository mocks audit.Repository
type MockAuditRepository struct {
	mock.Mock
}

func (m *MockAuditRepository) Create(ctx context.Context, entry *audit.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockAuditRepository) GetByTxnID(ctx context.Context, txnID string, limit, offset int) ([]*audit.Entry, error) {
	args := m.Called(ctx, txnID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*audit.Entry), args.Error(1)
}

func (m *MockAuditRepository) CountByTxnID(ctx context.Context, txnID string) (int64, error) {
	args := m.Called(ctx, txnID)
	return args.Get(0).(int64), args.Error(1)
}

// MockLeaser mocks TxnLeaser
type MockLeaser struct {
	mock.Mock
}

func (m *MockLeaser) Acquire(ctx context.Context, txnID string) (func(context.Context), error) {
	args := m.Called(ctx, txnID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func(context.Context)), args.Error(1)
}

// MockAnomalyPublisher mocks producers.AnomalyPublisher
type MockAnomalyPublisher struct {
	mock.Mock
}

func (m *MockAnomalyPublisher) PublishAnomaly(ctx context.Context, txnID, operation, reason, detail string) error {
	args := m.Called(ctx, txnID, operation, reason, detail)
	return args.Error(0)
}

func (m *MockAnomalyPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockPoster mocks ledgerpost.Poster
type MockPoster struct {
	mock.Mock
}

func (m *MockPoster) Post(ctx context.Context, post *ledgerpost.Post) error {
	args := m.Called(ctx, post)
	return args.Error(0)
}

// fakeTxRunner runs the transactional function with a nil tx, committing
// unless the function errors
type fakeTxRunner struct {
	beginErr error
}

func (f *fakeTxRunner) ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if f.beginErr != nil {
		return f.beginErr
	}
	return fn(nil)
}
