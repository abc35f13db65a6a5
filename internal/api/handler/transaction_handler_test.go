package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cardbridge-reconciler/internal/domain/audit"
	"github.com/cardbridge-reconciler/internal/domain/shared"
	"github.com/cardbridge-reconciler/internal/domain/transaction"
)

// PaginatedResponse is a generic version of Response for testing paginated data
type PaginatedResponse[T any] struct {
	Data          []T        `json:"data"`
	Error         *ErrorInfo `json:"error,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Meta          *MetaInfo  `json:"meta,omitempty"`
}

type MockTransactionRepository struct {
	mock.Mock
}

func (m *MockTransactionRepository) Create(ctx context.Context, rec *transaction.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockTransactionRepository) GetByTxnID(ctx context.Context, txnID string) (*transaction.Record, error) {
	args := m.Called(ctx, txnID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transaction.Record), args.Error(1)
}

func (m *MockTransactionRepository) GetByCardID(ctx context.Context, cardID string, limit, offset int) ([]*transaction.Record, error) {
	args := m.Called(ctx, cardID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*transaction.Record), args.Error(1)
}

func (m *MockTransactionRepository) CountByCardID(ctx context.Context, cardID string) (int64, error) {
	args := m.Called(ctx, cardID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTransactionRepository) List(ctx context.Context, limit, offset int) ([]*transaction.Record, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*transaction.Record), args.Error(1)
}

func (m *MockTransactionRepository) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTransactionRepository) MarkSettled(ctx context.Context, txnID, settleTxnID, settleCcy string, settleAmt decimal.Decimal) error {
	args := m.Called(ctx, txnID, settleTxnID, settleCcy, settleAmt)
	return args.Error(0)
}

func (m *MockTransactionRepository) MarkCancelled(ctx context.Context, txnID string, txnTime time.Time) error {
	args := m.Called(ctx, txnID, txnTime)
	return args.Error(0)
}

func (m *MockTransactionRepository) UpdateWithdrawalStatus(ctx context.Context, txnID string, status shared.WithdrawalStatus, relatedTxnID *string) error {
	args := m.Called(ctx, txnID, status, relatedTxnID)
	return args.Error(0)
}

func (m *MockTransactionRepository) ListAnomalies(ctx context.Context, limit, offset int) ([]*transaction.Record, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*transaction.Record), args.Error(1)
}

func (m *MockTransactionRepository) WithTx(tx pgx.Tx) transaction.Repository {
	m.Called(tx)
	return m
}

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

func sampleRecord(txnID string) *transaction.Record {
	return transaction.NewRecord(
		txnID, "", "card-1",
		shared.TxnTypeAuth, shared.TxnStatusSuccess, shared.BizTypeConsumption,
		"USD", decimal.RequireFromString("100"),
		time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	)
}

func TestTransactionHandler_GetByTxnID(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	gin.SetMode(gin.TestMode)

	t.Run("Success", func(t *testing.T) {
		txnRepo := new(MockTransactionRepository)
		auditRepo := new(MockAuditRepository)
		handler := NewTransactionHandler(logger, txnRepo, auditRepo)

		txnRepo.On("GetByTxnID", mock.Anything, "A1").Return(sampleRecord("A1"), nil)

		router := gin.New()
		router.GET("/transactions/:txnId", handler.GetByTxnID)

		req, _ := http.NewRequest(http.MethodGet, "/transactions/A1", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Data TransactionResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "A1", response.Data.TxnID)
		assert.Equal(t, "100", response.Data.AuthAmt)
		assert.Equal(t, "AUTH", response.Data.TxnType)
	})

	t.Run("NotFound", func(t *testing.T) {
		txnRepo := new(MockTransactionRepository)
		auditRepo := new(MockAuditRepository)
		handler := NewTransactionHandler(logger, txnRepo, auditRepo)

		txnRepo.On("GetByTxnID", mock.Anything, "missing").
			Return(nil, transaction.ErrRecordNotFound{TxnID: "missing"})

		router := gin.New()
		router.GET("/transactions/:txnId", handler.GetByTxnID)

		req, _ := http.NewRequest(http.MethodGet, "/transactions/missing", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("RepositoryError", func(t *testing.T) {
		txnRepo := new(MockTransactionRepository)
		auditRepo := new(MockAuditRepository)
		handler := NewTransactionHandler(logger, txnRepo, auditRepo)

		txnRepo.On("GetByTxnID", mock.Anything, "A1").Return(nil, errors.New("db down"))

		router := gin.New()
		router.GET("/transactions/:txnId", handler.GetByTxnID)

		req, _ := http.NewRequest(http.MethodGet, "/transactions/A1", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestTransactionHandler_List(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	gin.SetMode(gin.TestMode)

	t.Run("AllTransactions", func(t *testing.T) {
		txnRepo := new(MockTransactionRepository)
		auditRepo := new(MockAuditRepository)
		handler := NewTransactionHandler(logger, txnRepo, auditRepo)

		records := []*transaction.Record{sampleRecord("A1"), sampleRecord("A2")}
		txnRepo.On("List", mock.Anything, 10, 0).Return(records, nil)
		txnRepo.On("Count", mock.Anything).Return(int64(2), nil)

		router := gin.New()
		router.GET("/transactions", handler.List)

		req, _ := http.NewRequest(http.MethodGet, "/transactions", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var response PaginatedResponse[TransactionResponse]
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Len(t, response.Data, 2)
		require.NotNil(t, response.Meta)
		assert.Equal(t, 2, response.Meta.TotalItems)
	})

	t.Run("FilteredByCard", func(t *testing.T) {
		txnRepo := new(MockTransactionRepository)
		auditRepo := new(MockAuditRepository)
		handler := NewTransactionHandler(logger, txnRepo, auditRepo)

		records := []*transaction.Record{sampleRecord("A1")}
		txnRepo.On("GetByCardID", mock.Anything, "card-1", 5, 0).Return(records, nil)
		txnRepo.On("CountByCardID", mock.Anything, "card-1").Return(int64(1), nil)

		router := gin.New()
		router.GET("/transactions", handler.List)

		req, _ := http.NewRequest(http.MethodGet, "/transactions?card_id=card-1&per_page=5", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		txnRepo.AssertNotCalled(t, "List", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("InvalidPagination", func(t *testing.T) {
		txnRepo := new(MockTransactionRepository)
		auditRepo := new(MockAuditRepository)
		handler := NewTransactionHandler(logger, txnRepo, auditRepo)

		router := gin.New()
		router.GET("/transactions", handler.List)

		req, _ := http.NewRequest(http.MethodGet, "/transactions?page=0", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestTransactionHandler_GetAuditTrail(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	gin.SetMode(gin.TestMode)

	t.Run("Success", func(t *testing.T) {
		txnRepo := new(MockTransactionRepository)
		auditRepo := new(MockAuditRepository)
		handler := NewTransactionHandler(logger, txnRepo, auditRepo)

		entries := []*audit.Entry{
			audit.NewEntry("D1", shared.CorrectiveOperationCompensate, audit.OutcomeApplied, "recharged 50 USD", "corr-1"),
		}
		auditRepo.On("GetByTxnID", mock.Anything, "D1", 10, 0).Return(entries, nil)
		auditRepo.On("CountByTxnID", mock.Anything, "D1").Return(int64(1), nil)

		router := gin.New()
		router.GET("/transactions/:txnId/audit", handler.GetAuditTrail)

		req, _ := http.NewRequest(http.MethodGet, "/transactions/D1/audit", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var response PaginatedResponse[AuditEntryResponse]
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		require.Len(t, response.Data, 1)
		assert.Equal(t, "COMPENSATION_RECHARGE", response.Data[0].Operation)
		assert.Equal(t, "APPLIED", response.Data[0].Outcome)
	})
}
