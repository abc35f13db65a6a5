package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cardbridge-reconciler/internal/domain/shared"
	"github.com/cardbridge-reconciler/internal/domain/transaction"
	"github.com/cardbridge-reconciler/internal/platform/locking"
	"github.com/cardbridge-reconciler/internal/provider"
	"github.com/cardbridge-reconciler/internal/reconciler"
)

type MockSyncService struct {
	mock.Mock
}

func (m *MockSyncService) SyncAuthorizations(ctx context.Context, window reconciler.TimeWindow) (*reconciler.SyncReport, error) {
	args := m.Called(ctx, window)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconciler.SyncReport), args.Error(1)
}

func (m *MockSyncService) SyncSettlements(ctx context.Context, window reconciler.TimeWindow) (*reconciler.SyncReport, error) {
	args := m.Called(ctx, window)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconciler.SyncReport), args.Error(1)
}

type MockCorrectiveService struct {
	mock.Mock
}

func (m *MockCorrectiveService) CompensationRecharge(ctx context.Context, txnID, correlationID string) (*reconciler.CorrectiveResult, error) {
	args := m.Called(ctx, txnID, correlationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconciler.CorrectiveResult), args.Error(1)
}

func (m *MockCorrectiveService) RetryWithdrawal(ctx context.Context, txnID, correlationID string) (*reconciler.CorrectiveResult, error) {
	args := m.Called(ctx, txnID, correlationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconciler.CorrectiveResult), args.Error(1)
}

func (m *MockCorrectiveService) FreePass(ctx context.Context, txnID, correlationID string) (*reconciler.CorrectiveResult, error) {
	args := m.Called(ctx, txnID, correlationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reconciler.CorrectiveResult), args.Error(1)
}

func newReconciliationRouter(handler *ReconciliationHandler) *gin.Engine {
	router := gin.New()
	router.POST("/reconciliation/sync/authorizations", handler.SyncAuthorizations)
	router.POST("/reconciliation/sync/settlements", handler.SyncSettlements)
	router.GET("/reconciliation/anomalies", handler.ListAnomalies)
	router.POST("/transactions/:txnId/compensate", handler.Compensate)
	router.POST("/transactions/:txnId/retry-withdrawal", handler.RetryWithdrawal)
	router.POST("/transactions/:txnId/free-pass", handler.FreePass)
	return router
}

func syncRequestBody(t *testing.T) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(SyncRequest{
		BeginTime: "2024-03-01 00:00:00",
		EndTime:   "2024-03-02 00:00:00",
	})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func TestReconciliationHandler_SyncAuthorizations(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	gin.SetMode(gin.TestMode)

	t.Run("Success", func(t *testing.T) {
		syncService := new(MockSyncService)
		correctiveService := new(MockCorrectiveService)
		txnRepo := new(MockTransactionRepository)
		handler := NewReconciliationHandler(logger, syncService, correctiveService, txnRepo)

		report := &reconciler.SyncReport{Total: 10, Inserted: 8, Skipped: 2}
		syncService.On("SyncAuthorizations", mock.Anything, mock.MatchedBy(func(window reconciler.TimeWindow) bool {
			return window.End.After(window.Begin)
		})).Return(report, nil)

		router := newReconciliationRouter(handler)
		req, _ := http.NewRequest(http.MethodPost, "/reconciliation/sync/authorizations", syncRequestBody(t))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Data reconciler.SyncReport `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, int64(10), response.Data.Total)
		assert.Equal(t, int64(8), response.Data.Inserted)
	})

	t.Run("InvalidTimeFormat", func(t *testing.T) {
		syncService := new(MockSyncService)
		handler := NewReconciliationHandler(logger, syncService, new(MockCorrectiveService), new(MockTransactionRepository))

		body, _ := json.Marshal(SyncRequest{BeginTime: "03/01/2024", EndTime: "2024-03-02 00:00:00"})

		router := newReconciliationRouter(handler)
		req, _ := http.NewRequest(http.MethodPost, "/reconciliation/sync/authorizations", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		syncService.AssertNotCalled(t, "SyncAuthorizations", mock.Anything, mock.Anything)
	})

	t.Run("PartialFailureReturnsCounters", func(t *testing.T) {
		syncService := new(MockSyncService)
		handler := NewReconciliationHandler(logger, syncService, new(MockCorrectiveService), new(MockTransactionRepository))

		partial := &reconciler.SyncReport{Total: 4, Inserted: 4}
		syncService.On("SyncAuthorizations", mock.Anything, mock.Anything).
			Return(partial, errors.New("failed to fetch authorizations page 2: connection reset"))

		router := newReconciliationRouter(handler)
		req, _ := http.NewRequest(http.MethodPost, "/reconciliation/sync/authorizations", syncRequestBody(t))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusBadGateway, w.Code)

		var response struct {
			Data  *reconciler.SyncReport `json:"data"`
			Error *ErrorInfo             `json:"error"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		require.NotNil(t, response.Error)
		assert.Equal(t, "SYNC_INCOMPLETE", response.Error.Code)
		require.NotNil(t, response.Data)
		assert.Equal(t, int64(4), response.Data.Inserted)
	})
}

func TestReconciliationHandler_Corrective(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	gin.SetMode(gin.TestMode)

	t.Run("CompensateSuccess", func(t *testing.T) {
		correctiveService := new(MockCorrectiveService)
		handler := NewReconciliationHandler(logger, new(MockSyncService), correctiveService, new(MockTransactionRepository))

		result := &reconciler.CorrectiveResult{
			TxnID:         "D1",
			Operation:     shared.CorrectiveOperationCompensate,
			Applied:       true,
			ProviderTxnID: "P-100",
		}
		correctiveService.On("CompensationRecharge", mock.Anything, "D1", mock.Anything).Return(result, nil)

		router := newReconciliationRouter(handler)
		req, _ := http.NewRequest(http.MethodPost, "/transactions/D1/compensate", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Data reconciler.CorrectiveResult `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.True(t, response.Data.Applied)
		assert.Equal(t, "P-100", response.Data.ProviderTxnID)
	})

	t.Run("ReplayReportsNoOp", func(t *testing.T) {
		correctiveService := new(MockCorrectiveService)
		handler := NewReconciliationHandler(logger, new(MockSyncService), correctiveService, new(MockTransactionRepository))

		result := &reconciler.CorrectiveResult{
			TxnID:            "D1",
			Operation:        shared.CorrectiveOperationFreePass,
			AlreadyProcessed: true,
		}
		correctiveService.On("FreePass", mock.Anything, "D1", mock.Anything).Return(result, nil)

		router := newReconciliationRouter(handler)
		req, _ := http.NewRequest(http.MethodPost, "/transactions/D1/free-pass", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Data reconciler.CorrectiveResult `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.True(t, response.Data.AlreadyProcessed)
		assert.False(t, response.Data.Applied)
	})

	t.Run("BusyTransactionConflicts", func(t *testing.T) {
		correctiveService := new(MockCorrectiveService)
		handler := NewReconciliationHandler(logger, new(MockSyncService), correctiveService, new(MockTransactionRepository))

		correctiveService.On("CompensationRecharge", mock.Anything, "D1", mock.Anything).
			Return(nil, locking.ErrTxnBusy{TxnID: "D1"})

		router := newReconciliationRouter(handler)
		req, _ := http.NewRequest(http.MethodPost, "/transactions/D1/compensate", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("UnknownTransactionNotFound", func(t *testing.T) {
		correctiveService := new(MockCorrectiveService)
		handler := NewReconciliationHandler(logger, new(MockSyncService), correctiveService, new(MockTransactionRepository))

		correctiveService.On("RetryWithdrawal", mock.Anything, "missing", mock.Anything).
			Return(nil, transaction.ErrRecordNotFound{TxnID: "missing"})

		router := newReconciliationRouter(handler)
		req, _ := http.NewRequest(http.MethodPost, "/transactions/missing/retry-withdrawal", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("ProviderRejectionKeepsCodeAndMessage", func(t *testing.T) {
		correctiveService := new(MockCorrectiveService)
		handler := NewReconciliationHandler(logger, new(MockSyncService), correctiveService, new(MockTransactionRepository))

		correctiveService.On("CompensationRecharge", mock.Anything, "D1", mock.Anything).
			Return(nil, &provider.Error{Code: 4012, Msg: "card frozen"})

		router := newReconciliationRouter(handler)
		req, _ := http.NewRequest(http.MethodPost, "/transactions/D1/compensate", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusBadGateway, w.Code)

		var response Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		require.NotNil(t, response.Error)
		assert.Equal(t, "PROVIDER_REJECTED", response.Error.Code)
		assert.Contains(t, response.Error.Message, "4012")
		assert.Contains(t, response.Error.Message, "card frozen")
	})

	t.Run("NotCompensatableUnprocessable", func(t *testing.T) {
		correctiveService := new(MockCorrectiveService)
		handler := NewReconciliationHandler(logger, new(MockSyncService), correctiveService, new(MockTransactionRepository))

		correctiveService.On("CompensationRecharge", mock.Anything, "A1", mock.Anything).
			Return(nil, transaction.ErrNotCompensatable)

		router := newReconciliationRouter(handler)
		req, _ := http.NewRequest(http.MethodPost, "/transactions/A1/compensate", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestReconciliationHandler_ListAnomalies(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	gin.SetMode(gin.TestMode)

	t.Run("Success", func(t *testing.T) {
		txnRepo := new(MockTransactionRepository)
		handler := NewReconciliationHandler(logger, new(MockSyncService), new(MockCorrectiveService), txnRepo)

		records := []*transaction.Record{sampleRecord("D1")}
		txnRepo.On("ListAnomalies", mock.Anything, 10, 0).Return(records, nil)

		router := newReconciliationRouter(handler)
		req, _ := http.NewRequest(http.MethodGet, "/reconciliation/anomalies", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var response PaginatedResponse[TransactionResponse]
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Len(t, response.Data, 1)
	})
}
