package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cardbridge-reconciler/internal/api/middleware"
	"github.com/cardbridge-reconciler/internal/domain/transaction"
	"github.com/cardbridge-reconciler/internal/platform/locking"
	"github.com/cardbridge-reconciler/internal/provider"
	"github.com/cardbridge-reconciler/internal/reconciler"
)

type syncFunc func(ctx context.Context, window reconciler.TimeWindow) (*reconciler.SyncReport, error)

type correctiveFunc func(ctx context.Context, txnID, correlationID string) (*reconciler.CorrectiveResult, error)

// ReconciliationHandler handles HTTP requests for sync cycles and corrective
// operations
type ReconciliationHandler struct {
	syncService       SyncService
	correctiveService CorrectiveService
	txnRepo           transaction.Repository
	logger            *slog.Logger
}

// NewReconciliationHandler creates a new reconciliation handler
func NewReconciliationHandler(logger *slog.Logger, syncService SyncService, correctiveService CorrectiveService, txnRepo transaction.Repository) *ReconciliationHandler {
	return &ReconciliationHandler{
		syncService:       syncService,
		correctiveService: correctiveService,
		txnRepo:           txnRepo,
		logger:            logger,
	}
}

// SyncAuthorizations runs one authorization sync cycle over the requested window
func (h *ReconciliationHandler) SyncAuthorizations(c *gin.Context) {
	h.runSync(c, h.syncService.SyncAuthorizations)
}

// SyncSettlements runs one settlement sync cycle over the requested window
func (h *ReconciliationHandler) SyncSettlements(c *gin.Context) {
	h.runSync(c, h.syncService.SyncSettlements)
}

func (h *ReconciliationHandler) runSync(c *gin.Context, sync syncFunc) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	begin, err := time.Parse(provider.TxnTimeLayout, req.BeginTime)
	if err != nil {
		RespondBadRequest(c, fmt.Sprintf("Invalid begin_time, expected %q format", provider.TxnTimeLayout))
		return
	}
	end, err := time.Parse(provider.TxnTimeLayout, req.EndTime)
	if err != nil {
		RespondBadRequest(c, fmt.Sprintf("Invalid end_time, expected %q format", provider.TxnTimeLayout))
		return
	}
	if !end.After(begin) {
		RespondBadRequest(c, "end_time must be after begin_time")
		return
	}

	window := reconciler.TimeWindow{Begin: begin, End: end, CardID: req.CardID}

	report, err := sync(c.Request.Context(), window)
	if err != nil {
		// A page fetch failure aborts the cycle; the counters accumulated
		// before the failure still go back to the caller
		h.logger.Error("Sync cycle aborted", "error", err)
		response := NewErrorResponse("SYNC_INCOMPLETE", err.Error())
		response.Data = report
		response.CorrelationID = middleware.GetCorrelationID(c)
		c.JSON(http.StatusBadGateway, response)
		return
	}

	RespondOK(c, report)
}

// Compensate executes a compensation recharge for the given transaction
func (h *ReconciliationHandler) Compensate(c *gin.Context) {
	h.runCorrective(c, h.correctiveService.CompensationRecharge)
}

// RetryWithdrawal re-invokes the provider withdrawal for the given transaction
func (h *ReconciliationHandler) RetryWithdrawal(c *gin.Context) {
	h.runCorrective(c, h.correctiveService.RetryWithdrawal)
}

// FreePass writes the given transaction's discrepancy off without moving money
func (h *ReconciliationHandler) FreePass(c *gin.Context) {
	h.runCorrective(c, h.correctiveService.FreePass)
}

func (h *ReconciliationHandler) runCorrective(c *gin.Context, run correctiveFunc) {
	txnID := c.Param("txnId")
	correlationID := middleware.GetCorrelationID(c)

	result, err := run(c.Request.Context(), txnID, correlationID)
	if err != nil {
		h.respondCorrectiveError(c, txnID, err)
		return
	}

	RespondOK(c, result)
}

// respondCorrectiveError maps corrective-operation failures onto HTTP
// statuses. Provider rejections pass the provider's code and message through
// so operators see the real reason.
func (h *ReconciliationHandler) respondCorrectiveError(c *gin.Context, txnID string, err error) {
	var provErr *provider.Error
	switch {
	case errors.Is(err, locking.ErrTxnBusy{}):
		RespondConflict(c, "Another corrective operation is running for this transaction")
	case errors.Is(err, transaction.ErrRecordNotFound{}):
		RespondNotFound(c, "Transaction not found")
	case errors.Is(err, transaction.ErrNotCompensatable):
		RespondUnprocessable(c, "NOT_COMPENSATABLE", err.Error())
	case errors.As(err, &provErr):
		RespondWithError(c, http.StatusBadGateway, "PROVIDER_REJECTED",
			fmt.Sprintf("provider code %d: %s", provErr.Code, provErr.Msg))
	default:
		h.logger.Error("Corrective operation failed", "txn_id", txnID, "error", err)
		RespondInternalError(c)
	}
}

// ListAnomalies retrieves paginated transactions flagged as reconciliation anomalies
func (h *ReconciliationHandler) ListAnomalies(c *gin.Context) {
	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		h.logger.Error("Invalid pagination parameters", "error", err)
		RespondBadRequest(c, "Invalid pagination parameters")
		return
	}

	offset := (pagination.Page - 1) * pagination.PerPage
	records, err := h.txnRepo.ListAnomalies(c.Request.Context(), pagination.PerPage, offset)
	if err != nil {
		h.logger.Error("Failed to list anomalies", "error", err)
		RespondInternalError(c)
		return
	}

	responses := make([]TransactionResponse, 0, len(records))
	for _, rec := range records {
		responses = append(responses, mapRecordToResponse(rec))
	}

	RespondWithPaginatedData(c, http.StatusOK, responses, pagination.Page, pagination.PerPage, len(responses))
}
