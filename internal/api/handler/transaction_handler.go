package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cardbridge-reconciler/internal/domain/audit"
	"github.com/cardbridge-reconciler/internal/domain/transaction"
)

// TransactionHandler handles HTTP requests for reconciled transactions and
// their audit trails
type TransactionHandler struct {
	txnRepo   transaction.Repository
	auditRepo audit.Repository
	logger    *slog.Logger
}

// NewTransactionHandler creates a new transaction handler
func NewTransactionHandler(logger *slog.Logger, txnRepo transaction.Repository, auditRepo audit.Repository) *TransactionHandler {
	return &TransactionHandler{
		txnRepo:   txnRepo,
		auditRepo: auditRepo,
		logger:    logger,
	}
}

// GetByTxnID retrieves a transaction by its provider txn id, returns 404 if not found
func (h *TransactionHandler) GetByTxnID(c *gin.Context) {
	txnID := c.Param("txnId")

	rec, err := h.txnRepo.GetByTxnID(c.Request.Context(), txnID)
	if err != nil {
		if errors.Is(err, transaction.ErrRecordNotFound{}) {
			RespondNotFound(c, "Transaction not found")
			return
		}
		h.logger.Error("Failed to get transaction", "txn_id", txnID, "error", err)
		RespondInternalError(c)
		return
	}

	RespondOK(c, mapRecordToResponse(rec))
}

// List retrieves paginated transactions, optionally filtered to one card
func (h *TransactionHandler) List(c *gin.Context) {
	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		h.logger.Error("Invalid pagination parameters", "error", err)
		RespondBadRequest(c, "Invalid pagination parameters")
		return
	}

	offset := (pagination.Page - 1) * pagination.PerPage
	ctx := c.Request.Context()

	var (
		records []*transaction.Record
		total   int64
		err     error
	)

	if cardID := c.Query("card_id"); cardID != "" {
		records, err = h.txnRepo.GetByCardID(ctx, cardID, pagination.PerPage, offset)
		if err == nil {
			total, err = h.txnRepo.CountByCardID(ctx, cardID)
		}
	} else {
		records, err = h.txnRepo.List(ctx, pagination.PerPage, offset)
		if err == nil {
			total, err = h.txnRepo.Count(ctx)
		}
	}
	if err != nil {
		h.logger.Error("Failed to list transactions", "error", err)
		RespondInternalError(c)
		return
	}

	responses := make([]TransactionResponse, 0, len(records))
	for _, rec := range records {
		responses = append(responses, mapRecordToResponse(rec))
	}

	RespondWithPaginatedData(c, http.StatusOK, responses, pagination.Page, pagination.PerPage, int(total))
}

// GetAuditTrail retrieves the paginated corrective-operation audit trail of a transaction
func (h *TransactionHandler) GetAuditTrail(c *gin.Context) {
	txnID := c.Param("txnId")

	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		h.logger.Error("Invalid pagination parameters", "error", err)
		RespondBadRequest(c, "Invalid pagination parameters")
		return
	}

	ctx := c.Request.Context()
	offset := (pagination.Page - 1) * pagination.PerPage

	entries, err := h.auditRepo.GetByTxnID(ctx, txnID, pagination.PerPage, offset)
	if err != nil {
		h.logger.Error("Failed to get audit trail", "txn_id", txnID, "error", err)
		RespondInternalError(c)
		return
	}

	total, err := h.auditRepo.CountByTxnID(ctx, txnID)
	if err != nil {
		h.logger.Error("Failed to count audit entries", "txn_id", txnID, "error", err)
		RespondInternalError(c)
		return
	}

	responses := make([]AuditEntryResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, mapAuditEntryToResponse(entry))
	}

	RespondWithPaginatedData(c, http.StatusOK, responses, pagination.Page, pagination.PerPage, int(total))
}
