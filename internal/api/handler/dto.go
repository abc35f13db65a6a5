package handler

import (
	"time"

	"github.com/cardbridge-reconciler/internal/domain/audit"
	"github.com/cardbridge-reconciler/internal/domain/transaction"
)

// SyncRequest represents a request to run one reconciliation sync cycle over
// a provider-side time window
type SyncRequest struct {
	BeginTime string `json:"begin_time" binding:"required"`
	EndTime   string `json:"end_time" binding:"required"`
	CardID    string `json:"card_id,omitempty"`
}

// CorrectiveRequest carries the optional operator note for a corrective operation
type CorrectiveRequest struct {
	Note string `json:"note,omitempty"`
}

// TransactionResponse represents a reconciled transaction in API responses
type TransactionResponse struct {
	TxnID            string `json:"txn_id"`
	OriginTxnID      string `json:"origin_txn_id,omitempty"`
	CardID           string `json:"card_id"`
	TxnType          string `json:"txn_type"`
	TxnStatus        string `json:"txn_status"`
	BizType          string `json:"biz_type"`
	AuthCcy          string `json:"auth_ccy"`
	AuthAmt          string `json:"auth_amt"`
	SettleCcy        string `json:"settle_ccy,omitempty"`
	SettleAmt        string `json:"settle_amt,omitempty"`
	FinalCcy         string `json:"final_ccy"`
	FinalAmt         string `json:"final_amt"`
	IsSettled        bool   `json:"is_settled"`
	SettleTxnID      string `json:"settle_txn_id,omitempty"`
	WithdrawalStatus string `json:"withdrawal_status"`
	RelatedTxnID     string `json:"related_txn_id,omitempty"`
	TxnTime          string `json:"txn_time"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

// AuditEntryResponse represents one corrective-operation audit entry
type AuditEntryResponse struct {
	TxnID         string `json:"txn_id"`
	Operation     string `json:"operation"`
	Outcome       string `json:"outcome"`
	ProviderCode  *int   `json:"provider_code,omitempty"`
	ProviderMsg   string `json:"provider_msg,omitempty"`
	Detail        string `json:"detail,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// PaginationParams represents pagination parameters for list endpoints
type PaginationParams struct {
	Page    int `form:"page,default=1" binding:"min=1"`
	PerPage int `form:"per_page,default=10" binding:"min=1,max=100"`
}

// mapRecordToResponse maps a transaction record to its API representation
func mapRecordToResponse(rec *transaction.Record) TransactionResponse {
	response := TransactionResponse{
		TxnID:            rec.TxnID,
		OriginTxnID:      rec.OriginTxnID,
		CardID:           rec.CardID,
		TxnType:          string(rec.TxnType),
		TxnStatus:        string(rec.TxnStatus),
		BizType:          string(rec.BizType),
		AuthCcy:          rec.AuthCcy,
		AuthAmt:          rec.AuthAmt.String(),
		FinalCcy:         rec.FinalCcy,
		FinalAmt:         rec.FinalAmt.String(),
		IsSettled:        rec.IsSettled,
		WithdrawalStatus: string(rec.WithdrawalStatus),
		TxnTime:          rec.TxnTime.Format(time.RFC3339),
		CreatedAt:        rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        rec.UpdatedAt.Format(time.RFC3339),
	}

	if rec.SettleCcy != nil {
		response.SettleCcy = *rec.SettleCcy
	}
	if rec.SettleAmt != nil {
		response.SettleAmt = rec.SettleAmt.String()
	}
	if rec.SettleTxnID != nil {
		response.SettleTxnID = *rec.SettleTxnID
	}
	if rec.RelatedTxnID != nil {
		response.RelatedTxnID = *rec.RelatedTxnID
	}

	return response
}

// mapAuditEntryToResponse maps an audit entry to its API representation
func mapAuditEntryToResponse(entry *audit.Entry) AuditEntryResponse {
	return AuditEntryResponse{
		TxnID:         entry.TxnID,
		Operation:     string(entry.Operation),
		Outcome:       entry.Outcome,
		ProviderCode:  entry.ProviderCode,
		ProviderMsg:   entry.ProviderMsg,
		Detail:        entry.Detail,
		CorrelationID: entry.CorrelationID,
		CreatedAt:     entry.CreatedAt.Format(time.RFC3339),
	}
}
