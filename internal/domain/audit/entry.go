package audit

import (
	"time"

	"github.com/cardbridge-reconciler/internal/domain/shared"
)

// Entry records one operator-invoked corrective action against a
// transaction. Entries are append-only; they are the evidence trail for
// every state flip that was not driven by a provider sync.
type Entry struct {
	TxnID         string                     `json:"txn_id" bson:"txn_id"`
	Operation     shared.CorrectiveOperation `json:"operation" bson:"operation"`
	Outcome       string                     `json:"outcome" bson:"outcome"`
	ProviderCode  *int                       `json:"provider_code,omitempty" bson:"provider_code,omitempty"`
	ProviderMsg   string                     `json:"provider_msg,omitempty" bson:"provider_msg,omitempty"`
	Detail        string                     `json:"detail,omitempty" bson:"detail,omitempty"`
	CorrelationID string                     `json:"correlation_id,omitempty" bson:"correlation_id,omitempty"`
	CreatedAt     time.Time                  `json:"created_at" bson:"created_at"`
}

// NewEntry creates an audit entry for a corrective operation attempt
func NewEntry(txnID string, op shared.CorrectiveOperation, outcome, detail, correlationID string) *Entry {
	return &Entry{
		TxnID:         txnID,
		Operation:     op,
		Outcome:       outcome,
		Detail:        detail,
		CorrelationID: correlationID,
		CreatedAt:     time.Now(),
	}
}

// WithProviderError attaches the provider's rejection code and message
func (e *Entry) WithProviderError(code int, msg string) *Entry {
	e.ProviderCode = &code
	e.ProviderMsg = msg
	return e
}

// Outcome values for audit entries
const (
	OutcomeApplied          = "APPLIED"
	OutcomeAlreadyProcessed = "ALREADY_PROCESSED"
	OutcomeProviderRejected = "PROVIDER_REJECTED"
	OutcomeFailed           = "FAILED"
	OutcomeAnomaly          = "ANOMALY"
)
