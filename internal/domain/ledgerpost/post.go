package ledgerpost

import (
	"context"
	"time"

	"github.com/cardbridge-reconciler/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Post is one balance movement handed to the ledger poster. The poster is
// owned externally and guarantees the balance delta and the account-flow
// audit row are written together or not at all.
//
// BusinessID is the deduplication key on the poster side: it is derived
// from the transaction id and the corrective operation, so redelivering
// the same post cannot move money twice.
type Post struct {
	TargetUserID  string                 `json:"target_user_id"`
	OperationType shared.LedgerOperation `json:"operation_type"`
	Amount        decimal.Decimal        `json:"amount"`
	Currency      string                 `json:"currency"`
	BusinessType  shared.BizType         `json:"business_type"`
	BusinessID    string                 `json:"business_id"`
	Description   string                 `json:"description"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// NewBusinessID builds the poster-side deduplication key for a corrective
// operation on a transaction
func NewBusinessID(txnID string, op shared.CorrectiveOperation) string {
	return txnID + ":" + string(op)
}

// Poster applies a balance delta and records the account-flow entry.
// Implementations must treat Post atomically.
type Poster interface {
	Post(ctx context.Context, post *Post) error
}
