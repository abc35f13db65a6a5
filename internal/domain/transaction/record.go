package transaction

import (
	"errors"
	"time"

	"github.com/cardbridge-reconciler/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Common errors
var (
	ErrAlreadySettled   = errors.New("transaction is already settled")
	ErrNotSettleable    = errors.New("transaction type cannot receive a settlement")
	ErrMissingOriginTxn = errors.New("settlement record carries no origin transaction id")
	ErrNotCompensatable = errors.New("transaction is not in a compensatable state")
	ErrAlreadyWithdrawn = errors.New("withdrawal already succeeded for transaction")
)

// NoOriginTxnID is the provider's marker for "no parent authorization".
// The provider sends either "0" or an empty string.
const NoOriginTxnID = "0"

// Record is one provider-side event merged into local state. A row is
// created the first time a sync cycle observes its txn id and is never
// deleted; cancelled and failed transactions remain as the audit trail.
type Record struct {
	TxnID       string `json:"txn_id"`
	OriginTxnID string `json:"origin_txn_id,omitempty"`
	CardID      string `json:"card_id"`
	UserID      string `json:"user_id,omitempty"`

	TxnType   shared.TxnType   `json:"txn_type"`
	TxnStatus shared.TxnStatus `json:"txn_status"`
	BizType   shared.BizType   `json:"biz_type"`

	AuthCcy   string           `json:"auth_ccy"`
	AuthAmt   decimal.Decimal  `json:"auth_amt"`
	SettleCcy *string          `json:"settle_ccy,omitempty"`
	SettleAmt *decimal.Decimal `json:"settle_amt,omitempty"`
	FinalCcy  string           `json:"final_ccy"`
	FinalAmt  decimal.Decimal  `json:"final_amt"`

	IsSettled        bool                    `json:"is_settled"`
	SettleTxnID      *string                 `json:"settle_txn_id,omitempty"`
	WithdrawalStatus shared.WithdrawalStatus `json:"withdrawal_status"`
	RelatedTxnID     *string                 `json:"related_txn_id,omitempty"`

	TxnTime   time.Time `json:"txn_time"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord creates a record for a freshly observed provider event.
// FinalCcy/FinalAmt start as the authorization amount; a later settlement
// recomputes them.
func NewRecord(txnID, originTxnID, cardID string, txnType shared.TxnType, txnStatus shared.TxnStatus, bizType shared.BizType, authCcy string, authAmt decimal.Decimal, txnTime time.Time) *Record {
	now := time.Now()

	if originTxnID == NoOriginTxnID {
		originTxnID = ""
	}

	return &Record{
		TxnID:            txnID,
		OriginTxnID:      originTxnID,
		CardID:           cardID,
		TxnType:          txnType,
		TxnStatus:        txnStatus,
		BizType:          bizType,
		AuthCcy:          authCcy,
		AuthAmt:          authAmt,
		FinalCcy:         authCcy,
		FinalAmt:         authAmt,
		WithdrawalStatus: shared.WithdrawalStatusNone,
		TxnTime:          txnTime,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// HasParent reports whether the record links to a parent authorization
func (r *Record) HasParent() bool {
	return r.OriginTxnID != "" && r.OriginTxnID != NoOriginTxnID
}

// ApplySettlement marks the record settled by the given settlement record
// and recomputes the final amount from the settlement amount. Settlement is
// forward-only: applying a second settlement is rejected rather than
// overwriting the first.
func (r *Record) ApplySettlement(settleTxnID, settleCcy string, settleAmt decimal.Decimal) error {
	if r.IsSettled {
		return ErrAlreadySettled
	}
	if r.TxnType != shared.TxnTypeAuth && r.TxnType != shared.TxnTypeAuthCancel {
		return ErrNotSettleable
	}

	r.IsSettled = true
	r.SettleTxnID = &settleTxnID
	r.SettleCcy = &settleCcy
	r.SettleAmt = &settleAmt
	r.recomputeFinal()
	r.UpdatedAt = time.Now()
	return nil
}

// MarkCancelled flips the record into its terminal CANCEL state. This is the
// shared tail of compensation recharge and free pass: the type becomes
// CANCEL, the event time is reset to now, and the row counts as settled so
// it leaves the corrective-operation queue.
func (r *Record) MarkCancelled(now time.Time) {
	r.TxnType = shared.TxnTypeCancel
	r.TxnTime = now
	r.IsSettled = true
	r.recomputeFinal()
	r.UpdatedAt = now
}

// CanCompensate reports whether a compensation recharge applies: an
// authorization cancellation, or a failed authorization, that never settled.
func (r *Record) CanCompensate() bool {
	if r.IsSettled {
		return false
	}
	if r.TxnType == shared.TxnTypeAuthCancel {
		return true
	}
	return r.TxnType == shared.TxnTypeAuth && r.TxnStatus == shared.TxnStatusFailed
}

// CompensationAmount is the absolute authorization amount to recharge.
// Cancellation events carry negative amounts on the wire.
func (r *Record) CompensationAmount() decimal.Decimal {
	return r.AuthAmt.Abs()
}

// IsAnomalous reports whether the row belongs in the corrective-operation
// queue: a cancellation whose withdrawal already succeeded but which was
// never settled or compensated.
func (r *Record) IsAnomalous() bool {
	if r.IsSettled {
		return false
	}
	if r.TxnType != shared.TxnTypeAuthCancel && r.TxnType != shared.TxnTypeCancel {
		return false
	}
	return r.WithdrawalStatus == shared.WithdrawalStatusSuccess
}

// recomputeFinal derives FinalCcy/FinalAmt. The final amount is never
// mutated independently: it equals the settlement amount once settled and
// the authorization amount otherwise.
func (r *Record) recomputeFinal() {
	if r.SettleAmt != nil && r.SettleCcy != nil {
		r.FinalCcy = *r.SettleCcy
		r.FinalAmt = *r.SettleAmt
		return
	}
	r.FinalCcy = r.AuthCcy
	r.FinalAmt = r.AuthAmt
}
