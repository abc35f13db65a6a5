package shared

import "fmt"

// TxnType defines the provider-side event classification
type TxnType string

const (
	TxnTypeAuth       TxnType = "AUTH"
	TxnTypeAuthCancel TxnType = "AUTH_CANCEL"
	TxnTypeSettlement TxnType = "SETTLEMENT"
	TxnTypeRefund     TxnType = "REFUND"
	TxnTypeCancel     TxnType = "CANCEL"
)

// Provider wire codes for transaction types. The provider reports every
// event with a single-letter code; these mappings are part of the protocol
// and must not change.
const (
	providerCodeAuth       = "A"
	providerCodeAuthCancel = "D"
	providerCodeSettlement = "C"
	providerCodeRefund     = "R"
	providerCodeCancel     = "F"
)

// ErrUnknownTxnTypeCode indicates a provider record with an unrecognized type code
type ErrUnknownTxnTypeCode struct {
	Code string
}

func (e ErrUnknownTxnTypeCode) Error() string {
	return fmt.Sprintf("unknown provider transaction type code: %q", e.Code)
}

// ParseTxnTypeCode maps a provider single-letter code onto a TxnType
func ParseTxnTypeCode(code string) (TxnType, error) {
	switch code {
	case providerCodeAuth:
		return TxnTypeAuth, nil
	case providerCodeAuthCancel:
		return TxnTypeAuthCancel, nil
	case providerCodeSettlement:
		return TxnTypeSettlement, nil
	case providerCodeRefund:
		return TxnTypeRefund, nil
	case providerCodeCancel:
		return TxnTypeCancel, nil
	default:
		return "", ErrUnknownTxnTypeCode{Code: code}
	}
}

// IsSettlement reports whether the type finalizes a prior authorization
func (t TxnType) IsSettlement() bool {
	return t == TxnTypeSettlement || t == TxnTypeRefund
}

// TxnStatus defines provider-reported transaction outcomes
type TxnStatus string

const (
	TxnStatusSuccess TxnStatus = "SUCCESS"
	TxnStatusFailed  TxnStatus = "FAILED"
)

// BizType defines the business operation a transaction belongs to
type BizType string

const (
	BizTypeWithdraw     BizType = "WITHDRAW"
	BizTypeBalanceQuery BizType = "BALANCE_QUERY"
	BizTypeConsumption  BizType = "CONSUMPTION"
)

// WithdrawalStatus defines the state of the ledger-side withdrawal linked to a transaction
type WithdrawalStatus string

const (
	WithdrawalStatusNone    WithdrawalStatus = "NONE"
	WithdrawalStatusPending WithdrawalStatus = "PENDING"
	WithdrawalStatusSuccess WithdrawalStatus = "SUCCESS"
	WithdrawalStatusFailed  WithdrawalStatus = "FAILED"
)

// OutboxStatus defines ledger post delivery states
type OutboxStatus string

const (
	OutboxStatusPending      OutboxStatus = "PENDING"
	OutboxStatusProcessed    OutboxStatus = "PROCESSED"
	OutboxStatusFailedToPost OutboxStatus = "FAILED_TO_POST"
)

// LedgerOperation defines the direction of a ledger poster call
type LedgerOperation string

const (
	LedgerOperationCredit LedgerOperation = "CREDIT"
	LedgerOperationDebit  LedgerOperation = "DEBIT"
)

// CorrectiveOperation identifies an operator-invoked corrective action
type CorrectiveOperation string

const (
	CorrectiveOperationCompensate      CorrectiveOperation = "COMPENSATION_RECHARGE"
	CorrectiveOperationRetryWithdrawal CorrectiveOperation = "RETRY_WITHDRAWAL"
	CorrectiveOperationFreePass        CorrectiveOperation = "FREE_PASS"
)
