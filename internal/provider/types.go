package provider

import (
	"github.com/shopspring/decimal"
)

// Provider endpoint paths
const (
	endpointBalance    = "/card/balance"
	endpointCreateCard = "/card/create"
	endpointRecharge   = "/card/recharge"
	endpointWithdraw   = "/card/withdraw"
	endpointAuthList   = "/txn/auth/list"
	endpointSettleList = "/txn/settle/list"
)

// TxnTimeLayout is the timestamp format the provider uses on the wire
const TxnTimeLayout = "2006-01-02 15:04:05"

// requestEnvelope is the outer body of every provider request: the
// encrypted payload under a single "data" key
type requestEnvelope struct {
	Data string `json:"data"`
}

// responseEnvelope is the outer shape of every provider response. Code 1 is
// the only success code; Data holds the encrypted endpoint-specific payload.
type responseEnvelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data string `json:"data"`
}

const codeSuccess = 1

// BalanceRequest queries the balance of a single card
type BalanceRequest struct {
	CardID string `json:"cardId"`
}

// Balance is the decrypted balance-query payload
type Balance struct {
	CardID   string          `json:"cardId"`
	Currency string          `json:"ccy"`
	Amount   decimal.Decimal `json:"amt"`
}

// CreateCardRequest opens a new card for a user
type CreateCardRequest struct {
	UserID   string `json:"userId"`
	Currency string `json:"ccy"`
}

// Card is the decrypted card-create payload
type Card struct {
	CardID   string `json:"cardId"`
	CardNo   string `json:"cardNo"`
	Currency string `json:"ccy"`
}

// MoneyRequest moves funds on a card (recharge or withdraw)
type MoneyRequest struct {
	CardID   string          `json:"cardId"`
	Currency string          `json:"ccy"`
	Amount   decimal.Decimal `json:"amt"`
}

// MoneyResult is the decrypted recharge/withdraw payload. TxnID is the
// provider-assigned id of the movement it booked.
type MoneyResult struct {
	TxnID    string          `json:"txnId"`
	CardID   string          `json:"cardId"`
	Currency string          `json:"ccy"`
	Amount   decimal.Decimal `json:"amt"`
}

// ListRequest pages through authorization or settlement records for a date
// range, optionally filtered to one card
type ListRequest struct {
	CardID    string `json:"cardId,omitempty"`
	BeginTime string `json:"beginTime"`
	EndTime   string `json:"endTime"`
	Page      int    `json:"page"`
	PageSize  int    `json:"pageSize"`
}

// TxnRecord is one provider-side transaction event as it appears on the
// wire. TxnType carries the provider's single-letter code; TxnStatus is 1
// for success, anything else failed.
type TxnRecord struct {
	TxnID       string           `json:"txnId"`
	OriginTxnID string           `json:"originTxnId"`
	CardID      string           `json:"cardId"`
	TxnType     string           `json:"txnType"`
	TxnStatus   int              `json:"txnStatus"`
	BizType     string           `json:"bizType"`
	AuthCcy     string           `json:"authCcy"`
	AuthAmt     decimal.Decimal  `json:"authAmt"`
	SettleCcy   string           `json:"settleCcy,omitempty"`
	SettleAmt   *decimal.Decimal `json:"settleAmt,omitempty"`
	TxnTime     string           `json:"txnTime"`
}

// TxnPage is the decrypted payload of the auth-list and settle-list
// endpoints
type TxnPage struct {
	List  []TxnRecord `json:"list"`
	Total int         `json:"total"`
}
