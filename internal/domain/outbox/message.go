package outbox

import (
	"encoding/json"
	"time"

	"github.com/cardbridge-reconciler/internal/domain/ledgerpost"
	"github.com/cardbridge-reconciler/internal/domain/shared"
)

// Message stores a pending ledger post for reliable delivery. A message is
// written in the same database transaction as the state change that earned
// it, so a committed state flip always carries exactly one post.
type Message struct {
	ID            int64               `json:"id"`
	TxnID         string              `json:"txn_id"`
	BusinessID    string              `json:"business_id"`
	Payload       json.RawMessage     `json:"payload"`
	Status        shared.OutboxStatus `json:"status"`
	Attempts      int                 `json:"attempts"`
	CreatedAt     time.Time           `json:"created_at"`
	LastAttemptAt *time.Time          `json:"last_attempt_at,omitempty"`
}

func NewMessage(txnID string, post *ledgerpost.Post) (*Message, error) {
	payload, err := json.Marshal(post)
	if err != nil {
		return nil, err
	}

	return &Message{
		TxnID:      txnID,
		BusinessID: post.BusinessID,
		Payload:    payload,
		Status:     shared.OutboxStatusPending,
		Attempts:   0,
		CreatedAt:  time.Now(),
	}, nil
}

func (m *Message) IncrementAttempts() {
	m.Attempts++
	now := time.Now()
	m.LastAttemptAt = &now
}

func (m *Message) MarkAsProcessed() {
	m.Status = shared.OutboxStatusProcessed
	now := time.Now()
	m.LastAttemptAt = &now
}

func (m *Message) MarkAsFailed() {
	m.Status = shared.OutboxStatusFailedToPost
	now := time.Now()
	m.LastAttemptAt = &now
}

// GetLedgerPost extracts the ledger post from the payload
func (m *Message) GetLedgerPost() (*ledgerpost.Post, error) {
	var post ledgerpost.Post
	if err := json.Unmarshal(m.Payload, &post); err != nil {
		return nil, err
	}
	return &post, nil
}
