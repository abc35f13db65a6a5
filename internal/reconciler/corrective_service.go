package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/cardbridge-reconciler/internal/domain/audit"
	"github.com/cardbridge-reconciler/internal/domain/ledgerpost"
	"github.com/cardbridge-reconciler/internal/domain/outbox"
	"github.com/cardbridge-reconciler/internal/domain/shared"
	"github.com/cardbridge-reconciler/internal/domain/transaction"
	"github.com/cardbridge-reconciler/internal/platform/messaging/producers"
	"github.com/cardbridge-reconciler/internal/provider"
)

// CorrectiveResult is the structured outcome of one corrective operation.
// AlreadyProcessed and AlreadyWithdrawn flag idempotent replays: the
// operation was a no-op because a previous invocation already did the work.
type CorrectiveResult struct {
	TxnID            string                     `json:"txn_id"`
	Operation        shared.CorrectiveOperation `json:"operation"`
	Applied          bool                       `json:"applied"`
	AlreadyProcessed bool                       `json:"already_processed,omitempty"`
	AlreadyWithdrawn bool                       `json:"already_withdrawn,omitempty"`
	ProviderTxnID    string                     `json:"provider_txn_id,omitempty"`
}

// CorrectiveService executes operator-invoked corrective operations. Every
// operation is serialized per txn id through the leaser, audited whatever
// its outcome, and idempotent: replaying a finished operation reports
// already-processed instead of moving money twice.
type CorrectiveService struct {
	gateway    Gateway
	txRunner   TxRunner
	txnRepo    transaction.Repository
	outboxRepo outbox.Repository
	auditRepo  audit.Repository
	leaser     TxnLeaser
	anomalies  producers.AnomalyPublisher
	logger     *slog.Logger
}

func NewCorrectiveService(
	logger *slog.Logger,
	gateway Gateway,
	txRunner TxRunner,
	txnRepo transaction.Repository,
	outboxRepo outbox.Repository,
	auditRepo audit.Repository,
	leaser TxnLeaser,
	anomalies producers.AnomalyPublisher,
) *CorrectiveService {
	return &CorrectiveService{
		gateway:    gateway,
		txRunner:   txRunner,
		txnRepo:    txnRepo,
		outboxRepo: outboxRepo,
		auditRepo:  auditRepo,
		leaser:     leaser,
		anomalies:  anomalies,
		logger:     logger,
	}
}

// CompensationRecharge credits the card for an unsettled cancellation, then
// flips the row into its terminal CANCEL state. The provider call happens
// first; the state flip and the ledger post commit together afterwards.
func (s *CorrectiveService) CompensationRecharge(ctx context.Context, txnID, correlationID string) (*CorrectiveResult, error) {
	const op = shared.CorrectiveOperationCompensate
	logger := s.opLogger(txnID, op, correlationID)

	release, err := s.leaser.Acquire(ctx, txnID)
	if err != nil {
		return nil, err
	}
	defer release(ctx)

	rec, err := s.txnRepo.GetByTxnID(ctx, txnID)
	if err != nil {
		return nil, err
	}

	if rec.TxnType == shared.TxnTypeCancel && rec.IsSettled {
		// A previous invocation already compensated this row
		logger.Info("Compensation already applied, reporting no-op")
		s.writeAudit(ctx, logger, audit.NewEntry(txnID, op, audit.OutcomeAlreadyProcessed, "row already in terminal CANCEL state", correlationID))
		return &CorrectiveResult{TxnID: txnID, Operation: op, AlreadyProcessed: true}, nil
	}

	if !rec.CanCompensate() {
		return nil, fmt.Errorf("transaction %s: %w", txnID, transaction.ErrNotCompensatable)
	}

	amount := rec.CompensationAmount()
	result, err := s.gateway.Recharge(ctx, rec.CardID, rec.AuthCcy, amount)
	if err != nil {
		return nil, s.reportProviderFailure(ctx, logger, txnID, op, correlationID, err)
	}
	logger.Info("Provider recharge succeeded", "provider_txn_id", result.TxnID, "amount", amount.String())

	post := s.newPost(rec, op, shared.LedgerOperationCredit, amount, rec.AuthCcy, correlationID,
		"compensation recharge for cancelled authorization")

	if err := s.commitStateFlip(ctx, txnID, post, func(tx pgx.Tx) error {
		return s.txnRepo.WithTx(tx).MarkCancelled(ctx, txnID, time.Now())
	}); err != nil {
		return nil, s.escalateAnomaly(ctx, logger, txnID, op, correlationID, err)
	}

	s.writeAudit(ctx, logger, audit.NewEntry(txnID, op, audit.OutcomeApplied,
		fmt.Sprintf("recharged %s %s, provider txn %s", amount.String(), rec.AuthCcy, result.TxnID), correlationID))
	return &CorrectiveResult{TxnID: txnID, Operation: op, Applied: true, ProviderTxnID: result.TxnID}, nil
}

// RetryWithdrawal re-invokes the provider withdrawal for a transaction whose
// withdrawal failed or never ran. An already-successful withdrawal
// short-circuits without touching the provider.
func (s *CorrectiveService) RetryWithdrawal(ctx context.Context, txnID, correlationID string) (*CorrectiveResult, error) {
	const op = shared.CorrectiveOperationRetryWithdrawal
	logger := s.opLogger(txnID, op, correlationID)

	release, err := s.leaser.Acquire(ctx, txnID)
	if err != nil {
		return nil, err
	}
	defer release(ctx)

	rec, err := s.txnRepo.GetByTxnID(ctx, txnID)
	if err != nil {
		return nil, err
	}

	if rec.WithdrawalStatus == shared.WithdrawalStatusSuccess {
		logger.Info("Withdrawal already succeeded, reporting no-op")
		s.writeAudit(ctx, logger, audit.NewEntry(txnID, op, audit.OutcomeAlreadyProcessed, "withdrawal already succeeded", correlationID))
		return &CorrectiveResult{TxnID: txnID, Operation: op, AlreadyWithdrawn: true}, nil
	}

	amount := rec.FinalAmt.Abs()
	result, err := s.gateway.Withdraw(ctx, rec.CardID, rec.FinalCcy, amount)
	if err != nil {
		// A provider rejection is recorded on the row; a transport failure
		// leaves it untouched so the retry stays safe
		var provErr *provider.Error
		if errors.As(err, &provErr) {
			if updateErr := s.txnRepo.UpdateWithdrawalStatus(ctx, txnID, shared.WithdrawalStatusFailed, nil); updateErr != nil {
				logger.Error("Failed to record withdrawal failure", "error", updateErr)
			}
		}
		return nil, s.reportProviderFailure(ctx, logger, txnID, op, correlationID, err)
	}
	logger.Info("Provider withdrawal succeeded", "provider_txn_id", result.TxnID, "amount", amount.String())

	post := s.newPost(rec, op, shared.LedgerOperationDebit, amount, rec.FinalCcy, correlationID,
		"withdrawal retried after reconciliation")

	if err := s.commitStateFlip(ctx, txnID, post, func(tx pgx.Tx) error {
		return s.txnRepo.WithTx(tx).UpdateWithdrawalStatus(ctx, txnID, shared.WithdrawalStatusSuccess, &result.TxnID)
	}); err != nil {
		return nil, s.escalateAnomaly(ctx, logger, txnID, op, correlationID, err)
	}

	s.writeAudit(ctx, logger, audit.NewEntry(txnID, op, audit.OutcomeApplied,
		fmt.Sprintf("withdrew %s %s, provider txn %s", amount.String(), rec.FinalCcy, result.TxnID), correlationID))
	return &CorrectiveResult{TxnID: txnID, Operation: op, Applied: true, ProviderTxnID: result.TxnID}, nil
}

// FreePass writes a discrepancy off: the row flips to CANCEL and counts as
// settled with no provider call and no ledger post.
func (s *CorrectiveService) FreePass(ctx context.Context, txnID, correlationID string) (*CorrectiveResult, error) {
	const op = shared.CorrectiveOperationFreePass
	logger := s.opLogger(txnID, op, correlationID)

	release, err := s.leaser.Acquire(ctx, txnID)
	if err != nil {
		return nil, err
	}
	defer release(ctx)

	rec, err := s.txnRepo.GetByTxnID(ctx, txnID)
	if err != nil {
		return nil, err
	}

	if rec.IsSettled {
		logger.Info("Row already settled, reporting no-op")
		s.writeAudit(ctx, logger, audit.NewEntry(txnID, op, audit.OutcomeAlreadyProcessed, "row already settled", correlationID))
		return &CorrectiveResult{TxnID: txnID, Operation: op, AlreadyProcessed: true}, nil
	}

	if err := s.txnRepo.MarkCancelled(ctx, txnID, time.Now()); err != nil {
		if errors.Is(err, transaction.ErrAlreadySettled) {
			// Another writer settled the row between read and update
			s.writeAudit(ctx, logger, audit.NewEntry(txnID, op, audit.OutcomeAlreadyProcessed, "row settled concurrently", correlationID))
			return &CorrectiveResult{TxnID: txnID, Operation: op, AlreadyProcessed: true}, nil
		}
		s.writeAudit(ctx, logger, audit.NewEntry(txnID, op, audit.OutcomeFailed, err.Error(), correlationID))
		return nil, err
	}

	s.writeAudit(ctx, logger, audit.NewEntry(txnID, op, audit.OutcomeApplied, "discrepancy written off without money movement", correlationID))
	return &CorrectiveResult{TxnID: txnID, Operation: op, Applied: true}, nil
}

// commitStateFlip commits the row update and its ledger post in one
// database transaction, so a committed flip always carries exactly one post.
func (s *CorrectiveService) commitStateFlip(ctx context.Context, txnID string, post *ledgerpost.Post, flip func(tx pgx.Tx) error) error {
	message, err := outbox.NewMessage(txnID, post)
	if err != nil {
		return fmt.Errorf("failed to build outbox message: %w", err)
	}

	return s.txRunner.ExecuteTx(ctx, func(tx pgx.Tx) error {
		if err := flip(tx); err != nil {
			return err
		}
		return s.outboxRepo.WithTx(tx).Create(ctx, message)
	})
}

func (s *CorrectiveService) newPost(rec *transaction.Record, op shared.CorrectiveOperation, direction shared.LedgerOperation, amount decimal.Decimal, currency, correlationID, description string) *ledgerpost.Post {
	targetUserID := rec.UserID
	if targetUserID == "" {
		targetUserID = rec.CardID
	}

	return &ledgerpost.Post{
		TargetUserID:  targetUserID,
		OperationType: direction,
		Amount:        amount,
		Currency:      currency,
		BusinessType:  rec.BizType,
		BusinessID:    ledgerpost.NewBusinessID(rec.TxnID, op),
		Description:   description,
		CorrelationID: correlationID,
		CreatedAt:     time.Now(),
	}
}

// reportProviderFailure audits a failed provider call and passes the
// original error through untouched, so callers keep the provider's code and
// message.
func (s *CorrectiveService) reportProviderFailure(ctx context.Context, logger *slog.Logger, txnID string, op shared.CorrectiveOperation, correlationID string, err error) error {
	var provErr *provider.Error
	if errors.As(err, &provErr) {
		logger.Warn("Provider rejected corrective operation", "code", provErr.Code, "msg", provErr.Msg)
		s.writeAudit(ctx, logger, audit.NewEntry(txnID, op, audit.OutcomeProviderRejected, "", correlationID).
			WithProviderError(provErr.Code, provErr.Msg))
		return err
	}

	logger.Error("Provider call failed", "error", err)
	s.writeAudit(ctx, logger, audit.NewEntry(txnID, op, audit.OutcomeFailed, err.Error(), correlationID))
	return err
}

// escalateAnomaly handles the one unrecoverable case: the provider moved
// money but the local commit failed. Silent retry risks double-crediting,
// so the case is escalated for manual intervention instead.
func (s *CorrectiveService) escalateAnomaly(ctx context.Context, logger *slog.Logger, txnID string, op shared.CorrectiveOperation, correlationID string, commitErr error) error {
	logger.Error("Provider call succeeded but local commit failed, escalating anomaly", "error", commitErr)

	s.writeAudit(ctx, logger, audit.NewEntry(txnID, op, audit.OutcomeAnomaly, commitErr.Error(), correlationID))

	if s.anomalies != nil {
		if pubErr := s.anomalies.PublishAnomaly(ctx, txnID, string(op), "provider succeeded but local commit failed", commitErr.Error()); pubErr != nil {
			logger.Error("Failed to publish anomaly", "error", pubErr)
		}
	}

	return fmt.Errorf("reconciliation anomaly on %s: provider call succeeded but local commit failed: %w", txnID, commitErr)
}

func (s *CorrectiveService) writeAudit(ctx context.Context, logger *slog.Logger, entry *audit.Entry) {
	if err := s.auditRepo.Create(ctx, entry); err != nil {
		logger.Error("Failed to write audit entry", "outcome", entry.Outcome, "error", err)
	}
}

func (s *CorrectiveService) opLogger(txnID string, op shared.CorrectiveOperation, correlationID string) *slog.Logger {
	logger := s.logger.With("txn_id", txnID, "operation", string(op))
	if correlationID != "" {
		logger = logger.With("correlation_id", correlationID)
	}
	return logger
}
