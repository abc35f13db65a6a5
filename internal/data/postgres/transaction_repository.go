// Package postgres provides PostgreSQL implementations of the domain
// repositories. It handles all database operations while maintaining
// transaction safety and proper error handling for the reconciliation engine.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/cardbridge-reconciler/internal/domain/shared"
	"github.com/cardbridge-reconciler/internal/domain/transaction"
	"github.com/cardbridge-reconciler/internal/platform/persistence"
)

const uniqueViolationCode = "23505"

const recordColumns = `txn_id, origin_txn_id, card_id, user_id, txn_type, txn_status, biz_type,
		auth_ccy, auth_amt, settle_ccy, settle_amt, final_ccy, final_amt,
		is_settled, settle_txn_id, withdrawal_status, related_txn_id,
		txn_time, created_at, updated_at`

// TransactionRepository implements the transaction.Repository interface for PostgreSQL
type TransactionRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

// NewTransactionRepository creates a new PostgreSQL transaction repository.
// It expects db.Pool() to satisfy persistence.Querier.
func NewTransactionRepository(logger *slog.Logger, db *persistence.PostgresDB) transaction.Repository {
	return &TransactionRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction, allowing for atomic
// operations across multiple repository calls. The returned repository will
// use the provided transaction for all database operations.
func (r *TransactionRepository) WithTx(tx pgx.Tx) transaction.Repository {
	return &TransactionRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create stores a freshly observed transaction record. A txn id that already
// exists surfaces as ErrDuplicateRecord so sync cycles can count it as skipped.
func (r *TransactionRepository) Create(ctx context.Context, rec *transaction.Record) error {
	query := `
		INSERT INTO card_transactions (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	_, err := r.querier.Exec(ctx, query,
		rec.TxnID,
		rec.OriginTxnID,
		rec.CardID,
		rec.UserID,
		rec.TxnType,
		rec.TxnStatus,
		rec.BizType,
		rec.AuthCcy,
		rec.AuthAmt,
		rec.SettleCcy,
		rec.SettleAmt,
		rec.FinalCcy,
		rec.FinalAmt,
		rec.IsSettled,
		rec.SettleTxnID,
		rec.WithdrawalStatus,
		rec.RelatedTxnID,
		rec.TxnTime,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return transaction.ErrDuplicateRecord{TxnID: rec.TxnID}
		}
		r.logger.Error("Failed to create transaction record", "txn_id", rec.TxnID, "error", err)
		return fmt.Errorf("failed to create transaction record: %w", err)
	}

	return nil
}

// GetByTxnID retrieves a transaction record by its provider txn id
func (r *TransactionRepository) GetByTxnID(ctx context.Context, txnID string) (*transaction.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM card_transactions
		WHERE txn_id = $1
	`

	rec, err := r.scanRecord(r.querier.QueryRow(ctx, query, txnID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, transaction.ErrRecordNotFound{TxnID: txnID}
		}
		r.logger.Error("Failed to get transaction record", "txn_id", txnID, "error", err)
		return nil, fmt.Errorf("failed to get transaction record: %w", err)
	}

	return rec, nil
}

// GetByCardID retrieves transaction records for a card ordered by event time
func (r *TransactionRepository) GetByCardID(ctx context.Context, cardID string, limit, offset int) ([]*transaction.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM card_transactions
		WHERE card_id = $1
		ORDER BY txn_time DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.querier.Query(ctx, query, cardID, limit, offset)
	if err != nil {
		r.logger.Error("Failed to get transaction records by card", "card_id", cardID, "error", err)
		return nil, fmt.Errorf("failed to get transaction records by card: %w", err)
	}
	defer rows.Close()

	return r.collectRecords(rows)
}

// CountByCardID returns the number of transaction records for a card
func (r *TransactionRepository) CountByCardID(ctx context.Context, cardID string) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM card_transactions
		WHERE card_id = $1
	`

	var count int64
	if err := r.querier.QueryRow(ctx, query, cardID).Scan(&count); err != nil {
		r.logger.Error("Failed to count transaction records by card", "card_id", cardID, "error", err)
		return 0, fmt.Errorf("failed to count transaction records by card: %w", err)
	}

	return count, nil
}

// List retrieves transaction records ordered by event time
func (r *TransactionRepository) List(ctx context.Context, limit, offset int) ([]*transaction.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM card_transactions
		ORDER BY txn_time DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.querier.Query(ctx, query, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list transaction records", "error", err)
		return nil, fmt.Errorf("failed to list transaction records: %w", err)
	}
	defer rows.Close()

	return r.collectRecords(rows)
}

// Count returns the total number of transaction records
func (r *TransactionRepository) Count(ctx context.Context) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM card_transactions
	`

	var count int64
	if err := r.querier.QueryRow(ctx, query).Scan(&count); err != nil {
		r.logger.Error("Failed to count transaction records", "error", err)
		return 0, fmt.Errorf("failed to count transaction records: %w", err)
	}

	return count, nil
}

// MarkSettled links a settlement to its parent authorization. The WHERE
// clause guards on is_settled = FALSE, so a replayed sync cycle or a
// concurrent corrective operation can never overwrite a settlement.
func (r *TransactionRepository) MarkSettled(ctx context.Context, txnID, settleTxnID, settleCcy string, settleAmt decimal.Decimal) error {
	query := `
		UPDATE card_transactions
		SET is_settled = TRUE, settle_txn_id = $1, settle_ccy = $2, settle_amt = $3,
		    final_ccy = $2, final_amt = $3, updated_at = NOW()
		WHERE txn_id = $4 AND is_settled = FALSE
	`

	result, err := r.querier.Exec(ctx, query, settleTxnID, settleCcy, settleAmt, txnID)
	if err != nil {
		r.logger.Error("Failed to mark transaction settled", "txn_id", txnID, "error", err)
		return fmt.Errorf("failed to mark transaction settled: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Either the row is missing or another writer settled it first
		if _, getErr := r.GetByTxnID(ctx, txnID); getErr != nil {
			return getErr
		}
		return transaction.ErrAlreadySettled
	}

	return nil
}

// MarkCancelled flips a row into its terminal CANCEL state. The update is a
// compare-and-swap on is_settled so it loses cleanly to a concurrent
// settlement merge.
func (r *TransactionRepository) MarkCancelled(ctx context.Context, txnID string, txnTime time.Time) error {
	query := `
		UPDATE card_transactions
		SET txn_type = $1, txn_time = $2, is_settled = TRUE,
		    final_ccy = auth_ccy, final_amt = auth_amt, updated_at = NOW()
		WHERE txn_id = $3 AND is_settled = FALSE
	`

	result, err := r.querier.Exec(ctx, query, shared.TxnTypeCancel, txnTime, txnID)
	if err != nil {
		r.logger.Error("Failed to mark transaction cancelled", "txn_id", txnID, "error", err)
		return fmt.Errorf("failed to mark transaction cancelled: %w", err)
	}

	if result.RowsAffected() == 0 {
		if _, getErr := r.GetByTxnID(ctx, txnID); getErr != nil {
			return getErr
		}
		return transaction.ErrAlreadySettled
	}

	return nil
}

// UpdateWithdrawalStatus records the outcome of the ledger-side withdrawal
// linked to a transaction
func (r *TransactionRepository) UpdateWithdrawalStatus(ctx context.Context, txnID string, status shared.WithdrawalStatus, relatedTxnID *string) error {
	query := `
		UPDATE card_transactions
		SET withdrawal_status = $1, related_txn_id = $2, updated_at = NOW()
		WHERE txn_id = $3
	`

	result, err := r.querier.Exec(ctx, query, status, relatedTxnID, txnID)
	if err != nil {
		r.logger.Error("Failed to update withdrawal status", "txn_id", txnID, "error", err)
		return fmt.Errorf("failed to update withdrawal status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return transaction.ErrRecordNotFound{TxnID: txnID}
	}

	return nil
}

// ListAnomalies returns the corrective-operation queue: cancellations whose
// withdrawal already succeeded but which were never settled or compensated
func (r *TransactionRepository) ListAnomalies(ctx context.Context, limit, offset int) ([]*transaction.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM card_transactions
		WHERE is_settled = FALSE
		  AND txn_type IN ($1, $2)
		  AND withdrawal_status = $3
		ORDER BY txn_time ASC
		LIMIT $4 OFFSET $5
	`

	rows, err := r.querier.Query(ctx, query,
		shared.TxnTypeAuthCancel,
		shared.TxnTypeCancel,
		shared.WithdrawalStatusSuccess,
		limit,
		offset,
	)
	if err != nil {
		r.logger.Error("Failed to list anomalous transactions", "error", err)
		return nil, fmt.Errorf("failed to list anomalous transactions: %w", err)
	}
	defer rows.Close()

	return r.collectRecords(rows)
}

func (r *TransactionRepository) scanRecord(row pgx.Row) (*transaction.Record, error) {
	var rec transaction.Record
	err := row.Scan(
		&rec.TxnID,
		&rec.OriginTxnID,
		&rec.CardID,
		&rec.UserID,
		&rec.TxnType,
		&rec.TxnStatus,
		&rec.BizType,
		&rec.AuthCcy,
		&rec.AuthAmt,
		&rec.SettleCcy,
		&rec.SettleAmt,
		&rec.FinalCcy,
		&rec.FinalAmt,
		&rec.IsSettled,
		&rec.SettleTxnID,
		&rec.WithdrawalStatus,
		&rec.RelatedTxnID,
		&rec.TxnTime,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *TransactionRepository) collectRecords(rows pgx.Rows) ([]*transaction.Record, error) {
	var records []*transaction.Record
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			r.logger.Error("Failed to scan transaction record", "error", err)
			return nil, fmt.Errorf("failed to scan transaction record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over transaction records", "error", err)
		return nil, fmt.Errorf("error iterating over transaction records: %w", err)
	}

	return records, nil
}
