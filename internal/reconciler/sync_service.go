// Package reconciler implements the reconciliation engine: sync ingestion of
// provider transaction pages and operator-invoked corrective operations.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/cardbridge-reconciler/internal/domain/shared"
	"github.com/cardbridge-reconciler/internal/domain/transaction"
	"github.com/cardbridge-reconciler/internal/provider"
)

// TimeWindow bounds one sync run. CardID optionally restricts the run to a
// single card.
type TimeWindow struct {
	Begin  time.Time
	End    time.Time
	CardID string
}

// SyncReport carries the per-record counters of one sync run. A failed
// record increments Errors and is logged but never aborts the batch.
type SyncReport struct {
	Total    int64 `json:"total"`
	Inserted int64 `json:"inserted"`
	Merged   int64 `json:"merged"`
	Skipped  int64 `json:"skipped"`
	Errors   int64 `json:"errors"`
}

type syncCounters struct {
	total    atomic.Int64
	inserted atomic.Int64
	merged   atomic.Int64
	skipped  atomic.Int64
	errors   atomic.Int64
}

func (c *syncCounters) report() *SyncReport {
	return &SyncReport{
		Total:    c.total.Load(),
		Inserted: c.inserted.Load(),
		Merged:   c.merged.Load(),
		Skipped:  c.skipped.Load(),
		Errors:   c.errors.Load(),
	}
}

// SyncService ingests provider transaction pages into the transaction store.
// Records within a run are processed on a worker pool; all outcomes are
// per-record, so a run always drains every fetched page.
type SyncService struct {
	gateway Gateway
	txnRepo transaction.Repository
	pool    *ants.Pool
	logger  *slog.Logger
}

func NewSyncService(logger *slog.Logger, gateway Gateway, txnRepo transaction.Repository, poolSize int) (*SyncService, error) {
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync worker pool: %w", err)
	}

	return &SyncService{
		gateway: gateway,
		txnRepo: txnRepo,
		pool:    pool,
		logger:  logger,
	}, nil
}

// SyncAuthorizations ingests the authorization pages for the window
func (s *SyncService) SyncAuthorizations(ctx context.Context, window TimeWindow) (*SyncReport, error) {
	return s.run(ctx, window, "authorizations", s.gateway.ListAuthorizations)
}

// SyncSettlements ingests the settlement pages for the window
func (s *SyncService) SyncSettlements(ctx context.Context, window TimeWindow) (*SyncReport, error) {
	return s.run(ctx, window, "settlements", s.gateway.ListSettlements)
}

// Shutdown releases the worker pool
func (s *SyncService) Shutdown() {
	s.logger.Info("Shutting down sync worker pool", "running_workers", s.pool.Running())
	s.pool.Release()
}

type listFunc func(ctx context.Context, req *provider.ListRequest) (*provider.TxnPage, error)

// run pages through the provider listing and processes every record on the
// worker pool. A page fetch failure aborts the run with the counters
// accumulated so far; record failures only count.
func (s *SyncService) run(ctx context.Context, window TimeWindow, kind string, list listFunc) (*SyncReport, error) {
	counters := &syncCounters{}
	pageSize := s.gateway.PageSize()

	s.logger.Info("Starting sync run",
		"kind", kind,
		"begin", window.Begin.Format(provider.TxnTimeLayout),
		"end", window.End.Format(provider.TxnTimeLayout),
		"card_id", window.CardID,
	)

	var wg sync.WaitGroup
	defer wg.Wait()

	for page := 1; ; page++ {
		req := &provider.ListRequest{
			CardID:    window.CardID,
			BeginTime: window.Begin.Format(provider.TxnTimeLayout),
			EndTime:   window.End.Format(provider.TxnTimeLayout),
			Page:      page,
			PageSize:  pageSize,
		}

		resp, err := list(ctx, req)
		if err != nil {
			wg.Wait()
			return counters.report(), fmt.Errorf("failed to fetch %s page %d: %w", kind, page, err)
		}

		for i := range resp.List {
			record := resp.List[i]
			counters.total.Add(1)

			wg.Add(1)
			if submitErr := s.pool.Submit(func() {
				defer wg.Done()
				s.processRecord(ctx, &record, counters)
			}); submitErr != nil {
				wg.Done()
				counters.errors.Add(1)
				s.logger.Error("Failed to submit record to worker pool", "txn_id", record.TxnID, "error", submitErr)
			}
		}

		if len(resp.List) == 0 || page*pageSize >= resp.Total {
			break
		}
	}

	wg.Wait()

	report := counters.report()
	s.logger.Info("Sync run finished",
		"kind", kind,
		"total", report.Total,
		"inserted", report.Inserted,
		"merged", report.Merged,
		"skipped", report.Skipped,
		"errors", report.Errors,
	)
	return report, nil
}

// processRecord merges one provider event into the store. Settlement-type
// records link to their parent authorization; everything else inserts its
// own row.
func (s *SyncService) processRecord(ctx context.Context, wire *provider.TxnRecord, counters *syncCounters) {
	txnType, err := shared.ParseTxnTypeCode(wire.TxnType)
	if err != nil {
		counters.errors.Add(1)
		s.logger.Error("Skipping record with unknown type code", "txn_id", wire.TxnID, "error", err)
		return
	}

	if txnType.IsSettlement() {
		s.mergeSettlement(ctx, wire, counters)
		return
	}
	s.insertRecord(ctx, wire, txnType, counters)
}

func (s *SyncService) insertRecord(ctx context.Context, wire *provider.TxnRecord, txnType shared.TxnType, counters *syncCounters) {
	rec, err := s.mapRecord(wire, txnType)
	if err != nil {
		counters.errors.Add(1)
		s.logger.Error("Skipping malformed record", "txn_id", wire.TxnID, "error", err)
		return
	}

	if err := s.txnRepo.Create(ctx, rec); err != nil {
		if errors.Is(err, transaction.ErrDuplicateRecord{}) {
			// Re-ingesting the same txn id is an idempotent no-op
			counters.skipped.Add(1)
			return
		}
		counters.errors.Add(1)
		s.logger.Error("Failed to insert record", "txn_id", wire.TxnID, "error", err)
		return
	}

	counters.inserted.Add(1)
}

// mergeSettlement inserts the settlement's own row, then marks the parent
// authorization settled. Settlement is forward-only: a parent already
// settled is left untouched and the record counts as skipped.
func (s *SyncService) mergeSettlement(ctx context.Context, wire *provider.TxnRecord, counters *syncCounters) {
	if wire.OriginTxnID == "" || wire.OriginTxnID == transaction.NoOriginTxnID {
		counters.errors.Add(1)
		s.logger.Error("Settlement record carries no origin txn id", "txn_id", wire.TxnID)
		return
	}

	txnType, _ := shared.ParseTxnTypeCode(wire.TxnType)
	rec, err := s.mapRecord(wire, txnType)
	if err != nil {
		counters.errors.Add(1)
		s.logger.Error("Skipping malformed settlement record", "txn_id", wire.TxnID, "error", err)
		return
	}

	if err := s.txnRepo.Create(ctx, rec); err != nil && !errors.Is(err, transaction.ErrDuplicateRecord{}) {
		counters.errors.Add(1)
		s.logger.Error("Failed to insert settlement record", "txn_id", wire.TxnID, "error", err)
		return
	}

	settleCcy := wire.SettleCcy
	settleAmt := wire.AuthAmt
	if settleCcy == "" {
		settleCcy = wire.AuthCcy
	}
	if wire.SettleAmt != nil {
		settleAmt = *wire.SettleAmt
	}

	err = s.txnRepo.MarkSettled(ctx, wire.OriginTxnID, wire.TxnID, settleCcy, settleAmt)
	switch {
	case err == nil:
		counters.merged.Add(1)
	case errors.Is(err, transaction.ErrAlreadySettled):
		counters.skipped.Add(1)
	default:
		counters.errors.Add(1)
		s.logger.Error("Failed to link settlement to parent",
			"txn_id", wire.TxnID,
			"origin_txn_id", wire.OriginTxnID,
			"error", err,
		)
	}
}

func (s *SyncService) mapRecord(wire *provider.TxnRecord, txnType shared.TxnType) (*transaction.Record, error) {
	txnTime, err := time.Parse(provider.TxnTimeLayout, wire.TxnTime)
	if err != nil {
		return nil, fmt.Errorf("invalid txn time %q: %w", wire.TxnTime, err)
	}

	status := shared.TxnStatusFailed
	if wire.TxnStatus == 1 {
		status = shared.TxnStatusSuccess
	}

	rec := transaction.NewRecord(
		wire.TxnID,
		wire.OriginTxnID,
		wire.CardID,
		txnType,
		status,
		shared.BizType(wire.BizType),
		wire.AuthCcy,
		wire.AuthAmt,
		txnTime,
	)

	if wire.SettleAmt != nil {
		settleCcy := wire.SettleCcy
		if settleCcy == "" {
			settleCcy = wire.AuthCcy
		}
		rec.SettleCcy = &settleCcy
		rec.SettleAmt = wire.SettleAmt
	}

	return rec, nil
}
