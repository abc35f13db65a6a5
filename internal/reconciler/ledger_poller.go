package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cardbridge-reconciler/internal/config"
	"github.com/cardbridge-reconciler/internal/domain/ledgerpost"
	"github.com/cardbridge-reconciler/internal/domain/outbox"
	"github.com/cardbridge-reconciler/internal/domain/shared"
	"github.com/cardbridge-reconciler/internal/platform/messaging/producers"
)

// LedgerPoller drains pending outbox messages into the ledger poster. A post
// that keeps failing past the retry budget is parked as FAILED_TO_POST and
// escalated; it is never silently dropped.
type LedgerPoller struct {
	outboxRepo       outbox.Repository
	poster           ledgerpost.Poster
	anomalies        producers.AnomalyPublisher
	logger           *slog.Logger
	pollInterval     time.Duration
	batchSize        int
	maxRetryAttempts int
}

func NewLedgerPoller(
	cfg *config.OutboxConfig,
	outboxRepo outbox.Repository,
	poster ledgerpost.Poster,
	anomalies producers.AnomalyPublisher,
	logger *slog.Logger,
) *LedgerPoller {
	return &LedgerPoller{
		outboxRepo:       outboxRepo,
		poster:           poster,
		anomalies:        anomalies,
		logger:           logger,
		pollInterval:     cfg.PollingInterval,
		batchSize:        cfg.BatchSize,
		maxRetryAttempts: cfg.MaxRetryAttempts,
	}
}

// Start begins polling until context is canceled
func (p *LedgerPoller) Start(ctx context.Context) {
	p.logger.Info("Starting ledger outbox poller",
		"poll_interval", p.pollInterval.String(),
		"batch_size", p.batchSize,
		"max_retry_attempts", p.maxRetryAttempts,
	)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Ledger outbox poller stopping due to context cancellation.")
			return
		case <-ticker.C:
			p.logger.Debug("Ledger outbox poller tick: delivering pending posts")
			if err := p.deliverPending(ctx); err != nil {
				p.logger.Error("Error during batch delivery of pending ledger posts", "error", err)
			}
		}
	}
}

func (p *LedgerPoller) deliverPending(ctx context.Context) error {
	messages, err := p.outboxRepo.GetPending(ctx, p.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending outbox messages: %w", err)
	}

	if len(messages) == 0 {
		p.logger.Debug("No pending ledger posts found.")
		return nil
	}

	p.logger.Info("Fetched pending ledger posts", "count", len(messages))

	for _, msg := range messages {
		p.deliverOne(ctx, msg)
	}
	return nil
}

func (p *LedgerPoller) deliverOne(ctx context.Context, msg *outbox.Message) {
	logger := p.logger.With("outbox_id", msg.ID, "txn_id", msg.TxnID, "business_id", msg.BusinessID)

	post, err := msg.GetLedgerPost()
	if err != nil {
		// An undecodable payload can never succeed; park it immediately
		logger.Error("Outbox payload is not a valid ledger post, parking message", "error", err)
		p.park(ctx, logger, msg, "outbox payload undecodable: "+err.Error())
		return
	}

	if post.CorrelationID != "" {
		logger = logger.With("correlation_id", post.CorrelationID)
	}

	if err := p.poster.Post(ctx, post); err != nil {
		logger.Error("Failed to deliver ledger post", "current_attempts", msg.Attempts, "error", err)

		if errInc := p.outboxRepo.IncrementAttempts(ctx, msg.ID); errInc != nil {
			logger.Error("Failed to increment attempts for outbox message", "error", errInc)
			return
		}

		if msg.Attempts+1 >= p.maxRetryAttempts {
			logger.Warn("Max retry attempts reached for ledger post, parking message", "attempts_made", msg.Attempts+1)
			p.park(ctx, logger, msg, "ledger post delivery exhausted retries: "+err.Error())
		}
		return
	}

	if err := p.outboxRepo.UpdateStatus(ctx, msg.ID, shared.OutboxStatusProcessed); err != nil {
		logger.Error("Failed to mark outbox message processed", "error", err)
		return
	}
	logger.Info("Delivered ledger post")
}

// park moves a message to FAILED_TO_POST and escalates it. The row stays in
// the table as the evidence operators need to repost manually.
func (p *LedgerPoller) park(ctx context.Context, logger *slog.Logger, msg *outbox.Message, reason string) {
	if err := p.outboxRepo.UpdateStatus(ctx, msg.ID, shared.OutboxStatusFailedToPost); err != nil {
		logger.Error("Failed to update outbox status to FAILED_TO_POST", "error", err)
	}

	if p.anomalies != nil {
		if err := p.anomalies.PublishAnomaly(ctx, msg.TxnID, "LEDGER_POST", reason, msg.BusinessID); err != nil {
			logger.Error("Failed to publish ledger post anomaly", "error", err)
		}
	}
}
