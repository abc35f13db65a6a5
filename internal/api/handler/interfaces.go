package handler

import (
	"context"

	"github.com/cardbridge-reconciler/internal/reconciler"
)

// SyncService runs reconciliation sync cycles against the provider
type SyncService interface {
	SyncAuthorizations(ctx context.Context, window reconciler.TimeWindow) (*reconciler.SyncReport, error)
	SyncSettlements(ctx context.Context, window reconciler.TimeWindow) (*reconciler.SyncReport, error)
}

// CorrectiveService executes operator-invoked corrective operations
type CorrectiveService interface {
	CompensationRecharge(ctx context.Context, txnID, correlationID string) (*reconciler.CorrectiveResult, error)
	RetryWithdrawal(ctx context.Context, txnID, correlationID string) (*reconciler.CorrectiveResult, error)
	FreePass(ctx context.Context, txnID, correlationID string) (*reconciler.CorrectiveResult, error)
}

// ProviderHealth probes connectivity to the card provider
type ProviderHealth interface {
	TestConnection(ctx context.Context) bool
}
