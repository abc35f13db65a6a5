// Package locking serializes corrective operations per transaction using a
// Redis lease. Callers on other instances observing a held lease fail fast
// instead of queueing behind it.
package locking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const leaseKeyPrefix = "reconcile:lease:txn:"

// releaseScript deletes the lease only when the caller still owns it, so an
// expired lease taken over by another worker is never released by the
// original holder.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// RedisScripter is the subset of the go-redis client the locker needs.
// It exists to enable mocking in tests.
type RedisScripter interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// ErrTxnBusy indicates another corrective operation holds the transaction lease
type ErrTxnBusy struct {
	TxnID string
}

func (e ErrTxnBusy) Error() string {
	return "transaction is locked by a concurrent corrective operation: " + e.TxnID
}

// Is implements the errors.Is interface for ErrTxnBusy
func (e ErrTxnBusy) Is(target error) bool {
	t, ok := target.(ErrTxnBusy)
	if !ok {
		return false
	}
	if t.TxnID == "" {
		return true
	}
	return e.TxnID == t.TxnID
}

// TxnLocker hands out per-transaction leases backed by Redis SETNX
type TxnLocker struct {
	client RedisScripter
	logger *slog.Logger
	ttl    time.Duration
}

// NewTxnLocker creates a locker with the given lease duration. The duration
// bounds how long a crashed holder can block a transaction.
func NewTxnLocker(logger *slog.Logger, client RedisScripter, ttl time.Duration) *TxnLocker {
	return &TxnLocker{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Acquire takes the lease for a transaction and returns its release
// function. Returns ErrTxnBusy without blocking when the lease is already
// held. Releasing a lease that already expired is not an error; the
// compare-and-delete script simply does nothing.
func (l *TxnLocker) Acquire(ctx context.Context, txnID string) (func(context.Context), error) {
	key := leaseKeyPrefix + txnID
	value := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, value, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire transaction lease: %w", err)
	}
	if !ok {
		return nil, ErrTxnBusy{TxnID: txnID}
	}

	release := func(ctx context.Context) {
		if err := l.client.Eval(ctx, releaseScript, []string{key}, value).Err(); err != nil {
			l.logger.Warn("Failed to release transaction lease",
				"key", key,
				"error", err,
			)
		}
	}
	return release, nil
}
