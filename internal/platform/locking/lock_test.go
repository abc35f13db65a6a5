package locking

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRedisScripter struct {
	mock.Mock
}

func (m *MockRedisScripter) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	args := m.Called(ctx, key, value, expiration)
	return args.Get(0).(*redis.BoolCmd)
}

func (m *MockRedisScripter) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	callArgs := m.Called(ctx, script, keys, args)
	return callArgs.Get(0).(*redis.Cmd)
}

func newLockTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestTxnLocker_Acquire(t *testing.T) {
	ctx := context.Background()
	ttl := 30 * time.Second

	t.Run("acquires a free lease", func(t *testing.T) {
		client := new(MockRedisScripter)
		locker := NewTxnLocker(newLockTestLogger(), client, ttl)

		client.On("SetNX", ctx, "reconcile:lease:txn:A1", mock.Anything, ttl).
			Return(redis.NewBoolResult(true, nil)).Once()

		release, err := locker.Acquire(ctx, "A1")

		require.NoError(t, err)
		require.NotNil(t, release)
		client.AssertExpectations(t)
	})

	t.Run("fails fast on a held lease", func(t *testing.T) {
		client := new(MockRedisScripter)
		locker := NewTxnLocker(newLockTestLogger(), client, ttl)

		client.On("SetNX", ctx, "reconcile:lease:txn:A1", mock.Anything, ttl).
			Return(redis.NewBoolResult(false, nil)).Once()

		release, err := locker.Acquire(ctx, "A1")

		assert.Nil(t, release)
		assert.ErrorIs(t, err, ErrTxnBusy{TxnID: "A1"})
		client.AssertExpectations(t)
	})

	t.Run("propagates redis errors", func(t *testing.T) {
		client := new(MockRedisScripter)
		locker := NewTxnLocker(newLockTestLogger(), client, ttl)

		redisErr := errors.New("connection refused")
		client.On("SetNX", ctx, "reconcile:lease:txn:A1", mock.Anything, ttl).
			Return(redis.NewBoolResult(false, redisErr)).Once()

		release, err := locker.Acquire(ctx, "A1")

		assert.Nil(t, release)
		assert.ErrorIs(t, err, redisErr)
		client.AssertExpectations(t)
	})
}

func TestTxnLocker_Release(t *testing.T) {
	ctx := context.Background()
	ttl := 30 * time.Second

	t.Run("releases with compare-and-delete", func(t *testing.T) {
		client := new(MockRedisScripter)
		locker := NewTxnLocker(newLockTestLogger(), client, ttl)

		var heldValue interface{}
		client.On("SetNX", ctx, "reconcile:lease:txn:A1", mock.Anything, ttl).
			Run(func(args mock.Arguments) { heldValue = args.Get(2) }).
			Return(redis.NewBoolResult(true, nil)).Once()

		release, err := locker.Acquire(ctx, "A1")
		require.NoError(t, err)

		client.On("Eval", ctx, releaseScript, []string{"reconcile:lease:txn:A1"}, mock.MatchedBy(func(args []interface{}) bool {
			return len(args) == 1 && args[0] == heldValue
		})).Return(redis.NewCmdResult(int64(1), nil)).Once()

		release(ctx)
		client.AssertExpectations(t)
	})

	t.Run("release failure only logs", func(t *testing.T) {
		client := new(MockRedisScripter)
		locker := NewTxnLocker(newLockTestLogger(), client, ttl)

		client.On("SetNX", ctx, "reconcile:lease:txn:A1", mock.Anything, ttl).
			Return(redis.NewBoolResult(true, nil)).Once()

		release, err := locker.Acquire(ctx, "A1")
		require.NoError(t, err)

		client.On("Eval", ctx, releaseScript, []string{"reconcile:lease:txn:A1"}, mock.Anything).
			Return(redis.NewCmdResult(nil, errors.New("connection reset"))).Once()

		release(ctx) // must not panic
		client.AssertExpectations(t)
	})
}
