package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/directory/internal/tenantcontext"
	"github.com/smallbiznis/directory/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testStream = "test:tasks"
	testGroup  = "workers"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, EnsureGroup(context.Background(), client, testStream, testGroup))
	return mr, client
}

func newTestWorker(client *redis.Client, registry Registry) *Worker {
	return NewWorker(client, registry, WorkerConfig{
		Stream:   testStream,
		Group:    testGroup,
		Consumer: "c1",
		Block:    10 * time.Millisecond,
		MinIdle:  time.Millisecond,
	}, zap.NewNop(), nil)
}

func pendingCount(t *testing.T, client *redis.Client) int64 {
	t.Helper()
	p, err := client.XPending(context.Background(), testStream, testGroup).Result()
	require.NoError(t, err)
	return p.Count
}

func TestStreamDispatchCarriesContext(t *testing.T) {
	_, client := setupRedis(t)

	ctx := tenantcontext.WithTenantID(context.Background(), "acme")
	ctx = tenantcontext.WithOperator(ctx, "admin")
	ctx = correlation.ContextWithCorrelationID(ctx, "corr-1")

	d := NewStreamDispatcher(client, testStream, nil)
	require.NoError(t, d.Dispatch(ctx, KindSyncCollaboration, SyncCollaborationPayload{SourceTenantID: "a", TargetTenantID: "b"}))

	var got Task
	var gotTenant, gotOperator, gotCorrelation string
	w := newTestWorker(client, Registry{
		KindSyncCollaboration: func(ctx context.Context, tk Task) error {
			got = tk
			gotTenant, _ = tenantcontext.TenantIDFromContext(ctx)
			gotOperator = tenantcontext.OperatorFromContext(ctx)
			gotCorrelation = correlation.ExtractCorrelationID(ctx)
			return nil
		},
	})

	n, err := w.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var payload SyncCollaborationPayload
	require.NoError(t, got.Decode(&payload))
	assert.Equal(t, "b", payload.TargetTenantID)
	assert.Equal(t, "acme", gotTenant)
	assert.Equal(t, "admin", gotOperator)
	assert.Equal(t, "corr-1", gotCorrelation)
	assert.Zero(t, pendingCount(t, client))
}

func TestFailedTaskStaysPendingAndIsReclaimed(t *testing.T) {
	_, client := setupRedis(t)
	ctx := tenantcontext.WithTenantID(context.Background(), "acme")

	d := NewStreamDispatcher(client, testStream, nil)
	require.NoError(t, d.Dispatch(ctx, KindNotifyPasswordReset, NotifyPasswordResetPayload{UserIDs: []string{"1"}}))

	calls := 0
	w := newTestWorker(client, Registry{
		KindNotifyPasswordReset: func(context.Context, Task) error {
			calls++
			if calls == 1 {
				return errors.New("smtp down")
			}
			return nil
		},
	})

	n, err := w.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int64(1), pendingCount(t, client))

	time.Sleep(5 * time.Millisecond)
	n, err = w.Reclaim(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, calls)
	assert.Zero(t, pendingCount(t, client))
}

func TestUnknownKindIsDropped(t *testing.T) {
	_, client := setupRedis(t)
	d := NewStreamDispatcher(client, testStream, nil)
	require.NoError(t, d.Dispatch(context.Background(), Kind("bogus"), struct{}{}))

	n, err := newTestWorker(client, Registry{}).Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, pendingCount(t, client))
}

func TestInlineDispatcherSwallowsHandlerError(t *testing.T) {
	ran := false
	d := NewInlineDispatcher(Registry{
		KindInitializeIdentity: func(ctx context.Context, tk Task) error {
			ran = true
			return errors.New("boom")
		},
	}, zap.NewNop(), nil)

	assert.NoError(t, d.Dispatch(context.Background(), KindInitializeIdentity, InitializeIdentityPayload{}))
	assert.True(t, ran)
	assert.Error(t, d.Dispatch(context.Background(), Kind("bogus"), nil))
}

func TestLockerExcludesConcurrentHolder(t *testing.T) {
	_, client := setupRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	err := locker.WithLock(ctx, "k", time.Minute, func(ctx context.Context) error {
		inner := locker.WithLock(ctx, "k", time.Minute, func(context.Context) error { return nil })
		assert.ErrorIs(t, inner, ErrLocked)
		return nil
	})
	require.NoError(t, err)

	assert.NoError(t, locker.WithLock(ctx, "k", time.Minute, func(context.Context) error { return nil }))

	var nilLocker *Locker
	assert.NoError(t, nilLocker.WithLock(ctx, "k", time.Minute, func(context.Context) error { return nil }))
}
