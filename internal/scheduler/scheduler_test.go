package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	auditdomain "github.com/smallbiznis/directory/internal/audit/domain"
	"github.com/smallbiznis/directory/internal/clock"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	"github.com/smallbiznis/directory/internal/task"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	"github.com/smallbiznis/directory/internal/tenantcontext"
	"github.com/smallbiznis/directory/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordedCall struct {
	tenantID string
	operator string
	op       auditdomain.Operation
	ids      []string
}

type fakeAudit struct {
	auditdomain.Service
	calls []recordedCall
}

func (f *fakeAudit) SnapshotUsers(ctx context.Context, db *gorm.DB, ids []string) ([]auditdomain.UserSnapshot, error) {
	out := make([]auditdomain.UserSnapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, auditdomain.UserSnapshot{TenantUser: tenantdomain.TenantUser{ID: id}})
	}
	return out, nil
}

func (f *fakeAudit) RecordTenantUsersModified(ctx context.Context, op auditdomain.Operation, before []auditdomain.UserSnapshot) {
	tenantID, _ := tenantcontext.TenantIDFromContext(ctx)
	call := recordedCall{tenantID: tenantID, operator: tenantcontext.OperatorFromContext(ctx), op: op}
	for _, snap := range before {
		call.ids = append(call.ids, snap.TenantUser.ID)
	}
	f.calls = append(f.calls, call)
}

type fixture struct {
	db    *gorm.DB
	clock *clock.FakeClock
	audit *fakeAudit
	ds    dsdomain.DataSource
	seq   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	testutil.CreateTenant(t, conn, "a")
	testutil.CreateTenant(t, conn, "b")
	return &fixture{
		db:    conn,
		clock: clock.NewFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)),
		audit: &fakeAudit{},
		ds:    testutil.CreateLocalDataSource(t, conn, node, "a"),
	}
}

func (f *fixture) tenantUser(t *testing.T, tenantID string, status tenantdomain.TenantUserStatus, expiresAt time.Time) tenantdomain.TenantUser {
	t.Helper()
	f.seq++
	now := f.clock.Now()
	tu := tenantdomain.TenantUser{
		ID:               fmt.Sprintf("%s-%03d", tenantID, f.seq),
		TenantID:         tenantID,
		DataSourceID:     f.ds.ID,
		DataSourceUserID: snowflake.ID(1000 + f.seq),
		Status:           status,
		AccountExpiredAt: expiresAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, f.db.Create(&tu).Error)
	return tu
}

func (f *fixture) scheduler(t *testing.T, locker *task.Locker, batch int) *Scheduler {
	t.Helper()
	s, err := New(Params{
		DB:     f.db,
		Log:    zap.NewNop(),
		Clock:  f.clock,
		Audit:  f.audit,
		Locker: locker,
		Config: Config{BatchSize: batch},
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) status(t *testing.T, id string) tenantdomain.TenantUserStatus {
	t.Helper()
	var tu tenantdomain.TenantUser
	require.NoError(t, f.db.Where("id = ?", id).First(&tu).Error)
	return tu.Status
}

func TestExpireAccounts(t *testing.T) {
	f := newFixture(t)
	past := f.clock.Now().Add(-time.Hour)
	future := f.clock.Now().Add(time.Hour)

	dueA := f.tenantUser(t, "a", tenantdomain.TenantUserStatusEnabled, past)
	dueB := f.tenantUser(t, "b", tenantdomain.TenantUserStatusEnabled, past)
	active := f.tenantUser(t, "a", tenantdomain.TenantUserStatusEnabled, future)
	disabled := f.tenantUser(t, "a", tenantdomain.TenantUserStatusDisabled, past)
	permanent := f.tenantUser(t, "b", tenantdomain.TenantUserStatusEnabled, tenantdomain.PermanentTime)

	n, err := f.scheduler(t, nil, 0).ExpireAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, tenantdomain.TenantUserStatusExpired, f.status(t, dueA.ID))
	assert.Equal(t, tenantdomain.TenantUserStatusExpired, f.status(t, dueB.ID))
	assert.Equal(t, tenantdomain.TenantUserStatusEnabled, f.status(t, active.ID))
	assert.Equal(t, tenantdomain.TenantUserStatusDisabled, f.status(t, disabled.ID))
	assert.Equal(t, tenantdomain.TenantUserStatusEnabled, f.status(t, permanent.ID))

	require.Len(t, f.audit.calls, 2)
	for _, call := range f.audit.calls {
		assert.Equal(t, auditdomain.OpModifyUserStatus, call.op)
		assert.Equal(t, systemOperator, call.operator)
		require.Len(t, call.ids, 1)
	}
	assert.Equal(t, "a", f.audit.calls[0].tenantID)
	assert.Equal(t, []string{dueA.ID}, f.audit.calls[0].ids)
	assert.Equal(t, "b", f.audit.calls[1].tenantID)

	n, err = f.scheduler(t, nil, 0).ExpireAccounts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExpireAccountsDrainsInBatches(t *testing.T) {
	f := newFixture(t)
	past := f.clock.Now().Add(-time.Minute)
	for i := 0; i < 7; i++ {
		f.tenantUser(t, "a", tenantdomain.TenantUserStatusEnabled, past)
	}

	n, err := f.scheduler(t, nil, 3).ExpireAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Len(t, f.audit.calls, 3)
	assert.Zero(t, testutil.CountWhere(t, f.db, &tenantdomain.TenantUser{}, "status = ?", tenantdomain.TenantUserStatusEnabled))
}

func TestExpireAccountsFollowsClock(t *testing.T) {
	f := newFixture(t)
	tu := f.tenantUser(t, "a", tenantdomain.TenantUserStatusEnabled, f.clock.Now().Add(24*time.Hour))
	s := f.scheduler(t, nil, 0)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, tenantdomain.TenantUserStatusEnabled, f.status(t, tu.ID))

	f.clock.Advance(25 * time.Hour)
	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, tenantdomain.TenantUserStatusExpired, f.status(t, tu.ID))
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	tu := f.tenantUser(t, "a", tenantdomain.TenantUserStatusEnabled, f.clock.Now().Add(-time.Hour))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, mr.Set(lockKeyPrefix+jobExpireAccounts, "other-replica"))

	s := f.scheduler(t, task.NewLocker(client), 0)
	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, tenantdomain.TenantUserStatusEnabled, f.status(t, tu.ID))

	mr.Del(lockKeyPrefix + jobExpireAccounts)
	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, tenantdomain.TenantUserStatusExpired, f.status(t, tu.ID))
	assert.False(t, mr.Exists(lockKeyPrefix+jobExpireAccounts))
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
