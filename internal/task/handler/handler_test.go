package handler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/directory/internal/clock"
	"github.com/smallbiznis/directory/internal/collaboration"
	"github.com/smallbiznis/directory/internal/config"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	"github.com/smallbiznis/directory/internal/password"
	"github.com/smallbiznis/directory/internal/relation"
	"github.com/smallbiznis/directory/internal/task"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	"github.com/smallbiznis/directory/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type sentMail struct {
	to       []string
	template string
	data     map[string]any
}

type fakeEmail struct {
	mu   sync.Mutex
	sent []sentMail
}

func (f *fakeEmail) Send(context.Context, []string, string, string) error { return nil }

func (f *fakeEmail) SendTemplate(_ context.Context, to []string, name string, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{to: to, template: name, data: data})
	return nil
}

func newHandlers(t *testing.T, conn *gorm.DB, node *snowflake.Node, now time.Time) (*Handlers, *fakeEmail) {
	t.Helper()
	mail := &fakeEmail{}
	return New(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(now),
		Propagator: collaboration.NewPropagator(collaboration.Params{
			GenID:     node,
			Relations: relation.New(conn, node),
			Config:    config.NewStaticDirectoryConfig(config.DefaultDirectoryConfig()),
		}),
		Email: mail,
	}), mail
}

func TestInitializeIdentityIsIdempotent(t *testing.T) {
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	testutil.CreateTenant(t, conn, "acme")
	ds := testutil.CreateLocalDataSource(t, conn, node, "acme")
	alice := testutil.CreateUser(t, conn, node, ds, "alice")

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	h, mail := newHandlers(t, conn, node, now)

	tk, err := task.New(context.Background(), task.KindInitializeIdentity, task.InitializeIdentityPayload{
		DataSourceID: ds.ID.String(),
		UserIDs:      []string{alice.ID.String()},
	})
	require.NoError(t, err)

	require.NoError(t, h.InitializeIdentity(context.Background(), tk))
	require.NoError(t, h.InitializeIdentity(context.Background(), tk))

	var info dsdomain.DataSourceUserIdentityInfo
	require.NoError(t, conn.Where("user_id = ?", alice.ID).Take(&info).Error)
	require.NotNil(t, info.PasswordExpiredAt)
	assert.True(t, info.PasswordExpiredAt.Equal(now.AddDate(0, 0, 90)))

	require.Len(t, mail.sent, 1)
	assert.Equal(t, "identity_initialized", mail.sent[0].template)
	plain := mail.sent[0].data["password"].(string)
	assert.True(t, password.Verify(plain, info.PasswordHash))
}

func TestNotifyPasswordResetSendsWithoutPassword(t *testing.T) {
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	testutil.CreateTenant(t, conn, "acme")
	ds := testutil.CreateLocalDataSource(t, conn, node, "acme")
	alice := testutil.CreateUser(t, conn, node, ds, "alice")

	h, mail := newHandlers(t, conn, node, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	tk, err := task.New(context.Background(), task.KindNotifyPasswordReset, task.NotifyPasswordResetPayload{
		UserIDs:   []string{alice.ID.String()},
		ValidDays: dsdomain.PasswordPermanent,
	})
	require.NoError(t, err)
	require.NoError(t, h.NotifyPasswordReset(context.Background(), tk))

	require.Len(t, mail.sent, 1)
	assert.Equal(t, []string{"alice@example.com"}, mail.sent[0].to)
	assert.NotContains(t, mail.sent[0].data, "password")
	assert.Equal(t, "", mail.sent[0].data["expired_at"])
}

func TestSyncCollaborationBackfillsTarget(t *testing.T) {
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	testutil.CreateTenant(t, conn, "a")
	testutil.CreateTenant(t, conn, "b")
	ds := testutil.CreateLocalDataSource(t, conn, node, "a")
	testutil.CreateUser(t, conn, node, ds, "alice")
	testutil.CreateStrategy(t, conn, node, "a", "b", tenantdomain.CollaborationStatusEnabled, tenantdomain.CollaborationStatusEnabled)

	h, _ := newHandlers(t, conn, node, time.Now().UTC())
	tk, err := task.New(context.Background(), task.KindSyncCollaboration, task.SyncCollaborationPayload{
		SourceTenantID: "a",
		TargetTenantID: "b",
	})
	require.NoError(t, err)
	require.NoError(t, h.SyncCollaboration(context.Background(), tk))

	assert.Equal(t, int64(1), testutil.CountWhere(t, conn, &tenantdomain.TenantUser{}, "tenant_id = ?", "b"))
}

func TestRegistryCoversEveryKind(t *testing.T) {
	conn := testutil.NewDB(t)
	h, _ := newHandlers(t, conn, testutil.NewNode(t), time.Now())
	reg := NewRegistry(h)
	for _, kind := range []task.Kind{task.KindInitializeIdentity, task.KindNotifyPasswordReset, task.KindSyncCollaboration} {
		assert.Contains(t, reg, kind)
	}
}
