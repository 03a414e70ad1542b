package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/directory/internal/audit/domain"
	"github.com/smallbiznis/directory/internal/audit/repository"
	"github.com/smallbiznis/directory/internal/config"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	"github.com/smallbiznis/directory/internal/relation"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	"github.com/smallbiznis/directory/internal/tenantcontext"
	"github.com/smallbiznis/directory/internal/testutil"
	"github.com/smallbiznis/directory/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func newTestService(conn *gorm.DB, node *snowflake.Node) auditdomain.Service {
	return NewService(Params{
		DB:        conn,
		Log:       zap.NewNop(),
		GenID:     node,
		Repo:      repository.Provide(),
		Relations: relation.New(conn, node),
		Config:    config.NewStaticDirectoryConfig(config.DefaultDirectoryConfig()),
	})
}

func project(t *testing.T, conn *gorm.DB, id, tenantID string, ds dsdomain.DataSource, user dsdomain.DataSourceUser) tenantdomain.TenantUser {
	t.Helper()
	now := time.Now().UTC()
	tu := tenantdomain.TenantUser{
		ID:               id,
		TenantID:         tenantID,
		DataSourceID:     ds.ID,
		DataSourceUserID: user.ID,
		Status:           tenantdomain.TenantUserStatusEnabled,
		AccountExpiredAt: tenantdomain.PermanentTime,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, conn.Create(&tu).Error)
	return tu
}

func records(t *testing.T, conn *gorm.DB) []auditdomain.AuditRecord {
	t.Helper()
	var out []auditdomain.AuditRecord
	require.NoError(t, conn.Order("id asc").Find(&out).Error)
	return out
}

func TestWriteRequiresTenant(t *testing.T) {
	conn := testutil.NewDB(t)
	svc := newTestService(conn, testutil.NewNode(t))

	err := svc.Write(context.Background(), []auditdomain.Object{{ID: "x", Operation: auditdomain.OpModifyTenantUser}})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTenant)
}

func TestRecordUsersCreatedSplitsCollaborationCopies(t *testing.T) {
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	testutil.CreateTenant(t, conn, "a")
	testutil.CreateTenant(t, conn, "b")
	ds := testutil.CreateLocalDataSource(t, conn, node, "a")
	alice := testutil.CreateUser(t, conn, node, ds, "alice")
	project(t, conn, "alice", "a", ds, alice)
	project(t, conn, "alice-b", "b", ds, alice)

	ctx := tenantcontext.WithOperator(tenantcontext.WithTenantID(context.Background(), "a"), "admin")
	svc := newTestService(conn, node)
	svc.RecordUsersCreated(ctx, []snowflake.ID{alice.ID})

	got := records(t, conn)
	ops := map[auditdomain.Operation]auditdomain.AuditRecord{}
	for _, r := range got {
		ops[r.Operation] = r
		assert.Equal(t, got[0].BatchID, r.BatchID)
		assert.Equal(t, "admin", r.Operator)
		assert.Equal(t, "a", r.TenantID)
	}

	assert.Contains(t, ops, auditdomain.OpCreateDataSourceUser)
	assert.Contains(t, ops, auditdomain.OpCreateUserDepartment)
	assert.Contains(t, ops, auditdomain.OpCreateTenantUser)
	assert.NotContains(t, ops, auditdomain.OpCreateUserLeader)

	collab := ops[auditdomain.OpCreateCollaborationTenantUser]
	assert.Equal(t, "alice-b", collab.ObjectID)
	assert.Equal(t, "b", collab.Extras["collaboration_tenant_id"])
}

func TestRecordTenantUsersModifiedCapturesBeforeAndAfter(t *testing.T) {
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	testutil.CreateTenant(t, conn, "a")
	ds := testutil.CreateLocalDataSource(t, conn, node, "a")
	alice := testutil.CreateUser(t, conn, node, ds, "alice")
	tu := project(t, conn, "alice", "a", ds, alice)

	ctx := tenantcontext.WithTenantID(context.Background(), "a")
	svc := newTestService(conn, node)

	before, err := svc.SnapshotUsers(ctx, conn, []string{tu.ID})
	require.NoError(t, err)
	require.Len(t, before, 1)

	require.NoError(t, conn.Model(&tenantdomain.TenantUser{}).Where("id = ?", tu.ID).
		Update("status", tenantdomain.TenantUserStatusDisabled).Error)
	svc.RecordTenantUsersModified(ctx, auditdomain.OpModifyUserStatus, before)

	got := records(t, conn)
	require.Len(t, got, 1)
	assert.Equal(t, "enabled", got[0].DataBefore["status"])
	assert.Equal(t, "disabled", got[0].DataAfter["status"])
	assert.Equal(t, auditdomain.ObjectTypeTenantUser, got[0].ObjectType)
}

func TestRecordDataSourceMasksSecrets(t *testing.T) {
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	testutil.CreateTenant(t, conn, "a")

	ds := dsdomain.DataSource{
		ID:            node.Generate(),
		OwnerTenantID: "a",
		Type:          dsdomain.DataSourceTypeReal,
		PluginID:      dsdomain.PluginLDAP,
		PluginConfig:  datatypes.JSON(`{"server_url":"ldap://example.com","bind_dn":"cn=admin","bind_password":"sup3rs3cret","base_dn":"dc=example"}`),
	}

	ctx := tenantcontext.WithTenantID(context.Background(), "a")
	newTestService(conn, node).RecordDataSource(ctx, auditdomain.OpCreateDataSource, nil, &ds)

	got := records(t, conn)
	require.Len(t, got, 1)
	cfg, ok := got[0].DataAfter["plugin_config"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "****cret", cfg["bind_password"])
	assert.Equal(t, "cn=admin", cfg["bind_dn"])
	assert.Empty(t, got[0].DataBefore)
}

func TestListPaginatesNewestFirst(t *testing.T) {
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	testutil.CreateTenant(t, conn, "a")
	svc := newTestService(conn, node)

	ctx := tenantcontext.WithTenantID(context.Background(), "a")
	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Write(ctx, []auditdomain.Object{{
			ID:        snowflake.ID(i + 1).String(),
			Type:      auditdomain.ObjectTypeTenantUser,
			Operation: auditdomain.OpModifyUserStatus,
		}}))
	}
	otherCtx := tenantcontext.WithTenantID(context.Background(), "b")
	require.NoError(t, svc.Write(otherCtx, []auditdomain.Object{{ID: "z", Operation: auditdomain.OpModifyUserStatus}}))

	first, err := svc.List(ctx, auditdomain.ListRequest{Pagination: pagination.Pagination{PageSize: 3}})
	require.NoError(t, err)
	require.Len(t, first.Records, 3)
	assert.True(t, first.HasMore)

	second, err := svc.List(ctx, auditdomain.ListRequest{Pagination: pagination.Pagination{PageSize: 3, PageToken: first.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, second.Records, 2)
	assert.False(t, second.HasMore)

	seen := map[string]bool{}
	for _, r := range append(first.Records, second.Records...) {
		assert.Equal(t, "a", r.TenantID)
		seen[r.ObjectID] = true
	}
	assert.Len(t, seen, 5)

	start := time.Now().Add(time.Hour)
	end := time.Now()
	_, err = svc.List(ctx, auditdomain.ListRequest{StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}
