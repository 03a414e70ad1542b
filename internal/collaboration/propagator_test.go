package collaboration

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/directory/internal/config"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	"github.com/smallbiznis/directory/internal/relation"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	"github.com/smallbiznis/directory/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newPropagator(conn *gorm.DB, node *snowflake.Node) *Propagator {
	return NewPropagator(Params{
		GenID:     node,
		Relations: relation.New(conn, node),
		Config:    config.NewStaticDirectoryConfig(config.DefaultDirectoryConfig()),
	})
}

func TestFanOutUsersOnlyToActiveTargets(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		testutil.CreateTenant(t, conn, id)
	}
	testutil.CreateStrategy(t, conn, node, "a", "b", tenantdomain.CollaborationStatusEnabled, tenantdomain.CollaborationStatusEnabled)
	testutil.CreateStrategy(t, conn, node, "a", "c", tenantdomain.CollaborationStatusEnabled, tenantdomain.CollaborationStatusUnconfirmed)
	testutil.CreateStrategy(t, conn, node, "a", "d", tenantdomain.CollaborationStatusDisabled, tenantdomain.CollaborationStatusEnabled)

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, conn.Create(&tenantdomain.TenantUserValidityPeriodConfig{
		TenantID: "b", Enabled: true, ValidityPeriod: 30, UpdatedAt: now,
	}).Error)

	ds := testutil.CreateLocalDataSource(t, conn, node, "a")
	alice := testutil.CreateUser(t, conn, node, ds, "alice")

	p := newPropagator(conn, node)
	rows, err := p.FanOutUsers(ctx, conn, ds, []dsdomain.DataSourceUser{alice}, now)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].TenantID)
	assert.Equal(t, "b", rows[1].TenantID)

	assert.Equal(t, tenantdomain.PermanentTime, rows[0].AccountExpiredAt)
	assert.True(t, rows[1].AccountExpiredAt.Equal(now.AddDate(0, 0, 30)))
	assert.NotEqual(t, rows[0].ID, rows[1].ID)

	assert.Zero(t, testutil.CountWhere(t, conn, &tenantdomain.TenantUser{}, "tenant_id IN ?", []string{"c", "d"}))
}

func TestDeleteUsersRemovesAllProjections(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	testutil.CreateTenant(t, conn, "a")
	testutil.CreateTenant(t, conn, "b")
	testutil.CreateStrategy(t, conn, node, "a", "b", tenantdomain.CollaborationStatusEnabled, tenantdomain.CollaborationStatusEnabled)

	ds := testutil.CreateLocalDataSource(t, conn, node, "a")
	alice := testutil.CreateUser(t, conn, node, ds, "alice")
	bob := testutil.CreateUser(t, conn, node, ds, "bob")
	dept := testutil.CreateDepartment(t, conn, node, ds, "eng", nil)

	p := newPropagator(conn, node)
	_, err := p.FanOutUsers(ctx, conn, ds, []dsdomain.DataSourceUser{alice, bob}, time.Now())
	require.NoError(t, err)

	store := relation.New(conn, node)
	_, err = store.SetUserDepartments(ctx, alice, []snowflake.ID{dept.ID}, time.Now())
	require.NoError(t, err)
	_, err = store.SetUserLeaders(ctx, bob, []snowflake.ID{alice.ID}, time.Now())
	require.NoError(t, err)
	require.NoError(t, conn.Create(&dsdomain.DataSourceUserIdentityInfo{
		UserID: alice.ID, DataSourceID: ds.ID, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}).Error)

	// Disabling the strategy afterwards must not leave the copy behind.
	require.NoError(t, conn.Model(&tenantdomain.CollaborationStrategy{}).
		Where("source_tenant_id = ?", "a").
		Update("target_status", tenantdomain.CollaborationStatusDisabled).Error)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return p.DeleteUsers(ctx, tx, []snowflake.ID{alice.ID})
	}))

	assert.Zero(t, testutil.CountWhere(t, conn, &tenantdomain.TenantUser{}, "data_source_user_id = ?", alice.ID))
	assert.Zero(t, testutil.CountWhere(t, conn, &dsdomain.DataSourceDepartmentUserRelation{}, "user_id = ?", alice.ID))
	assert.Zero(t, testutil.CountWhere(t, conn, &dsdomain.DataSourceUserLeaderRelation{}, "leader_id = ?", alice.ID))
	assert.Zero(t, testutil.CountWhere(t, conn, &dsdomain.DataSourceUserIdentityInfo{}, "user_id = ?", alice.ID))
	assert.Zero(t, testutil.CountWhere(t, conn, &dsdomain.DataSourceUser{}, "id = ?", alice.ID))

	assert.Equal(t, int64(2), testutil.CountWhere(t, conn, &tenantdomain.TenantUser{}, "data_source_user_id = ?", bob.ID))
	assert.Equal(t, int64(1), testutil.CountWhere(t, conn, &tenantdomain.TenantUserIDRecord{}, "code = ? AND tenant_id = ?", "alice", "a"))
}

func TestFanOutAndDeleteDepartments(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	testutil.CreateTenant(t, conn, "a")
	testutil.CreateTenant(t, conn, "b")
	testutil.CreateStrategy(t, conn, node, "a", "b", tenantdomain.CollaborationStatusEnabled, tenantdomain.CollaborationStatusEnabled)
	ds := testutil.CreateLocalDataSource(t, conn, node, "a")
	root := testutil.CreateDepartment(t, conn, node, ds, "root", nil)

	p := newPropagator(conn, node)
	rows, err := p.FanOutDepartments(ctx, conn, ds, []dsdomain.DataSourceDepartment{root}, time.Now())
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	require.NoError(t, p.DeleteDepartments(ctx, conn, []snowflake.ID{root.ID}))
	assert.Zero(t, testutil.CountWhere(t, conn, &tenantdomain.TenantDepartment{}, "data_source_department_id = ?", root.ID))
	assert.Zero(t, testutil.CountWhere(t, conn, &dsdomain.DataSourceDepartmentRelation{}, "department_id = ?", root.ID))
	assert.Zero(t, testutil.CountWhere(t, conn, &dsdomain.DataSourceDepartment{}, "id = ?", root.ID))
}

func TestSyncTargetBackfillsMissingRows(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	testutil.CreateTenant(t, conn, "a")
	testutil.CreateTenant(t, conn, "b")
	ds := testutil.CreateLocalDataSource(t, conn, node, "a")
	alice := testutil.CreateUser(t, conn, node, ds, "alice")
	testutil.CreateDepartment(t, conn, node, ds, "eng", nil)

	p := newPropagator(conn, node)
	_, err := p.FanOutUsers(ctx, conn, ds, []dsdomain.DataSourceUser{alice}, time.Now())
	require.NoError(t, err)
	assert.Zero(t, testutil.CountWhere(t, conn, &tenantdomain.TenantUser{}, "tenant_id = ?", "b"))

	testutil.CreateStrategy(t, conn, node, "a", "b", tenantdomain.CollaborationStatusEnabled, tenantdomain.CollaborationStatusEnabled)
	testutil.CreateUser(t, conn, node, ds, "bob")

	created, err := p.SyncTarget(ctx, conn, "a", "b", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Equal(t, int64(1), testutil.CountWhere(t, conn, &tenantdomain.TenantDepartment{}, "tenant_id = ?", "b"))

	created, err = p.SyncTarget(ctx, conn, "a", "b", time.Now())
	require.NoError(t, err)
	assert.Zero(t, created)
}
