package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/directory/internal/audit/domain"
	auditrepo "github.com/smallbiznis/directory/internal/audit/repository"
	auditservice "github.com/smallbiznis/directory/internal/audit/service"
	"github.com/smallbiznis/directory/internal/clock"
	"github.com/smallbiznis/directory/internal/collaboration"
	"github.com/smallbiznis/directory/internal/config"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	"github.com/smallbiznis/directory/internal/department/domain"
	"github.com/smallbiznis/directory/internal/department/repository"
	"github.com/smallbiznis/directory/internal/relation"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	"github.com/smallbiznis/directory/internal/tenantcontext"
	"github.com/smallbiznis/directory/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	cfg := config.NewStaticDirectoryConfig(config.DefaultDirectoryConfig())
	relations := relation.New(conn, node)

	audit := auditservice.NewService(auditservice.Params{
		DB:        conn,
		Log:       zap.NewNop(),
		GenID:     node,
		Repo:      auditrepo.Provide(),
		Relations: relations,
		Config:    cfg,
	})
	svc := New(Params{
		DB:         conn,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clock.NewFakeClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)),
		Repo:       repository.Provide(),
		Relations:  relations,
		Propagator: collaboration.NewPropagator(collaboration.Params{GenID: node, Relations: relations, Config: cfg}),
		Audit:      audit,
	})
	return svc, conn, node
}

func TestCreateDepartmentFansOut(t *testing.T) {
	svc, conn, node := newTestService(t)
	testutil.CreateTenant(t, conn, "a")
	testutil.CreateTenant(t, conn, "b")
	testutil.CreateStrategy(t, conn, node, "a", "b", tenantdomain.CollaborationStatusEnabled, tenantdomain.CollaborationStatusEnabled)
	ds := testutil.CreateLocalDataSource(t, conn, node, "a")
	asA := tenantcontext.WithTenantID(context.Background(), "a")

	root, err := svc.Create(asA, domain.CreateDepartmentRequest{DataSourceID: ds.ID.String(), Name: "HQ"})
	require.NoError(t, err)
	child, err := svc.Create(asA, domain.CreateDepartmentRequest{DataSourceID: ds.ID.String(), Name: "Eng", ParentID: root.ID.String()})
	require.NoError(t, err)

	assert.EqualValues(t, 2, testutil.CountWhere(t, conn, &tenantdomain.TenantDepartment{}, "data_source_department_id = ?", child.ID))
	assert.EqualValues(t, 1, testutil.CountWhere(t, conn, &dsdomain.DataSourceDepartmentRelation{}, "department_id = ? AND parent_id = ?", child.ID, root.ID))

	_, err = svc.Create(asA, domain.CreateDepartmentRequest{DataSourceID: ds.ID.String(), Name: "Eng", ParentID: root.ID.String()})
	assert.ErrorIs(t, err, domain.ErrDuplicateSiblingName)

	var ops []auditdomain.Operation
	require.NoError(t, conn.Model(&auditdomain.AuditRecord{}).Pluck("operation", &ops).Error)
	assert.Contains(t, ops, auditdomain.OpCreateCollaborationTenantDepartment)
	assert.Contains(t, ops, auditdomain.OpCreateParentDepartment)
}

func TestRenameAndMove(t *testing.T) {
	svc, conn, node := newTestService(t)
	testutil.CreateTenant(t, conn, "a")
	testutil.CreateTenant(t, conn, "b")
	ds := testutil.CreateLocalDataSource(t, conn, node, "a")
	asA := tenantcontext.WithTenantID(context.Background(), "a")
	asB := tenantcontext.WithTenantID(context.Background(), "b")

	root, err := svc.Create(asA, domain.CreateDepartmentRequest{DataSourceID: ds.ID.String(), Name: "HQ"})
	require.NoError(t, err)
	eng, err := svc.Create(asA, domain.CreateDepartmentRequest{DataSourceID: ds.ID.String(), Name: "Eng", ParentID: root.ID.String()})
	require.NoError(t, err)
	team, err := svc.Create(asA, domain.CreateDepartmentRequest{DataSourceID: ds.ID.String(), Name: "Team", ParentID: eng.ID.String()})
	require.NoError(t, err)

	renamed, err := svc.Update(asA, eng.ID.String(), domain.UpdateDepartmentRequest{Name: "Engineering"})
	require.NoError(t, err)
	assert.Equal(t, "Engineering", renamed.Name)

	_, err = svc.Update(asB, eng.ID.String(), domain.UpdateDepartmentRequest{Name: "Nope"})
	assert.ErrorIs(t, err, domain.ErrCollaborationDepartmentReadOnly)

	err = svc.Move(asA, eng.ID.String(), domain.MoveDepartmentRequest{ParentID: team.ID.String()})
	assert.ErrorIs(t, err, relation.ErrCycle)

	require.NoError(t, svc.Move(asA, team.ID.String(), domain.MoveDepartmentRequest{}))
	assert.EqualValues(t, 1, testutil.CountWhere(t, conn, &dsdomain.DataSourceDepartmentRelation{}, "department_id = ? AND parent_id IS NULL", team.ID))

	var ops []auditdomain.Operation
	require.NoError(t, conn.Model(&auditdomain.AuditRecord{}).Pluck("operation", &ops).Error)
	assert.Contains(t, ops, auditdomain.OpModifyDataSourceDepartment)
	assert.Contains(t, ops, auditdomain.OpModifyParentDepartment)
}

func TestDeleteRemovesSubtreeButKeepsUsers(t *testing.T) {
	svc, conn, node := newTestService(t)
	testutil.CreateTenant(t, conn, "a")
	ds := testutil.CreateLocalDataSource(t, conn, node, "a")
	asA := tenantcontext.WithTenantID(context.Background(), "a")

	root, err := svc.Create(asA, domain.CreateDepartmentRequest{DataSourceID: ds.ID.String(), Name: "HQ"})
	require.NoError(t, err)
	eng, err := svc.Create(asA, domain.CreateDepartmentRequest{DataSourceID: ds.ID.String(), Name: "Eng", ParentID: root.ID.String()})
	require.NoError(t, err)

	alice := testutil.CreateUser(t, conn, node, ds, "alice")
	_, err = relation.New(conn, node).SetUserDepartments(context.Background(), alice, []snowflake.ID{eng.ID}, time.Now())
	require.NoError(t, err)

	require.NoError(t, svc.Delete(asA, root.ID.String()))

	assert.Zero(t, testutil.CountWhere(t, conn, &dsdomain.DataSourceDepartment{}, "1 = 1"))
	assert.Zero(t, testutil.CountWhere(t, conn, &dsdomain.DataSourceDepartmentRelation{}, "1 = 1"))
	assert.Zero(t, testutil.CountWhere(t, conn, &tenantdomain.TenantDepartment{}, "1 = 1"))
	assert.Zero(t, testutil.CountWhere(t, conn, &dsdomain.DataSourceDepartmentUserRelation{}, "user_id = ?", alice.ID))
	assert.EqualValues(t, 1, testutil.CountWhere(t, conn, &dsdomain.DataSourceUser{}, "id = ?", alice.ID))

	err = svc.Delete(asA, root.ID.String())
	assert.ErrorIs(t, err, dsdomain.ErrDepartmentNotFound)
}
