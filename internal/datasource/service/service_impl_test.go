package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/directory/internal/audit/domain"
	auditrepository "github.com/smallbiznis/directory/internal/audit/repository"
	auditservice "github.com/smallbiznis/directory/internal/audit/service"
	"github.com/smallbiznis/directory/internal/config"
	"github.com/smallbiznis/directory/internal/datasource/domain"
	"github.com/smallbiznis/directory/internal/datasource/repository"
	"github.com/smallbiznis/directory/internal/relation"
	"github.com/smallbiznis/directory/internal/tenantcontext"
	"github.com/smallbiznis/directory/internal/testutil"
	"github.com/smallbiznis/directory/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB, *snowflake.Node) {
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	audit := auditservice.NewService(auditservice.Params{
		DB:        conn,
		Log:       zap.NewNop(),
		GenID:     node,
		Repo:      auditrepository.Provide(),
		Relations: relation.New(conn, node),
		Config:    config.NewStaticDirectoryConfig(config.DefaultDirectoryConfig()),
	})
	svc := New(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Audit: audit,
	})
	return svc, conn, node
}

func TestCreateValidatesPluginConfig(t *testing.T) {
	svc, conn, _ := newTestService(t)
	testutil.CreateTenant(t, conn, "acme")
	ctx := tenantcontext.WithTenantID(context.Background(), "acme")

	_, err := svc.Create(ctx, domain.CreateDataSourceRequest{
		PluginID:     domain.PluginLDAP,
		Type:         domain.DataSourceTypeReal,
		PluginConfig: json.RawMessage(`{"server_url":"ldap://dir.example.com"}`),
	})
	_, ok := validation.As(err)
	assert.True(t, ok, "expected validation error, got %v", err)

	ds, err := svc.Create(ctx, domain.CreateDataSourceRequest{
		PluginID:     domain.PluginLocal,
		Type:         domain.DataSourceTypeReal,
		PluginConfig: json.RawMessage(testutil.LocalPasswordConfig()),
	})
	require.NoError(t, err)
	assert.Equal(t, "acme", ds.OwnerTenantID)
	assert.Equal(t, int64(1), testutil.CountWhere(t, conn, &auditdomain.AuditRecord{}, "operation = ?", auditdomain.OpCreateDataSource))

	_, err = svc.Get(tenantcontext.WithTenantID(context.Background(), "other"), ds.ID.String())
	assert.ErrorIs(t, err, domain.ErrDataSourceNotFound)
}

func TestUpdatePluginConfigKeepsMaskedSecret(t *testing.T) {
	svc, conn, _ := newTestService(t)
	testutil.CreateTenant(t, conn, "acme")
	ctx := tenantcontext.WithTenantID(context.Background(), "acme")

	ds, err := svc.Create(ctx, domain.CreateDataSourceRequest{
		PluginID: domain.PluginLDAP,
		Type:     domain.DataSourceTypeReal,
		PluginConfig: json.RawMessage(`{"server_url":"ldap://dir.example.com","bind_dn":"cn=admin",` +
			`"bind_password":"sup3rs3cret","base_dn":"dc=example"}`),
	})
	require.NoError(t, err)

	updated, err := svc.UpdatePluginConfig(ctx, ds.ID.String(), json.RawMessage(
		`{"server_url":"ldap://dir2.example.com","bind_dn":"cn=admin","bind_password":"****cret","base_dn":"dc=example"}`))
	require.NoError(t, err)

	var cfg domain.LDAPPluginConfig
	require.NoError(t, json.Unmarshal(updated.PluginConfig, &cfg))
	assert.Equal(t, "sup3rs3cret", cfg.BindPassword)
	assert.Equal(t, "ldap://dir2.example.com", cfg.ServerURL)

	var record auditdomain.AuditRecord
	require.NoError(t, conn.Where("operation = ?", auditdomain.OpModifyDataSource).Take(&record).Error)
	before := record.DataBefore["plugin_config"].(map[string]any)
	assert.Equal(t, "****cret", before["bind_password"])
}

func TestListReturnsOwnedDataSourcesInIDOrder(t *testing.T) {
	svc, conn, node := newTestService(t)
	testutil.CreateTenant(t, conn, "acme")
	testutil.CreateTenant(t, conn, "other")
	first := testutil.CreateLocalDataSource(t, conn, node, "acme")
	testutil.CreateLocalDataSource(t, conn, node, "other")
	second := testutil.CreateDataSource(t, conn, node, "acme", domain.PluginLDAP, domain.DataSourceTypeVirtual)

	got, err := svc.List(tenantcontext.WithTenantID(context.Background(), "acme"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)

	ds, err := svc.Get(tenantcontext.WithTenantID(context.Background(), "acme"), second.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.DataSourceTypeVirtual, ds.Type)
}
