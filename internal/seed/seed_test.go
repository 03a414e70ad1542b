package seed

import (
	"context"
	"testing"

	"github.com/smallbiznis/directory/internal/config"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	"github.com/smallbiznis/directory/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDefaultTenantIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	cfg := config.Config{DefaultTenantName: "Acme Corp"}

	tenant, err := EnsureDefaultTenant(ctx, conn, node, cfg)
	require.NoError(t, err)
	assert.Equal(t, "acme-corp", tenant.ID)
	assert.Equal(t, "Acme Corp", tenant.Name)
	assert.True(t, tenant.IsDefault)

	_, err = EnsureDefaultTenant(ctx, conn, node, cfg)
	require.NoError(t, err)
	assert.EqualValues(t, 1, testutil.CountWhere(t, conn, &tenantdomain.Tenant{}, "1 = 1"))
	assert.EqualValues(t, 1, testutil.CountWhere(t, conn, &dsdomain.DataSource{}, "owner_tenant_id = ?", "acme-corp"))

	var ds dsdomain.DataSource
	require.NoError(t, conn.Where("owner_tenant_id = ?", "acme-corp").First(&ds).Error)
	capability, err := ds.Capability()
	require.NoError(t, err)
	assert.True(t, capability.IsLocal())
	assert.True(t, capability.PasswordEnabled())
	assert.Equal(t, dsdomain.PasswordPermanent, capability.PasswordExpiry())
}

func TestEnsureDefaultTenantKeepsExistingDefault(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	require.NoError(t, conn.Create(&tenantdomain.Tenant{ID: "legacy", Name: "Legacy", IsDefault: true}).Error)

	tenant, err := EnsureDefaultTenant(ctx, conn, node, config.Config{DefaultTenantID: "main", DefaultTenantName: "Main"})
	require.NoError(t, err)
	assert.Equal(t, "main", tenant.ID)
	assert.False(t, tenant.IsDefault)
}
