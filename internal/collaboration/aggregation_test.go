package collaboration

import (
	"context"
	"testing"

	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	"github.com/smallbiznis/directory/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealDataSourcesIncludesCollaborators(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	for _, id := range []string{"default", "a", "b"} {
		testutil.CreateTenant(t, conn, id)
	}
	own := testutil.CreateLocalDataSource(t, conn, node, "default")
	testutil.CreateDataSource(t, conn, node, "default", dsdomain.PluginLocal, dsdomain.DataSourceTypeVirtual)
	shared := testutil.CreateLocalDataSource(t, conn, node, "a")
	testutil.CreateLocalDataSource(t, conn, node, "b")

	testutil.CreateStrategy(t, conn, node, "a", "default", tenantdomain.CollaborationStatusEnabled, tenantdomain.CollaborationStatusDisabled,
		tenantdomain.FieldMapping{SourceField: "region", TargetField: "area"})
	testutil.CreateStrategy(t, conn, node, "b", "default", tenantdomain.CollaborationStatusEnabled, tenantdomain.CollaborationStatusUnconfirmed)

	agg := NewAggregator(conn)
	sources, err := agg.RealDataSources(ctx, "default")
	require.NoError(t, err)

	ids := make([]any, 0, len(sources))
	for _, s := range sources {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []any{own.ID, shared.ID}, ids)

	mapping, err := agg.FieldMapping(ctx, "default")
	require.NoError(t, err)
	field, ok := mapping.LookupField("a", "region")
	assert.True(t, ok)
	assert.Equal(t, "area", field)
	_, ok = mapping.LookupField("b", "region")
	assert.False(t, ok)
}
