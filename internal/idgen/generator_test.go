package idgen

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	"github.com/smallbiznis/directory/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestGenerateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	testutil.CreateTenant(t, conn, "acme")
	ds := testutil.CreateLocalDataSource(t, conn, node, "acme")
	user := testutil.CreateUser(t, conn, node, ds, "alice")

	gen, err := New(ctx, conn, node, "acme", ds)
	require.NoError(t, err)

	first, err := gen.Generate(ctx, user)
	require.NoError(t, err)
	assert.Len(t, first, 32)

	again, err := New(ctx, conn, node, "acme", ds)
	require.NoError(t, err)
	second, err := again.Generate(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.EqualValues(t, 1, testutil.CountWhere(t, conn, &tenantdomain.TenantUserIDRecord{}, "code = ?", "alice"))
}

func TestGenerateScopesPerTenant(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	testutil.CreateTenant(t, conn, "a")
	testutil.CreateTenant(t, conn, "b")
	ds := testutil.CreateLocalDataSource(t, conn, node, "a")
	user := testutil.CreateUser(t, conn, node, ds, "alice")

	genA, err := New(ctx, conn, node, "a", ds)
	require.NoError(t, err)
	genB, err := New(ctx, conn, node, "b", ds)
	require.NoError(t, err)

	idA, err := genA.Generate(ctx, user)
	require.NoError(t, err)
	idB, err := genB.Generate(ctx, user)
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB)
}

func TestUsernameRuleFallsBackWhenTaken(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	testutil.CreateTenant(t, conn, "a")
	testutil.CreateTenant(t, conn, "b")
	dsA := testutil.CreateLocalDataSource(t, conn, node, "a")
	dsB := testutil.CreateLocalDataSource(t, conn, node, "b")

	for _, ds := range []dsdomain.DataSource{dsA, dsB} {
		require.NoError(t, conn.Create(&tenantdomain.TenantUserIDGenerateConfig{
			ID:             node.Generate(),
			DataSourceID:   ds.ID,
			TargetTenantID: ds.OwnerTenantID,
			Rule:           tenantdomain.IDGenerateRuleUsername,
			CreatedAt:      time.Now().UTC(),
		}).Error)
	}

	aliceA := testutil.CreateUser(t, conn, node, dsA, "alice")
	aliceB := testutil.CreateUser(t, conn, node, dsB, "alice")

	genA, err := New(ctx, conn, node, "a", dsA)
	require.NoError(t, err)
	id, err := genA.Generate(ctx, aliceA)
	require.NoError(t, err)
	assert.Equal(t, "alice", id)

	genB, err := New(ctx, conn, node, "b", dsB)
	require.NoError(t, err)
	id, err = genB.Generate(ctx, aliceB)
	require.NoError(t, err)
	assert.NotEqual(t, "alice", id)
	assert.Len(t, id, 32)
}

func TestUsernameWithDomainRule(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	testutil.CreateTenant(t, conn, "a")
	ds := testutil.CreateLocalDataSource(t, conn, node, "a")
	require.NoError(t, conn.Create(&tenantdomain.TenantUserIDGenerateConfig{
		ID:             node.Generate(),
		DataSourceID:   ds.ID,
		TargetTenantID: "a",
		Rule:           tenantdomain.IDGenerateRuleUsernameWithDomain,
		Domain:         "example.org",
		CreatedAt:      time.Now().UTC(),
	}).Error)
	user := testutil.CreateUser(t, conn, node, ds, "bob")

	gen, err := New(ctx, conn, node, "a", ds)
	require.NoError(t, err)
	id, err := gen.Generate(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "bob@example.org", id)
}

func TestGenerateBatchAvoidsCollisions(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	testutil.CreateTenant(t, conn, "a")
	ds := testutil.CreateLocalDataSource(t, conn, node, "a")
	require.NoError(t, conn.Create(&tenantdomain.TenantUserIDGenerateConfig{
		ID:             node.Generate(),
		DataSourceID:   ds.ID,
		TargetTenantID: "a",
		Rule:           tenantdomain.IDGenerateRuleUsername,
		CreatedAt:      time.Now().UTC(),
	}).Error)

	// a pre-existing record owns the id "u3" under another code
	require.NoError(t, conn.Create(&tenantdomain.TenantUserIDRecord{
		ID: node.Generate(), TenantID: "a", DataSourceID: ds.ID, Code: "legacy", TenantUserID: "u3",
		CreatedAt: time.Now().UTC(),
	}).Error)

	var users []dsdomain.DataSourceUser
	for i := 0; i < 5; i++ {
		users = append(users, testutil.CreateUser(t, conn, node, ds, fmt.Sprintf("u%d", i)))
	}

	gen, err := New(ctx, conn, node, "a", ds, WithBatchSize(2))
	require.NoError(t, err)
	ids, err := gen.GenerateBatch(ctx, users)
	require.NoError(t, err)
	require.Len(t, ids, 5)

	seen := map[string]bool{}
	for _, u := range users {
		id := ids[u.ID]
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Equal(t, "u0", ids[users[0].ID])
	assert.NotEqual(t, "u3", ids[users[3].ID])

	again, err := gen.GenerateBatch(ctx, users)
	require.NoError(t, err)
	assert.Equal(t, ids, again)
}

func TestGenerateBatchHundredUsers(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	testutil.CreateTenant(t, conn, "a")
	ds := testutil.CreateLocalDataSource(t, conn, node, "a")

	users := make([]dsdomain.DataSourceUser, 0, 100)
	for i := 0; i < 100; i++ {
		users = append(users, testutil.CreateUser(t, conn, node, ds, fmt.Sprintf("user-%03d", i)))
	}

	gen, err := New(ctx, conn, node, "a", ds)
	require.NoError(t, err)
	ids, err := gen.GenerateBatch(ctx, users)
	require.NoError(t, err)

	unique := map[string]struct{}{}
	for _, id := range ids {
		unique[id] = struct{}{}
	}
	assert.Len(t, unique, 100)
	assert.EqualValues(t, 100, testutil.CountWhere(t, conn, &tenantdomain.TenantUserIDRecord{}, "tenant_id = ?", "a"))
}

// competeOnInsert registers a create hook that writes a record for code with
// id just before the generator's own insert runs, once.
func competeOnInsert(t *testing.T, conn *gorm.DB, node *snowflake.Node, tenantID string, ds dsdomain.DataSource, code, id string) {
	t.Helper()
	fired := false
	err := conn.Callback().Create().Before("gorm:create").Register("test:compete_"+code, func(db *gorm.DB) {
		if fired || db.Statement.Schema == nil || db.Statement.Schema.Table != "tenant_user_id_records" {
			return
		}
		fired = true
		rival := tenantdomain.TenantUserIDRecord{
			ID: node.Generate(), TenantID: tenantID, DataSourceID: ds.ID, Code: code, TenantUserID: id,
			CreatedAt: time.Now().UTC(),
		}
		if err := db.Session(&gorm.Session{NewDB: true}).Create(&rival).Error; err != nil {
			_ = db.AddError(err)
		}
	})
	require.NoError(t, err)
}

func TestGenerateReturnsConcurrentWinner(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	testutil.CreateTenant(t, conn, "a")
	ds := testutil.CreateLocalDataSource(t, conn, node, "a")
	user := testutil.CreateUser(t, conn, node, ds, "alice")

	competeOnInsert(t, conn, node, "a", ds, "alice", "winner-alice")

	gen, err := New(ctx, conn, node, "a", ds)
	require.NoError(t, err)
	id, err := gen.Generate(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "winner-alice", id)
	assert.EqualValues(t, 1, testutil.CountWhere(t, conn, &tenantdomain.TenantUserIDRecord{}, "code = ?", "alice"))
}

func TestGenerateBatchReturnsConcurrentWinner(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	testutil.CreateTenant(t, conn, "a")
	ds := testutil.CreateLocalDataSource(t, conn, node, "a")

	var users []dsdomain.DataSourceUser
	for i := 0; i < 3; i++ {
		users = append(users, testutil.CreateUser(t, conn, node, ds, fmt.Sprintf("u%d", i)))
	}

	competeOnInsert(t, conn, node, "a", ds, "u1", "winner-u1")

	gen, err := New(ctx, conn, node, "a", ds)
	require.NoError(t, err)
	ids, err := gen.GenerateBatch(ctx, users)
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Equal(t, "winner-u1", ids[users[1].ID])
	assert.NotEqual(t, "winner-u1", ids[users[0].ID])
	assert.NotEqual(t, "winner-u1", ids[users[2].ID])
	assert.EqualValues(t, 3, testutil.CountWhere(t, conn, &tenantdomain.TenantUserIDRecord{}, "tenant_id = ?", "a"))
}
