// Package testutil builds migrated in-memory databases and fixtures for
// package tests.
package testutil

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	"github.com/smallbiznis/directory/internal/migration"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	"github.com/smallbiznis/directory/pkg/db"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.Apply(conn))
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

func NewNode(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func CreateTenant(t testing.TB, conn *gorm.DB, id string) tenantdomain.Tenant {
	t.Helper()
	now := time.Now().UTC()
	tenant := tenantdomain.Tenant{ID: id, Name: id, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, conn.Create(&tenant).Error)
	return tenant
}

// LocalPasswordConfig enables passwords with a permissive rule.
func LocalPasswordConfig() datatypes.JSON {
	raw, _ := json.Marshal(dsdomain.LocalPluginConfig{
		EnablePassword: true,
		PasswordRule: &dsdomain.PasswordRule{
			MinLength:    8,
			ContainDigit: true,
			ValidTime:    90,
		},
		PasswordInitial: &dsdomain.PasswordInitial{GenerateMethod: "random", Notify: true},
	})
	return raw
}

func CreateDataSource(t testing.TB, conn *gorm.DB, node *snowflake.Node, ownerTenantID, pluginID string, typ dsdomain.DataSourceType) dsdomain.DataSource {
	t.Helper()
	now := time.Now().UTC()
	cfg := datatypes.JSON(`{}`)
	if pluginID == dsdomain.PluginLocal {
		cfg = LocalPasswordConfig()
	}
	ds := dsdomain.DataSource{
		ID:            node.Generate(),
		OwnerTenantID: ownerTenantID,
		Type:          typ,
		PluginID:      pluginID,
		PluginConfig:  cfg,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, conn.Create(&ds).Error)
	return ds
}

func CreateLocalDataSource(t testing.TB, conn *gorm.DB, node *snowflake.Node, ownerTenantID string) dsdomain.DataSource {
	return CreateDataSource(t, conn, node, ownerTenantID, dsdomain.PluginLocal, dsdomain.DataSourceTypeReal)
}

func CreateUser(t testing.TB, conn *gorm.DB, node *snowflake.Node, ds dsdomain.DataSource, username string) dsdomain.DataSourceUser {
	t.Helper()
	now := time.Now().UTC()
	user := dsdomain.DataSourceUser{
		ID:           node.Generate(),
		DataSourceID: ds.ID,
		Code:         username,
		Username:     username,
		FullName:     username,
		Email:        username + "@example.com",
		Extras:       datatypes.JSONMap{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, conn.Create(&user).Error)
	return user
}

// CreateDepartment creates a department and its tree node under parent.
func CreateDepartment(t testing.TB, conn *gorm.DB, node *snowflake.Node, ds dsdomain.DataSource, name string, parent *snowflake.ID) dsdomain.DataSourceDepartment {
	t.Helper()
	now := time.Now().UTC()
	dept := dsdomain.DataSourceDepartment{
		ID:           node.Generate(),
		DataSourceID: ds.ID,
		Code:         name,
		Name:         name,
		Extras:       datatypes.JSONMap{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, conn.Create(&dept).Error)
	require.NoError(t, conn.Create(&dsdomain.DataSourceDepartmentRelation{
		DepartmentID: dept.ID,
		ParentID:     parent,
		DataSourceID: ds.ID,
	}).Error)
	return dept
}

func CreateStrategy(t testing.TB, conn *gorm.DB, node *snowflake.Node, source, target string, sourceStatus, targetStatus tenantdomain.CollaborationStatus, mapping ...tenantdomain.FieldMapping) tenantdomain.CollaborationStrategy {
	t.Helper()
	now := time.Now().UTC()
	strategy := tenantdomain.CollaborationStrategy{
		ID:             node.Generate(),
		Name:           source + "->" + target,
		SourceTenantID: source,
		TargetTenantID: target,
		SourceStatus:   sourceStatus,
		TargetStatus:   targetStatus,
		TargetConfig:   datatypes.NewJSONType(tenantdomain.TargetConfig{FieldMapping: mapping}),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, conn.Create(&strategy).Error)
	return strategy
}

// CountWhere counts rows of model matching the condition.
func CountWhere(t testing.TB, conn *gorm.DB, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(model).Where(query, args...).Count(&n).Error)
	return n
}
