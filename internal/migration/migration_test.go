package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/smallbiznis/directory/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestApplyMigratesSqliteFromModels(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, Apply(conn))

	for _, model := range Models() {
		stmt := &gorm.Statement{DB: conn}
		require.NoError(t, stmt.Parse(model))
		assert.True(t, conn.Migrator().HasTable(stmt.Schema.Table), stmt.Schema.Table)
	}
}

func TestEmbeddedMigrationsCreateEveryTable(t *testing.T) {
	up, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000001_directory.up.sql")
	require.NoError(t, err)
	_, err = fs.ReadFile(embeddedMigrations, migrationsDir+"/000001_directory.down.sql")
	require.NoError(t, err)

	conn, err := db.NewTest()
	require.NoError(t, err)
	for _, model := range Models() {
		stmt := &gorm.Statement{DB: conn}
		require.NoError(t, stmt.Parse(model))
		assert.True(t, strings.Contains(string(up), "CREATE TABLE IF NOT EXISTS "+stmt.Schema.Table+" ("), stmt.Schema.Table)
	}
}
