package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/directory/internal/audit/domain"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every persisted type, in dependency order.
func Models() []any {
	return []any{
		&tenantdomain.Tenant{},
		&dsdomain.DataSource{},
		&dsdomain.DataSourceUser{},
		&dsdomain.DataSourceDepartment{},
		&dsdomain.DataSourceDepartmentRelation{},
		&dsdomain.DataSourceDepartmentUserRelation{},
		&dsdomain.DataSourceUserLeaderRelation{},
		&dsdomain.DataSourceUserIdentityInfo{},
		&tenantdomain.TenantUser{},
		&tenantdomain.TenantDepartment{},
		&tenantdomain.CollaborationStrategy{},
		&tenantdomain.TenantUserValidityPeriodConfig{},
		&tenantdomain.TenantUserIDRecord{},
		&tenantdomain.TenantUserIDGenerateConfig{},
		&tenantdomain.TenantUserCustomField{},
		&auditdomain.AuditRecord{},
	}
}

// Apply brings the schema up to date. Postgres runs the embedded SQL
// migrations; mysql and sqlite are migrated from the models.
func Apply(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() != "postgres" {
		return conn.AutoMigrate(Models()...)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB.

	return nil
}
