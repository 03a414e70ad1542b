package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository interface {
	FindDataSource(ctx context.Context, db *gorm.DB, id snowflake.ID) (*dsdomain.DataSource, error)
	FindTenantUsers(ctx context.Context, db *gorm.DB, tenantID string, ids []string) ([]tenantdomain.TenantUser, error)
	// FindRealTenantUsers is FindTenantUsers limited to users of real data sources.
	FindRealTenantUsers(ctx context.Context, db *gorm.DB, tenantID string, ids []string) ([]tenantdomain.TenantUser, error)
	FindDataSourceUsers(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]dsdomain.DataSourceUser, error)
	ExistingUsernames(ctx context.Context, db *gorm.DB, dataSourceID snowflake.ID, usernames []string) ([]string, error)
	CountDepartments(ctx context.Context, db *gorm.DB, dataSourceID snowflake.ID, ids []snowflake.ID) (int64, error)

	InsertDataSourceUsers(ctx context.Context, db *gorm.DB, users []dsdomain.DataSourceUser, batchSize int) error
	UpdateDataSourceUser(ctx context.Context, db *gorm.DB, user dsdomain.DataSourceUser) error
	UpdateExtras(ctx context.Context, db *gorm.DB, userID snowflake.ID, extras datatypes.JSONMap, now time.Time) error
	UpdateStatus(ctx context.Context, db *gorm.DB, ids []string, status tenantdomain.TenantUserStatus, now time.Time) error
	UpdateExpiry(ctx context.Context, db *gorm.DB, ids []string, expiredAt time.Time, status tenantdomain.TenantUserStatus, now time.Time) error
	UpsertIdentityInfos(ctx context.Context, db *gorm.DB, infos []dsdomain.DataSourceUserIdentityInfo) error
}
