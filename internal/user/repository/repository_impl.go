package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	"github.com/smallbiznis/directory/internal/user/domain"
	"github.com/smallbiznis/directory/pkg/db/option"
	store "github.com/smallbiznis/directory/pkg/repository"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindDataSource(ctx context.Context, db *gorm.DB, id snowflake.ID) (*dsdomain.DataSource, error) {
	return store.ProvideStore[dsdomain.DataSource](db).FindOne(ctx, &dsdomain.DataSource{},
		option.ApplyOperator(option.Condition{Field: "id", Value: id}),
	)
}

func (r *repo) FindTenantUsers(ctx context.Context, db *gorm.DB, tenantID string, ids []string) ([]tenantdomain.TenantUser, error) {
	var out []tenantdomain.TenantUser
	if len(ids) == 0 {
		return out, nil
	}
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Order("id asc").
		Find(&out).Error
	return out, err
}

func (r *repo) FindRealTenantUsers(ctx context.Context, db *gorm.DB, tenantID string, ids []string) ([]tenantdomain.TenantUser, error) {
	var out []tenantdomain.TenantUser
	if len(ids) == 0 {
		return out, nil
	}
	err := db.WithContext(ctx).
		Joins("JOIN data_sources ON data_sources.id = tenant_users.data_source_id").
		Where("tenant_users.tenant_id = ? AND tenant_users.id IN ?", tenantID, ids).
		Where("data_sources.type = ?", dsdomain.DataSourceTypeReal).
		Order("tenant_users.id asc").
		Find(&out).Error
	return out, err
}

func (r *repo) FindDataSourceUsers(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]dsdomain.DataSourceUser, error) {
	var out []dsdomain.DataSourceUser
	if len(ids) == 0 {
		return out, nil
	}
	err := db.WithContext(ctx).Where("id IN ?", ids).Order("id asc").Find(&out).Error
	return out, err
}

func (r *repo) ExistingUsernames(ctx context.Context, db *gorm.DB, dataSourceID snowflake.ID, usernames []string) ([]string, error) {
	var out []string
	if len(usernames) == 0 {
		return out, nil
	}
	err := db.WithContext(ctx).
		Model(&dsdomain.DataSourceUser{}).
		Where("data_source_id = ? AND username IN ?", dataSourceID, usernames).
		Pluck("username", &out).Error
	return out, err
}

func (r *repo) CountDepartments(ctx context.Context, db *gorm.DB, dataSourceID snowflake.ID, ids []snowflake.ID) (int64, error) {
	var n int64
	if len(ids) == 0 {
		return 0, nil
	}
	err := db.WithContext(ctx).
		Model(&dsdomain.DataSourceDepartment{}).
		Where("data_source_id = ? AND id IN ?", dataSourceID, ids).
		Count(&n).Error
	return n, err
}

func (r *repo) InsertDataSourceUsers(ctx context.Context, db *gorm.DB, users []dsdomain.DataSourceUser, batchSize int) error {
	if len(users) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(&users, batchSize).Error
}

func (r *repo) UpdateDataSourceUser(ctx context.Context, db *gorm.DB, user dsdomain.DataSourceUser) error {
	return db.WithContext(ctx).
		Model(&dsdomain.DataSourceUser{}).
		Where("id = ?", user.ID).
		Updates(map[string]any{
			"username":           user.Username,
			"full_name":          user.FullName,
			"email":              user.Email,
			"phone":              user.Phone,
			"phone_country_code": user.PhoneCountryCode,
			"logo":               user.Logo,
			"extras":             user.Extras,
			"updated_at":         user.UpdatedAt,
		}).Error
}

func (r *repo) UpdateExtras(ctx context.Context, db *gorm.DB, userID snowflake.ID, extras datatypes.JSONMap, now time.Time) error {
	return db.WithContext(ctx).
		Model(&dsdomain.DataSourceUser{}).
		Where("id = ?", userID).
		Updates(map[string]any{"extras": extras, "updated_at": now}).Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, ids []string, status tenantdomain.TenantUserStatus, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Model(&tenantdomain.TenantUser{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"status": status, "updated_at": now}).Error
}

func (r *repo) UpdateExpiry(ctx context.Context, db *gorm.DB, ids []string, expiredAt time.Time, status tenantdomain.TenantUserStatus, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Model(&tenantdomain.TenantUser{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"account_expired_at": expiredAt,
			"status":             status,
			"updated_at":         now,
		}).Error
}

func (r *repo) UpsertIdentityInfos(ctx context.Context, db *gorm.DB, infos []dsdomain.DataSourceUserIdentityInfo) error {
	if len(infos) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"password_hash", "password_updated_at", "password_expired_at", "updated_at"}),
		}).
		Create(&infos).Error
}
