package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/directory/internal/tenant/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) CreateTenant(ctx context.Context, tenant domain.Tenant) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO tenants (id, name, logo, is_default, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tenant.ID,
		tenant.Name,
		tenant.Logo,
		tenant.IsDefault,
		tenant.CreatedAt,
		tenant.UpdatedAt,
	).Error
}

func (r *repository) GetTenant(ctx context.Context, id string) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, name, logo, is_default, created_at, updated_at
		 FROM tenants WHERE id = ?`,
		id,
	).Scan(&tenant).Error
	if err != nil {
		return nil, err
	}
	if tenant.ID == "" {
		return nil, nil
	}
	return &tenant, nil
}

func (r *repository) GetDefaultTenant(ctx context.Context) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := r.db.WithContext(ctx).Where("is_default = ?", true).Take(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *repository) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	var tenants []domain.Tenant
	err := r.db.WithContext(ctx).Order("created_at asc, id asc").Find(&tenants).Error
	return tenants, err
}

func (r *repository) CreateStrategy(ctx context.Context, strategy domain.CollaborationStrategy) error {
	return r.db.WithContext(ctx).Create(&strategy).Error
}

func (r *repository) GetStrategy(ctx context.Context, id snowflake.ID) (*domain.CollaborationStrategy, error) {
	var strategy domain.CollaborationStrategy
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&strategy).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &strategy, nil
}

func (r *repository) UpdateStrategy(ctx context.Context, strategy domain.CollaborationStrategy) error {
	return r.db.WithContext(ctx).
		Model(&domain.CollaborationStrategy{}).
		Where("id = ?", strategy.ID).
		Updates(map[string]any{
			"source_status": strategy.SourceStatus,
			"target_status": strategy.TargetStatus,
			"target_config": strategy.TargetConfig,
			"updated_at":    strategy.UpdatedAt,
		}).Error
}

func (r *repository) UpsertValidityPeriodConfig(ctx context.Context, cfg domain.TenantUserValidityPeriodConfig) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "validity_period", "updated_at"}),
	}).Create(&cfg).Error
}

func (r *repository) CreateCustomField(ctx context.Context, field domain.TenantUserCustomField) error {
	return r.db.WithContext(ctx).Create(&field).Error
}

func (r *repository) ListCustomFields(ctx context.Context, tenantID string) ([]domain.TenantUserCustomField, error) {
	var fields []domain.TenantUserCustomField
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("name asc").
		Find(&fields).Error
	return fields, err
}

func (r *repository) GetCustomField(ctx context.Context, tenantID, name string) (*domain.TenantUserCustomField, error) {
	var field domain.TenantUserCustomField
	err := r.db.WithContext(ctx).Where("tenant_id = ? AND name = ?", tenantID, name).Take(&field).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &field, nil
}

func (r *repository) UpsertIDGenerateConfig(ctx context.Context, cfg domain.TenantUserIDGenerateConfig) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "data_source_id"}, {Name: "target_tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"rule", "domain"}),
	}).Create(&cfg).Error
}
