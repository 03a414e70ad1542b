package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateTenant(ctx context.Context, tenant Tenant) error
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	GetDefaultTenant(ctx context.Context) (*Tenant, error)
	ListTenants(ctx context.Context) ([]Tenant, error)

	CreateStrategy(ctx context.Context, strategy CollaborationStrategy) error
	GetStrategy(ctx context.Context, id snowflake.ID) (*CollaborationStrategy, error)
	UpdateStrategy(ctx context.Context, strategy CollaborationStrategy) error

	UpsertValidityPeriodConfig(ctx context.Context, cfg TenantUserValidityPeriodConfig) error
	CreateCustomField(ctx context.Context, field TenantUserCustomField) error
	ListCustomFields(ctx context.Context, tenantID string) ([]TenantUserCustomField, error)
	GetCustomField(ctx context.Context, tenantID, name string) (*TenantUserCustomField, error)
	UpsertIDGenerateConfig(ctx context.Context, cfg TenantUserIDGenerateConfig) error
}
