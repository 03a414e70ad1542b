package domain

import (
	"context"
	"errors"
)

var (
	ErrInvalidTenant              = errors.New("invalid_tenant")
	ErrTenantNotFound             = errors.New("tenant_not_found")
	ErrTenantExists               = errors.New("tenant_already_exists")
	ErrDefaultTenantExists        = errors.New("default_tenant_already_exists")
	ErrTenantMismatch             = errors.New("tenant_mismatch")
	ErrStrategyNotFound           = errors.New("collaboration_strategy_not_found")
	ErrStrategyExists             = errors.New("collaboration_strategy_already_exists")
	ErrSelfCollaboration          = errors.New("collaboration_with_self")
	ErrInvalidCollaborationStatus = errors.New("invalid_collaboration_status")
	ErrCustomFieldExists          = errors.New("custom_field_already_exists")
	ErrInvalidIDGenerateRule      = errors.New("invalid_id_generate_rule")
)

type Service interface {
	Create(ctx context.Context, req CreateTenantRequest) (*Tenant, error)
	Get(ctx context.Context, id string) (*Tenant, error)
	List(ctx context.Context) ([]Tenant, error)

	CreateStrategy(ctx context.Context, req CreateStrategyRequest) (*CollaborationStrategy, error)
	// UpdateSourceStatus is called by the source tenant, UpdateTargetStatus by the target.
	UpdateSourceStatus(ctx context.Context, strategyID string, status CollaborationStatus) (*CollaborationStrategy, error)
	UpdateTargetStatus(ctx context.Context, strategyID string, status CollaborationStatus, cfg *TargetConfig) (*CollaborationStrategy, error)

	UpsertValidityPeriodConfig(ctx context.Context, req ValidityPeriodRequest) (*TenantUserValidityPeriodConfig, error)
	CreateCustomField(ctx context.Context, req CreateCustomFieldRequest) (*TenantUserCustomField, error)
	ListCustomFields(ctx context.Context) ([]TenantUserCustomField, error)
	SetIDGenerateConfig(ctx context.Context, req IDGenerateConfigRequest) (*TenantUserIDGenerateConfig, error)
}

type CreateTenantRequest struct {
	ID        string `json:"id" validate:"required,max=64"`
	Name      string `json:"name" validate:"required,max=128"`
	Logo      string `json:"logo"`
	IsDefault bool   `json:"is_default"`
}

type CreateStrategyRequest struct {
	Name           string `json:"name" validate:"required,max=128"`
	TargetTenantID string `json:"target_tenant_id" validate:"required"`
}

type ValidityPeriodRequest struct {
	Enabled        bool `json:"enabled"`
	ValidityPeriod int  `json:"validity_period" validate:"gte=-1"`
}

type CreateCustomFieldRequest struct {
	Name        string              `json:"name" validate:"required,max=64"`
	DisplayName string              `json:"display_name" validate:"required,max=128"`
	DataType    CustomFieldDataType `json:"data_type" validate:"required,oneof=string number enum multi_enum"`
	Required    bool                `json:"required"`
	Default     any                 `json:"default"`
	Options     []CustomFieldOption `json:"options" validate:"dive"`
}

type IDGenerateConfigRequest struct {
	DataSourceID   string         `json:"data_source_id" validate:"required"`
	TargetTenantID string         `json:"target_tenant_id" validate:"required"`
	Rule           IDGenerateRule `json:"rule" validate:"required,oneof=uuid4_hex username username_with_domain"`
	Domain         string         `json:"domain" validate:"required_if=Rule username_with_domain,omitempty,hostname"`
}
