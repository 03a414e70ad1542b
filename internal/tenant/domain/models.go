// Package domain contains persistence models for tenants and their
// projections of data source identities.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// PermanentTime is the expiry assigned to accounts that never expire.
var PermanentTime = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)

type TenantUserStatus string

const (
	TenantUserStatusEnabled  TenantUserStatus = "enabled"
	TenantUserStatusDisabled TenantUserStatus = "disabled"
	TenantUserStatusExpired  TenantUserStatus = "expired"
)

func (s TenantUserStatus) Valid() bool {
	switch s {
	case TenantUserStatusEnabled, TenantUserStatusDisabled, TenantUserStatusExpired:
		return true
	}
	return false
}

type CollaborationStatus string

const (
	CollaborationStatusEnabled     CollaborationStatus = "enabled"
	CollaborationStatusDisabled    CollaborationStatus = "disabled"
	CollaborationStatusUnconfirmed CollaborationStatus = "unconfirmed"
)

type Tenant struct {
	ID        string    `gorm:"primaryKey;type:varchar(128)" json:"id"`
	Name      string    `gorm:"type:varchar(128);not null" json:"name"`
	Logo      string    `gorm:"type:text" json:"logo"`
	IsDefault bool      `gorm:"column:is_default;not null;default:false" json:"is_default"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Tenant) TableName() string { return "tenants" }

// TenantUser is the tenant-scoped projection of a data source user. Rows
// whose TenantID differs from the data source owner are collaboration copies.
type TenantUser struct {
	ID               string           `gorm:"primaryKey;type:varchar(128)" json:"id"`
	TenantID         string           `gorm:"type:varchar(128);not null;uniqueIndex:ux_tenant_users_tenant_ds_user,priority:1" json:"tenant_id"`
	DataSourceID     snowflake.ID     `gorm:"not null;index" json:"data_source_id"`
	DataSourceUserID snowflake.ID     `gorm:"not null;index;uniqueIndex:ux_tenant_users_tenant_ds_user,priority:2" json:"data_source_user_id"`
	Status           TenantUserStatus `gorm:"type:varchar(32);not null" json:"status"`
	AccountExpiredAt time.Time        `gorm:"not null" json:"account_expired_at"`
	CreatedAt        time.Time        `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"not null" json:"updated_at"`
}

func (TenantUser) TableName() string { return "tenant_users" }

type TenantDepartment struct {
	ID                     snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID               string       `gorm:"type:varchar(128);not null;uniqueIndex:ux_tenant_departments_tenant_ds_dept,priority:1" json:"tenant_id"`
	DataSourceID           snowflake.ID `gorm:"not null;index" json:"data_source_id"`
	DataSourceDepartmentID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_tenant_departments_tenant_ds_dept,priority:2" json:"data_source_department_id"`
	CreatedAt              time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt              time.Time    `gorm:"not null" json:"updated_at"`
}

func (TenantDepartment) TableName() string { return "tenant_departments" }

type FieldMapping struct {
	SourceField      string `json:"source_field" validate:"required"`
	TargetField      string `json:"target_field" validate:"required"`
	MappingOperation string `json:"mapping_operation" validate:"omitempty,oneof=direct"`
}

type TargetConfig struct {
	OrganizationScopeType string         `json:"organization_scope_type,omitempty"`
	FieldMapping          []FieldMapping `json:"field_mapping" validate:"dive"`
}

type CollaborationStrategy struct {
	ID             snowflake.ID                     `gorm:"primaryKey" json:"id"`
	Name           string                           `gorm:"type:varchar(128);not null" json:"name"`
	Creator        string                           `gorm:"type:varchar(128)" json:"creator"`
	SourceTenantID string                           `gorm:"type:varchar(128);not null;uniqueIndex:ux_collaboration_strategies_pair,priority:1" json:"source_tenant_id"`
	TargetTenantID string                           `gorm:"type:varchar(128);not null;uniqueIndex:ux_collaboration_strategies_pair,priority:2" json:"target_tenant_id"`
	SourceStatus   CollaborationStatus              `gorm:"type:varchar(32);not null" json:"source_status"`
	TargetStatus   CollaborationStatus              `gorm:"type:varchar(32);not null" json:"target_status"`
	TargetConfig   datatypes.JSONType[TargetConfig] `gorm:"not null" json:"target_config"`
	CreatedAt      time.Time                        `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time                        `gorm:"not null" json:"updated_at"`
}

func (CollaborationStrategy) TableName() string { return "collaboration_strategies" }

// Active reports whether both sides have accepted the strategy.
func (s CollaborationStrategy) Active() bool {
	return s.SourceStatus == CollaborationStatusEnabled && s.TargetStatus == CollaborationStatusEnabled
}

type TenantUserValidityPeriodConfig struct {
	TenantID       string    `gorm:"primaryKey;type:varchar(128)" json:"tenant_id"`
	Enabled        bool      `gorm:"not null;default:false" json:"enabled"`
	ValidityPeriod int       `gorm:"not null;default:-1" json:"validity_period"`
	UpdatedAt      time.Time `gorm:"not null" json:"updated_at"`
}

func (TenantUserValidityPeriodConfig) TableName() string {
	return "tenant_user_validity_period_configs"
}

// ExpiryFrom returns the expiry for an account created at now.
func (c *TenantUserValidityPeriodConfig) ExpiryFrom(now time.Time) time.Time {
	if c == nil || !c.Enabled || c.ValidityPeriod <= 0 {
		return PermanentTime
	}
	return now.AddDate(0, 0, c.ValidityPeriod)
}

// TenantUserIDRecord permanently binds (tenant, data source, code) to the
// tenant user id that was generated for it.
type TenantUserIDRecord struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID     string       `gorm:"type:varchar(128);not null;uniqueIndex:ux_tenant_user_id_records_key,priority:1" json:"tenant_id"`
	DataSourceID snowflake.ID `gorm:"not null;uniqueIndex:ux_tenant_user_id_records_key,priority:2" json:"data_source_id"`
	Code         string       `gorm:"type:varchar(128);not null;uniqueIndex:ux_tenant_user_id_records_key,priority:3" json:"code"`
	TenantUserID string       `gorm:"type:varchar(128);not null;uniqueIndex:ux_tenant_user_id_records_tenant_user_id" json:"tenant_user_id"`
	CreatedAt    time.Time    `gorm:"not null" json:"created_at"`
}

func (TenantUserIDRecord) TableName() string { return "tenant_user_id_records" }

type IDGenerateRule string

const (
	IDGenerateRuleUUID4Hex           IDGenerateRule = "uuid4_hex"
	IDGenerateRuleUsername           IDGenerateRule = "username"
	IDGenerateRuleUsernameWithDomain IDGenerateRule = "username_with_domain"
)

type TenantUserIDGenerateConfig struct {
	ID             snowflake.ID   `gorm:"primaryKey" json:"id"`
	DataSourceID   snowflake.ID   `gorm:"not null;uniqueIndex:ux_tenant_user_id_generate_configs_scope,priority:1" json:"data_source_id"`
	TargetTenantID string         `gorm:"type:varchar(128);not null;uniqueIndex:ux_tenant_user_id_generate_configs_scope,priority:2" json:"target_tenant_id"`
	Rule           IDGenerateRule `gorm:"type:varchar(32);not null" json:"rule"`
	Domain         string         `gorm:"type:varchar(128)" json:"domain"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
}

func (TenantUserIDGenerateConfig) TableName() string { return "tenant_user_id_generate_configs" }

type CustomFieldDataType string

const (
	CustomFieldString    CustomFieldDataType = "string"
	CustomFieldNumber    CustomFieldDataType = "number"
	CustomFieldEnum      CustomFieldDataType = "enum"
	CustomFieldMultiEnum CustomFieldDataType = "multi_enum"
)

type CustomFieldOption struct {
	ID    string `json:"id" validate:"required"`
	Value string `json:"value" validate:"required"`
}

type TenantUserCustomField struct {
	ID          snowflake.ID                           `gorm:"primaryKey" json:"id"`
	TenantID    string                                 `gorm:"type:varchar(128);not null;uniqueIndex:ux_tenant_user_custom_fields_name,priority:1" json:"tenant_id"`
	Name        string                                 `gorm:"type:varchar(128);not null;uniqueIndex:ux_tenant_user_custom_fields_name,priority:2" json:"name"`
	DisplayName string                                 `gorm:"type:varchar(128);not null" json:"display_name"`
	DataType    CustomFieldDataType                    `gorm:"type:varchar(32);not null" json:"data_type"`
	Required    bool                                   `gorm:"not null;default:false" json:"required"`
	Default     datatypes.JSON                         `json:"default"`
	Options     datatypes.JSONSlice[CustomFieldOption] `json:"options"`
	CreatedAt   time.Time                              `gorm:"not null" json:"created_at"`
}

func (TenantUserCustomField) TableName() string { return "tenant_user_custom_fields" }
