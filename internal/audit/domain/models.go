package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ObjectType string

const (
	ObjectTypeDataSource           ObjectType = "data_source"
	ObjectTypeDataSourceUser       ObjectType = "data_source_user"
	ObjectTypeTenantUser           ObjectType = "tenant_user"
	ObjectTypeDataSourceDepartment ObjectType = "data_source_department"
	ObjectTypeTenantDepartment     ObjectType = "tenant_department"
)

type Operation string

const (
	OpCreateDataSource Operation = "create_data_source"
	OpModifyDataSource Operation = "modify_data_source"

	OpCreateDataSourceUser          Operation = "create_data_source_user"
	OpCreateUserDepartment          Operation = "create_user_department"
	OpCreateUserLeader              Operation = "create_user_leader"
	OpCreateTenantUser              Operation = "create_tenant_user"
	OpCreateCollaborationTenantUser Operation = "create_collaboration_tenant_user"

	OpModifyDataSourceUser       Operation = "modify_data_source_user"
	OpModifyUserDepartment       Operation = "modify_user_department"
	OpModifyUserLeader           Operation = "modify_user_leader"
	OpModifyTenantUser           Operation = "modify_tenant_user"
	OpModifyUserStatus           Operation = "modify_user_status"
	OpModifyUserAccountExpiredAt Operation = "modify_user_account_expired_at"
	OpModifyUserPassword         Operation = "modify_user_password"

	OpDeleteDataSourceUser          Operation = "delete_data_source_user"
	OpDeleteUserDepartment          Operation = "delete_user_department"
	OpDeleteUserLeader              Operation = "delete_user_leader"
	OpDeleteTenantUser              Operation = "delete_tenant_user"
	OpDeleteCollaborationTenantUser Operation = "delete_collaboration_tenant_user"

	OpCreateDataSourceDepartment          Operation = "create_data_source_department"
	OpCreateParentDepartment              Operation = "create_parent_department"
	OpCreateTenantDepartment              Operation = "create_tenant_department"
	OpCreateCollaborationTenantDepartment Operation = "create_collaboration_tenant_department"
	OpModifyDataSourceDepartment          Operation = "modify_data_source_department"
	OpModifyParentDepartment              Operation = "modify_parent_department"
	OpDeleteDataSourceDepartment          Operation = "delete_data_source_department"
	OpDeleteParentDepartment              Operation = "delete_parent_department"
	OpDeleteTenantDepartment              Operation = "delete_tenant_department"
	OpDeleteCollaborationTenantDepartment Operation = "delete_collaboration_tenant_department"
)

// AuditRecord is append-only; nothing updates or deletes it.
type AuditRecord struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	Operator   string            `gorm:"type:varchar(128);not null" json:"operator"`
	TenantID   string            `gorm:"type:varchar(128);not null;index:ix_audit_records_tenant_created,priority:1" json:"tenant_id"`
	BatchID    string            `gorm:"type:varchar(32);not null;index" json:"batch_id"`
	Operation  Operation         `gorm:"type:varchar(64);not null" json:"operation"`
	ObjectType ObjectType        `gorm:"type:varchar(64);not null" json:"object_type"`
	ObjectID   string            `gorm:"type:varchar(128);not null;index" json:"object_id"`
	ObjectName string            `gorm:"type:varchar(255)" json:"object_name"`
	DataBefore datatypes.JSONMap `json:"data_before"`
	DataAfter  datatypes.JSONMap `json:"data_after"`
	Extras     datatypes.JSONMap `json:"extras"`
	CreatedAt  time.Time         `gorm:"not null;index:ix_audit_records_tenant_created,priority:2" json:"created_at"`
}

func (AuditRecord) TableName() string { return "audit_records" }

// Object is one audited facet of a mutation, before it is stamped with
// operator, tenant and batch id.
type Object struct {
	ID         string
	Name       string
	Type       ObjectType
	Operation  Operation
	DataBefore map[string]any
	DataAfter  map[string]any
	Extras     map[string]any
}
