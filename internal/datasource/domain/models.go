package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type DataSourceType string

const (
	DataSourceTypeReal    DataSourceType = "real"
	DataSourceTypeVirtual DataSourceType = "virtual"
)

type DataSource struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	OwnerTenantID string         `gorm:"type:varchar(128);not null;index" json:"owner_tenant_id"`
	Type          DataSourceType `gorm:"type:varchar(32);not null" json:"type"`
	PluginID      string         `gorm:"type:varchar(64);not null" json:"plugin_id"`
	PluginConfig  datatypes.JSON `gorm:"not null" json:"plugin_config"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
}

func (DataSource) TableName() string { return "data_sources" }

func (d DataSource) IsLocal() bool    { return d.PluginID == PluginLocal }
func (d DataSource) IsRealType() bool { return d.Type == DataSourceTypeReal }

// Capability resolves the plugin capabilities of this data source.
func (d DataSource) Capability() (Capability, error) {
	cfg, err := ParsePluginConfig(d.PluginID, d.PluginConfig)
	if err != nil {
		return nil, err
	}
	return capability{ds: d, cfg: cfg}, nil
}

type DataSourceUser struct {
	ID               snowflake.ID      `gorm:"primaryKey" json:"id"`
	DataSourceID     snowflake.ID      `gorm:"not null;uniqueIndex:ux_data_source_users_code,priority:1;uniqueIndex:ux_data_source_users_username,priority:1" json:"data_source_id"`
	Code             string            `gorm:"type:varchar(128);not null;uniqueIndex:ux_data_source_users_code,priority:2" json:"code"`
	Username         string            `gorm:"type:varchar(128);not null;uniqueIndex:ux_data_source_users_username,priority:2" json:"username"`
	FullName         string            `gorm:"type:varchar(128);not null" json:"full_name"`
	Email            string            `gorm:"type:varchar(255)" json:"email"`
	Phone            string            `gorm:"type:varchar(32)" json:"phone"`
	PhoneCountryCode string            `gorm:"type:varchar(16)" json:"phone_country_code"`
	Logo             string            `gorm:"type:text" json:"logo"`
	Extras           datatypes.JSONMap `json:"extras"`
	CreatedAt        time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"not null" json:"updated_at"`
}

func (DataSourceUser) TableName() string { return "data_source_users" }

type DataSourceDepartment struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	DataSourceID snowflake.ID      `gorm:"not null;uniqueIndex:ux_data_source_departments_code,priority:1" json:"data_source_id"`
	Code         string            `gorm:"type:varchar(128);not null;uniqueIndex:ux_data_source_departments_code,priority:2" json:"code"`
	Name         string            `gorm:"type:varchar(255);not null" json:"name"`
	Extras       datatypes.JSONMap `json:"extras"`
	CreatedAt    time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"not null" json:"updated_at"`
}

func (DataSourceDepartment) TableName() string { return "data_source_departments" }

// DataSourceDepartmentRelation is the adjacency row of the department tree.
// ParentID is nil for roots.
type DataSourceDepartmentRelation struct {
	DepartmentID snowflake.ID  `gorm:"primaryKey;autoIncrement:false" json:"department_id"`
	ParentID     *snowflake.ID `gorm:"index" json:"parent_id"`
	DataSourceID snowflake.ID  `gorm:"not null;index" json:"data_source_id"`
}

func (DataSourceDepartmentRelation) TableName() string { return "data_source_department_relations" }

type DataSourceDepartmentUserRelation struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID       snowflake.ID `gorm:"not null;uniqueIndex:ux_ds_department_user,priority:1" json:"user_id"`
	DepartmentID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_ds_department_user,priority:2" json:"department_id"`
	DataSourceID snowflake.ID `gorm:"not null;index" json:"data_source_id"`
	CreatedAt    time.Time    `gorm:"not null" json:"created_at"`
}

func (DataSourceDepartmentUserRelation) TableName() string {
	return "data_source_department_user_relations"
}

type DataSourceUserLeaderRelation struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID       snowflake.ID `gorm:"not null;uniqueIndex:ux_ds_user_leader,priority:1" json:"user_id"`
	LeaderID     snowflake.ID `gorm:"not null;index;uniqueIndex:ux_ds_user_leader,priority:2" json:"leader_id"`
	DataSourceID snowflake.ID `gorm:"not null;index" json:"data_source_id"`
	CreatedAt    time.Time    `gorm:"not null" json:"created_at"`
}

func (DataSourceUserLeaderRelation) TableName() string { return "data_source_user_leader_relations" }

// DataSourceUserIdentityInfo holds credentials of local data source users.
type DataSourceUserIdentityInfo struct {
	UserID            snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	DataSourceID      snowflake.ID `gorm:"not null;index" json:"data_source_id"`
	PasswordHash      string       `gorm:"type:text" json:"-"`
	PasswordUpdatedAt *time.Time   `json:"password_updated_at"`
	PasswordExpiredAt *time.Time   `json:"password_expired_at"`
	CreatedAt         time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"not null" json:"updated_at"`
}

func (DataSourceUserIdentityInfo) TableName() string { return "data_source_user_identity_infos" }
