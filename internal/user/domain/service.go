// Package domain defines the mutating operations on directory users.
package domain

import (
	"context"
	"errors"
	"time"

	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
)

var (
	ErrInvalidTenant             = errors.New("invalid_tenant")
	ErrInvalidID                 = errors.New("invalid_id")
	ErrTenantMismatch            = errors.New("tenant_mismatch")
	ErrTenantUserNotFound        = errors.New("tenant_user_not_found")
	ErrCollaborationUserReadOnly = errors.New("collaboration_user_read_only")
	ErrMixedDataSources          = errors.New("users_from_multiple_data_sources")
	ErrEmptyBatch                = errors.New("empty_batch")
	ErrInvalidStatus             = errors.New("invalid_tenant_user_status")
	ErrInvalidExpiry             = errors.New("invalid_account_expired_at")
	ErrReservedUsername          = errors.New("username_reserved")
	ErrCustomFieldNotFound       = errors.New("custom_field_not_found")
)

type DepartmentMode string

const (
	DepartmentModeAppend  DepartmentMode = "append"
	DepartmentModeReplace DepartmentMode = "replace"
)

// CreateUserRequest creates a user in a local real data source of the
// caller's tenant. DepartmentIDs are data source department ids, LeaderIDs
// are tenant user ids of the same tenant and data source.
type CreateUserRequest struct {
	DataSourceID     string         `json:"data_source_id" validate:"required"`
	Username         string         `json:"username" validate:"required,username"`
	FullName         string         `json:"full_name" validate:"required,max=128"`
	Email            string         `json:"email" validate:"omitempty,email,max=255"`
	Phone            string         `json:"phone" validate:"omitempty,max=32"`
	PhoneCountryCode string         `json:"phone_country_code" validate:"omitempty,max=16"`
	Logo             string         `json:"logo"`
	Extras           map[string]any `json:"extras"`
	DepartmentIDs    []string       `json:"department_ids"`
	LeaderIDs        []string       `json:"leader_ids"`
}

// QuickUser is one row of a batch quick entry.
type QuickUser struct {
	Username         string         `json:"username" validate:"required,username"`
	FullName         string         `json:"full_name" validate:"required,max=128"`
	Email            string         `json:"email" validate:"omitempty,email,max=255"`
	Phone            string         `json:"phone" validate:"omitempty,max=32"`
	PhoneCountryCode string         `json:"phone_country_code" validate:"omitempty,max=16"`
	Extras           map[string]any `json:"extras"`
}

type BatchCreateUsersRequest struct {
	DataSourceID string      `json:"data_source_id" validate:"required"`
	DepartmentID string      `json:"department_id"`
	Users        []QuickUser `json:"users" validate:"required,min=1,max=1000,dive"`
}

// UpdateUserRequest replaces the shared fields of a user. Departments and
// leaders are applied as a differential update.
type UpdateUserRequest struct {
	Username         string         `json:"username" validate:"required,username"`
	FullName         string         `json:"full_name" validate:"required,max=128"`
	Email            string         `json:"email" validate:"omitempty,email,max=255"`
	Phone            string         `json:"phone" validate:"omitempty,max=32"`
	PhoneCountryCode string         `json:"phone_country_code" validate:"omitempty,max=16"`
	Logo             string         `json:"logo"`
	Extras           map[string]any `json:"extras"`
	DepartmentIDs    []string       `json:"department_ids"`
	LeaderIDs        []string       `json:"leader_ids"`
	AccountExpiredAt *time.Time     `json:"account_expired_at"`
}

type Service interface {
	CreateUser(ctx context.Context, req CreateUserRequest) (*tenantdomain.TenantUser, error)
	BatchCreateUsers(ctx context.Context, req BatchCreateUsersRequest) ([]tenantdomain.TenantUser, error)
	UpdateUser(ctx context.Context, tenantUserID string, req UpdateUserRequest) error

	DeleteUser(ctx context.Context, tenantUserID string) error
	BatchDeleteUsers(ctx context.Context, tenantUserIDs []string) error

	UpdateStatus(ctx context.Context, tenantUserID string) (*tenantdomain.TenantUser, error)
	BatchUpdateStatus(ctx context.Context, tenantUserIDs []string, status tenantdomain.TenantUserStatus) error
	UpdateExpiry(ctx context.Context, tenantUserID string, expiredAt time.Time) error
	BatchUpdateExpiry(ctx context.Context, tenantUserIDs []string, expiredAt time.Time) error

	ResetPassword(ctx context.Context, tenantUserID, newPassword string) error
	BatchResetPassword(ctx context.Context, tenantUserIDs []string, newPassword string) error

	UpdateLeaders(ctx context.Context, tenantUserIDs, leaderIDs []string) error
	BatchUpdateDepartments(ctx context.Context, tenantUserIDs, departmentIDs []string, mode DepartmentMode) error
	BatchUpdateCustomField(ctx context.Context, tenantUserIDs []string, field string, value any) error
}
