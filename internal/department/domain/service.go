// Package domain defines department mutations of local data sources.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	"gorm.io/gorm"
)

var (
	ErrInvalidTenant                   = errors.New("invalid_tenant")
	ErrInvalidID                       = errors.New("invalid_id")
	ErrTenantMismatch                  = errors.New("tenant_mismatch")
	ErrCollaborationDepartmentReadOnly = errors.New("collaboration_department_read_only")
	ErrDuplicateSiblingName            = errors.New("department_name_exists_under_parent")
)

type CreateDepartmentRequest struct {
	DataSourceID string `json:"data_source_id" validate:"required"`
	Name         string `json:"name" validate:"required,max=255"`
	ParentID     string `json:"parent_id"`
}

type UpdateDepartmentRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

type MoveDepartmentRequest struct {
	// ParentID empty moves the department to the root.
	ParentID string `json:"parent_id"`
}

// Department ids are data source department ids.
type Service interface {
	Create(ctx context.Context, req CreateDepartmentRequest) (*dsdomain.DataSourceDepartment, error)
	Update(ctx context.Context, id string, req UpdateDepartmentRequest) (*dsdomain.DataSourceDepartment, error)
	Move(ctx context.Context, id string, req MoveDepartmentRequest) error
	Delete(ctx context.Context, id string) error
}

type Repository interface {
	FindDataSource(ctx context.Context, db *gorm.DB, id snowflake.ID) (*dsdomain.DataSource, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*dsdomain.DataSourceDepartment, error)
	SiblingNameExists(ctx context.Context, db *gorm.DB, dataSourceID snowflake.ID, parentID *snowflake.ID, name string, exclude snowflake.ID) (bool, error)
	Insert(ctx context.Context, db *gorm.DB, dept *dsdomain.DataSourceDepartment) error
	Rename(ctx context.Context, db *gorm.DB, dept *dsdomain.DataSourceDepartment) error
}
