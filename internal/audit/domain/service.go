package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	"github.com/smallbiznis/directory/pkg/db/pagination"
	"gorm.io/gorm"
)

var (
	ErrInvalidTenant    = errors.New("invalid_tenant")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
)

type ListRequest struct {
	pagination.Pagination
	Operation  string     `form:"operation"`
	ObjectType string     `form:"object_type"`
	ObjectID   string     `form:"object_id"`
	Operator   string     `form:"operator"`
	StartAt    *time.Time `form:"start_at" time_format:"2006-01-02T15:04:05Z07:00"`
	EndAt      *time.Time `form:"end_at" time_format:"2006-01-02T15:04:05Z07:00"`
}

type ListResponse struct {
	pagination.PageInfo
	Records []AuditRecord `json:"records"`
}

type ListFilter struct {
	TenantID   string
	Operation  string
	ObjectType string
	ObjectID   string
	Operator   string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *Cursor
	Limit      int
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, records []AuditRecord, batchSize int) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]AuditRecord, error)
}

// Service records audit objects. Snapshot methods run before a mutation;
// Record methods run after it commits and never fail the caller: write
// errors are logged and counted.
type Service interface {
	Write(ctx context.Context, objects []Object) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)

	SnapshotUsers(ctx context.Context, db *gorm.DB, tenantUserIDs []string) ([]UserSnapshot, error)
	SnapshotUsersBySource(ctx context.Context, db *gorm.DB, dataSourceUserIDs []snowflake.ID) ([]UserSnapshot, error)
	SnapshotDepartments(ctx context.Context, db *gorm.DB, deptIDs []snowflake.ID) ([]DepartmentSnapshot, error)

	RecordUsersCreated(ctx context.Context, dataSourceUserIDs []snowflake.ID)
	RecordUsersModified(ctx context.Context, before []UserSnapshot, facets ...UserFacet)
	RecordTenantUsersModified(ctx context.Context, op Operation, before []UserSnapshot)
	RecordUsersDeleted(ctx context.Context, before []UserSnapshot)
	RecordPasswordReset(ctx context.Context, users []UserSnapshot, validDays int)

	RecordDepartmentsCreated(ctx context.Context, deptIDs []snowflake.ID)
	RecordDepartmentsModified(ctx context.Context, op Operation, before []DepartmentSnapshot)
	RecordDepartmentsDeleted(ctx context.Context, before []DepartmentSnapshot)

	RecordDataSource(ctx context.Context, op Operation, before, after *dsdomain.DataSource)
}
