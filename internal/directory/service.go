// Package directory answers the read-side questions of the directory:
// organization paths, user search and listing, and the default tenant
// aggregation used by legacy consumers.
package directory

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/directory/internal/collaboration"
	"github.com/smallbiznis/directory/internal/config"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	"github.com/smallbiznis/directory/internal/relation"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	"github.com/smallbiznis/directory/internal/tenantcontext"
	"github.com/smallbiznis/directory/internal/validation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidTenant       = errors.New("invalid_tenant")
	ErrTenantUserNotFound  = errors.New("tenant_user_not_found")
	ErrDataSourceNotShared = errors.New("data_source_not_shared")
)

type SearchUsersRequest struct {
	Keyword       string `json:"keyword" validate:"required,max=64"`
	OwnerTenantID string `json:"owner_tenant_id" validate:"omitempty,max=128"`
}

// ListUsersRequest lists users of OwnerTenantID's real data source. With no
// DepartmentID and Recursive unset only users outside every department are
// returned.
type ListUsersRequest struct {
	OwnerTenantID string `json:"owner_tenant_id" validate:"required,max=128"`
	DepartmentID  string `json:"department_id"`
	Recursive     bool   `json:"recursive"`
	Limit         int    `json:"limit" validate:"omitempty,min=1,max=1000"`
	Offset        int    `json:"offset" validate:"omitempty,min=0"`
}

// User is a tenant user joined with its shared data source row.
type User struct {
	ID                string                        `json:"id"`
	TenantID          string                        `json:"tenant_id"`
	OwnerTenantID     string                        `json:"owner_tenant_id"`
	OwnerTenantName   string                        `gorm:"-" json:"owner_tenant_name"`
	DataSourceID      snowflake.ID                  `json:"data_source_id"`
	DataSourceUserID  snowflake.ID                  `json:"data_source_user_id"`
	Username          string                        `json:"username"`
	FullName          string                        `json:"full_name"`
	Email             string                        `json:"email"`
	Phone             string                        `json:"phone"`
	PhoneCountryCode  string                        `json:"phone_country_code"`
	Status            tenantdomain.TenantUserStatus `json:"status"`
	OrganizationPaths []string                      `gorm:"-" json:"organization_paths"`
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	App        config.Config
	Config     *config.DirectoryConfigHolder
	Relations  *relation.Store
	Aggregator *collaboration.Aggregator
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	app        config.Config
	cfg        *config.DirectoryConfigHolder
	relations  *relation.Store
	aggregator *collaboration.Aggregator
}

func New(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("directory.service"),
		app:        p.App,
		cfg:        p.Config,
		relations:  p.Relations,
		aggregator: p.Aggregator,
	}
}

// OrganizationPaths returns one path per department of the user, names
// joined root to leaf with the configured separator.
func (s *Service) OrganizationPaths(ctx context.Context, tenantUserID string) ([]string, error) {
	tenantID, ok := tenantcontext.TenantIDFromContext(ctx)
	if !ok {
		return nil, ErrInvalidTenant
	}
	var tu tenantdomain.TenantUser
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", strings.TrimSpace(tenantUserID), tenantID).
		First(&tu).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTenantUserNotFound
	}
	if err != nil {
		return nil, err
	}

	paths, err := s.pathsByUsers(ctx, []snowflake.ID{tu.DataSourceUserID})
	if err != nil {
		return nil, err
	}
	return paths[tu.DataSourceUserID], nil
}

// SearchUsers matches keyword against username, full name, email and phone
// of the caller tenant's users coming from real data sources.
func (s *Service) SearchUsers(ctx context.Context, req SearchUsersRequest) ([]User, error) {
	tenantID, ok := tenantcontext.TenantIDFromContext(ctx)
	if !ok {
		return nil, ErrInvalidTenant
	}
	req.Keyword = strings.TrimSpace(req.Keyword)
	req.OwnerTenantID = strings.TrimSpace(req.OwnerTenantID)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	sources, err := s.aggregator.RealDataSources(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	dsIDs := make([]snowflake.ID, 0, len(sources))
	for _, ds := range sources {
		if req.OwnerTenantID != "" && ds.OwnerTenantID != req.OwnerTenantID {
			continue
		}
		dsIDs = append(dsIDs, ds.ID)
	}
	if len(dsIDs) == 0 {
		return []User{}, nil
	}

	like := "%" + req.Keyword + "%"
	var rows []User
	err = s.userQuery(ctx).
		Where("tu.tenant_id = ? AND tu.data_source_id IN ?", tenantID, dsIDs).
		Where("u.username LIKE ? OR u.full_name LIKE ? OR u.email LIKE ? OR u.phone LIKE ?", like, like, like, like).
		Order("u.username asc").
		Limit(s.cfg.Get().SearchLimit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, rows)
}

// ListUsers pages through the users of the owner tenant's real data source
// as seen from the caller tenant, ordered by username.
func (s *Service) ListUsers(ctx context.Context, req ListUsersRequest) ([]User, error) {
	tenantID, ok := tenantcontext.TenantIDFromContext(ctx)
	if !ok {
		return nil, ErrInvalidTenant
	}
	req.OwnerTenantID = strings.TrimSpace(req.OwnerTenantID)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if req.Limit == 0 {
		req.Limit = s.cfg.Get().SearchLimit
	}

	ds, err := s.visibleDataSource(ctx, tenantID, req.OwnerTenantID)
	if err != nil {
		return nil, err
	}

	q := s.userQuery(ctx).Where("tu.tenant_id = ? AND tu.data_source_id = ?", tenantID, ds.ID)
	switch {
	case strings.TrimSpace(req.DepartmentID) != "":
		userIDs, err := s.departmentUsers(ctx, ds, req.DepartmentID, req.Recursive)
		if err != nil {
			return nil, err
		}
		if len(userIDs) == 0 {
			return []User{}, nil
		}
		q = q.Where("u.id IN ?", userIDs)
	case !req.Recursive:
		q = q.Where("NOT EXISTS (?)", s.db.
			Model(&dsdomain.DataSourceDepartmentUserRelation{}).
			Select("1").
			Where("data_source_department_user_relations.user_id = u.id"))
	}

	var rows []User
	err = q.Order("u.username asc").
		Limit(req.Limit).
		Offset(req.Offset).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, rows)
}

// DefaultTenantDataSources returns the real data sources visible to the
// default tenant.
func (s *Service) DefaultTenantDataSources(ctx context.Context) ([]dsdomain.DataSource, error) {
	tenantID, err := s.defaultTenant(ctx)
	if err != nil {
		return nil, err
	}
	return s.aggregator.RealDataSources(ctx, tenantID)
}

// DefaultTenantFieldMapping returns the field mapping of every strategy
// shared into the default tenant, keyed by source tenant.
func (s *Service) DefaultTenantFieldMapping(ctx context.Context) (collaboration.FieldMap, error) {
	tenantID, err := s.defaultTenant(ctx)
	if err != nil {
		return nil, err
	}
	return s.aggregator.FieldMapping(ctx, tenantID)
}

// defaultTenant resolves the configured default tenant on every call, then
// the tenant flagged is_default.
func (s *Service) defaultTenant(ctx context.Context) (string, error) {
	id := s.app.DefaultTenant()
	var tenant tenantdomain.Tenant
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&tenant).Error
	if err == nil {
		return tenant.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}
	err = s.db.WithContext(ctx).Where("is_default = ?", true).First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Warn("default tenant not found", zap.String("tenant_id", id))
		return "", ErrInvalidTenant
	}
	if err != nil {
		return "", err
	}
	return tenant.ID, nil
}

func (s *Service) userQuery(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Table("tenant_users AS tu").
		Select(`tu.id AS id, tu.tenant_id AS tenant_id, tu.data_source_id AS data_source_id,
			tu.data_source_user_id AS data_source_user_id, tu.status AS status,
			u.username AS username, u.full_name AS full_name, u.email AS email,
			u.phone AS phone, u.phone_country_code AS phone_country_code,
			ds.owner_tenant_id AS owner_tenant_id`).
		Joins("JOIN data_source_users AS u ON u.id = tu.data_source_user_id").
		Joins("JOIN data_sources AS ds ON ds.id = tu.data_source_id")
}

// visibleDataSource picks the real data source of ownerTenantID, which the
// caller sees when it owns it or collaborates with the owner.
func (s *Service) visibleDataSource(ctx context.Context, tenantID, ownerTenantID string) (dsdomain.DataSource, error) {
	sources, err := s.aggregator.RealDataSources(ctx, tenantID)
	if err != nil {
		return dsdomain.DataSource{}, err
	}
	for _, ds := range sources {
		if ds.OwnerTenantID == ownerTenantID {
			return ds, nil
		}
	}
	return dsdomain.DataSource{}, ErrDataSourceNotShared
}

func (s *Service) departmentUsers(ctx context.Context, ds dsdomain.DataSource, rawID string, recursive bool) ([]snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(rawID))
	if err != nil {
		return nil, validation.New("department_id", "invalid", "must be a department id")
	}
	var n int64
	err = s.db.WithContext(ctx).
		Model(&dsdomain.DataSourceDepartment{}).
		Where("id = ? AND data_source_id = ?", id, ds.ID).
		Count(&n).Error
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, dsdomain.ErrDepartmentNotFound
	}

	deptIDs := []snowflake.ID{id}
	if recursive {
		if deptIDs, err = s.relations.Descendants(ctx, id, true); err != nil {
			return nil, err
		}
	}
	return s.relations.UsersInDepartments(ctx, deptIDs)
}

// enrich fills owner tenant names and organization paths.
func (s *Service) enrich(ctx context.Context, users []User) ([]User, error) {
	if len(users) == 0 {
		return []User{}, nil
	}
	ownerIDs := make([]string, 0, len(users))
	userIDs := make([]snowflake.ID, 0, len(users))
	for _, u := range users {
		ownerIDs = append(ownerIDs, u.OwnerTenantID)
		userIDs = append(userIDs, u.DataSourceUserID)
	}

	var tenants []tenantdomain.Tenant
	if err := s.db.WithContext(ctx).Where("id IN ?", ownerIDs).Find(&tenants).Error; err != nil {
		return nil, err
	}
	names := make(map[string]string, len(tenants))
	for _, t := range tenants {
		names[t.ID] = t.Name
	}

	paths, err := s.pathsByUsers(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].OwnerTenantName = names[users[i].OwnerTenantID]
		users[i].OrganizationPaths = paths[users[i].DataSourceUserID]
		if users[i].OrganizationPaths == nil {
			users[i].OrganizationPaths = []string{}
		}
	}
	return users, nil
}

func (s *Service) pathsByUsers(ctx context.Context, userIDs []snowflake.ID) (map[snowflake.ID][]string, error) {
	deptsByUser, err := s.relations.DepartmentIDsByUsers(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	sep := s.cfg.Get().OrganizationPathSeparator
	cache := make(map[snowflake.ID]string)
	out := make(map[snowflake.ID][]string, len(deptsByUser))
	for userID, deptIDs := range deptsByUser {
		paths := make([]string, 0, len(deptIDs))
		for _, deptID := range deptIDs {
			path, ok := cache[deptID]
			if !ok {
				if path, err = s.relations.OrganizationPath(ctx, deptID, sep); err != nil {
					return nil, err
				}
				cache[deptID] = path
			}
			paths = append(paths, path)
		}
		sort.Strings(paths)
		out[userID] = paths
	}
	return out, nil
}
