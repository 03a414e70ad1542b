package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	auditdomain "github.com/smallbiznis/directory/internal/audit/domain"
	"github.com/smallbiznis/directory/internal/clock"
	"github.com/smallbiznis/directory/internal/collaboration"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	"github.com/smallbiznis/directory/internal/department/domain"
	"github.com/smallbiznis/directory/internal/relation"
	"github.com/smallbiznis/directory/internal/tenantcontext"
	"github.com/smallbiznis/directory/internal/validation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Relations  *relation.Store
	Propagator *collaboration.Propagator
	Audit      auditdomain.Service
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	relations  *relation.Store
	propagator *collaboration.Propagator
	audit      auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("department.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		relations:  p.Relations,
		propagator: p.Propagator,
		audit:      p.Audit,
	}
}

// Create adds a department under the optional parent and projects it into
// the owner tenant and every active collaboration target.
func (s *Service) Create(ctx context.Context, req domain.CreateDepartmentRequest) (*dsdomain.DataSourceDepartment, error) {
	tenantID, ok := tenantcontext.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	dsID, err := parseID(req.DataSourceID)
	if err != nil {
		return nil, err
	}
	ds, err := s.writableDataSource(ctx, tenantID, dsID)
	if err != nil {
		return nil, err
	}

	var parentID *snowflake.ID
	if strings.TrimSpace(req.ParentID) != "" {
		parent, err := s.department(ctx, req.ParentID)
		if err != nil {
			return nil, err
		}
		if parent.DataSourceID != ds.ID {
			return nil, relation.ErrCrossDataSource
		}
		parentID = &parent.ID
	}
	exists, err := s.repo.SiblingNameExists(ctx, s.db, ds.ID, parentID, req.Name, 0)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.ErrDuplicateSiblingName
	}

	now := s.clock.Now().UTC()
	dept := dsdomain.DataSourceDepartment{
		ID:           s.genID.Generate(),
		DataSourceID: ds.ID,
		Code:         strings.ReplaceAll(uuid.NewString(), "-", ""),
		Name:         req.Name,
		Extras:       datatypes.JSONMap{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &dept); err != nil {
			return err
		}
		if err := s.relations.WithTx(tx).SetParent(ctx, ds.ID, dept.ID, parentID); err != nil {
			return err
		}
		_, err := s.propagator.FanOutDepartments(ctx, tx, ds, []dsdomain.DataSourceDepartment{dept}, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.RecordDepartmentsCreated(ctx, []snowflake.ID{dept.ID})
	return &dept, nil
}

// Update renames a department. Tenant projections join the shared row, so
// nothing is propagated.
func (s *Service) Update(ctx context.Context, id string, req domain.UpdateDepartmentRequest) (*dsdomain.DataSourceDepartment, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	dept, err := s.ownedDepartment(ctx, id)
	if err != nil {
		return nil, err
	}
	if dept.Name == req.Name {
		return dept, nil
	}
	parentID, err := s.relations.Parent(ctx, dept.ID)
	if err != nil {
		return nil, err
	}
	exists, err := s.repo.SiblingNameExists(ctx, s.db, dept.DataSourceID, parentID, req.Name, dept.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.ErrDuplicateSiblingName
	}

	before, err := s.audit.SnapshotDepartments(ctx, s.db, []snowflake.ID{dept.ID})
	if err != nil {
		return nil, err
	}
	dept.Name = req.Name
	dept.UpdatedAt = s.clock.Now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.Rename(ctx, tx, dept)
	})
	if err != nil {
		return nil, err
	}

	s.audit.RecordDepartmentsModified(ctx, auditdomain.OpModifyDataSourceDepartment, before)
	return dept, nil
}

// Move re-parents a department together with its subtree. Moving below
// itself or a descendant fails with relation.ErrCycle.
func (s *Service) Move(ctx context.Context, id string, req domain.MoveDepartmentRequest) error {
	dept, err := s.ownedDepartment(ctx, id)
	if err != nil {
		return err
	}

	var parentID *snowflake.ID
	if strings.TrimSpace(req.ParentID) != "" {
		parent, err := s.department(ctx, req.ParentID)
		if err != nil {
			return err
		}
		if parent.DataSourceID != dept.DataSourceID {
			return relation.ErrCrossDataSource
		}
		subtree, err := s.relations.Descendants(ctx, dept.ID, true)
		if err != nil {
			return err
		}
		for _, id := range subtree {
			if id == parent.ID {
				return relation.ErrCycle
			}
		}
		parentID = &parent.ID
	}

	current, err := s.relations.Parent(ctx, dept.ID)
	if err != nil {
		return err
	}
	if sameParent(current, parentID) {
		return nil
	}
	exists, err := s.repo.SiblingNameExists(ctx, s.db, dept.DataSourceID, parentID, dept.Name, dept.ID)
	if err != nil {
		return err
	}
	if exists {
		return domain.ErrDuplicateSiblingName
	}

	before, err := s.audit.SnapshotDepartments(ctx, s.db, []snowflake.ID{dept.ID})
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.relations.WithTx(tx).SetParent(ctx, dept.DataSourceID, dept.ID, parentID)
	})
	if err != nil {
		return err
	}

	s.audit.RecordDepartmentsModified(ctx, auditdomain.OpModifyParentDepartment, before)
	return nil
}

// Delete removes the department and its whole subtree from the data source
// and from every tenant. Member users stay, losing only the membership.
func (s *Service) Delete(ctx context.Context, id string) error {
	dept, err := s.ownedDepartment(ctx, id)
	if err != nil {
		return err
	}
	subtree, err := s.relations.Descendants(ctx, dept.ID, true)
	if err != nil {
		return err
	}
	before, err := s.audit.SnapshotDepartments(ctx, s.db, subtree)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.propagator.DeleteDepartments(ctx, tx, subtree)
	})
	if err != nil {
		return err
	}

	s.log.Info("departments deleted",
		zap.String("department_id", dept.ID.String()),
		zap.Int("subtree", len(subtree)),
	)
	s.audit.RecordDepartmentsDeleted(ctx, before)
	return nil
}

func (s *Service) writableDataSource(ctx context.Context, tenantID string, id snowflake.ID) (dsdomain.DataSource, error) {
	ds, err := s.repo.FindDataSource(ctx, s.db, id)
	if err != nil {
		return dsdomain.DataSource{}, err
	}
	if ds == nil {
		return dsdomain.DataSource{}, dsdomain.ErrDataSourceNotFound
	}
	if ds.OwnerTenantID != tenantID {
		return dsdomain.DataSource{}, domain.ErrTenantMismatch
	}
	if !ds.IsLocal() || !ds.IsRealType() {
		return dsdomain.DataSource{}, dsdomain.ErrDataSourceNotLocalReal
	}
	return *ds, nil
}

func (s *Service) department(ctx context.Context, rawID string) (*dsdomain.DataSourceDepartment, error) {
	id, err := parseID(rawID)
	if err != nil {
		return nil, err
	}
	dept, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if dept == nil {
		return nil, dsdomain.ErrDepartmentNotFound
	}
	return dept, nil
}

// ownedDepartment loads a department of a local real data source owned by
// the caller's tenant.
func (s *Service) ownedDepartment(ctx context.Context, rawID string) (*dsdomain.DataSourceDepartment, error) {
	tenantID, ok := tenantcontext.TenantIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidTenant
	}
	dept, err := s.department(ctx, rawID)
	if err != nil {
		return nil, err
	}
	if _, err := s.writableDataSource(ctx, tenantID, dept.DataSourceID); err != nil {
		if errors.Is(err, domain.ErrTenantMismatch) {
			return nil, domain.ErrCollaborationDepartmentReadOnly
		}
		return nil, err
	}
	return dept, nil
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func sameParent(a, b *snowflake.ID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
