package service

import (
	"context"
	"encoding/json"
	"strings"

	auditdomain "github.com/smallbiznis/directory/internal/audit/domain"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	"github.com/smallbiznis/directory/internal/user/domain"
	"github.com/smallbiznis/directory/internal/validation"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UpdateLeaders replaces the leaders of every user with leaderIDs.
// Unlike UpdateUser this is not a differential update.
func (s *Service) UpdateLeaders(ctx context.Context, tenantUserIDs, leaderIDs []string) error {
	sc, err := s.ownedScope(ctx, tenantUserIDs)
	if err != nil {
		return err
	}
	leaders, err := s.leaderIDs(ctx, sc.tenantID, sc.ds, leaderIDs)
	if err != nil {
		return err
	}
	before, err := s.audit.SnapshotUsers(ctx, s.db, sc.tenantUserIDs())
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.relations.WithTx(tx).ReplaceLeaders(ctx, sc.ds.ID, sc.userIDs(), leaders, now, s.batchSize())
	})
	if err != nil {
		return err
	}

	s.audit.RecordUsersModified(ctx, before, auditdomain.FacetLeaders)
	return nil
}

// BatchUpdateDepartments adds users to departments, or makes departments
// their exact membership in replace mode.
func (s *Service) BatchUpdateDepartments(ctx context.Context, tenantUserIDs, departmentIDs []string, mode domain.DepartmentMode) error {
	if mode != domain.DepartmentModeAppend && mode != domain.DepartmentModeReplace {
		return validation.New("mode", "oneof", "must be one of append replace")
	}
	sc, err := s.ownedScope(ctx, tenantUserIDs)
	if err != nil {
		return err
	}
	deptIDs, err := s.departmentIDs(ctx, sc.ds, departmentIDs)
	if err != nil {
		return err
	}
	if mode == domain.DepartmentModeAppend && len(deptIDs) == 0 {
		return validation.New("department_ids", "required", "is required")
	}
	before, err := s.audit.SnapshotUsers(ctx, s.db, sc.tenantUserIDs())
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rel := s.relations.WithTx(tx)
		if mode == domain.DepartmentModeAppend {
			return rel.AddDepartmentUsers(ctx, sc.ds.ID, sc.userIDs(), deptIDs, now, s.batchSize())
		}
		for _, u := range sc.users {
			if _, err := rel.SetUserDepartments(ctx, u, deptIDs, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.audit.RecordUsersModified(ctx, before, auditdomain.FacetDepartments)
	return nil
}

// BatchUpdateCustomField stores value under field in the extras of every
// user after checking it against the tenant's field definition.
func (s *Service) BatchUpdateCustomField(ctx context.Context, tenantUserIDs []string, field string, value any) error {
	field = strings.TrimSpace(field)
	if err := validation.Var("field", field, "required"); err != nil {
		return err
	}
	sc, err := s.ownedScope(ctx, tenantUserIDs)
	if err != nil {
		return err
	}
	def, err := s.tenants.GetCustomField(ctx, sc.tenantID, field)
	if err != nil {
		return err
	}
	if def == nil {
		return domain.ErrCustomFieldNotFound
	}
	value = normalizeJSON(value)
	if err := tenantdomain.CheckCustomFieldValue(*def, value); err != nil {
		return validation.New("value", "invalid", err.Error())
	}
	before, err := s.audit.SnapshotUsers(ctx, s.db, sc.tenantUserIDs())
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range sc.users {
			extras := datatypes.JSONMap{}
			for k, v := range u.Extras {
				extras[k] = v
			}
			extras[field] = value
			if err := s.repo.UpdateExtras(ctx, tx, u.ID, extras, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.audit.RecordUsersModified(ctx, before, auditdomain.FacetDataSourceUser)
	return nil
}

// normalizeJSON round-trips value so Go callers and decoded request bodies
// are checked the same way.
func normalizeJSON(value any) any {
	raw, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return value
	}
	return out
}
