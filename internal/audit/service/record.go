package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/directory/internal/audit/domain"
	"github.com/smallbiznis/directory/internal/audit/masking"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	"go.uber.org/zap"
)

const extraCollaborationTenantID = "collaboration_tenant_id"

func (s *Service) RecordUsersCreated(ctx context.Context, dataSourceUserIDs []snowflake.ID) {
	after, err := s.SnapshotUsersBySource(ctx, s.db, dataSourceUserIDs)
	if err != nil {
		s.snapshotFailed(ctx, auditdomain.OpCreateTenantUser, err)
		return
	}

	var objects []auditdomain.Object
	for _, snap := range after {
		if snap.Collaboration() {
			objects = append(objects, collaborationTenantUserObject(auditdomain.OpCreateCollaborationTenantUser, snap, nil, tenantUserData(snap.TenantUser)))
			continue
		}
		objects = append(objects,
			dataSourceUserObject(auditdomain.OpCreateDataSourceUser, snap, nil, dataSourceUserData(snap.DataSourceUser)),
			dataSourceUserObject(auditdomain.OpCreateUserDepartment, snap, nil, idsData("department_ids", snap.DepartmentIDs)),
		)
		if len(snap.LeaderIDs) > 0 {
			objects = append(objects, dataSourceUserObject(auditdomain.OpCreateUserLeader, snap, nil, idsData("leader_ids", snap.LeaderIDs)))
		}
		objects = append(objects, tenantUserObject(auditdomain.OpCreateTenantUser, snap, nil, tenantUserData(snap.TenantUser)))
	}
	s.emit(ctx, objects)
}

// RecordUsersModified pairs before with the current state and emits one
// object per requested facet and user.
func (s *Service) RecordUsersModified(ctx context.Context, before []auditdomain.UserSnapshot, facets ...auditdomain.UserFacet) {
	afterByID, ok := s.reload(ctx, before)
	if !ok {
		return
	}

	var objects []auditdomain.Object
	for _, prev := range before {
		cur, found := afterByID[prev.TenantUser.ID]
		if !found {
			continue
		}
		for _, facet := range facets {
			switch facet {
			case auditdomain.FacetDataSourceUser:
				objects = append(objects, dataSourceUserObject(auditdomain.OpModifyDataSourceUser, cur,
					dataSourceUserData(prev.DataSourceUser), dataSourceUserData(cur.DataSourceUser)))
			case auditdomain.FacetDepartments:
				objects = append(objects, dataSourceUserObject(auditdomain.OpModifyUserDepartment, cur,
					idsData("department_ids", prev.DepartmentIDs), idsData("department_ids", cur.DepartmentIDs)))
			case auditdomain.FacetLeaders:
				objects = append(objects, dataSourceUserObject(auditdomain.OpModifyUserLeader, cur,
					idsData("leader_ids", prev.LeaderIDs), idsData("leader_ids", cur.LeaderIDs)))
			case auditdomain.FacetTenantUser:
				objects = append(objects, tenantUserObject(auditdomain.OpModifyTenantUser, cur,
					tenantUserData(prev.TenantUser), tenantUserData(cur.TenantUser)))
			}
		}
	}
	s.emit(ctx, objects)
}

// RecordTenantUsersModified audits a change of tenant-local fields (status, expiry).
func (s *Service) RecordTenantUsersModified(ctx context.Context, op auditdomain.Operation, before []auditdomain.UserSnapshot) {
	afterByID, ok := s.reload(ctx, before)
	if !ok {
		return
	}

	objects := make([]auditdomain.Object, 0, len(before))
	for _, prev := range before {
		cur, found := afterByID[prev.TenantUser.ID]
		if !found {
			continue
		}
		objects = append(objects, tenantUserObject(op, cur, tenantUserData(prev.TenantUser), tenantUserData(cur.TenantUser)))
	}
	s.emit(ctx, objects)
}

// RecordUsersDeleted emits identity, relation and projection objects for
// owner rows and a single projection object for collaboration copies.
func (s *Service) RecordUsersDeleted(ctx context.Context, before []auditdomain.UserSnapshot) {
	var objects []auditdomain.Object
	for _, snap := range before {
		if snap.Collaboration() {
			objects = append(objects, collaborationTenantUserObject(auditdomain.OpDeleteCollaborationTenantUser, snap, tenantUserData(snap.TenantUser), nil))
			continue
		}
		objects = append(objects,
			dataSourceUserObject(auditdomain.OpDeleteDataSourceUser, snap, dataSourceUserData(snap.DataSourceUser), nil),
			dataSourceUserObject(auditdomain.OpDeleteUserDepartment, snap, idsData("department_ids", snap.DepartmentIDs), nil),
			dataSourceUserObject(auditdomain.OpDeleteUserLeader, snap, idsData("leader_ids", snap.LeaderIDs), nil),
			tenantUserObject(auditdomain.OpDeleteTenantUser, snap, tenantUserData(snap.TenantUser), nil),
		)
	}
	s.emit(ctx, objects)
}

func (s *Service) RecordPasswordReset(ctx context.Context, users []auditdomain.UserSnapshot, validDays int) {
	objects := make([]auditdomain.Object, 0, len(users))
	for _, snap := range users {
		obj := dataSourceUserObject(auditdomain.OpModifyUserPassword, snap, nil, nil)
		obj.Extras = map[string]any{"valid_days": validDays}
		objects = append(objects, obj)
	}
	s.emit(ctx, objects)
}

func (s *Service) RecordDepartmentsCreated(ctx context.Context, deptIDs []snowflake.ID) {
	after, err := s.SnapshotDepartments(ctx, s.db, deptIDs)
	if err != nil {
		s.snapshotFailed(ctx, auditdomain.OpCreateDataSourceDepartment, err)
		return
	}

	var objects []auditdomain.Object
	for _, snap := range after {
		objects = append(objects, departmentObject(auditdomain.OpCreateDataSourceDepartment, snap, nil, departmentData(snap.Department)))
		if snap.ParentID != "" {
			objects = append(objects, departmentObject(auditdomain.OpCreateParentDepartment, snap, nil, parentData(snap.ParentID)))
		}
		objects = append(objects, tenantDepartmentObjects(snap, true)...)
	}
	s.emit(ctx, objects)
}

func (s *Service) RecordDepartmentsModified(ctx context.Context, op auditdomain.Operation, before []auditdomain.DepartmentSnapshot) {
	ids := make([]snowflake.ID, 0, len(before))
	for _, snap := range before {
		ids = append(ids, snap.Department.ID)
	}
	after, err := s.SnapshotDepartments(ctx, s.db, ids)
	if err != nil {
		s.snapshotFailed(ctx, op, err)
		return
	}
	afterByID := make(map[snowflake.ID]auditdomain.DepartmentSnapshot, len(after))
	for _, snap := range after {
		afterByID[snap.Department.ID] = snap
	}

	objects := make([]auditdomain.Object, 0, len(before))
	for _, prev := range before {
		cur, ok := afterByID[prev.Department.ID]
		if !ok {
			continue
		}
		if op == auditdomain.OpModifyParentDepartment {
			objects = append(objects, departmentObject(op, cur, parentData(prev.ParentID), parentData(cur.ParentID)))
			continue
		}
		objects = append(objects, departmentObject(op, cur, departmentData(prev.Department), departmentData(cur.Department)))
	}
	s.emit(ctx, objects)
}

func (s *Service) RecordDepartmentsDeleted(ctx context.Context, before []auditdomain.DepartmentSnapshot) {
	var objects []auditdomain.Object
	for _, snap := range before {
		objects = append(objects, departmentObject(auditdomain.OpDeleteDataSourceDepartment, snap, departmentData(snap.Department), nil))
		if snap.ParentID != "" {
			objects = append(objects, departmentObject(auditdomain.OpDeleteParentDepartment, snap, parentData(snap.ParentID), nil))
		}
		objects = append(objects, tenantDepartmentObjects(snap, false)...)
	}
	s.emit(ctx, objects)
}

// RecordDataSource audits a data source change with plugin secrets masked.
func (s *Service) RecordDataSource(ctx context.Context, op auditdomain.Operation, before, after *dsdomain.DataSource) {
	ref := after
	if ref == nil {
		ref = before
	}
	if ref == nil {
		return
	}
	s.emit(ctx, []auditdomain.Object{{
		ID:         ref.ID.String(),
		Name:       ref.PluginID,
		Type:       auditdomain.ObjectTypeDataSource,
		Operation:  op,
		DataBefore: dataSourceData(before),
		DataAfter:  dataSourceData(after),
	}})
}

func (s *Service) reload(ctx context.Context, before []auditdomain.UserSnapshot) (map[string]auditdomain.UserSnapshot, bool) {
	ids := make([]string, 0, len(before))
	for _, snap := range before {
		ids = append(ids, snap.TenantUser.ID)
	}
	after, err := s.SnapshotUsers(ctx, s.db, ids)
	if err != nil {
		s.snapshotFailed(ctx, auditdomain.OpModifyTenantUser, err)
		return nil, false
	}
	out := make(map[string]auditdomain.UserSnapshot, len(after))
	for _, snap := range after {
		out[snap.TenantUser.ID] = snap
	}
	return out, true
}

func (s *Service) snapshotFailed(ctx context.Context, op auditdomain.Operation, err error) {
	s.metrics.RecordAuditFailure(ctx, string(op))
	s.log.Error("failed to snapshot audit state", zap.String("operation", string(op)), zap.Error(err))
}

func dataSourceUserObject(op auditdomain.Operation, snap auditdomain.UserSnapshot, before, after map[string]any) auditdomain.Object {
	return auditdomain.Object{
		ID:         snap.DataSourceUser.ID.String(),
		Name:       snap.DataSourceUser.Username,
		Type:       auditdomain.ObjectTypeDataSourceUser,
		Operation:  op,
		DataBefore: before,
		DataAfter:  after,
	}
}

func tenantUserObject(op auditdomain.Operation, snap auditdomain.UserSnapshot, before, after map[string]any) auditdomain.Object {
	return auditdomain.Object{
		ID:         snap.TenantUser.ID,
		Name:       snap.DataSourceUser.Username,
		Type:       auditdomain.ObjectTypeTenantUser,
		Operation:  op,
		DataBefore: before,
		DataAfter:  after,
	}
}

func collaborationTenantUserObject(op auditdomain.Operation, snap auditdomain.UserSnapshot, before, after map[string]any) auditdomain.Object {
	obj := tenantUserObject(op, snap, before, after)
	obj.Extras = map[string]any{extraCollaborationTenantID: snap.TenantUser.TenantID}
	return obj
}

func departmentObject(op auditdomain.Operation, snap auditdomain.DepartmentSnapshot, before, after map[string]any) auditdomain.Object {
	return auditdomain.Object{
		ID:         snap.Department.ID.String(),
		Name:       snap.Department.Name,
		Type:       auditdomain.ObjectTypeDataSourceDepartment,
		Operation:  op,
		DataBefore: before,
		DataAfter:  after,
	}
}

func tenantDepartmentObjects(snap auditdomain.DepartmentSnapshot, created bool) []auditdomain.Object {
	objects := make([]auditdomain.Object, 0, len(snap.TenantDepartments))
	for _, td := range snap.TenantDepartments {
		data := map[string]any{
			"tenant_id":                 td.TenantID,
			"data_source_department_id": td.DataSourceDepartmentID.String(),
		}
		obj := auditdomain.Object{
			ID:   td.ID.String(),
			Name: snap.Department.Name,
			Type: auditdomain.ObjectTypeTenantDepartment,
		}
		collaboration := td.TenantID != snap.OwnerTenantID
		switch {
		case created && collaboration:
			obj.Operation = auditdomain.OpCreateCollaborationTenantDepartment
		case created:
			obj.Operation = auditdomain.OpCreateTenantDepartment
		case collaboration:
			obj.Operation = auditdomain.OpDeleteCollaborationTenantDepartment
		default:
			obj.Operation = auditdomain.OpDeleteTenantDepartment
		}
		if created {
			obj.DataAfter = data
		} else {
			obj.DataBefore = data
		}
		if collaboration {
			obj.Extras = map[string]any{extraCollaborationTenantID: td.TenantID}
		}
		objects = append(objects, obj)
	}
	return objects
}

func dataSourceUserData(u dsdomain.DataSourceUser) map[string]any {
	return map[string]any{
		"username":           u.Username,
		"full_name":          u.FullName,
		"email":              u.Email,
		"phone":              u.Phone,
		"phone_country_code": u.PhoneCountryCode,
		"logo":               u.Logo,
		"extras":             map[string]any(u.Extras),
	}
}

func tenantUserData(tu tenantdomain.TenantUser) map[string]any {
	return map[string]any{
		"status":             string(tu.Status),
		"account_expired_at": tu.AccountExpiredAt.UTC().Format(time.RFC3339),
	}
}

func departmentData(d dsdomain.DataSourceDepartment) map[string]any {
	return map[string]any{
		"code":   d.Code,
		"name":   d.Name,
		"extras": map[string]any(d.Extras),
	}
}

func parentData(parentID string) map[string]any {
	return map[string]any{"parent_id": parentID}
}

func idsData(key string, ids []string) map[string]any {
	if ids == nil {
		ids = []string{}
	}
	return map[string]any{key: ids}
}

func dataSourceData(ds *dsdomain.DataSource) map[string]any {
	if ds == nil {
		return nil
	}
	data := map[string]any{
		"owner_tenant_id": ds.OwnerTenantID,
		"type":            string(ds.Type),
		"plugin_id":       ds.PluginID,
	}

	var raw map[string]any
	if err := json.Unmarshal(ds.PluginConfig, &raw); err == nil {
		secrets := dsdomain.KnownSecretFields()
		if cfg, err := dsdomain.ParsePluginConfig(ds.PluginID, ds.PluginConfig); err == nil {
			secrets = cfg.SecretFields()
		}
		data["plugin_config"] = masking.MaskFields(raw, secrets)
	}
	return data
}
