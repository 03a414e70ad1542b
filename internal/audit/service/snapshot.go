package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/directory/internal/audit/domain"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	"gorm.io/gorm"
)

func (s *Service) SnapshotUsers(ctx context.Context, db *gorm.DB, tenantUserIDs []string) ([]auditdomain.UserSnapshot, error) {
	if len(tenantUserIDs) == 0 {
		return nil, nil
	}
	var tenantUsers []tenantdomain.TenantUser
	if err := db.WithContext(ctx).Where("id IN ?", tenantUserIDs).Order("id asc").Find(&tenantUsers).Error; err != nil {
		return nil, err
	}
	return s.snapshotTenantUsers(ctx, db, tenantUsers)
}

// SnapshotUsersBySource captures every tenant user, in every tenant, that
// projects the given data source users.
func (s *Service) SnapshotUsersBySource(ctx context.Context, db *gorm.DB, dataSourceUserIDs []snowflake.ID) ([]auditdomain.UserSnapshot, error) {
	if len(dataSourceUserIDs) == 0 {
		return nil, nil
	}
	var tenantUsers []tenantdomain.TenantUser
	err := db.WithContext(ctx).
		Where("data_source_user_id IN ?", dataSourceUserIDs).
		Order("data_source_user_id asc, tenant_id asc").
		Find(&tenantUsers).Error
	if err != nil {
		return nil, err
	}
	return s.snapshotTenantUsers(ctx, db, tenantUsers)
}

func (s *Service) snapshotTenantUsers(ctx context.Context, db *gorm.DB, tenantUsers []tenantdomain.TenantUser) ([]auditdomain.UserSnapshot, error) {
	if len(tenantUsers) == 0 {
		return nil, nil
	}

	userIDs := make([]snowflake.ID, 0, len(tenantUsers))
	dsIDs := make([]snowflake.ID, 0, len(tenantUsers))
	for _, tu := range tenantUsers {
		userIDs = append(userIDs, tu.DataSourceUserID)
		dsIDs = append(dsIDs, tu.DataSourceID)
	}

	var users []dsdomain.DataSourceUser
	if err := db.WithContext(ctx).Where("id IN ?", userIDs).Find(&users).Error; err != nil {
		return nil, err
	}
	usersByID := make(map[snowflake.ID]dsdomain.DataSourceUser, len(users))
	for _, u := range users {
		usersByID[u.ID] = u
	}

	owners, err := dataSourceOwners(ctx, db, dsIDs)
	if err != nil {
		return nil, err
	}

	store := s.relations.WithTx(db)
	depts, err := store.DepartmentIDsByUsers(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	leaders, err := store.LeaderIDsByUsers(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	out := make([]auditdomain.UserSnapshot, 0, len(tenantUsers))
	for _, tu := range tenantUsers {
		out = append(out, auditdomain.UserSnapshot{
			TenantUser:     tu,
			DataSourceUser: usersByID[tu.DataSourceUserID],
			OwnerTenantID:  owners[tu.DataSourceID],
			DepartmentIDs:  idStrings(depts[tu.DataSourceUserID]),
			LeaderIDs:      idStrings(leaders[tu.DataSourceUserID]),
		})
	}
	return out, nil
}

func (s *Service) SnapshotDepartments(ctx context.Context, db *gorm.DB, deptIDs []snowflake.ID) ([]auditdomain.DepartmentSnapshot, error) {
	if len(deptIDs) == 0 {
		return nil, nil
	}

	var depts []dsdomain.DataSourceDepartment
	if err := db.WithContext(ctx).Where("id IN ?", deptIDs).Order("id asc").Find(&depts).Error; err != nil {
		return nil, err
	}
	dsIDs := make([]snowflake.ID, 0, len(depts))
	for _, d := range depts {
		dsIDs = append(dsIDs, d.DataSourceID)
	}
	owners, err := dataSourceOwners(ctx, db, dsIDs)
	if err != nil {
		return nil, err
	}

	parents, err := s.relations.WithTx(db).ParentsOf(ctx, deptIDs)
	if err != nil {
		return nil, err
	}

	var tenantDepts []tenantdomain.TenantDepartment
	err = db.WithContext(ctx).
		Where("data_source_department_id IN ?", deptIDs).
		Order("tenant_id asc").
		Find(&tenantDepts).Error
	if err != nil {
		return nil, err
	}
	byDept := make(map[snowflake.ID][]tenantdomain.TenantDepartment, len(deptIDs))
	for _, td := range tenantDepts {
		byDept[td.DataSourceDepartmentID] = append(byDept[td.DataSourceDepartmentID], td)
	}

	out := make([]auditdomain.DepartmentSnapshot, 0, len(depts))
	for _, d := range depts {
		snap := auditdomain.DepartmentSnapshot{
			Department:        d,
			OwnerTenantID:     owners[d.DataSourceID],
			TenantDepartments: byDept[d.ID],
		}
		if parent, ok := parents[d.ID]; ok {
			snap.ParentID = parent.String()
		}
		out = append(out, snap)
	}
	return out, nil
}

func dataSourceOwners(ctx context.Context, db *gorm.DB, dsIDs []snowflake.ID) (map[snowflake.ID]string, error) {
	var sources []dsdomain.DataSource
	if err := db.WithContext(ctx).Select("id", "owner_tenant_id").Where("id IN ?", dsIDs).Find(&sources).Error; err != nil {
		return nil, err
	}
	out := make(map[snowflake.ID]string, len(sources))
	for _, ds := range sources {
		out[ds.ID] = ds.OwnerTenantID
	}
	return out, nil
}

func idStrings(ids []snowflake.ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
