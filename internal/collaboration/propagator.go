// Package collaboration projects data source users and departments into
// the owner tenant and every tenant collaborating with it.
package collaboration

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/directory/internal/config"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	"github.com/smallbiznis/directory/internal/idgen"
	"github.com/smallbiznis/directory/internal/observability/metrics"
	"github.com/smallbiznis/directory/internal/relation"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	GenID     *snowflake.Node
	Relations *relation.Store
	Config    *config.DirectoryConfigHolder
	Metrics   *metrics.Metrics `optional:"true"`
}

type Propagator struct {
	genID     *snowflake.Node
	relations *relation.Store
	cfg       *config.DirectoryConfigHolder
	metrics   *metrics.Metrics
}

func NewPropagator(p Params) *Propagator {
	return &Propagator{
		genID:     p.GenID,
		relations: p.Relations,
		cfg:       p.Config,
		metrics:   p.Metrics,
	}
}

// ActiveTargets returns strategies from sourceTenantID accepted on both sides.
func (p *Propagator) ActiveTargets(ctx context.Context, tx *gorm.DB, sourceTenantID string) ([]tenantdomain.CollaborationStrategy, error) {
	var strategies []tenantdomain.CollaborationStrategy
	err := tx.WithContext(ctx).
		Where("source_tenant_id = ? AND source_status = ? AND target_status = ?",
			sourceTenantID,
			tenantdomain.CollaborationStatusEnabled,
			tenantdomain.CollaborationStatusEnabled,
		).
		Order("target_tenant_id asc").
		Find(&strategies).Error
	return strategies, err
}

// AccountExpiry maps each tenant to the expiry a new account gets there.
func (p *Propagator) AccountExpiry(ctx context.Context, tx *gorm.DB, tenantIDs []string, now time.Time) (map[string]time.Time, error) {
	var configs []tenantdomain.TenantUserValidityPeriodConfig
	if err := tx.WithContext(ctx).Where("tenant_id IN ?", tenantIDs).Find(&configs).Error; err != nil {
		return nil, err
	}
	byTenant := make(map[string]*tenantdomain.TenantUserValidityPeriodConfig, len(configs))
	for i := range configs {
		byTenant[configs[i].TenantID] = &configs[i]
	}

	out := make(map[string]time.Time, len(tenantIDs))
	for _, id := range tenantIDs {
		out[id] = byTenant[id].ExpiryFrom(now)
	}
	return out, nil
}

// FanOutUsers creates the owner tenant users for users plus one copy per
// active collaboration target. Owner rows come first in the result.
func (p *Propagator) FanOutUsers(ctx context.Context, tx *gorm.DB, ds dsdomain.DataSource, users []dsdomain.DataSourceUser, now time.Time) ([]tenantdomain.TenantUser, error) {
	if len(users) == 0 {
		return nil, nil
	}
	targets, err := p.targetTenants(ctx, tx, ds.OwnerTenantID)
	if err != nil {
		return nil, err
	}
	return p.projectUsers(ctx, tx, ds, users, append([]string{ds.OwnerTenantID}, targets...), now)
}

func (p *Propagator) projectUsers(ctx context.Context, tx *gorm.DB, ds dsdomain.DataSource, users []dsdomain.DataSourceUser, tenantIDs []string, now time.Time) ([]tenantdomain.TenantUser, error) {
	expiry, err := p.AccountExpiry(ctx, tx, tenantIDs, now)
	if err != nil {
		return nil, err
	}

	batchSize := p.cfg.Get().BatchSize
	out := make([]tenantdomain.TenantUser, 0, len(users)*len(tenantIDs))
	for _, tenantID := range tenantIDs {
		gen, err := idgen.New(ctx, tx, p.genID, tenantID, ds, idgen.WithBatchSize(batchSize), idgen.WithMetrics(p.metrics))
		if err != nil {
			return nil, err
		}

		ids, err := generate(ctx, gen, users)
		if err != nil {
			return nil, err
		}

		rows := make([]tenantdomain.TenantUser, 0, len(users))
		for _, u := range users {
			rows = append(rows, tenantdomain.TenantUser{
				ID:               ids[u.ID],
				TenantID:         tenantID,
				DataSourceID:     ds.ID,
				DataSourceUserID: u.ID,
				Status:           tenantdomain.TenantUserStatusEnabled,
				AccountExpiredAt: expiry[tenantID],
				CreatedAt:        now,
				UpdatedAt:        now,
			})
		}
		if err := tx.WithContext(ctx).CreateInBatches(&rows, batchSize).Error; err != nil {
			return nil, err
		}
		p.metrics.RecordPropagation(ctx, len(rows), tenantID != ds.OwnerTenantID)
		out = append(out, rows...)
	}
	return out, nil
}

// FanOutDepartments is FanOutUsers for departments.
func (p *Propagator) FanOutDepartments(ctx context.Context, tx *gorm.DB, ds dsdomain.DataSource, depts []dsdomain.DataSourceDepartment, now time.Time) ([]tenantdomain.TenantDepartment, error) {
	if len(depts) == 0 {
		return nil, nil
	}
	targets, err := p.targetTenants(ctx, tx, ds.OwnerTenantID)
	if err != nil {
		return nil, err
	}
	return p.projectDepartments(ctx, tx, ds, depts, append([]string{ds.OwnerTenantID}, targets...), now)
}

func (p *Propagator) projectDepartments(ctx context.Context, tx *gorm.DB, ds dsdomain.DataSource, depts []dsdomain.DataSourceDepartment, tenantIDs []string, now time.Time) ([]tenantdomain.TenantDepartment, error) {
	rows := make([]tenantdomain.TenantDepartment, 0, len(depts)*len(tenantIDs))
	for _, tenantID := range tenantIDs {
		for _, d := range depts {
			rows = append(rows, tenantdomain.TenantDepartment{
				ID:                     p.genID.Generate(),
				TenantID:               tenantID,
				DataSourceID:           ds.ID,
				DataSourceDepartmentID: d.ID,
				CreatedAt:              now,
				UpdatedAt:              now,
			})
		}
	}
	if err := tx.WithContext(ctx).CreateInBatches(&rows, p.cfg.Get().BatchSize).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteUsers removes every projection of the data source users in every
// tenant, then their relation edges and credentials, then the users.
// Strategy state is irrelevant here: existing rows are authoritative.
func (p *Propagator) DeleteUsers(ctx context.Context, tx *gorm.DB, dataSourceUserIDs []snowflake.ID) error {
	if len(dataSourceUserIDs) == 0 {
		return nil
	}
	db := tx.WithContext(ctx)

	res := db.Where("data_source_user_id IN ?", dataSourceUserIDs).Delete(&tenantdomain.TenantUser{})
	if res.Error != nil {
		return res.Error
	}
	p.metrics.RecordTenantUsersDeleted(ctx, int(res.RowsAffected))

	if err := p.relations.WithTx(tx).DeleteUserRelations(ctx, dataSourceUserIDs); err != nil {
		return err
	}
	if err := db.Where("user_id IN ?", dataSourceUserIDs).Delete(&dsdomain.DataSourceUserIdentityInfo{}).Error; err != nil {
		return err
	}
	return db.Where("id IN ?", dataSourceUserIDs).Delete(&dsdomain.DataSourceUser{}).Error
}

// DeleteDepartments removes tenant departments in every tenant, membership
// edges and tree nodes, then the departments themselves.
func (p *Propagator) DeleteDepartments(ctx context.Context, tx *gorm.DB, deptIDs []snowflake.ID) error {
	if len(deptIDs) == 0 {
		return nil
	}
	db := tx.WithContext(ctx)
	if err := db.Where("data_source_department_id IN ?", deptIDs).Delete(&tenantdomain.TenantDepartment{}).Error; err != nil {
		return err
	}
	if err := p.relations.WithTx(tx).DeleteDepartmentRelations(ctx, deptIDs); err != nil {
		return err
	}
	return db.Where("id IN ?", deptIDs).Delete(&dsdomain.DataSourceDepartment{}).Error
}

// SyncTarget backfills projections of every real data source of
// sourceTenantID into targetTenantID, skipping rows that already exist.
// It returns the number of tenant users created.
func (p *Propagator) SyncTarget(ctx context.Context, tx *gorm.DB, sourceTenantID, targetTenantID string, now time.Time) (int, error) {
	var sources []dsdomain.DataSource
	err := tx.WithContext(ctx).
		Where("owner_tenant_id = ? AND type = ?", sourceTenantID, dsdomain.DataSourceTypeReal).
		Find(&sources).Error
	if err != nil {
		return 0, err
	}

	created := 0
	for _, ds := range sources {
		var users []dsdomain.DataSourceUser
		err := tx.WithContext(ctx).
			Where("data_source_id = ?", ds.ID).
			Where("id NOT IN (?)", tx.Model(&tenantdomain.TenantUser{}).Select("data_source_user_id").Where("tenant_id = ?", targetTenantID)).
			Order("id asc").
			Find(&users).Error
		if err != nil {
			return created, err
		}
		rows, err := p.projectUsers(ctx, tx, ds, users, []string{targetTenantID}, now)
		if err != nil {
			return created, err
		}
		created += len(rows)

		var depts []dsdomain.DataSourceDepartment
		err = tx.WithContext(ctx).
			Where("data_source_id = ?", ds.ID).
			Where("id NOT IN (?)", tx.Model(&tenantdomain.TenantDepartment{}).Select("data_source_department_id").Where("tenant_id = ?", targetTenantID)).
			Find(&depts).Error
		if err != nil {
			return created, err
		}
		if len(depts) > 0 {
			if _, err := p.projectDepartments(ctx, tx, ds, depts, []string{targetTenantID}, now); err != nil {
				return created, err
			}
		}
	}
	return created, nil
}

func (p *Propagator) targetTenants(ctx context.Context, tx *gorm.DB, ownerTenantID string) ([]string, error) {
	strategies, err := p.ActiveTargets(ctx, tx, ownerTenantID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(strategies))
	for _, s := range strategies {
		if s.TargetTenantID == ownerTenantID {
			continue
		}
		out = append(out, s.TargetTenantID)
	}
	return out, nil
}

func generate(ctx context.Context, gen *idgen.Generator, users []dsdomain.DataSourceUser) (map[snowflake.ID]string, error) {
	if len(users) == 1 {
		id, err := gen.Generate(ctx, users[0])
		if err != nil {
			return nil, err
		}
		return map[snowflake.ID]string{users[0].ID: id}, nil
	}
	return gen.GenerateBatch(ctx, users)
}
