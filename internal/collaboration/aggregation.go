package collaboration

import (
	"context"

	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	"gorm.io/gorm"
)

// Aggregator answers read-side questions about what a tenant can see,
// including identities shared into it by collaborating tenants.
type Aggregator struct {
	db *gorm.DB
}

func NewAggregator(db *gorm.DB) *Aggregator {
	return &Aggregator{db: db}
}

// visibleStrategies are strategies targeting tenantID that the target has
// not left unconfirmed.
func (a *Aggregator) visibleStrategies(ctx context.Context, tenantID string) ([]tenantdomain.CollaborationStrategy, error) {
	var strategies []tenantdomain.CollaborationStrategy
	err := a.db.WithContext(ctx).
		Where("target_tenant_id = ? AND target_status <> ?", tenantID, tenantdomain.CollaborationStatusUnconfirmed).
		Order("source_tenant_id asc").
		Find(&strategies).Error
	return strategies, err
}

// RealDataSources returns the real data sources owned by tenantID plus
// those of tenants collaborating into it.
func (a *Aggregator) RealDataSources(ctx context.Context, tenantID string) ([]dsdomain.DataSource, error) {
	strategies, err := a.visibleStrategies(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	owners := []string{tenantID}
	for _, s := range strategies {
		owners = append(owners, s.SourceTenantID)
	}

	var sources []dsdomain.DataSource
	err = a.db.WithContext(ctx).
		Where("owner_tenant_id IN ? AND type = ?", owners, dsdomain.DataSourceTypeReal).
		Order("id asc").
		Find(&sources).Error
	return sources, err
}

// FieldMap maps (source tenant, source field) to the target field name.
type FieldMap map[string]map[string]string

// LookupField translates a field of sourceTenantID into the target
// tenant's field name.
func (m FieldMap) LookupField(sourceTenantID, field string) (string, bool) {
	fields, ok := m[sourceTenantID]
	if !ok {
		return "", false
	}
	target, ok := fields[field]
	return target, ok
}

// FieldMapping collects the field mappings of every strategy shared into
// tenantID, keyed by source tenant.
func (a *Aggregator) FieldMapping(ctx context.Context, tenantID string) (FieldMap, error) {
	strategies, err := a.visibleStrategies(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make(FieldMap, len(strategies))
	for _, s := range strategies {
		fields := make(map[string]string)
		for _, fm := range s.TargetConfig.Data().FieldMapping {
			fields[fm.SourceField] = fm.TargetField
		}
		out[s.SourceTenantID] = fields
	}
	return out, nil
}
