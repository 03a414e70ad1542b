package seed

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/directory/internal/config"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	tenantdomain "github.com/smallbiznis/directory/internal/tenant/domain"
	"github.com/smallbiznis/directory/pkg/repository"
	"gorm.io/gorm"
)

const defaultTenantName = "Default"

// defaultLocalConfig enables passwords with a strict rule, random initial
// passwords and notification.
var defaultLocalConfig = dsdomain.LocalPluginConfig{
	EnablePassword: true,
	PasswordRule: &dsdomain.PasswordRule{
		MinLength:        12,
		ContainLowercase: true,
		ContainUppercase: true,
		ContainDigit:     true,
		ValidTime:        dsdomain.PasswordPermanent,
	},
	PasswordInitial: &dsdomain.PasswordInitial{
		GenerateMethod: "random",
		Notify:         true,
	},
}

// EnsureDefaultTenant seeds the configured default tenant and its local
// real data source. An existing tenant is left untouched; it is flagged
// default only when no other tenant already is.
func EnsureDefaultTenant(ctx context.Context, db *gorm.DB, node *snowflake.Node, cfg config.Config) (tenantdomain.Tenant, error) {
	if db == nil {
		return tenantdomain.Tenant{}, errors.New("seed database handle is required")
	}
	id := cfg.DefaultTenant()
	if id == "" {
		return tenantdomain.Tenant{}, errors.New("default tenant id is empty")
	}
	name := strings.TrimSpace(cfg.DefaultTenantName)
	if name == "" {
		name = defaultTenantName
	}

	tenants := repository.ProvideStore[tenantdomain.Tenant](db)
	dataSources := repository.ProvideStore[dsdomain.DataSource](db)

	var tenant tenantdomain.Tenant
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		tenant, err = ensureTenantTx(ctx, tenants.WithTrx(tx), id, name)
		if err != nil {
			return err
		}
		return ensureLocalDataSourceTx(ctx, dataSources.WithTrx(tx), node, tenant.ID)
	})
	return tenant, err
}

func ensureTenantTx(ctx context.Context, tenants repository.Repository[tenantdomain.Tenant], id, name string) (tenantdomain.Tenant, error) {
	existing, err := tenants.FindOne(ctx, &tenantdomain.Tenant{ID: id})
	if err != nil {
		return tenantdomain.Tenant{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	defaults, err := tenants.Count(ctx, &tenantdomain.Tenant{IsDefault: true})
	if err != nil {
		return tenantdomain.Tenant{}, err
	}
	now := time.Now().UTC()
	tenant := tenantdomain.Tenant{
		ID:        id,
		Name:      name,
		IsDefault: defaults == 0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tenants.Create(ctx, &tenant); err != nil {
		return tenantdomain.Tenant{}, err
	}
	return tenant, nil
}

func ensureLocalDataSourceTx(ctx context.Context, dataSources repository.Repository[dsdomain.DataSource], node *snowflake.Node, tenantID string) error {
	count, err := dataSources.Count(ctx, &dsdomain.DataSource{
		OwnerTenantID: tenantID,
		PluginID:      dsdomain.PluginLocal,
		Type:          dsdomain.DataSourceTypeReal,
	})
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	raw, err := json.Marshal(defaultLocalConfig)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	return dataSources.Create(ctx, &dsdomain.DataSource{
		ID:            node.Generate(),
		OwnerTenantID: tenantID,
		Type:          dsdomain.DataSourceTypeReal,
		PluginID:      dsdomain.PluginLocal,
		PluginConfig:  raw,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}
