package seed

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/directory/internal/config"
	"github.com/smallbiznis/directory/internal/migration"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("seed",
	fx.Invoke(func(_ migration.Schema, conn *gorm.DB, node *snowflake.Node, cfg config.Config, log *zap.Logger) error {
		tenant, err := EnsureDefaultTenant(context.Background(), conn, node, cfg)
		if err != nil {
			return err
		}
		log.Info("default tenant ready", zap.String("tenant_id", tenant.ID), zap.Bool("is_default", tenant.IsDefault))
		return nil
	}),
)
