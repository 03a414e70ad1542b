package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, ds *DataSource) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*DataSource, error)
	ListByOwner(ctx context.Context, db *gorm.DB, ownerTenantID string) ([]DataSource, error)
	UpdatePluginConfig(ctx context.Context, db *gorm.DB, ds *DataSource) error
}
