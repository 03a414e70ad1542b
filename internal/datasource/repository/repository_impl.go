package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/directory/internal/datasource/domain"
	"github.com/smallbiznis/directory/pkg/db/option"
	store "github.com/smallbiznis/directory/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func dataSources(db *gorm.DB) store.Repository[domain.DataSource] {
	return store.ProvideStore[domain.DataSource](db)
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, ds *domain.DataSource) error {
	return dataSources(db).Create(ctx, ds)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.DataSource, error) {
	return dataSources(db).FindOne(ctx, &domain.DataSource{},
		option.ApplyOperator(option.Condition{Field: "id", Operator: option.EQ, Value: id}),
	)
}

var dataSourceSortable = map[string]bool{"id": true, "created_at": true}

func (r *repo) ListByOwner(ctx context.Context, db *gorm.DB, ownerTenantID string) ([]domain.DataSource, error) {
	rows, err := dataSources(db).Find(ctx, &domain.DataSource{},
		option.ApplyOperator(option.Condition{Field: "owner_tenant_id", Operator: option.EQ, Value: ownerTenantID}),
		option.WithSortBy(option.WithQuerySortBy("id", "asc", dataSourceSortable)),
	)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DataSource, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out, nil
}

func (r *repo) UpdatePluginConfig(ctx context.Context, db *gorm.DB, ds *domain.DataSource) error {
	return db.WithContext(ctx).
		Model(&domain.DataSource{}).
		Where("id = ?", ds.ID).
		Updates(map[string]any{
			"plugin_config": ds.PluginConfig,
			"updated_at":    ds.UpdatedAt,
		}).Error
}
