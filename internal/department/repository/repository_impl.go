package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	dsdomain "github.com/smallbiznis/directory/internal/datasource/domain"
	"github.com/smallbiznis/directory/internal/department/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindDataSource(ctx context.Context, db *gorm.DB, id snowflake.ID) (*dsdomain.DataSource, error) {
	var ds dsdomain.DataSource
	err := db.WithContext(ctx).Where("id = ?", id).Take(&ds).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*dsdomain.DataSourceDepartment, error) {
	var dept dsdomain.DataSourceDepartment
	err := db.WithContext(ctx).Where("id = ?", id).Take(&dept).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &dept, nil
}

func (r *repo) SiblingNameExists(ctx context.Context, db *gorm.DB, dataSourceID snowflake.ID, parentID *snowflake.ID, name string, exclude snowflake.ID) (bool, error) {
	q := db.WithContext(ctx).
		Table("data_source_departments AS d").
		Joins("JOIN data_source_department_relations AS r ON r.department_id = d.id").
		Where("d.data_source_id = ? AND d.name = ? AND d.id <> ?", dataSourceID, name, exclude)
	if parentID == nil {
		q = q.Where("r.parent_id IS NULL")
	} else {
		q = q.Where("r.parent_id = ?", *parentID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, dept *dsdomain.DataSourceDepartment) error {
	return db.WithContext(ctx).Create(dept).Error
}

func (r *repo) Rename(ctx context.Context, db *gorm.DB, dept *dsdomain.DataSourceDepartment) error {
	return db.WithContext(ctx).
		Model(&dsdomain.DataSourceDepartment{}).
		Where("id = ?", dept.ID).
		Updates(map[string]any{"name": dept.Name, "updated_at": dept.UpdatedAt}).Error
}
