package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/directory/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, records []domain.AuditRecord, batchSize int) error {
	if len(records) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(&records, batchSize).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.AuditRecord, error) {
	var records []domain.AuditRecord
	stmt := db.WithContext(ctx).Model(&domain.AuditRecord{}).
		Where("tenant_id = ?", filter.TenantID)

	if op := strings.TrimSpace(filter.Operation); op != "" {
		stmt = stmt.Where("operation = ?", op)
	}
	if objectType := strings.TrimSpace(filter.ObjectType); objectType != "" {
		stmt = stmt.Where("object_type = ?", objectType)
	}
	if objectID := strings.TrimSpace(filter.ObjectID); objectID != "" {
		stmt = stmt.Where("object_id = ?", objectID)
	}
	if operator := strings.TrimSpace(filter.Operator); operator != "" {
		stmt = stmt.Where("operator = ?", operator)
	}
	if filter.StartAt != nil {
		stmt = stmt.Where("created_at >= ?", filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		stmt = stmt.Where("created_at <= ?", filter.EndAt.UTC())
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("((created_at < ?) OR (created_at = ? AND id < ?))",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
