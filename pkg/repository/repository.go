package repository

import (
	"context"

	"github.com/smallbiznis/directory/pkg/db/option"
	"gorm.io/gorm"
)

// Repository is a generic store for plain lookups on one model. Zero
// fields of a query struct are ignored; use option.ApplyOperator to match
// on values that may be zero.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	// FindOne returns nil without error when nothing matches.
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Count(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error)
	Create(ctx context.Context, resource *T) error
}
