package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Schema is available once the database schema is up to date.
type Schema struct{}

var Module = fx.Module("migrations",
	fx.Provide(func(conn *gorm.DB) (Schema, error) {
		return Schema{}, Apply(conn)
	}),
	fx.Invoke(func(Schema) {}),
)
