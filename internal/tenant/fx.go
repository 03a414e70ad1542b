package tenant

import (
	"github.com/smallbiznis/directory/internal/tenant/repository"
	"github.com/smallbiznis/directory/internal/tenant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tenant.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
