package datasource

import (
	"github.com/smallbiznis/directory/internal/datasource/repository"
	"github.com/smallbiznis/directory/internal/datasource/service"
	"go.uber.org/fx"
)

var Module = fx.Module("datasource.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
