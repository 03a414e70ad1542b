package department

import (
	"github.com/smallbiznis/directory/internal/department/repository"
	"github.com/smallbiznis/directory/internal/department/service"
	"go.uber.org/fx"
)

var Module = fx.Module("department.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
