package directory

import "go.uber.org/fx"

var Module = fx.Module("directory.service",
	fx.Provide(New),
)
