package importer

import "go.uber.org/fx"

var Module = fx.Module("user.importer",
	fx.Provide(New),
)
