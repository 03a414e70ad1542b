package collaboration

import "go.uber.org/fx"

var Module = fx.Module("collaboration",
	fx.Provide(NewPropagator),
	fx.Provide(NewAggregator),
)
