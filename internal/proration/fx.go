package proration

import "go.uber.org/fx"

var Module = fx.Module("proration",
	fx.Provide(NewLogProrator),
)
