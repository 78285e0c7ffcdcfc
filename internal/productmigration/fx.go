package productmigration

import "go.uber.org/fx"

var Module = fx.Module("productmigration",
	fx.Provide(NewService),
)
