package observability

import (
	"github.com/smallbiznis/entitle/internal/observability/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(metrics.NewProvider),
	fx.Provide(metrics.New),
)
