package feature

import (
	"github.com/smallbiznis/entitle/internal/feature/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("feature",
	fx.Provide(repository.Provide),
)
