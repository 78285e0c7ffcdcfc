package usage

import (
	"github.com/smallbiznis/entitle/internal/usage/repository"
	"github.com/smallbiznis/entitle/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
