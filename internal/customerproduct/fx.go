package customerproduct

import (
	"github.com/smallbiznis/entitle/internal/customerproduct/repository"
	"github.com/smallbiznis/entitle/internal/customerproduct/service"
	"go.uber.org/fx"
)

var Module = fx.Module("customerproduct",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
