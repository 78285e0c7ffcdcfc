package migration

import (
	"strings"

	"github.com/smallbiznis/entitle/internal/config"
	customerproductdomain "github.com/smallbiznis/entitle/internal/customerproduct/domain"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	productdomain "github.com/smallbiznis/entitle/internal/product/domain"
	usagedomain "github.com/smallbiznis/entitle/internal/usage/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// Versioned SQL is postgres-only; other dialects (sqlite in tests,
		// mysql installs) derive the schema from the models.
		if strings.EqualFold(cfg.DBType, "postgres") {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		return conn.AutoMigrate(
			&featuredomain.Feature{},
			&productdomain.Product{},
			&productdomain.ProductFeature{},
			&customerproductdomain.CustomerProduct{},
			&entitlementdomain.CustomerEntitlement{},
			&usagedomain.UsageEvent{},
		)
	}),
)
