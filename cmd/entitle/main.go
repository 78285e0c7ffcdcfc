package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/balancecache"
	"github.com/smallbiznis/entitle/internal/clock"
	"github.com/smallbiznis/entitle/internal/config"
	"github.com/smallbiznis/entitle/internal/customerproduct"
	"github.com/smallbiznis/entitle/internal/entitlement"
	"github.com/smallbiznis/entitle/internal/feature"
	"github.com/smallbiznis/entitle/internal/keylock"
	"github.com/smallbiznis/entitle/internal/logger"
	"github.com/smallbiznis/entitle/internal/migration"
	"github.com/smallbiznis/entitle/internal/notification"
	"github.com/smallbiznis/entitle/internal/observability"
	"github.com/smallbiznis/entitle/internal/product"
	"github.com/smallbiznis/entitle/internal/productmigration"
	"github.com/smallbiznis/entitle/internal/proration"
	"github.com/smallbiznis/entitle/internal/ratelimit"
	"github.com/smallbiznis/entitle/internal/redisconn"
	"github.com/smallbiznis/entitle/internal/server"
	"github.com/smallbiznis/entitle/internal/usage"
	"github.com/smallbiznis/entitle/internal/worker"
	"github.com/smallbiznis/entitle/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		fx.Provide(keylock.New),
		db.Module,
		clock.Module,
		redisconn.Module,
		ratelimit.Module,
		balancecache.Module,
		migration.Module,

		// Domains
		feature.Module,
		product.Module,
		entitlement.Module,
		customerproduct.Module,
		usage.Module,
		productmigration.Module,
		proration.Module,
		notification.Module,

		// Background jobs and HTTP surface
		worker.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
