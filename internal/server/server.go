package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/entitle/internal/config"
	customerproductdomain "github.com/smallbiznis/entitle/internal/customerproduct/domain"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	featurerepository "github.com/smallbiznis/entitle/internal/feature/repository"
	"github.com/smallbiznis/entitle/internal/productmigration"
	usagedomain "github.com/smallbiznis/entitle/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	log    *zap.Logger
	genID  *snowflake.Node

	customerProductSvc customerproductdomain.Service
	entitlementSvc     entitlementdomain.Service
	usageSvc           usagedomain.Service
	migrationSvc       productmigration.Service
	features           *featurerepository.Repository
}

type ServerParams struct {
	fx.In

	Gin   *gin.Engine
	Cfg   config.Config
	Log   *zap.Logger
	GenID *snowflake.Node

	CustomerProductSvc customerproductdomain.Service
	EntitlementSvc     entitlementdomain.Service
	UsageSvc           usagedomain.Service
	MigrationSvc       productmigration.Service
	Features           *featurerepository.Repository
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine: p.Gin,
		cfg:    p.Cfg,
		log:    p.Log.Named("server"),
		genID:  p.GenID,

		customerProductSvc: p.CustomerProductSvc,
		entitlementSvc:     p.EntitlementSvc,
		usageSvc:           p.UsageSvc,
		migrationSvc:       p.MigrationSvc,
		features:           p.Features,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")
	v1.Use(s.OrgContext())

	v1.POST("/usage/report", s.ReportUsage)
	v1.GET("/usage", s.ListUsage)

	v1.GET("/balances", s.GetBalances)

	v1.GET("/features", s.ListFeatures)

	v1.POST("/customer-products", s.AttachProduct)
	v1.GET("/customer-products", s.ListCustomerProducts)
	v1.GET("/customer-products/:id", s.GetCustomerProduct)
	v1.POST("/customer-products/:id/cancel", s.CancelProduct)
	v1.POST("/customer-products/:id/quantity", s.UpdateQuantity)
	v1.POST("/customer-products/:id/activate", s.ActivateScheduled)
	v1.POST("/customer-products/:id/expire", s.ExpireProduct)

	v1.POST("/processor/events", s.ProcessorEvent)

	v1.POST("/products/:id/migrate", s.MigrateProductVersion)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)
