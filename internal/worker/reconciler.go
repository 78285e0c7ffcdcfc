package worker

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/entitle/internal/balancecache"
	"github.com/smallbiznis/entitle/internal/config"
	customerproductdomain "github.com/smallbiznis/entitle/internal/customerproduct/domain"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	obsmetrics "github.com/smallbiznis/entitle/internal/observability/metrics"
	"github.com/smallbiznis/entitle/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ReconcilerParam struct {
	fx.In

	LC           fx.Lifecycle
	Cfg          config.Config
	Log          *zap.Logger
	DB           *gorm.DB
	Cache        balancecache.BalanceCache
	Entitlements entitlementdomain.Service
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type reconciler struct {
	log          *zap.Logger
	db           *gorm.DB
	cache        balancecache.BalanceCache
	entitlements entitlementdomain.Service
	obsMetrics   *obsmetrics.Metrics
	batch        int
}

// RegisterReconciler schedules the cache drift check: recently active
// customers get their cached customer-wide view recomputed from the store, and
// any divergence drops the customer's cache entries.
func RegisterReconciler(p ReconcilerParam) {
	if p.Cfg.Cache.ReconcileDisabled || p.Cache == nil {
		return
	}

	r := &reconciler{
		log:          p.Log.Named("worker.reconciler"),
		db:           p.DB,
		cache:        p.Cache,
		entitlements: p.Entitlements,
		obsMetrics:   p.ObsMetrics,
		batch:        p.Cfg.Cache.ReconcileBatch,
	}

	runner := cron.New()
	_, err := runner.AddFunc(p.Cfg.Cache.ReconcileSpec, func() {
		if err := r.run(context.Background()); err != nil {
			r.log.Error("cache reconcile failed", zap.Error(err))
		}
	})
	if err != nil {
		r.log.Error("invalid reconcile schedule", zap.String("spec", p.Cfg.Cache.ReconcileSpec), zap.Error(err))
		return
	}

	p.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runner.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopCtx := runner.Stop()
			select {
			case <-stopCtx.Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
}

type customerRef struct {
	OrgID      snowflake.ID
	CustomerID snowflake.ID
}

func (r *reconciler) run(ctx context.Context) error {
	batch := r.batch
	if batch <= 0 {
		batch = 100
	}

	// Recent reporters are the customers whose cache is worth auditing.
	var refs []customerRef
	err := r.db.WithContext(ctx).
		Raw(`SELECT org_id, customer_id
		     FROM usage_events
		     GROUP BY org_id, customer_id
		     ORDER BY MAX(id) DESC
		     LIMIT ?`, batch).
		Scan(&refs).Error
	if err != nil {
		return err
	}

	drifted := 0
	for _, ref := range refs {
		orgCtx := orgcontext.WithOrgID(ctx, int64(ref.OrgID))

		if err := r.auditGroupOccupancy(orgCtx, ref); err != nil {
			r.log.Warn("occupancy audit failed",
				zap.String("customer_id", ref.CustomerID.String()),
				zap.Error(err),
			)
		}

		cached, hit := r.cache.Get(orgCtx, ref.OrgID.String(), ref.CustomerID.String(), "", "")
		if !hit {
			continue
		}

		fresh, err := r.entitlements.GetBalance(orgCtx, entitlementdomain.GetBalanceRequest{
			CustomerID: ref.CustomerID.String(),
			SkipCache:  true,
		})
		if err != nil {
			r.log.Warn("reconcile recompute failed",
				zap.String("customer_id", ref.CustomerID.String()),
				zap.Error(err),
			)
			continue
		}

		if viewsEqual(cached, fresh) {
			continue
		}

		drifted++
		r.cache.InvalidateCustomer(orgCtx, ref.OrgID.String(), ref.CustomerID.String())
		r.obsMetrics.RecordReconcileDrift(orgCtx)
		r.log.Warn("balance cache drift repaired",
			zap.String("org_id", ref.OrgID.String()),
			zap.String("customer_id", ref.CustomerID.String()),
		)
	}

	if drifted > 0 {
		r.log.Info("cache reconcile finished",
			zap.Int("checked", len(refs)),
			zap.Int("drifted", drifted),
		)
	}
	return nil
}

// auditGroupOccupancy reports every (group, entity) slot of one customer that
// holds more than one live main. Corruption is logged with full context and
// never repaired in place.
func (r *reconciler) auditGroupOccupancy(ctx context.Context, ref customerRef) error {
	type occupancyRow struct {
		GroupCode string
		EntityID  *int64
		Live      int64
	}

	var rows []occupancyRow
	err := r.db.WithContext(ctx).
		Table("customer_products").
		Select("group_code, entity_id, COUNT(*) AS live").
		Where("org_id = ? AND customer_id = ? AND is_add_on = ?", ref.OrgID, ref.CustomerID, false).
		Where("status IN ?", customerproductdomain.ActiveStatuses).
		Group("group_code, entity_id").
		Having("COUNT(*) > 1").
		Find(&rows).Error
	if err != nil {
		return err
	}

	for _, row := range rows {
		r.log.Error("multiple live mains in one product group",
			zap.String("org_id", ref.OrgID.String()),
			zap.String("customer_id", ref.CustomerID.String()),
			zap.String("group_code", row.GroupCode),
			zap.Any("entity_id", row.EntityID),
			zap.Int64("live_mains", row.Live),
			zap.Error(customerproductdomain.ErrInvariantViolation),
		)
	}
	return nil
}

func viewsEqual(a, b []entitlementdomain.BalanceView) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
