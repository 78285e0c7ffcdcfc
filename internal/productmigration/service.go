package productmigration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/balancecache"
	"github.com/smallbiznis/entitle/internal/clock"
	customerproductdomain "github.com/smallbiznis/entitle/internal/customerproduct/domain"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	"github.com/smallbiznis/entitle/internal/keylock"
	obsmetrics "github.com/smallbiznis/entitle/internal/observability/metrics"
	"github.com/smallbiznis/entitle/internal/orgcontext"
	productdomain "github.com/smallbiznis/entitle/internal/product/domain"
	productrepository "github.com/smallbiznis/entitle/internal/product/repository"
	"github.com/smallbiznis/entitle/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	defaultBatchSize   = 200
	defaultConcurrency = 8
	migrationLockTTL   = 10 * time.Minute
)

// migratableStatuses are the states worth moving. Scheduled rows are repointed
// without grants (they have none yet); EXPIRED and DELETED stay where history
// left them.
var migratableStatuses = []customerproductdomain.Status{
	customerproductdomain.StatusScheduled,
	customerproductdomain.StatusTrialing,
	customerproductdomain.StatusActive,
	customerproductdomain.StatusPastDue,
	customerproductdomain.StatusCanceling,
}

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Products     *productrepository.Repository
	Attachments  customerproductdomain.Repository
	Entitlements entitlementdomain.Service
	EntRepo      entitlementdomain.Repository
	Cache        balancecache.BalanceCache
	Locks        *keylock.KeyLock
	Locker       *ratelimit.Locker `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type orchestrator struct {
	db  *gorm.DB
	log *zap.Logger

	clock        clock.Clock
	products     *productrepository.Repository
	attachments  customerproductdomain.Repository
	entitlements entitlementdomain.Service
	entRepo      entitlementdomain.Repository
	cache        balancecache.BalanceCache
	locks        *keylock.KeyLock
	locker       *ratelimit.Locker
	obsMetrics   *obsmetrics.Metrics
}

func NewService(p ServiceParam) Service {
	return &orchestrator{
		db:  p.DB,
		log: p.Log.Named("productmigration.service"),

		clock:        p.Clock,
		products:     p.Products,
		attachments:  p.Attachments,
		entitlements: p.Entitlements,
		entRepo:      p.EntRepo,
		cache:        p.Cache,
		locks:        p.Locks,
		locker:       p.Locker,
		obsMetrics:   p.ObsMetrics,
	}
}

func (o *orchestrator) MigrateVersion(ctx context.Context, req MigrateRequest) (*MigrateResult, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, ErrInvalidOrganization
	}

	productID, err := snowflake.ParseString(req.ProductID)
	if err != nil || productID == 0 {
		return nil, ErrInvalidProduct
	}
	if req.FromVersion <= 0 || req.ToVersion <= 0 || req.FromVersion == req.ToVersion {
		return nil, ErrInvalidVersion
	}

	product, err := o.products.FindByID(ctx, o.db, orgID, productID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, ErrInvalidProduct
	}

	targetGrants, err := o.products.ListGrants(ctx, o.db, orgID, productID, req.ToVersion)
	if err != nil {
		return nil, err
	}
	if len(targetGrants) == 0 {
		return nil, ErrInvalidVersion
	}

	// Fence concurrent orchestrator runs across processes when redis is
	// around; a single process is already serialized per attachment below.
	if o.locker != nil {
		lockKey := fmt.Sprintf("migrate:%s:%s:%d:%d", orgID, productID, req.FromVersion, req.ToVersion)
		token, acquired, err := o.locker.TryLock(ctx, lockKey, migrationLockTTL)
		if err != nil {
			return nil, err
		}
		if !acquired {
			return nil, ErrAlreadyRunning
		}
		defer func() {
			if err := o.locker.Release(ctx, lockKey, token); err != nil {
				o.log.Warn("migration lock release failed", zap.Error(err))
			}
		}()
	}

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	result := &MigrateResult{}
	var mu sync.Mutex

	var afterID snowflake.ID
	for {
		page, err := o.attachments.ListByProductVersion(ctx, o.db, orgID, productID, req.FromVersion, migratableStatuses, batchSize, afterID)
		if err != nil {
			return result, err
		}
		if len(page) == 0 {
			break
		}
		afterID = page[len(page)-1].ID

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(concurrency)
		for i := range page {
			cp := page[i]
			group.Go(func() error {
				moved, err := o.migrateOne(groupCtx, orgID, cp.ID, req.ToVersion, targetGrants)
				mu.Lock()
				defer mu.Unlock()
				result.Scanned++
				switch {
				case err != nil:
					result.Failed++
					o.log.Error("attachment migration failed",
						zap.String("customer_product_id", cp.ID.String()),
						zap.Error(err),
					)
				case moved:
					result.Migrated++
				default:
					result.Skipped++
				}
				// Per-attachment failures are tallied, not fatal; the run is
				// re-entrant.
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return result, err
		}

		if len(page) < batchSize {
			break
		}
	}

	o.obsMetrics.RecordMigrationMoves(ctx, result.Migrated)
	o.log.Info("product version migration finished",
		zap.String("product_id", productID.String()),
		zap.Int("from_version", req.FromVersion),
		zap.Int("to_version", req.ToVersion),
		zap.Int("scanned", result.Scanned),
		zap.Int("migrated", result.Migrated),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// migrateOne moves a single attachment to the target version: new grants are
// inserted with usage carried over, the old grants are superseded by their
// same-feature successors, and the row is repointed. Everything happens in one
// transaction under the attachment's lock.
func (o *orchestrator) migrateOne(ctx context.Context, orgID, customerProductID snowflake.ID, toVersion int, grants []productdomain.ProductFeature) (bool, error) {
	moved := false
	var customerID snowflake.ID

	err := o.locks.Do("cp:"+orgID.String()+":"+customerProductID.String(), func() error {
		return o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			cp, err := o.attachments.FindByIDForUpdate(ctx, tx, orgID, customerProductID)
			if err != nil {
				return err
			}
			// Gone or already on the target version: nothing to do.
			if cp == nil || cp.ProductVersion == toVersion {
				return nil
			}
			if !statusIn(cp.Status, migratableStatuses) {
				return nil
			}

			customerID = cp.CustomerID
			now := o.clock.Now()

			cp.ProductVersion = toVersion
			cp.UpdatedAt = now
			if err := o.attachments.UpdateLifecycle(ctx, tx, cp); err != nil {
				return err
			}

			// Scheduled attachments have no grants yet; activation will read
			// the new version's grant table.
			if cp.Status == customerproductdomain.StatusScheduled {
				moved = true
				return nil
			}

			old, err := o.entRepo.ListByCustomerProduct(ctx, tx, orgID, cp.ID)
			if err != nil {
				return err
			}

			created, err := o.entitlements.GrantForProduct(ctx, tx, cp, grants, nil, cp.ID)
			if err != nil {
				return err
			}

			successorByFeature := make(map[snowflake.ID]snowflake.ID, len(created))
			for _, record := range created {
				successorByFeature[record.FeatureID] = record.ID
			}
			for _, predecessor := range old {
				if err := o.entRepo.Supersede(ctx, tx, predecessor.ID, successorByFeature[predecessor.FeatureID], now); err != nil {
					return err
				}
			}

			moved = true
			return nil
		})
	})
	if err != nil {
		return false, err
	}

	if moved && o.cache != nil && customerID != 0 {
		o.cache.InvalidateCustomer(ctx, orgID.String(), customerID.String())
	}
	return moved, nil
}

func statusIn(status customerproductdomain.Status, statuses []customerproductdomain.Status) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}
