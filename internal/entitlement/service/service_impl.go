package service

import (
	"context"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/balancecache"
	"github.com/smallbiznis/entitle/internal/clock"
	customerproductdomain "github.com/smallbiznis/entitle/internal/customerproduct/domain"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	featurerepository "github.com/smallbiznis/entitle/internal/feature/repository"
	"github.com/smallbiznis/entitle/internal/keylock"
	obsmetrics "github.com/smallbiznis/entitle/internal/observability/metrics"
	"github.com/smallbiznis/entitle/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       entitlementdomain.Repository
	Features   *featurerepository.Repository
	Cache      balancecache.BalanceCache
	Locks      *keylock.KeyLock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	clock      clock.Clock
	repo       entitlementdomain.Repository
	features   *featurerepository.Repository
	cache      balancecache.BalanceCache
	locks      *keylock.KeyLock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) entitlementdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("entitlement.service"),

		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		features:   p.Features,
		cache:      p.Cache,
		locks:      p.Locks,
		obsMetrics: p.ObsMetrics,
	}
}

// GetBalance aggregates balances for a (customer, optional entity, optional
// feature) key. Without skipCache, reads are served from the balance cache and
// recomputed on miss; with skipCache, the entitlement store is always the source.
func (s *Service) GetBalance(ctx context.Context, req entitlementdomain.GetBalanceRequest) ([]entitlementdomain.BalanceView, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, entitlementdomain.ErrInvalidOrganization
	}

	customerID, err := parseID(req.CustomerID, entitlementdomain.ErrInvalidCustomer)
	if err != nil {
		return nil, err
	}

	var entityID *snowflake.ID
	if strings.TrimSpace(req.EntityID) != "" {
		parsed, err := parseID(req.EntityID, entitlementdomain.ErrInvalidEntity)
		if err != nil {
			return nil, err
		}
		entityID = &parsed
	}

	var featureID snowflake.ID
	if strings.TrimSpace(req.FeatureID) != "" {
		featureID, err = parseID(req.FeatureID, entitlementdomain.ErrInvalidFeature)
		if err != nil {
			return nil, err
		}
	}

	if !req.SkipCache && s.cache != nil {
		if views, hit := s.cache.Get(ctx, orgID.String(), req.CustomerID, req.EntityID, req.FeatureID); hit {
			s.obsMetrics.RecordCacheHit(ctx, true)
			return views, nil
		}
		s.obsMetrics.RecordCacheHit(ctx, false)
	}

	views, err := s.computeViews(ctx, s.db, orgID, customerID, entityID, featureID)
	if err != nil {
		return nil, err
	}

	if !req.SkipCache && s.cache != nil {
		s.cache.Set(ctx, orgID.String(), req.CustomerID, req.EntityID, req.FeatureID, views)
	}

	return views, nil
}

// computeViews rebuilds balance views from the entitlement store.
func (s *Service) computeViews(
	ctx context.Context,
	db *gorm.DB,
	orgID, customerID snowflake.ID,
	entityID *snowflake.ID,
	featureID snowflake.ID,
) ([]entitlementdomain.BalanceView, error) {
	records, err := s.repo.ListContributing(ctx, db, orgID, customerID, featureID, customerproductdomain.BalanceStatuses)
	if err != nil {
		return nil, err
	}

	grouped := make(map[snowflake.ID][]entitlementdomain.CustomerEntitlement)
	var order []snowflake.ID
	for _, record := range records {
		if entityID != nil && record.EntityID != nil && *record.EntityID != *entityID {
			// Entity view: own grants plus customer-level grants only.
			continue
		}
		if _, seen := grouped[record.FeatureID]; !seen {
			order = append(order, record.FeatureID)
		}
		grouped[record.FeatureID] = append(grouped[record.FeatureID], record)
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	views := make([]entitlementdomain.BalanceView, 0, len(order))
	for _, fid := range order {
		views = append(views, buildView(customerID, entityID, fid, grouped[fid]))
	}
	return views, nil
}

func buildView(customerID snowflake.ID, entityID *snowflake.ID, featureID snowflake.ID, records []entitlementdomain.CustomerEntitlement) entitlementdomain.BalanceView {
	view := entitlementdomain.BalanceView{
		CustomerID: customerID,
		EntityID:   entityID,
		FeatureID:  featureID,
	}

	for i := range records {
		record := &records[i]
		line := entitlementdomain.Line(record)

		if view.FeatureCode == "" {
			view.FeatureCode = record.FeatureCode
			view.Kind = line.Kind
		}
		if line.Kind == entitlementdomain.BalanceUnlimited {
			view.Unlimited = true
			view.Kind = entitlementdomain.BalanceUnlimited
		}

		view.Granted += line.Granted
		view.Purchased += line.Purchased
		view.Rollover += line.Rollover
		view.Used += line.Used
		if !line.Unlimited {
			view.Balance += line.Balance
		}
		if line.NextResetAt != nil && (view.NextResetAt == nil || line.NextResetAt.Before(*view.NextResetAt)) {
			view.NextResetAt = line.NextResetAt
		}

		view.Breakdown = append(view.Breakdown, line)
	}

	return view
}

func (s *Service) invalidate(ctx context.Context, orgID, customerID snowflake.ID) {
	if s.cache == nil {
		return
	}
	s.cache.InvalidateCustomer(ctx, orgID.String(), customerID.String())
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}
