package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/balancecache"
	"github.com/smallbiznis/entitle/internal/clock"
	"github.com/smallbiznis/entitle/internal/customerproduct/domain"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	"github.com/smallbiznis/entitle/internal/keylock"
	"github.com/smallbiznis/entitle/internal/notification"
	obsmetrics "github.com/smallbiznis/entitle/internal/observability/metrics"
	"github.com/smallbiznis/entitle/internal/orgcontext"
	productrepository "github.com/smallbiznis/entitle/internal/product/repository"
	"github.com/smallbiznis/entitle/internal/proration"
	"github.com/smallbiznis/entitle/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         domain.Repository
	Products     *productrepository.Repository
	Entitlements entitlementdomain.Service
	Cache        balancecache.BalanceCache
	Locks        *keylock.KeyLock
	Notifier     notification.Notifier
	Prorator     proration.Prorator
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID        *snowflake.Node
	clock        clock.Clock
	repo         domain.Repository
	products     *productrepository.Repository
	entitlements entitlementdomain.Service
	cache        balancecache.BalanceCache
	locks        *keylock.KeyLock
	notifier     notification.Notifier
	prorator     proration.Prorator
	obsMetrics   *obsmetrics.Metrics
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("customerproduct.service"),

		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		products:     p.Products,
		entitlements: p.Entitlements,
		cache:        p.Cache,
		locks:        p.Locks,
		notifier:     p.Notifier,
		prorator:     p.Prorator,
		obsMetrics:   p.ObsMetrics,
	}
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ListResponse{}, domain.ErrInvalidOrganization
	}

	customerID, err := parseID(req.CustomerID, domain.ErrInvalidCustomer)
	if err != nil {
		return domain.ListResponse{}, err
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 10
	}
	if pageSize > 250 {
		pageSize = 250
	}

	var afterID snowflake.ID
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidCustomerProduct
		}
		if cursor.ID != "" {
			afterID, err = snowflake.ParseString(cursor.ID)
			if err != nil {
				return domain.ListResponse{}, domain.ErrInvalidCustomerProduct
			}
		}
	}

	records, err := s.repo.ListPage(ctx, s.db, orgID, customerID, domain.Status(strings.ToUpper(strings.TrimSpace(req.Status))), int(pageSize)+1, afterID)
	if err != nil {
		return domain.ListResponse{}, err
	}

	refs := make([]*domain.CustomerProduct, len(records))
	for i := range records {
		refs[i] = &records[i]
	}
	pageInfo := pagination.BuildCursorPageInfo(refs, pageSize, func(cp *domain.CustomerProduct) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: cp.ID.String()})
		return token
	})
	if len(records) > int(pageSize) {
		records = records[:pageSize]
	}

	return domain.ListResponse{
		PageInfo:         *pageInfo,
		CustomerProducts: records,
	}, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.CustomerProduct, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.CustomerProduct{}, domain.ErrInvalidOrganization
	}

	cpID, err := parseID(id, domain.ErrInvalidCustomerProduct)
	if err != nil {
		return domain.CustomerProduct{}, err
	}

	record, err := s.repo.FindByID(ctx, s.db, orgID, cpID)
	if err != nil {
		return domain.CustomerProduct{}, err
	}
	if record == nil {
		return domain.CustomerProduct{}, domain.ErrNotFound
	}
	return *record, nil
}

// transition moves cp to the target status after checking the lifecycle graph.
func (s *Service) transition(cp *domain.CustomerProduct, to domain.Status) error {
	if !canTransition(cp.Status, to) {
		s.log.Warn("rejected lifecycle transition",
			zap.String("customer_product_id", cp.ID.String()),
			zap.String("from", string(cp.Status)),
			zap.String("to", string(to)),
		)
		return domain.ErrInvalidTransition
	}
	cp.Status = to
	return nil
}

func (s *Service) invalidate(ctx context.Context, orgID, customerID snowflake.ID) {
	if s.cache == nil {
		return
	}
	s.cache.InvalidateCustomer(ctx, orgID.String(), customerID.String())
}

// notify publishes after the surrounding transaction committed. Dispatch
// failures never surface to the caller.
func (s *Service) notify(ctx context.Context, cp *domain.CustomerProduct, action string) {
	if s.notifier == nil {
		return
	}
	s.notifier.ProductsUpdated(ctx, notification.ProductsUpdatedEvent{
		OrgID:             cp.OrgID,
		CustomerID:        cp.CustomerID,
		EntityID:          cp.EntityID,
		CustomerProductID: cp.ID,
		Action:            action,
		Status:            string(cp.Status),
		OccurredAt:        s.clock.Now(),
	})
}

func lifecycleKey(orgID, id snowflake.ID) string {
	return fmt.Sprintf("cp:%s:%s", orgID, id)
}

func attachKey(orgID, customerID snowflake.ID, groupCode string, entityID *snowflake.ID) string {
	scope := "-"
	if entityID != nil {
		scope = entityID.String()
	}
	return fmt.Sprintf("attach:%s:%s:%s:%s", orgID, customerID, groupCode, scope)
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}
