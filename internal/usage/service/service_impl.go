package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/clock"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	featurerepository "github.com/smallbiznis/entitle/internal/feature/repository"
	obsmetrics "github.com/smallbiznis/entitle/internal/observability/metrics"
	"github.com/smallbiznis/entitle/internal/orgcontext"
	"github.com/smallbiznis/entitle/internal/ratelimit"
	"github.com/smallbiznis/entitle/internal/usage/domain"
	"github.com/smallbiznis/entitle/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         domain.Repository
	Features     *featurerepository.Repository
	Entitlements entitlementdomain.Service
	Limiter      *ratelimit.UsageIngestLimiter `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics           `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID        *snowflake.Node
	clock        clock.Clock
	repo         domain.Repository
	features     *featurerepository.Repository
	entitlements entitlementdomain.Service
	limiter      *ratelimit.UsageIngestLimiter
	obsMetrics   *obsmetrics.Metrics
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		features:     p.Features,
		entitlements: p.Entitlements,
		limiter:      p.Limiter,
		obsMetrics:   p.ObsMetrics,
	}
}

// ReportUsage is the single ingestion path for metered usage. Replayed
// idempotency keys return the original outcome without touching balances; a
// report the balance engine rejects is recorded as REJECTED and changes
// nothing.
func (s *Service) ReportUsage(ctx context.Context, req domain.ReportUsageRequest) (*domain.ReportUsageResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	customerID, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil || customerID == 0 {
		return nil, domain.ErrInvalidCustomer
	}
	var entityID *snowflake.ID
	if strings.TrimSpace(req.EntityID) != "" {
		parsed, err := snowflake.ParseString(strings.TrimSpace(req.EntityID))
		if err != nil || parsed == 0 {
			return nil, domain.ErrInvalidEntity
		}
		entityID = &parsed
	}
	if req.Quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return nil, domain.ErrInvalidIdempotencyKey
	}

	allowed, err := s.limiter.AllowOrg(ctx, orgID.String())
	if err != nil {
		// Degrade open when the limiter backend is unreachable.
		s.log.Warn("usage limiter unavailable", zap.Error(err))
	} else if !allowed {
		return nil, domain.ErrRateLimited
	}

	feature, err := s.features.FindByCode(ctx, orgID, req.FeatureCode)
	if err != nil {
		return nil, err
	}
	if feature == nil {
		return nil, domain.ErrUnknownFeature
	}

	now := s.clock.Now()
	event := &domain.UsageEvent{
		ID:             s.genID.Generate(),
		OrgID:          orgID,
		IdempotencyKey: key,
		CustomerID:     customerID,
		EntityID:       entityID,
		FeatureID:      feature.ID,
		FeatureCode:    feature.Code,
		Quantity:       req.Quantity,
		Status:         domain.EventPending,
		ReportedAt:     now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	inserted, err := s.repo.InsertIdempotent(ctx, s.db, event)
	if err != nil {
		return nil, err
	}
	if !inserted {
		original, err := s.repo.FindByIdempotencyKey(ctx, s.db, orgID, key)
		if err != nil {
			return nil, err
		}
		if original == nil {
			return nil, domain.ErrInvalidIdempotencyKey
		}
		return &domain.ReportUsageResponse{Event: *original, Duplicate: true}, nil
	}

	deduction, err := s.entitlements.Deduct(ctx, entitlementdomain.DeductRequest{
		CustomerID: customerID,
		EntityID:   entityID,
		FeatureID:  feature.ID,
		Quantity:   req.Quantity,
	})
	if err != nil {
		reason := err.Error()
		event.Status = domain.EventRejected
		event.RejectReason = &reason
		event.UpdatedAt = s.clock.Now()
		if updateErr := s.repo.UpdateOutcome(ctx, s.db, event); updateErr != nil {
			s.log.Error("usage event outcome update failed",
				zap.String("event_id", event.ID.String()),
				zap.Error(updateErr),
			)
		}
		return nil, err
	}

	event.Status = domain.EventApplied
	event.Overage = deduction.Overage
	if raw, err := json.Marshal(deduction.Applied); err == nil {
		event.Applied = datatypes.JSON(raw)
	}
	event.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateOutcome(ctx, s.db, event); err != nil {
		return nil, err
	}

	s.obsMetrics.RecordUsageReport(ctx, feature.Code)

	return &domain.ReportUsageResponse{
		Event:     *event,
		Deduction: deduction,
	}, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ListResponse{}, domain.ErrInvalidOrganization
	}

	customerID, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil || customerID == 0 {
		return domain.ListResponse{}, domain.ErrInvalidCustomer
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 10
	}
	if pageSize > 250 {
		pageSize = 250
	}

	var beforeID snowflake.ID
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidIdempotencyKey
		}
		if cursor.ID != "" {
			beforeID, err = snowflake.ParseString(cursor.ID)
			if err != nil {
				return domain.ListResponse{}, domain.ErrInvalidIdempotencyKey
			}
		}
	}

	records, err := s.repo.ListPage(ctx, s.db, orgID, customerID, int(pageSize)+1, beforeID)
	if err != nil {
		return domain.ListResponse{}, err
	}

	refs := make([]*domain.UsageEvent, len(records))
	for i := range records {
		refs[i] = &records[i]
	}
	pageInfo := pagination.BuildCursorPageInfo(refs, pageSize, func(event *domain.UsageEvent) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: event.ID.String()})
		return token
	})
	if len(records) > int(pageSize) {
		records = records[:pageSize]
	}

	return domain.ListResponse{
		PageInfo: *pageInfo,
		Events:   records,
	}, nil
}
