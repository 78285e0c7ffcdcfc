package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/entitle/internal/customerproduct/domain"
	"github.com/smallbiznis/entitle/internal/orgcontext"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Attach creates one attachment of a product to a customer. Main products
// claim their group's slot (one occupying main per group and entity scope);
// add-ons stack freely. A scheduled attach parks the record in SCHEDULED with
// no grants; trials start in TRIALING with full grants.
func (s *Service) Attach(ctx context.Context, req domain.AttachProductRequest) (*domain.CustomerProduct, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	customerID, err := parseID(req.CustomerID, domain.ErrInvalidCustomer)
	if err != nil {
		return nil, err
	}
	productID, err := parseID(req.ProductID, domain.ErrInvalidProduct)
	if err != nil {
		return nil, err
	}

	var entityID *snowflake.ID
	if strings.TrimSpace(req.EntityID) != "" {
		parsed, err := parseID(req.EntityID, domain.ErrInvalidEntity)
		if err != nil {
			return nil, err
		}
		entityID = &parsed
	}

	if req.TrialDays != nil && *req.TrialDays <= 0 {
		return nil, domain.ErrInvalidTrialDays
	}
	if req.Scheduled && req.TrialDays != nil {
		return nil, domain.ErrInvalidTrialDays
	}

	product, err := s.products.FindByID(ctx, s.db, orgID, productID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, domain.ErrInvalidProduct
	}

	groupCode := product.GroupCode
	if groupCode == "" {
		groupCode = slug.Make(product.Code)
	}

	now := s.clock.Now()
	record := &domain.CustomerProduct{
		ID:             s.genID.Generate(),
		OrgID:          orgID,
		CustomerID:     customerID,
		EntityID:       entityID,
		ProductID:      product.ID,
		ProductVersion: product.Version,
		GroupCode:      groupCode,
		IsAddOn:        product.IsAddOn,
		IsFree:         product.IsFree,
		IsOneOff:       product.IsOneOff,
		StartsAt:       now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	switch {
	case req.Scheduled:
		record.Status = domain.StatusScheduled
	case req.TrialDays != nil:
		record.Status = domain.StatusTrialing
		trialEnd := now.AddDate(0, 0, *req.TrialDays)
		record.TrialEndsAt = &trialEnd
	default:
		record.Status = domain.StatusActive
	}

	if sub := strings.TrimSpace(req.ProcessorSubscriptionID); sub != "" {
		record.ProcessorSubscriptionID = &sub
	}
	if sched := strings.TrimSpace(req.ProcessorScheduleID); sched != "" {
		record.ProcessorScheduleID = &sched
	}
	if len(req.Options) > 0 {
		raw, err := json.Marshal(req.Options)
		if err != nil {
			return nil, err
		}
		record.Options = datatypes.JSON(raw)
	}

	err = s.locks.Do(attachKey(orgID, customerID, groupCode, entityID), func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if !record.IsAddOn {
				if record.Status == domain.StatusScheduled {
					// A scheduled main only makes sense queued behind a live or
					// expiring predecessor in its slot.
					occupants, err := s.repo.FindMainInGroup(ctx, tx, orgID, customerID, groupCode, entityID, domain.BalanceStatuses)
					if err != nil {
						return err
					}
					if len(occupants) == 0 {
						return domain.ErrNoGroupOccupant
					}
				} else {
					occupants, err := s.repo.FindMainInGroup(ctx, tx, orgID, customerID, groupCode, entityID, domain.ActiveStatuses)
					if err != nil {
						return err
					}
					if len(occupants) > 0 {
						return domain.ErrGroupOccupied
					}
				}
			}

			if err := s.repo.Insert(ctx, tx, record); err != nil {
				return err
			}

			if record.Status == domain.StatusScheduled {
				return nil
			}
			return s.grantFromCatalog(ctx, tx, record, req.Options, 0)
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, orgID, customerID)
	s.notify(ctx, record, "attach")
	s.obsMetrics.RecordActionRun(ctx, "attach")

	return record, nil
}

// grantFromCatalog materializes entitlements for cp from its product
// version's grant table.
func (s *Service) grantFromCatalog(ctx context.Context, tx *gorm.DB, cp *domain.CustomerProduct, options []domain.FeatureOption, carryFromID snowflake.ID) error {
	grants, err := s.products.ListGrants(ctx, tx, cp.OrgID, cp.ProductID, cp.ProductVersion)
	if err != nil {
		return err
	}
	if options == nil {
		options = decodeOptions(cp.Options)
	}
	_, err = s.entitlements.GrantForProduct(ctx, tx, cp, grants, options, carryFromID)
	return err
}

func decodeOptions(raw datatypes.JSON) []domain.FeatureOption {
	if len(raw) == 0 {
		return nil
	}
	var options []domain.FeatureOption
	if err := json.Unmarshal(raw, &options); err != nil {
		return nil
	}
	return options
}
