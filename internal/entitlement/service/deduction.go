package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	customerproductdomain "github.com/smallbiznis/entitle/internal/customerproduct/domain"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	"github.com/smallbiznis/entitle/internal/orgcontext"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// applyAttempts bounds the optimistic retry loop when concurrent deductions
// race on the same rows.
const applyAttempts = 3

type deductionPlan struct {
	target   *entitlementdomain.CustomerEntitlement
	quantity float64
}

// Deduct spreads a usage quantity across the contributing entitlements of one
// feature. Scope ordering: an entity event drains the entity's own grants
// before customer-level grants and never touches sibling entities; a
// customer-level event drains customer-level grants before entity grants in
// ascending entity order. Any remainder lands on the first overage-allowed
// grant in that order, or the whole call fails with no rows changed.
func (s *Service) Deduct(ctx context.Context, req entitlementdomain.DeductRequest) (*entitlementdomain.DeductResult, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, entitlementdomain.ErrInvalidOrganization
	}
	if req.CustomerID == 0 {
		return nil, entitlementdomain.ErrInvalidCustomer
	}
	if req.FeatureID == 0 {
		return nil, entitlementdomain.ErrInvalidFeature
	}
	if req.Quantity <= 0 {
		return nil, entitlementdomain.ErrInvalidQuantity
	}

	var result *entitlementdomain.DeductResult
	err := s.locks.Do(deductKey(orgID, req.CustomerID, req.FeatureID), func() error {
		var attemptErr error
		for attempt := 0; attempt < applyAttempts; attempt++ {
			result, attemptErr = s.deductOnce(ctx, orgID, req)
			if attemptErr != entitlementdomain.ErrConflict {
				return attemptErr
			}
			s.log.Debug("deduction retry on version conflict",
				zap.String("customer_id", req.CustomerID.String()),
				zap.String("feature_id", req.FeatureID.String()),
				zap.Int("attempt", attempt+1),
			)
		}
		return attemptErr
	})
	if err != nil {
		return nil, err
	}

	// The store changed; every cached view of this customer is now stale.
	s.invalidate(ctx, orgID, req.CustomerID)
	s.obsMetrics.RecordDeduction(ctx, len(result.Applied))

	return result, nil
}

func (s *Service) deductOnce(ctx context.Context, orgID snowflake.ID, req entitlementdomain.DeductRequest) (*entitlementdomain.DeductResult, error) {
	records, err := s.repo.ListContributing(ctx, s.db, orgID, req.CustomerID, req.FeatureID, customerproductdomain.BalanceStatuses)
	if err != nil {
		return nil, err
	}

	targets := orderTargets(records, req.EntityID)
	if len(targets) == 0 {
		return nil, entitlementdomain.ErrEntitlementNotFound
	}

	plans, overage, err := planDeduction(targets, req.Quantity)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, plan := range plans {
			ok, err := s.repo.ApplyUsage(ctx, tx, plan.target.ID, plan.quantity, plan.target.RowVersion, s.clock.Now())
			if err != nil {
				return err
			}
			if !ok {
				return entitlementdomain.ErrConflict
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &entitlementdomain.DeductResult{Overage: overage}
	for _, plan := range plans {
		result.Applied = append(result.Applied, entitlementdomain.DeductionLine{
			EntitlementID: plan.target.ID,
			EntityID:      plan.target.EntityID,
			Quantity:      plan.quantity,
		})
	}
	return result, nil
}

// orderTargets selects and orders the grants a deduction may touch.
// ListContributing returns customer-level grants first, then entity grants in
// ascending entity order, which is already the customer-event precedence. For
// an entity event the entity's own grants are promoted to the front and every
// other entity's grants are excluded.
func orderTargets(records []entitlementdomain.CustomerEntitlement, entityID *snowflake.ID) []*entitlementdomain.CustomerEntitlement {
	if entityID == nil {
		targets := make([]*entitlementdomain.CustomerEntitlement, 0, len(records))
		for i := range records {
			targets = append(targets, &records[i])
		}
		return targets
	}

	var own, customerLevel []*entitlementdomain.CustomerEntitlement
	for i := range records {
		record := &records[i]
		switch {
		case record.EntityID == nil:
			customerLevel = append(customerLevel, record)
		case *record.EntityID == *entityID:
			own = append(own, record)
		}
	}
	return append(own, customerLevel...)
}

// planDeduction spreads quantity over targets without mutating anything.
// Unlimited grants absorb everything left; capped grants absorb up to their
// positive remaining balance; the final remainder goes to the first
// overage-allowed grant and is reported as overage.
func planDeduction(targets []*entitlementdomain.CustomerEntitlement, quantity float64) ([]deductionPlan, float64, error) {
	remainder := quantity
	planned := make(map[snowflake.ID]int)
	var plans []deductionPlan

	for _, target := range targets {
		if remainder <= 0 {
			break
		}

		var take float64
		if target.Unlimited {
			take = remainder
		} else {
			remaining := target.Remaining()
			if remaining <= 0 {
				continue
			}
			take = remaining
			if remainder < take {
				take = remainder
			}
		}

		planned[target.ID] = len(plans)
		plans = append(plans, deductionPlan{target: target, quantity: take})
		remainder -= take
	}

	if remainder <= 0 {
		return plans, 0, nil
	}

	for _, target := range targets {
		if target.Unlimited || !target.UsageAllowed {
			continue
		}
		if idx, ok := planned[target.ID]; ok {
			plans[idx].quantity += remainder
		} else {
			plans = append(plans, deductionPlan{target: target, quantity: remainder})
		}
		return plans, remainder, nil
	}

	return nil, 0, entitlementdomain.ErrInsufficientBalance
}

func deductKey(orgID, customerID, featureID snowflake.ID) string {
	return fmt.Sprintf("deduct:%s:%s:%s", orgID, customerID, featureID)
}
