package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/customerproduct/domain"
	"github.com/smallbiznis/entitle/internal/orgcontext"
	"github.com/smallbiznis/entitle/internal/proration"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Cancel marks an attachment for end-of-cycle expiry, or expires it now when
// Immediate is set. Canceling attachments keep serving balances until the
// boundary; immediate cancellation runs the full expiry path including
// default-product succession.
func (s *Service) Cancel(ctx context.Context, req domain.CancelProductRequest) (*domain.ActionResult, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	cpID, err := parseID(req.CustomerProductID, domain.ErrInvalidCustomerProduct)
	if err != nil {
		return nil, err
	}

	if req.Immediate {
		return s.ExpireAndActivateDefault(ctx, cpID)
	}

	var record *domain.CustomerProduct
	err = s.locks.Do(lifecycleKey(orgID, cpID), func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			record, err = s.repo.FindByIDForUpdate(ctx, tx, orgID, cpID)
			if err != nil {
				return err
			}
			if record == nil {
				return domain.ErrNotFound
			}
			if record.Status == domain.StatusCanceling {
				return nil // already canceling; idempotent
			}
			if record.Status == domain.StatusScheduled {
				// A never-activated attachment just disappears.
				record.Status = domain.StatusDeleted
				return s.repo.HardDelete(ctx, tx, orgID, cpID)
			}
			if err := s.transition(record, domain.StatusCanceling); err != nil {
				return err
			}
			now := s.clock.Now()
			record.CanceledAt = &now
			record.UpdatedAt = now
			return s.repo.UpdateLifecycle(ctx, tx, record)
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, orgID, record.CustomerID)
	s.notify(ctx, record, "cancel")
	s.obsMetrics.RecordActionRun(ctx, "cancel")

	return &domain.ActionResult{
		CustomerProductID: record.ID,
		Status:            record.Status,
		Successor:         domain.SuccessorNone,
	}, nil
}

// UpdateQuantity changes the purchased quantity of one feature on a live
// attachment. The proration hook fires exactly once per applied change, after
// commit, with the before and after grant snapshots.
func (s *Service) UpdateQuantity(ctx context.Context, req domain.UpdateQuantityRequest) (*domain.CustomerProduct, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	cpID, err := parseID(req.CustomerProductID, domain.ErrInvalidCustomerProduct)
	if err != nil {
		return nil, err
	}
	featureID, err := parseID(req.FeatureID, domain.ErrInvalidCustomerProduct)
	if err != nil {
		return nil, err
	}
	if req.Quantity < 0 {
		return nil, domain.ErrInvalidQuantity
	}

	var (
		record  *domain.CustomerProduct
		change  *proration.QuantityChange
		applied bool
	)
	err = s.locks.Do(lifecycleKey(orgID, cpID), func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			record, err = s.repo.FindByIDForUpdate(ctx, tx, orgID, cpID)
			if err != nil {
				return err
			}
			if record == nil {
				return domain.ErrNotFound
			}
			if !statusIn(record.Status, domain.BalanceStatuses) {
				return domain.ErrInvalidTransition
			}

			before, after, err := s.entitlements.SetPurchasedQuantity(ctx, tx, cpID, featureID, req.Quantity)
			if err != nil {
				return err
			}
			if before.Purchased == after.Purchased {
				return nil // no-op change; skip proration
			}

			applied = true
			change = &proration.QuantityChange{
				OrgID:             orgID,
				CustomerID:        record.CustomerID,
				CustomerProductID: record.ID,
				FeatureID:         featureID,
				Before:            before.Purchased,
				After:             after.Purchased,
				At:                s.clock.Now(),
			}
			record.UpdatedAt = change.At
			return s.repo.UpdateLifecycle(ctx, tx, record)
		})
	})
	if err != nil {
		return nil, err
	}

	if applied {
		s.invalidate(ctx, orgID, record.CustomerID)
		if err := s.prorator.OnQuantityChange(ctx, *change); err != nil {
			// The quantity change is committed; billing reconciles later.
			s.log.Error("proration hook failed",
				zap.String("customer_product_id", record.ID.String()),
				zap.Error(err),
			)
		}
		s.notify(ctx, record, "quantity_update")
	}

	return record, nil
}

// ActivateScheduled turns a SCHEDULED attachment live, claiming the group slot
// and materializing its grants. Re-running on an already-active record is a
// no-op.
func (s *Service) ActivateScheduled(ctx context.Context, customerProductID snowflake.ID, params domain.ActivateScheduledParams) (*domain.ActionResult, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	var record *domain.CustomerProduct
	err := s.locks.Do(lifecycleKey(orgID, customerProductID), func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			record, err = s.repo.FindByIDForUpdate(ctx, tx, orgID, customerProductID)
			if err != nil {
				return err
			}
			if record == nil {
				return domain.ErrNotFound
			}
			if record.Status == domain.StatusActive {
				return nil // already activated
			}
			if record.Status != domain.StatusScheduled {
				return domain.ErrInvalidTransition
			}
			return s.activateTx(ctx, tx, record, params, s.clock.Now(), 0)
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, orgID, record.CustomerID)
	s.notify(ctx, record, "activate")
	s.obsMetrics.RecordActionRun(ctx, "activate_scheduled")

	return &domain.ActionResult{
		CustomerProductID: record.ID,
		Status:            record.Status,
		Successor:         domain.SuccessorNone,
	}, nil
}

// activateTx flips a scheduled record to ACTIVE inside tx: the group slot must
// be free, then the row moves and grants are created with the replaced
// attachment's usage and rollover carried onto them. carryFromID zero means
// the predecessor is not known to the caller; the most recently expired main
// in the same slot is used instead.
func (s *Service) activateTx(ctx context.Context, tx *gorm.DB, record *domain.CustomerProduct, params domain.ActivateScheduledParams, now time.Time, carryFromID snowflake.ID) error {
	if !record.IsAddOn {
		occupants, err := s.repo.FindMainInGroup(ctx, tx, record.OrgID, record.CustomerID, record.GroupCode, record.EntityID, domain.ActiveStatuses)
		if err != nil {
			return err
		}
		others := 0
		for _, occupant := range occupants {
			if occupant.ID != record.ID {
				others++
			}
		}
		if others > 1 {
			// The store already holds more than one live main for this slot.
			// Never silently corrected; surface it with full context.
			s.log.Error("multiple live mains in one product group",
				zap.String("org_id", record.OrgID.String()),
				zap.String("customer_id", record.CustomerID.String()),
				zap.String("group_code", record.GroupCode),
				zap.Any("entity_id", record.EntityID),
				zap.Int("live_mains", others),
			)
			return domain.ErrInvariantViolation
		}
		if others == 1 {
			return domain.ErrGroupOccupied
		}
	}

	if carryFromID == 0 && !record.IsAddOn {
		predecessor, err := s.repo.FindLatestExpiredMainInGroup(ctx, tx, record.OrgID, record.CustomerID, record.GroupCode, record.EntityID)
		if err != nil {
			return err
		}
		if predecessor != nil {
			carryFromID = predecessor.ID
		}
	}

	if err := s.transition(record, domain.StatusActive); err != nil {
		return err
	}
	record.StartsAt = now
	record.UpdatedAt = now
	if sub := strings.TrimSpace(params.ProcessorSubscriptionID); sub != "" {
		record.ProcessorSubscriptionID = &sub
	}
	if sched := strings.TrimSpace(params.ProcessorScheduleID); sched != "" {
		record.ProcessorScheduleID = &sched
	}

	if err := s.repo.UpdateLifecycle(ctx, tx, record); err != nil {
		return err
	}
	return s.grantFromCatalog(ctx, tx, record, nil, carryFromID)
}

// ExpireAndActivateDefault expires an attachment and fills the vacated group
// slot: a queued SCHEDULED main is activated if one exists, otherwise the
// org's free default product is attached fresh. Expiring an add-on or one-off
// never triggers succession.
func (s *Service) ExpireAndActivateDefault(ctx context.Context, customerProductID snowflake.ID) (*domain.ActionResult, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	var (
		record    *domain.CustomerProduct
		successor *domain.CustomerProduct
		outcome   = domain.SuccessorNone
	)
	err := s.locks.Do(lifecycleKey(orgID, customerProductID), func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			record, err = s.repo.FindByIDForUpdate(ctx, tx, orgID, customerProductID)
			if err != nil {
				return err
			}
			if record == nil {
				return domain.ErrNotFound
			}
			if record.Status == domain.StatusExpired {
				return nil // already expired
			}
			if err := s.transition(record, domain.StatusExpired); err != nil {
				return err
			}

			now := s.clock.Now()
			record.ExpiredAt = &now
			record.UpdatedAt = now
			if err := s.repo.UpdateLifecycle(ctx, tx, record); err != nil {
				return err
			}

			if record.IsAddOn || record.IsOneOff {
				return nil
			}

			successor, outcome, err = s.fillGroupSlot(ctx, tx, record, now)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, orgID, record.CustomerID)
	s.notify(ctx, record, "expire")
	if successor != nil {
		s.notify(ctx, successor, "activate")
	}
	s.obsMetrics.RecordActionRun(ctx, "expire")

	result := &domain.ActionResult{
		CustomerProductID: record.ID,
		Status:            record.Status,
		Successor:         outcome,
	}
	if successor != nil {
		result.SuccessorID = successor.ID
	}
	return result, nil
}

// fillGroupSlot finds or creates the successor for a vacated main slot. A free
// scheduled main queued in the group activates with the expired attachment's
// consumption carried over; every other scheduled main was queued behind the
// now-gone occupant and is deleted outright.
func (s *Service) fillGroupSlot(ctx context.Context, tx *gorm.DB, expired *domain.CustomerProduct, now time.Time) (*domain.CustomerProduct, domain.SuccessorOutcome, error) {
	scheduled, err := s.repo.FindMainInGroup(ctx, tx, expired.OrgID, expired.CustomerID, expired.GroupCode, expired.EntityID, []domain.Status{domain.StatusScheduled})
	if err != nil {
		return nil, domain.SuccessorNone, err
	}

	var next *domain.CustomerProduct
	for i := range scheduled {
		if next == nil && scheduled[i].IsFree {
			next = &scheduled[i]
			continue
		}
		if err := s.repo.HardDelete(ctx, tx, expired.OrgID, scheduled[i].ID); err != nil {
			return nil, domain.SuccessorNone, err
		}
	}
	if next != nil {
		if err := s.activateTx(ctx, tx, next, domain.ActivateScheduledParams{}, now, expired.ID); err != nil {
			return nil, domain.SuccessorNone, err
		}
		return next, domain.SuccessorActivated, nil
	}

	free, err := s.products.FindFreeDefault(ctx, tx, expired.OrgID)
	if err != nil {
		return nil, domain.SuccessorNone, err
	}
	// No default configured, or the default itself just expired: leave the
	// slot empty.
	if free == nil || free.ID == expired.ProductID {
		return nil, domain.SuccessorNone, nil
	}

	groupCode := free.GroupCode
	if groupCode == "" {
		groupCode = expired.GroupCode
	}
	if groupCode != expired.GroupCode {
		return nil, domain.SuccessorNone, nil
	}

	next = &domain.CustomerProduct{
		ID:             s.genID.Generate(),
		OrgID:          expired.OrgID,
		CustomerID:     expired.CustomerID,
		EntityID:       expired.EntityID,
		ProductID:      free.ID,
		ProductVersion: free.Version,
		GroupCode:      groupCode,
		Status:         domain.StatusActive,
		IsFree:         true,
		StartsAt:       now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Insert(ctx, tx, next); err != nil {
		return nil, domain.SuccessorNone, err
	}
	// Consumption history survives the drop to the default tier.
	if err := s.grantFromCatalog(ctx, tx, next, nil, expired.ID); err != nil {
		return nil, domain.SuccessorNone, err
	}
	return next, domain.SuccessorInserted, nil
}

func statusIn(status domain.Status, statuses []domain.Status) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}
