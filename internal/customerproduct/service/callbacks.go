package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/customerproduct/domain"
	"github.com/smallbiznis/entitle/internal/orgcontext"
	"gorm.io/gorm"
)

// OnSubscriptionRenewed records a successful payment on the processor
// subscription: a PAST_DUE or TRIALING attachment returns to ACTIVE. Renewal
// of an already-active attachment is a no-op.
func (s *Service) OnSubscriptionRenewed(ctx context.Context, processorSubscriptionID string) error {
	return s.onProcessorEvent(ctx, processorSubscriptionID, "renew", func(record *domain.CustomerProduct, now time.Time) (bool, error) {
		switch record.Status {
		case domain.StatusActive:
			return false, nil
		case domain.StatusPastDue, domain.StatusTrialing, domain.StatusCanceling:
			if err := s.transition(record, domain.StatusActive); err != nil {
				return false, err
			}
			record.TrialEndsAt = nil
			record.CanceledAt = nil
			record.UpdatedAt = now
			return true, nil
		default:
			return false, domain.ErrInvalidTransition
		}
	})
}

// OnPaymentFailed moves a live attachment to PAST_DUE. Balances keep serving;
// repeated failures are no-ops until the processor gives up and expires the
// subscription.
func (s *Service) OnPaymentFailed(ctx context.Context, processorSubscriptionID string) error {
	return s.onProcessorEvent(ctx, processorSubscriptionID, "payment_failed", func(record *domain.CustomerProduct, now time.Time) (bool, error) {
		switch record.Status {
		case domain.StatusPastDue:
			return false, nil
		case domain.StatusActive, domain.StatusTrialing:
			if err := s.transition(record, domain.StatusPastDue); err != nil {
				return false, err
			}
			record.UpdatedAt = now
			return true, nil
		default:
			return false, domain.ErrInvalidTransition
		}
	})
}

// OnCycleBoundary fires when the billing period of one attachment rolls over.
// A CANCELING attachment expires here, with group succession; anything else
// keeps its state, entitlement resets run on the sweep schedule.
func (s *Service) OnCycleBoundary(ctx context.Context, customerProductID snowflake.ID, at time.Time) (*domain.ActionResult, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	record, err := s.repo.FindByID(ctx, s.db, orgID, customerProductID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrNotFound
	}

	if record.Status == domain.StatusCanceling {
		return s.ExpireAndActivateDefault(ctx, customerProductID)
	}

	if record.Status == domain.StatusTrialing && record.TrialEndsAt != nil && !record.TrialEndsAt.After(at) {
		// Trial ran out without a conversion event.
		return s.ExpireAndActivateDefault(ctx, customerProductID)
	}

	s.obsMetrics.RecordActionRun(ctx, "cycle_boundary")
	return &domain.ActionResult{
		CustomerProductID: record.ID,
		Status:            record.Status,
		Successor:         domain.SuccessorNone,
	}, nil
}

// onProcessorEvent looks up the attachment by processor subscription id and
// applies mutate under the row lock. mutate reports whether anything changed.
func (s *Service) onProcessorEvent(ctx context.Context, processorSubscriptionID, action string, mutate func(*domain.CustomerProduct, time.Time) (bool, error)) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.ErrInvalidOrganization
	}

	record, err := s.repo.FindByProcessorSubscriptionID(ctx, s.db, orgID, processorSubscriptionID)
	if err != nil {
		return err
	}
	if record == nil {
		return domain.ErrNotFound
	}

	changed := false
	err = s.locks.Do(lifecycleKey(orgID, record.ID), func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			record, err = s.repo.FindByIDForUpdate(ctx, tx, orgID, record.ID)
			if err != nil {
				return err
			}
			if record == nil {
				return domain.ErrNotFound
			}
			changed, err = mutate(record, s.clock.Now())
			if err != nil {
				return err
			}
			if !changed {
				return nil
			}
			return s.repo.UpdateLifecycle(ctx, tx, record)
		})
	})
	if err != nil {
		return err
	}

	if changed {
		s.invalidate(ctx, orgID, record.CustomerID)
		s.notify(ctx, record, action)
		s.obsMetrics.RecordActionRun(ctx, action)
	}
	return nil
}
