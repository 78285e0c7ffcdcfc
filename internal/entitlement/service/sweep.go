package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	productdomain "github.com/smallbiznis/entitle/internal/product/domain"
	"go.uber.org/zap"
)

// SweepDue processes every live grant whose reset boundary has passed,
// batchSize at a time, and returns how many grants were reset. A grant that
// slept through several boundaries is caught up one boundary at a time so
// rollover windows expire on their own schedule.
func (s *Service) SweepDue(ctx context.Context, now time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	type customerRef struct{ org, customer snowflake.ID }
	touched := make(map[customerRef]struct{})

	total := 0
	for {
		due, err := s.repo.ListDueForReset(ctx, s.db, now, batchSize)
		if err != nil {
			return total, err
		}
		if len(due) == 0 {
			break
		}

		for i := range due {
			record := &due[i]
			if !resetGrant(record, now) {
				// A due row that cannot reset (no interval) must still leave
				// the due set or the scan would return it forever.
				record.NextResetAt = nil
				record.UpdatedAt = now
				if err := s.repo.UpdateGrant(ctx, s.db, record); err != nil {
					return total, err
				}
				continue
			}
			record.UpdatedAt = now
			if err := s.repo.UpdateGrant(ctx, s.db, record); err != nil {
				s.log.Error("reset update failed",
					zap.String("entitlement_id", record.ID.String()),
					zap.Error(err),
				)
				return total, err
			}
			touched[customerRef{record.OrgID, record.CustomerID}] = struct{}{}
			total++
		}

		if len(due) < batchSize {
			break
		}
	}

	for ref := range touched {
		s.invalidate(ctx, ref.org, ref.customer)
	}
	s.obsMetrics.RecordSweepResets(ctx, total)

	return total, nil
}

// resetGrant advances record across every boundary at or before now. Reports
// whether anything changed.
func resetGrant(record *entitlementdomain.CustomerEntitlement, now time.Time) bool {
	if record.NextResetAt == nil || record.ResetInterval == productdomain.ResetNone {
		return false
	}

	changed := false
	for record.NextResetAt != nil && !record.NextResetAt.After(now) {
		boundary := *record.NextResetAt

		// Allocated and unlimited grants keep their usage across periods;
		// only the schedule moves.
		if record.Kind == featuredomain.KindConsumable && !record.Unlimited {
			if record.RolloverExpiresAt != nil && !record.RolloverExpiresAt.After(boundary) {
				record.Rollover = 0
				record.RolloverExpiresAt = nil
			}

			// A nil cap means no rollover policy at all: the remainder is
			// forfeited, not carried without bound.
			carry := 0.0
			if record.MaxRollover != nil {
				carry = record.Remaining()
				if carry < 0 {
					carry = 0
				}
				if carry > *record.MaxRollover {
					carry = *record.MaxRollover
				}
			}

			record.Rollover = carry
			record.RolloverExpiresAt = nil
			if carry > 0 && record.RolloverWindowDays > 0 {
				expiry := boundary.AddDate(0, 0, record.RolloverWindowDays)
				record.RolloverExpiresAt = &expiry
			}
			record.Usage = 0
		}

		next := boundary
		switch record.ResetInterval {
		case productdomain.ResetDay:
			next = next.AddDate(0, 0, 1)
		case productdomain.ResetWeek:
			next = next.AddDate(0, 0, 7)
		case productdomain.ResetMonth:
			next = next.AddDate(0, 1, 0)
		case productdomain.ResetYear:
			next = next.AddDate(1, 0, 0)
		default:
			record.NextResetAt = nil
			return changed
		}
		record.NextResetAt = &next
		changed = true
	}

	return changed
}
