package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	customerproductdomain "github.com/smallbiznis/entitle/internal/customerproduct/domain"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	"github.com/smallbiznis/entitle/internal/orgcontext"
	productdomain "github.com/smallbiznis/entitle/internal/product/domain"
	"gorm.io/gorm"
)

// GrantForProduct materializes the grant rows for one attachment from its
// product version's feature grants. When carryFromID names a predecessor
// attachment (version migration, plan change inside a group), usage and live
// rollover are carried onto the new rows so customers keep their consumption
// history across the swap.
func (s *Service) GrantForProduct(
	ctx context.Context,
	tx *gorm.DB,
	cp *customerproductdomain.CustomerProduct,
	grants []productdomain.ProductFeature,
	options []customerproductdomain.FeatureOption,
	carryFromID snowflake.ID,
) ([]entitlementdomain.CustomerEntitlement, error) {
	if cp == nil {
		return nil, entitlementdomain.ErrInvalidCustomer
	}
	if len(grants) == 0 {
		return nil, nil
	}

	now := s.clock.Now()

	carried := make(map[snowflake.ID]*entitlementdomain.CustomerEntitlement)
	if carryFromID != 0 {
		predecessors, err := s.repo.ListByCustomerProduct(ctx, tx, cp.OrgID, carryFromID)
		if err != nil {
			return nil, err
		}
		for i := range predecessors {
			carried[predecessors[i].FeatureID] = &predecessors[i]
		}
	}

	purchasedByFeature := make(map[string]float64, len(options))
	for _, option := range options {
		purchasedByFeature[option.FeatureID] = option.Quantity
	}

	records := make([]entitlementdomain.CustomerEntitlement, 0, len(grants))
	for _, grant := range grants {
		feature, err := s.features.FindByID(ctx, cp.OrgID, grant.FeatureID)
		if err != nil {
			return nil, err
		}
		if feature == nil {
			return nil, entitlementdomain.ErrInvalidFeature
		}

		record := entitlementdomain.CustomerEntitlement{
			ID:                s.genID.Generate(),
			OrgID:             cp.OrgID,
			CustomerProductID: cp.ID,
			CustomerID:        cp.CustomerID,
			EntityID:          cp.EntityID,
			FeatureID:         grant.FeatureID,
			FeatureCode:       feature.Code,

			Kind:         feature.Kind,
			Unlimited:    grant.Unlimited,
			UsageAllowed: grant.UsageAllowed,

			Granted: grant.IncludedQuantity,

			ResetInterval:      grant.ResetInterval,
			MaxRollover:        grant.MaxRollover,
			RolloverWindowDays: grant.RolloverWindowDays,
			MaxPurchase:        grant.MaxPurchase,

			RowVersion: 1,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		if grant.ResetInterval != productdomain.ResetNone {
			anchor := cp.StartsAt
			record.ResetAnchor = &anchor
			next := NextBoundary(anchor, grant.ResetInterval, now)
			record.NextResetAt = &next
		}

		if quantity, ok := purchasedByFeature[grant.FeatureID.String()]; ok {
			record.Purchased = clampPurchase(quantity, grant.MaxPurchase)
		}

		if predecessor, ok := carried[grant.FeatureID]; ok {
			record.Usage = predecessor.Usage
			record.Rollover = predecessor.Rollover
			record.RolloverExpiresAt = predecessor.RolloverExpiresAt
			if _, explicit := purchasedByFeature[grant.FeatureID.String()]; !explicit {
				record.Purchased = clampPurchase(predecessor.Purchased, grant.MaxPurchase)
			}
		}

		records = append(records, record)
	}

	if err := s.repo.Insert(ctx, tx, records); err != nil {
		return nil, err
	}

	s.invalidate(ctx, cp.OrgID, cp.CustomerID)
	return records, nil
}

// SetPurchasedQuantity replaces the prepaid quantity of one grant, clamped to
// the grant's purchase ceiling. Both snapshots are returned so the caller can
// derive a proration from the difference.
func (s *Service) SetPurchasedQuantity(ctx context.Context, tx *gorm.DB, customerProductID, featureID snowflake.ID, quantity float64) (*entitlementdomain.CustomerEntitlement, *entitlementdomain.CustomerEntitlement, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, nil, entitlementdomain.ErrInvalidOrganization
	}
	if quantity < 0 {
		return nil, nil, entitlementdomain.ErrInvalidQuantity
	}

	record, err := s.repo.FindByProductFeature(ctx, tx, orgID, customerProductID, featureID)
	if err != nil {
		return nil, nil, err
	}
	if record == nil {
		return nil, nil, entitlementdomain.ErrEntitlementNotFound
	}

	before := *record

	record.Purchased = clampPurchase(quantity, record.MaxPurchase)
	record.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateGrant(ctx, tx, record); err != nil {
		return nil, nil, err
	}

	s.invalidate(ctx, orgID, record.CustomerID)

	after := *record
	return &before, &after, nil
}

// NextBoundary walks forward from anchor in interval steps until it passes
// now. Month and year steps go through AddDate so end-of-month anchors keep
// calendar semantics instead of fixed-duration drift.
func NextBoundary(anchor time.Time, interval productdomain.ResetInterval, now time.Time) time.Time {
	next := anchor
	for !next.After(now) {
		switch interval {
		case productdomain.ResetDay:
			next = next.AddDate(0, 0, 1)
		case productdomain.ResetWeek:
			next = next.AddDate(0, 0, 7)
		case productdomain.ResetMonth:
			next = next.AddDate(0, 1, 0)
		case productdomain.ResetYear:
			next = next.AddDate(1, 0, 0)
		default:
			return anchor
		}
	}
	return next
}

func clampPurchase(quantity float64, maxPurchase *float64) float64 {
	if quantity < 0 {
		quantity = 0
	}
	if maxPurchase != nil && quantity > *maxPurchase {
		quantity = *maxPurchase
	}
	return quantity
}
