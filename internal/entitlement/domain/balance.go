package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
)

// BalanceKind is the variant tag for balance arithmetic. The kind is selected
// from the grant's classification at read time.
type BalanceKind string

const (
	BalanceUnlimited  BalanceKind = "UNLIMITED"
	BalanceAllocated  BalanceKind = "ALLOCATED"
	BalanceConsumable BalanceKind = "CONSUMABLE"
)

// KindOf selects the balance variant for one entitlement.
func KindOf(e *CustomerEntitlement) BalanceKind {
	if e.Unlimited {
		return BalanceUnlimited
	}
	if e.Kind == featuredomain.KindAllocated {
		return BalanceAllocated
	}
	return BalanceConsumable
}

// Capacity is the total quantity this entitlement can serve in the current
// period. Unlimited grants have no meaningful capacity.
func (e *CustomerEntitlement) Capacity() float64 {
	return e.Granted + e.Purchased + e.Rollover
}

// Remaining is capacity minus usage. Negative values record overage on
// uncapped grants.
func (e *CustomerEntitlement) Remaining() float64 {
	return e.Capacity() - e.Usage
}

// EntitlementBalance is the per-grant line of a balance breakdown.
type EntitlementBalance struct {
	EntitlementID     snowflake.ID  `json:"entitlement_id"`
	CustomerProductID snowflake.ID  `json:"customer_product_id"`
	EntityID          *snowflake.ID `json:"entity_id,omitempty"`
	Kind              BalanceKind   `json:"kind"`
	Unlimited         bool          `json:"unlimited"`
	UsageAllowed      bool          `json:"usage_allowed"`
	Granted           float64       `json:"granted"`
	Purchased         float64       `json:"purchased"`
	Rollover          float64       `json:"rollover"`
	Used              float64       `json:"used"`
	Balance           float64       `json:"balance"`
	NextResetAt       *time.Time    `json:"next_reset_at,omitempty"`
}

// BalanceView is the aggregated (customer, optional entity, feature) balance.
type BalanceView struct {
	CustomerID  snowflake.ID  `json:"customer_id"`
	EntityID    *snowflake.ID `json:"entity_id,omitempty"`
	FeatureID   snowflake.ID  `json:"feature_id"`
	FeatureCode string        `json:"feature_code"`
	Kind        BalanceKind   `json:"kind"`
	Unlimited   bool          `json:"unlimited"`
	Granted     float64       `json:"granted"`
	Purchased   float64       `json:"purchased"`
	Rollover    float64       `json:"rollover"`
	Used        float64       `json:"used"`
	Balance     float64       `json:"balance"`
	NextResetAt *time.Time    `json:"next_reset_at,omitempty"`

	Breakdown []EntitlementBalance `json:"breakdown,omitempty"`
}

// Line converts one entitlement into its breakdown row.
func Line(e *CustomerEntitlement) EntitlementBalance {
	return EntitlementBalance{
		EntitlementID:     e.ID,
		CustomerProductID: e.CustomerProductID,
		EntityID:          e.EntityID,
		Kind:              KindOf(e),
		Unlimited:         e.Unlimited,
		UsageAllowed:      e.UsageAllowed,
		Granted:           e.Granted,
		Purchased:         e.Purchased,
		Rollover:          e.Rollover,
		Used:              e.Usage,
		Balance:           e.Remaining(),
		NextResetAt:       e.NextResetAt,
	}
}
