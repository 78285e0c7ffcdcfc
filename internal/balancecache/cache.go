// Package balancecache holds the derived, disposable projection of aggregated
// feature balances. The entitlement store stays the source of truth; every
// entry here can be dropped and rebuilt at any time.
package balancecache

import (
	"context"
	"strings"
	"time"

	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
)

const defaultTTL = 5 * time.Minute

// BalanceCache stores balance views keyed by (org, customer, entity?, feature?).
// Invalidation is per customer: one write drops every view the customer owns,
// including entity-scoped ones, since entity balances merge customer grants.
type BalanceCache interface {
	Get(ctx context.Context, orgID, customerID, entityID, featureID string) ([]entitlementdomain.BalanceView, bool)
	Set(ctx context.Context, orgID, customerID, entityID, featureID string, views []entitlementdomain.BalanceView)
	InvalidateCustomer(ctx context.Context, orgID, customerID string)
}

func customerKey(orgID, customerID string) string {
	return "balance:" + strings.TrimSpace(orgID) + ":" + strings.TrimSpace(customerID)
}

func fieldKey(entityID, featureID string) string {
	return strings.TrimSpace(entityID) + "|" + strings.TrimSpace(featureID)
}
