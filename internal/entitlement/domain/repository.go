package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	customerproductdomain "github.com/smallbiznis/entitle/internal/customerproduct/domain"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, records []CustomerEntitlement) error

	// ListContributing returns the live (non-superseded) entitlements whose
	// owning CustomerProduct is in a balance-contributing status, ordered by
	// entity id ascending then entitlement id ascending.
	ListContributing(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, featureID snowflake.ID, statuses []customerproductdomain.Status) ([]CustomerEntitlement, error)

	ListByCustomerProduct(ctx context.Context, db *gorm.DB, orgID, customerProductID snowflake.ID) ([]CustomerEntitlement, error)
	FindByProductFeature(ctx context.Context, db *gorm.DB, orgID, customerProductID, featureID snowflake.ID) (*CustomerEntitlement, error)

	// ApplyUsage adds quantity to the usage counter guarded by the row
	// version. Returns false when the version moved underneath us.
	ApplyUsage(ctx context.Context, db *gorm.DB, id snowflake.ID, quantity float64, rowVersion int, at time.Time) (bool, error)

	Supersede(ctx context.Context, db *gorm.DB, id, successorID snowflake.ID, at time.Time) error
	UpdateGrant(ctx context.Context, db *gorm.DB, record *CustomerEntitlement) error

	// ListDueForReset returns live entitlements whose next reset boundary has
	// passed, cheapest first.
	ListDueForReset(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]CustomerEntitlement, error)
}
