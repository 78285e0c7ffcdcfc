package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *CustomerProduct) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*CustomerProduct, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*CustomerProduct, error)
	FindByProcessorSubscriptionID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, subscriptionID string) (*CustomerProduct, error)

	// FindMainInGroup returns main (non-add-on) records in the given statuses
	// for one (customer, group, entity-scope) tuple. entityID nil matches only
	// entity-less records.
	FindMainInGroup(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, groupCode string, entityID *snowflake.ID, statuses []Status) ([]CustomerProduct, error)

	// FindLatestExpiredMainInGroup returns the most recently expired main for
	// one slot, or nil when the slot never held one.
	FindLatestExpiredMainInGroup(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, groupCode string, entityID *snowflake.ID) (*CustomerProduct, error)

	ListByCustomer(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, statuses []Status) ([]CustomerProduct, error)

	// ListPage is a keyset page over one customer's attachments, id ascending.
	ListPage(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, status Status, limit int, afterID snowflake.ID) ([]CustomerProduct, error)
	ListByProductVersion(ctx context.Context, db *gorm.DB, orgID, productID snowflake.ID, version int, statuses []Status, limit int, afterID snowflake.ID) ([]CustomerProduct, error)

	UpdateLifecycle(ctx context.Context, db *gorm.DB, record *CustomerProduct) error
	HardDelete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error
}
