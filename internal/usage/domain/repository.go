package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertIdempotent inserts the event unless its (org, idempotency key)
	// already exists. Reports whether the row was inserted.
	InsertIdempotent(ctx context.Context, db *gorm.DB, event *UsageEvent) (bool, error)

	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*UsageEvent, error)
	UpdateOutcome(ctx context.Context, db *gorm.DB, event *UsageEvent) error

	// ListPage is a keyset page over one customer's events, newest first.
	ListPage(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, limit int, beforeID snowflake.ID) ([]UsageEvent, error)
}
