// Package domain contains persistence models for per-feature entitlement
// grants and their usage counters.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	productdomain "github.com/smallbiznis/entitle/internal/product/domain"
)

// CustomerEntitlement is one feature grant owned by exactly one CustomerProduct.
// Superseded rows (migration) are kept for history and excluded from balances.
type CustomerEntitlement struct {
	ID                snowflake.ID  `gorm:"primaryKey"`
	OrgID             snowflake.ID  `gorm:"not null;index"`
	CustomerProductID snowflake.ID  `gorm:"not null;index"`
	CustomerID        snowflake.ID  `gorm:"not null;index:idx_ent_customer_feature,priority:1"`
	EntityID          *snowflake.ID `gorm:"index"`
	FeatureID         snowflake.ID  `gorm:"not null;index:idx_ent_customer_feature,priority:2"`
	FeatureCode       string        `gorm:"type:text;not null"`

	Kind         featuredomain.Kind `gorm:"type:text;not null"`
	Unlimited    bool               `gorm:"not null;default:false"`
	UsageAllowed bool               `gorm:"not null;default:false"`

	Granted           float64    `gorm:"not null;default:0"`
	Purchased         float64    `gorm:"not null;default:0"`
	Rollover          float64    `gorm:"not null;default:0"`
	RolloverExpiresAt *time.Time `gorm:""`
	Usage             float64    `gorm:"column:usage_amount;not null;default:0"`

	ResetInterval      productdomain.ResetInterval `gorm:"type:text;not null;default:NONE"`
	ResetAnchor        *time.Time                  `gorm:""`
	NextResetAt        *time.Time                  `gorm:"index"`
	MaxRollover        *float64                    `gorm:""`
	RolloverWindowDays int                         `gorm:"not null;default:0"`
	MaxPurchase        *float64                    `gorm:""`

	// Linkage to a CustomerPrice for usage-based billing; opaque here.
	PriceID *snowflake.ID `gorm:""`

	SupersededBy *snowflake.ID `gorm:""`
	SupersededAt *time.Time    `gorm:"index"`

	// Optimistic concurrency token; bumped on every usage mutation.
	RowVersion int `gorm:"column:row_version;not null;default:1"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CustomerEntitlement) TableName() string { return "customer_entitlements" }
