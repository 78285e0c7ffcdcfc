// Package domain contains the slice of the product catalog the entitlement
// engine reads: product identity, grouping, and per-version feature grants.
// Catalog CRUD lives elsewhere; this engine only consumes it.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Product identifies one catalog product version family.
type Product struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;index"`
	Code      string       `gorm:"type:text;not null"`
	GroupCode string       `gorm:"type:text;not null;index"`
	Name      string       `gorm:"type:text"`
	Version   int          `gorm:"not null;default:1"`
	IsFree    bool         `gorm:"not null;default:false"`
	IsDefault bool         `gorm:"not null;default:false"`
	IsAddOn   bool         `gorm:"not null;default:false"`
	IsOneOff  bool         `gorm:"not null;default:false"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Product) TableName() string { return "products" }

// ResetInterval is the cadence at which a grant's usage counter resets.
type ResetInterval string

const (
	ResetNone  ResetInterval = "NONE"
	ResetDay   ResetInterval = "DAY"
	ResetWeek  ResetInterval = "WEEK"
	ResetMonth ResetInterval = "MONTH"
	ResetYear  ResetInterval = "YEAR"
)

// ProductFeature is the grant configuration of one feature on one product version.
type ProductFeature struct {
	ID                 snowflake.ID  `gorm:"primaryKey"`
	OrgID              snowflake.ID  `gorm:"not null;index"`
	ProductID          snowflake.ID  `gorm:"not null;index:idx_product_version,priority:1"`
	ProductVersion     int           `gorm:"not null;index:idx_product_version,priority:2"`
	FeatureID          snowflake.ID  `gorm:"not null;index"`
	IncludedQuantity   float64       `gorm:"not null;default:0"`
	Unlimited          bool          `gorm:"not null;default:false"`
	UsageAllowed       bool          `gorm:"not null;default:false"`
	ResetInterval      ResetInterval `gorm:"type:text;not null;default:NONE"`
	MaxRollover        *float64      `gorm:""`
	RolloverWindowDays int           `gorm:"not null;default:0"`
	MaxPurchase        *float64      `gorm:""`
	CreatedAt          time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ProductFeature) TableName() string { return "product_features" }

var (
	ErrProductNotFound = errors.New("product_not_found")
	ErrInvalidVersion  = errors.New("invalid_product_version")
)
