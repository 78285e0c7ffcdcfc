// Package domain contains persistence models for catalog features.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Kind classifies how a feature's balance behaves across reset boundaries.
// Consumable usage is zeroed each period; allocated (continuous-use, seat-like)
// usage is held across periods and only the grant changes.
type Kind string

const (
	KindConsumable Kind = "CONSUMABLE"
	KindAllocated  Kind = "ALLOCATED"
)

// Feature is a catalog feature customers can be entitled to.
type Feature struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;uniqueIndex:idx_feature_org_code,priority:1"`
	Code      string       `gorm:"type:text;not null;uniqueIndex:idx_feature_org_code,priority:2"`
	Name      string       `gorm:"type:text"`
	Kind      Kind         `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Feature) TableName() string { return "features" }

var (
	ErrInvalidCode     = errors.New("invalid_feature_code")
	ErrFeatureNotFound = errors.New("feature_not_found")
)
