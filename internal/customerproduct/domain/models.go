// Package domain contains persistence models for customer-product attachments
// and their lifecycle states.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status represents lifecycle states for a customer-product attachment.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusTrialing  Status = "TRIALING"
	StatusActive    Status = "ACTIVE"
	StatusPastDue   Status = "PAST_DUE"
	StatusCanceling Status = "CANCELING"
	StatusExpired   Status = "EXPIRED"
	StatusDeleted   Status = "DELETED"
)

// ActiveStatuses are the states in which a main product occupies its group slot.
var ActiveStatuses = []Status{StatusActive, StatusPastDue, StatusTrialing}

// BalanceStatuses are the states whose entitlements contribute to balances.
var BalanceStatuses = []Status{StatusActive, StatusPastDue, StatusTrialing, StatusCanceling}

// FeatureOption is a per-feature purchased quantity on an attachment.
type FeatureOption struct {
	FeatureID string  `json:"feature_id"`
	Quantity  float64 `json:"quantity"`
}

// CustomerProduct is one attachment of a catalog product to a customer,
// optionally scoped to one entity (seat / sub-account) of that customer.
type CustomerProduct struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	OrgID          snowflake.ID  `gorm:"not null;index"`
	CustomerID     snowflake.ID  `gorm:"not null;index:idx_cp_customer_status,priority:1"`
	EntityID       *snowflake.ID `gorm:"index"`
	ProductID      snowflake.ID  `gorm:"not null;index"`
	ProductVersion int           `gorm:"not null;default:1"`
	GroupCode      string        `gorm:"type:text;not null;index:idx_cp_customer_group,priority:2"`
	Status         Status        `gorm:"type:text;not null;index:idx_cp_customer_status,priority:2"`
	IsAddOn        bool          `gorm:"not null;default:false"`
	IsCustom       bool          `gorm:"not null;default:false"`
	IsFree         bool          `gorm:"not null;default:false"`
	IsOneOff       bool          `gorm:"not null;default:false"`

	StartsAt    time.Time  `gorm:"not null"`
	TrialEndsAt *time.Time `gorm:""`
	CanceledAt  *time.Time `gorm:""`
	ExpiredAt   *time.Time `gorm:""`

	// Owned by the payment-processor collaborator; opaque here.
	ProcessorSubscriptionID *string `gorm:"type:text"`
	ProcessorScheduleID     *string `gorm:"type:text"`

	FreeTrialID *snowflake.ID  `gorm:""`
	Options     datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CustomerProduct) TableName() string { return "customer_products" }

// Occupying reports whether this record holds its group's main slot.
func (cp *CustomerProduct) Occupying() bool {
	switch cp.Status {
	case StatusActive, StatusPastDue, StatusTrialing:
		return !cp.IsAddOn
	default:
		return false
	}
}

// SameEntityScope reports whether two attachments share the same entity scope.
// A record with no entity id only matches other entity-less records.
func SameEntityScope(a, b *snowflake.ID) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
