// Package domain contains persistence models for reported usage events.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventStatus is the ingestion outcome recorded on a usage event.
type EventStatus string

const (
	EventPending  EventStatus = "PENDING"
	EventApplied  EventStatus = "APPLIED"
	EventRejected EventStatus = "REJECTED"
)

// UsageEvent is one accepted usage report. The (org, idempotency key) pair is
// unique so retried deliveries collapse onto the first row.
type UsageEvent struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	OrgID          snowflake.ID  `gorm:"not null;uniqueIndex:idx_usage_org_idem,priority:1"`
	IdempotencyKey string        `gorm:"type:text;not null;uniqueIndex:idx_usage_org_idem,priority:2"`
	CustomerID     snowflake.ID  `gorm:"not null;index"`
	EntityID       *snowflake.ID `gorm:"index"`
	FeatureID      snowflake.ID  `gorm:"not null;index"`
	FeatureCode    string        `gorm:"type:text;not null"`
	Quantity       float64       `gorm:"not null"`

	Status       EventStatus    `gorm:"type:text;not null;default:PENDING"`
	RejectReason *string        `gorm:"type:text"`
	Overage      float64        `gorm:"not null;default:0"`
	Applied      datatypes.JSON `gorm:"type:jsonb"`

	ReportedAt time.Time `gorm:"not null;index"`
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }
