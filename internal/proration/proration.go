// Package proration is the seam to the billing collaborator that turns
// mid-cycle quantity changes into invoice adjustments. The engine only
// reports the change; pricing math lives on the other side.
package proration

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

// QuantityChange describes one purchased-quantity move on an attachment.
type QuantityChange struct {
	OrgID             snowflake.ID
	CustomerID        snowflake.ID
	CustomerProductID snowflake.ID
	FeatureID         snowflake.ID
	Before            float64
	After             float64
	At                time.Time
}

// Prorator receives exactly one QuantityChange per applied update.
type Prorator interface {
	OnQuantityChange(ctx context.Context, change QuantityChange) error
}

type logProrator struct {
	log *zap.Logger
}

// NewLogProrator records quantity changes without billing side effects. Used
// until a payment-processor integration is wired in.
func NewLogProrator(log *zap.Logger) Prorator {
	return &logProrator{log: log.Named("proration")}
}

func (p *logProrator) OnQuantityChange(_ context.Context, change QuantityChange) error {
	p.log.Info("quantity change recorded",
		zap.String("customer_product_id", change.CustomerProductID.String()),
		zap.String("feature_id", change.FeatureID.String()),
		zap.Float64("before", change.Before),
		zap.Float64("after", change.After),
	)
	return nil
}
