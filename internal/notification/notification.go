// Package notification announces lifecycle changes to interested listeners.
// Dispatch is fire-and-forget: a failed or slow listener never rolls back the
// state change that triggered it.
package notification

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// ProductsUpdatedEvent tells listeners the set of products on a customer
// changed and which attachment moved.
type ProductsUpdatedEvent struct {
	EventID           string        `json:"event_id"`
	OrgID             snowflake.ID  `json:"org_id"`
	CustomerID        snowflake.ID  `json:"customer_id"`
	EntityID          *snowflake.ID `json:"entity_id,omitempty"`
	CustomerProductID snowflake.ID  `json:"customer_product_id"`
	Action            string        `json:"action"`
	Status            string        `json:"status"`
	OccurredAt        time.Time     `json:"occurred_at"`
}

// Notifier publishes events after a lifecycle mutation commits.
type Notifier interface {
	ProductsUpdated(ctx context.Context, event ProductsUpdatedEvent)
}

type logNotifier struct {
	log *zap.Logger
}

// NewLogNotifier publishes to the log stream. Delivery to external channels
// (webhooks, message broker) hangs off this interface.
func NewLogNotifier(log *zap.Logger) Notifier {
	return &logNotifier{log: log.Named("notification")}
}

func (n *logNotifier) ProductsUpdated(_ context.Context, event ProductsUpdatedEvent) {
	if event.EventID == "" {
		event.EventID = ulid.Make().String()
	}

	go n.log.Info("products.updated",
		zap.String("event_id", event.EventID),
		zap.String("org_id", event.OrgID.String()),
		zap.String("customer_id", event.CustomerID.String()),
		zap.String("customer_product_id", event.CustomerProductID.String()),
		zap.String("action", event.Action),
		zap.String("status", event.Status),
		zap.Time("occurred_at", event.OccurredAt),
	)
}
