package server

import (
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/entitle/internal/customerproduct/domain"
)

// processorEvent is the normalized shape of a payment-processor webhook after
// signature verification upstream.
type processorEvent struct {
	Type                    string     `json:"type"`
	ProcessorSubscriptionID string     `json:"processor_subscription_id,omitempty"`
	CustomerProductID       string     `json:"customer_product_id,omitempty"`
	OccurredAt              *time.Time `json:"occurred_at,omitempty"`
}

func (s *Server) ProcessorEvent(c *gin.Context) {
	var event processorEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	switch event.Type {
	case "subscription.renewed":
		if err := s.customerProductSvc.OnSubscriptionRenewed(ctx, event.ProcessorSubscriptionID); err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"received": true})

	case "payment.failed":
		if err := s.customerProductSvc.OnPaymentFailed(ctx, event.ProcessorSubscriptionID); err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"received": true})

	case "cycle.boundary":
		id, err := snowflake.ParseString(event.CustomerProductID)
		if err != nil {
			AbortWithError(c, domain.ErrInvalidCustomerProduct)
			return
		}
		at := time.Now()
		if event.OccurredAt != nil {
			at = *event.OccurredAt
		}
		result, err := s.customerProductSvc.OnCycleBoundary(ctx, id, at)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)

	default:
		AbortWithError(c, ErrInvalidRequest)
	}
}
