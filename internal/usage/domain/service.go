package domain

import (
	"context"
	"errors"

	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	"github.com/smallbiznis/entitle/pkg/db/pagination"
)

type ReportUsageRequest struct {
	CustomerID     string  `json:"customer_id"`
	EntityID       string  `json:"entity_id,omitempty"`
	FeatureCode    string  `json:"feature_code"`
	Quantity       float64 `json:"quantity"`
	IdempotencyKey string  `json:"idempotency_key"`
}

type ReportUsageResponse struct {
	Event     UsageEvent                       `json:"event"`
	Deduction *entitlementdomain.DeductResult  `json:"deduction,omitempty"`
	Balances  []entitlementdomain.BalanceView  `json:"balances,omitempty"`
	// Duplicate marks a replayed idempotency key; Event holds the original
	// outcome and nothing was deducted again.
	Duplicate bool `json:"duplicate,omitempty"`
}

type ListRequest struct {
	CustomerID string
	PageToken  string
	PageSize   int32
}

type ListResponse struct {
	pagination.PageInfo
	Events []UsageEvent `json:"events"`
}

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	// ReportUsage validates, deduplicates, and applies one usage report. A
	// rejected report is recorded but never mutates balances.
	ReportUsage(ctx context.Context, req ReportUsageRequest) (*ReportUsageResponse, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrInvalidOrganization   = errors.New("invalid_organization")
	ErrInvalidCustomer       = errors.New("invalid_customer")
	ErrInvalidEntity         = errors.New("invalid_entity")
	ErrInvalidQuantity       = errors.New("invalid_quantity")
	ErrInvalidIdempotencyKey = errors.New("invalid_idempotency_key")
	ErrUnknownFeature        = errors.New("unknown_feature")
	ErrRateLimited           = errors.New("rate_limited")
)
