package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/pkg/db/pagination"
)

type AttachProductRequest struct {
	CustomerID string          `json:"customer_id"`
	EntityID   string          `json:"entity_id,omitempty"`
	ProductID  string          `json:"product_id"`
	Scheduled  bool            `json:"scheduled,omitempty"`
	TrialDays  *int            `json:"trial_days,omitempty"`
	Options    []FeatureOption `json:"options,omitempty"`

	ProcessorSubscriptionID string `json:"processor_subscription_id,omitempty"`
	ProcessorScheduleID     string `json:"processor_schedule_id,omitempty"`
}

type CancelProductRequest struct {
	CustomerProductID string `json:"customer_product_id"`
	// Immediate expires the attachment now instead of at period end.
	Immediate bool `json:"immediate,omitempty"`
}

type UpdateQuantityRequest struct {
	CustomerProductID string  `json:"customer_product_id"`
	FeatureID         string  `json:"feature_id"`
	Quantity          float64 `json:"quantity"`
}

type ListRequest struct {
	CustomerID string
	Status     string
	PageToken  string
	PageSize   int32
}

type ListResponse struct {
	pagination.PageInfo
	CustomerProducts []CustomerProduct `json:"customer_products"`
}

// SuccessorOutcome reports which branch of successor activation fired.
type SuccessorOutcome string

const (
	SuccessorNone      SuccessorOutcome = "NONE"
	SuccessorActivated SuccessorOutcome = "ACTIVATED"
	SuccessorInserted  SuccessorOutcome = "INSERTED"
)

// ActionResult is returned by lifecycle actions so callers can chain effects.
type ActionResult struct {
	CustomerProductID snowflake.ID
	Status            Status
	Successor         SuccessorOutcome
	SuccessorID       snowflake.ID
}

type ActivateScheduledParams struct {
	ProcessorSubscriptionID string
	ProcessorScheduleID     string
}

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	Attach(ctx context.Context, req AttachProductRequest) (*CustomerProduct, error)
	Cancel(ctx context.Context, req CancelProductRequest) (*ActionResult, error)
	UpdateQuantity(ctx context.Context, req UpdateQuantityRequest) (*CustomerProduct, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	GetByID(ctx context.Context, id string) (CustomerProduct, error)

	// Lifecycle actions. Each is an idempotent unit of work.
	ActivateScheduled(ctx context.Context, customerProductID snowflake.ID, params ActivateScheduledParams) (*ActionResult, error)
	ExpireAndActivateDefault(ctx context.Context, customerProductID snowflake.ID) (*ActionResult, error)

	// Processor-event callbacks.
	OnSubscriptionRenewed(ctx context.Context, processorSubscriptionID string) error
	OnPaymentFailed(ctx context.Context, processorSubscriptionID string) error
	OnCycleBoundary(ctx context.Context, customerProductID snowflake.ID, at time.Time) (*ActionResult, error)
}

var (
	ErrInvalidOrganization    = errors.New("invalid_organization")
	ErrInvalidCustomer        = errors.New("invalid_customer")
	ErrInvalidEntity          = errors.New("invalid_entity")
	ErrInvalidProduct         = errors.New("invalid_product")
	ErrInvalidTrialDays       = errors.New("invalid_trial_days")
	ErrInvalidQuantity        = errors.New("invalid_quantity")
	ErrInvalidCustomerProduct = errors.New("invalid_customer_product")
	ErrNotFound               = errors.New("customer_product_not_found")
	ErrInvalidTransition      = errors.New("invalid_transition")
	ErrGroupOccupied          = errors.New("product_group_occupied")
	ErrNoGroupOccupant        = errors.New("product_group_unoccupied")
	ErrInvariantViolation     = errors.New("invariant_violation")
	ErrConflict               = errors.New("concurrent_modification")
	ErrUpstreamUnavailable    = errors.New("upstream_unavailable")
)
