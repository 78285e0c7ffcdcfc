package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	customerproductdomain "github.com/smallbiznis/entitle/internal/customerproduct/domain"
	productdomain "github.com/smallbiznis/entitle/internal/product/domain"
	"gorm.io/gorm"
)

type GetBalanceRequest struct {
	CustomerID string
	EntityID   string
	FeatureID  string
	SkipCache  bool
}

type DeductRequest struct {
	CustomerID snowflake.ID
	EntityID   *snowflake.ID
	FeatureID  snowflake.ID
	Quantity   float64
}

// DeductResult reports how a deduction was spread across entitlements.
type DeductResult struct {
	Applied []DeductionLine
	// Overage is the portion absorbed below zero by uncapped grants.
	Overage float64
}

type DeductionLine struct {
	EntitlementID snowflake.ID
	EntityID      *snowflake.ID
	Quantity      float64
}

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	GetBalance(ctx context.Context, req GetBalanceRequest) ([]BalanceView, error)

	// Deduct applies a usage quantity to the (customer, optional entity,
	// feature) key following the documented precedence order. The store and
	// cache are both updated before it returns.
	Deduct(ctx context.Context, req DeductRequest) (*DeductResult, error)

	// GrantForProduct creates entitlements for an attachment from its product
	// version grants, carrying usage and rollover forward from a predecessor
	// attachment when one is given.
	GrantForProduct(ctx context.Context, tx *gorm.DB, cp *customerproductdomain.CustomerProduct, grants []productdomain.ProductFeature, options []customerproductdomain.FeatureOption, carryFromID snowflake.ID) ([]CustomerEntitlement, error)

	// SetPurchasedQuantity updates the prepaid quantity of one grant, clamped
	// to its max purchase ceiling.
	SetPurchasedQuantity(ctx context.Context, tx *gorm.DB, customerProductID, featureID snowflake.ID, quantity float64) (before *CustomerEntitlement, after *CustomerEntitlement, err error)

	// SweepDue processes reset boundaries: consumable usage is zeroed and
	// unused balance rolls over up to the policy cap; allocated usage is held.
	SweepDue(ctx context.Context, now time.Time, batchSize int) (int, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidCustomer     = errors.New("invalid_customer")
	ErrInvalidEntity       = errors.New("invalid_entity")
	ErrInvalidFeature      = errors.New("invalid_feature")
	ErrInvalidQuantity     = errors.New("invalid_quantity")
	ErrEntitlementNotFound = errors.New("entitlement_not_found")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrConflict            = errors.New("concurrent_modification")
)
