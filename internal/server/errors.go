package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	customerproductdomain "github.com/smallbiznis/entitle/internal/customerproduct/domain"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	productdomain "github.com/smallbiznis/entitle/internal/product/domain"
	"github.com/smallbiznis/entitle/internal/productmigration"
	usagedomain "github.com/smallbiznis/entitle/internal/usage/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrInternal       = errors.New("internal_error")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

var validationErrors = []error{
	ErrInvalidRequest,
	customerproductdomain.ErrInvalidOrganization,
	customerproductdomain.ErrInvalidCustomer,
	customerproductdomain.ErrInvalidEntity,
	customerproductdomain.ErrInvalidProduct,
	customerproductdomain.ErrInvalidTrialDays,
	customerproductdomain.ErrInvalidQuantity,
	customerproductdomain.ErrInvalidCustomerProduct,
	entitlementdomain.ErrInvalidOrganization,
	entitlementdomain.ErrInvalidCustomer,
	entitlementdomain.ErrInvalidEntity,
	entitlementdomain.ErrInvalidFeature,
	entitlementdomain.ErrInvalidQuantity,
	usagedomain.ErrInvalidOrganization,
	usagedomain.ErrInvalidCustomer,
	usagedomain.ErrInvalidEntity,
	usagedomain.ErrInvalidQuantity,
	usagedomain.ErrInvalidIdempotencyKey,
	productmigration.ErrInvalidOrganization,
	productmigration.ErrInvalidProduct,
	productmigration.ErrInvalidVersion,
	productdomain.ErrInvalidVersion,
	featuredomain.ErrInvalidCode,
}

var notFoundErrors = []error{
	ErrNotFound,
	customerproductdomain.ErrNotFound,
	entitlementdomain.ErrEntitlementNotFound,
	usagedomain.ErrUnknownFeature,
	featuredomain.ErrFeatureNotFound,
	productdomain.ErrProductNotFound,
	gorm.ErrRecordNotFound,
}

var conflictErrors = []error{
	customerproductdomain.ErrGroupOccupied,
	customerproductdomain.ErrNoGroupOccupant,
	customerproductdomain.ErrInvalidTransition,
	customerproductdomain.ErrConflict,
	entitlementdomain.ErrConflict,
	productmigration.ErrAlreadyRunning,
}

func mapError(err error) (int, errorPayload) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: "unauthorized"}
	case matchesAny(err, validationErrors):
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Message: err.Error()}
	case matchesAny(err, notFoundErrors):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: err.Error()}
	case matchesAny(err, conflictErrors):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: err.Error()}
	case errors.Is(err, customerproductdomain.ErrInvariantViolation):
		// Store corruption, not a client mistake.
		return http.StatusInternalServerError, errorPayload{Type: "invariant_violation", Message: err.Error()}
	case errors.Is(err, entitlementdomain.ErrInsufficientBalance):
		// Not a fault: the report was understood and refused.
		return http.StatusPaymentRequired, errorPayload{Type: "insufficient_balance", Message: err.Error()}
	case errors.Is(err, usagedomain.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{Type: "rate_limited", Message: err.Error()}
	case errors.Is(err, customerproductdomain.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, errorPayload{Type: "upstream_unavailable", Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}
}

func matchesAny(err error, candidates []error) bool {
	for _, candidate := range candidates {
		if errors.Is(err, candidate) {
			return true
		}
	}
	return false
}
