package server

import (
	"net/http"
	"testing"

	customerproductdomain "github.com/smallbiznis/entitle/internal/customerproduct/domain"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	usagedomain "github.com/smallbiznis/entitle/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		status   int
		typeName string
	}{
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"validation", customerproductdomain.ErrInvalidCustomer, http.StatusBadRequest, "validation_error"},
		{"not found", gorm.ErrRecordNotFound, http.StatusNotFound, "not_found"},
		{"group occupied", customerproductdomain.ErrGroupOccupied, http.StatusConflict, "conflict"},
		{"scheduled without occupant", customerproductdomain.ErrNoGroupOccupant, http.StatusConflict, "conflict"},
		{"invariant violation", customerproductdomain.ErrInvariantViolation, http.StatusInternalServerError, "invariant_violation"},
		{"insufficient balance", entitlementdomain.ErrInsufficientBalance, http.StatusPaymentRequired, "insufficient_balance"},
		{"rate limited", usagedomain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{"upstream unavailable", customerproductdomain.ErrUpstreamUnavailable, http.StatusServiceUnavailable, "upstream_unavailable"},
		{"unknown", assert.AnError, http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.typeName, payload.Type)
		})
	}
}
