package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
)

func (s *Server) GetBalances(c *gin.Context) {
	req := entitlementdomain.GetBalanceRequest{
		CustomerID: c.Query("customer_id"),
		EntityID:   c.Query("entity_id"),
		FeatureID:  c.Query("feature_id"),
		SkipCache:  c.Query("skip_cache") == "true",
	}

	views, err := s.entitlementSvc.GetBalance(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": views})
}
