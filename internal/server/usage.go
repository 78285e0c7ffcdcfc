package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/entitle/internal/usage/domain"
)

const headerIdempotencyKey = "Idempotency-Key"

func (s *Server) ReportUsage(c *gin.Context) {
	var req usagedomain.ReportUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	// The header wins over the body so proxies can inject retry-safe keys.
	if key := strings.TrimSpace(c.GetHeader(headerIdempotencyKey)); key != "" {
		req.IdempotencyKey = key
	}

	resp, err := s.usageSvc.ReportUsage(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

func (s *Server) ListUsage(c *gin.Context) {
	req := usagedomain.ListRequest{
		CustomerID: c.Query("customer_id"),
		PageToken:  c.Query("page_token"),
	}
	if size := c.Query("page_size"); size != "" {
		parsed, err := strconv.ParseInt(size, 10, 32)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		req.PageSize = int32(parsed)
	}

	resp, err := s.usageSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
