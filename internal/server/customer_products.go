package server

import (
	"net/http"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/entitle/internal/customerproduct/domain"
)

func (s *Server) AttachProduct(c *gin.Context) {
	var req domain.AttachProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	record, err := s.customerProductSvc.Attach(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (s *Server) ListCustomerProducts(c *gin.Context) {
	req := domain.ListRequest{
		CustomerID: c.Query("customer_id"),
		Status:     c.Query("status"),
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

	resp, err := s.customerProductSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetCustomerProduct(c *gin.Context) {
	record, err := s.customerProductSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) CancelProduct(c *gin.Context) {
	var body struct {
		Immediate bool `json:"immediate"`
	}
	if err := c.ShouldBindJSON(&body); err != nil && err.Error() != "EOF" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.customerProductSvc.Cancel(c.Request.Context(), domain.CancelProductRequest{
		CustomerProductID: c.Param("id"),
		Immediate:         body.Immediate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) UpdateQuantity(c *gin.Context) {
	var body struct {
		FeatureID string  `json:"feature_id"`
		Quantity  float64 `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	record, err := s.customerProductSvc.UpdateQuantity(c.Request.Context(), domain.UpdateQuantityRequest{
		CustomerProductID: c.Param("id"),
		FeatureID:         body.FeatureID,
		Quantity:          body.Quantity,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) ActivateScheduled(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, domain.ErrInvalidCustomerProduct)
		return
	}

	var body struct {
		ProcessorSubscriptionID string `json:"processor_subscription_id"`
		ProcessorScheduleID     string `json:"processor_schedule_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil && err.Error() != "EOF" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.customerProductSvc.ActivateScheduled(c.Request.Context(), id, domain.ActivateScheduledParams{
		ProcessorSubscriptionID: body.ProcessorSubscriptionID,
		ProcessorScheduleID:     body.ProcessorScheduleID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) ExpireProduct(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, domain.ErrInvalidCustomerProduct)
		return
	}

	result, err := s.customerProductSvc.ExpireAndActivateDefault(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
