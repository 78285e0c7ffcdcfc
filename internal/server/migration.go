package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/entitle/internal/productmigration"
)

func (s *Server) MigrateProductVersion(c *gin.Context) {
	var body struct {
		FromVersion int `json:"from_version"`
		ToVersion   int `json:"to_version"`
		BatchSize   int `json:"batch_size"`
		Concurrency int `json:"concurrency"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.migrationSvc.MigrateVersion(c.Request.Context(), productmigration.MigrateRequest{
		ProductID:   c.Param("id"),
		FromVersion: body.FromVersion,
		ToVersion:   body.ToVersion,
		BatchSize:   body.BatchSize,
		Concurrency: body.Concurrency,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
