package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	"github.com/smallbiznis/entitle/internal/orgcontext"
	"github.com/smallbiznis/entitle/pkg/db/pagination"
)

// ListFeatures serves the org's feature catalog for dashboard and debugging
// use. The balance and usage endpoints are the hot path; this one is not.
func (s *Server) ListFeatures(c *gin.Context) {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok || orgID == 0 {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	records, err := s.features.List(c.Request.Context(), orgID, c.Query("sort_by"), c.Query("order"), page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	size := int32(page.PageSize)
	if size <= 0 {
		size = 10
	}
	pageInfo := pagination.BuildCursorPageInfo(records, size, func(f *featuredomain.Feature) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        f.ID.String(),
			CreatedAt: f.CreatedAt.Format(time.RFC3339Nano),
		})
		return token
	})
	if len(records) > int(size) {
		records = records[:size]
	}

	c.JSON(http.StatusOK, gin.H{
		"features":  records,
		"page_info": pageInfo,
	})
}
