package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exot-sync/internal/response"
	"github.com/stemsi/exot-sync/internal/service"
)

// ActivityHandler exposes the audit trail.
type ActivityHandler struct {
	activityService *service.ActivityService
}

// NewActivityHandler creates a new ActivityHandler.
func NewActivityHandler(activityService *service.ActivityService) *ActivityHandler {
	return &ActivityHandler{activityService: activityService}
}

// ListActivity godoc
// GET /api/v1/activity?page=1&per_page=50
func (h *ActivityHandler) ListActivity(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 500 {
		perPage = 50
	}

	entries, total, err := h.activityService.List(c.Request.Context(), page, perPage)
	if err != nil {
		failDesk(c, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"activity": entries}, &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: (total + perPage - 1) / perPage,
	})
}

// ClearActivity godoc
// DELETE /api/v1/activity
func (h *ActivityHandler) ClearActivity(c *gin.Context) {
	if err := h.activityService.Clear(c.Request.Context()); err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "activity log cleared"})
}
