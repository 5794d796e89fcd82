package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exot-sync/internal/middleware"
	"github.com/stemsi/exot-sync/internal/model"
	"github.com/stemsi/exot-sync/internal/response"
	"github.com/stemsi/exot-sync/internal/service"
)

// DashboardHandler serves the desk's statistics.
type DashboardHandler struct {
	statsService *service.StatsService
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(statsService *service.StatsService) *DashboardHandler {
	return &DashboardHandler{statsService: statsService}
}

// GetStatistics godoc
// GET /api/v1/stats
// Returns participant totals.
func (h *DashboardHandler) GetStatistics(c *gin.Context) {
	stats, err := h.statsService.Statistics(c.Request.Context())
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// GetRanking godoc
// GET /api/v1/stats/ranking?class=7A
func (h *DashboardHandler) GetRanking(c *gin.Context) {
	ranking, err := h.statsService.Ranking(c.Request.Context(), c.Query("class"))
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"ranking": ranking})
}

// GetSubjectStats godoc
// GET /api/v1/stats/subjects
func (h *DashboardHandler) GetSubjectStats(c *gin.Context) {
	stats, err := h.statsService.SubjectStats(c.Request.Context())
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// GetRoomStats godoc
// GET /api/v1/stats/rooms
func (h *DashboardHandler) GetRoomStats(c *gin.Context) {
	stats, err := h.statsService.RoomStats(c.Request.Context())
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"rooms": stats})
}

// GetMyStudents godoc
// GET /api/v1/examiner/students
// Lists the attended participants the logged-in examiner scores.
func (h *DashboardHandler) GetMyStudents(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	students, err := h.statsService.StudentsForExaminer(c.Request.Context(), claims.UserID)
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"students": students})
}

// GetMyProgress godoc
// GET /api/v1/examiner/progress?subject=english
func (h *DashboardHandler) GetMyProgress(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	subject := model.Subject(c.Query("subject"))
	if !subject.Valid() {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{"subject": "subject must be one of [english arabic alquran]"})
		return
	}
	progress, err := h.statsService.ExaminerProgress(c.Request.Context(), claims.UserID, subject)
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusOK, progress)
}
