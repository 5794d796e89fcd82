package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exot-sync/internal/model"
	"github.com/stemsi/exot-sync/internal/response"
	"github.com/stemsi/exot-sync/internal/service"
	"github.com/stemsi/exot-sync/internal/validator"
)

// StudentHandler handles participant management, attendance and scoring.
type StudentHandler struct {
	studentService *service.StudentService
}

// NewStudentHandler creates a new StudentHandler.
func NewStudentHandler(studentService *service.StudentService) *StudentHandler {
	return &StudentHandler{studentService: studentService}
}

// ListStudents godoc
// GET /api/v1/students
// Lists participants, optionally filtered by class, type, attendance or name.
func (h *StudentHandler) ListStudents(c *gin.Context) {
	filter := service.StudentFilter{
		Class:  c.Query("class"),
		Type:   model.StudentType(c.Query("type")),
		Search: c.Query("q"),
	}
	if v := c.Query("attended"); v != "" {
		attended, err := strconv.ParseBool(v)
		if err != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{"attended": "must be true or false"})
			return
		}
		filter.Attended = &attended
	}

	students, err := h.studentService.List(c.Request.Context(), filter)
	if err != nil {
		failDesk(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"students": students})
}

// GetStudent godoc
// GET /api/v1/students/:id
// Looks a participant up by id or card code.
func (h *StudentHandler) GetStudent(c *gin.Context) {
	student, err := h.studentService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"student": student})
}

// CreateStudent godoc
// POST /api/v1/students
func (h *StudentHandler) CreateStudent(c *gin.Context) {
	var req model.CreateStudentRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	student, err := h.studentService.Create(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"student": student})
}

// ImportStudents godoc
// POST /api/v1/students/import
func (h *StudentHandler) ImportStudents(c *gin.Context) {
	var req model.ImportStudentsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	students, err := h.studentService.Import(c.Request.Context(), actorFrom(c), req.Students)
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"students": students, "count": len(students)})
}

// UpdateStudent godoc
// PUT /api/v1/students/:id
func (h *StudentHandler) UpdateStudent(c *gin.Context) {
	var req model.UpdateStudentRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	student, err := h.studentService.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"student": student})
}

// DeleteStudent godoc
// DELETE /api/v1/students/:id
func (h *StudentHandler) DeleteStudent(c *gin.Context) {
	if err := h.studentService.Delete(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "student deleted"})
}

// MarkAttendance godoc
// POST /api/v1/students/:id/attendance
// Checks a participant in; :id may be the scanned card code.
func (h *StudentHandler) MarkAttendance(c *gin.Context) {
	student, err := h.studentService.MarkAttendance(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"student": student})
}

// UpdateScore godoc
// PUT /api/v1/students/:id/score
func (h *StudentHandler) UpdateScore(c *gin.Context) {
	var req model.UpdateScoreRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	student, err := h.studentService.UpdateScore(c.Request.Context(), actorFrom(c), c.Param("id"), req.Subject, req.Score)
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"student": student})
}
