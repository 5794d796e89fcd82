package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exot-sync/internal/model"
	"github.com/stemsi/exot-sync/internal/response"
	"github.com/stemsi/exot-sync/internal/service"
	"github.com/stemsi/exot-sync/internal/validator"
)

// ClassHandler handles exam room management.
type ClassHandler struct {
	classService *service.ClassService
}

// NewClassHandler creates a new ClassHandler.
func NewClassHandler(classService *service.ClassService) *ClassHandler {
	return &ClassHandler{classService: classService}
}

// ListClasses godoc
// GET /api/v1/classes
func (h *ClassHandler) ListClasses(c *gin.Context) {
	classes, err := h.classService.List(c.Request.Context())
	if err != nil {
		failDesk(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"classes": classes})
}

// CreateClass godoc
// POST /api/v1/classes
// Adds a class; adding an existing one is a no-op.
func (h *ClassHandler) CreateClass(c *gin.Context) {
	var req model.ClassRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	classes, err := h.classService.Add(c.Request.Context(), req.Name)
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"classes": classes})
}

// RenameClass godoc
// PUT /api/v1/classes/:name
// Renames a class and moves its students along.
func (h *ClassHandler) RenameClass(c *gin.Context) {
	var req model.RenameClassRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	classes, err := h.classService.Rename(c.Request.Context(), c.Param("name"), req.NewName)
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"classes": classes})
}

// DeleteClass godoc
// DELETE /api/v1/classes/:name
func (h *ClassHandler) DeleteClass(c *gin.Context) {
	classes, err := h.classService.Remove(c.Request.Context(), c.Param("name"))
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"classes": classes})
}
