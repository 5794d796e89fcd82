package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exot-sync/internal/model"
	"github.com/stemsi/exot-sync/internal/response"
	"github.com/stemsi/exot-sync/internal/service"
	"github.com/stemsi/exot-sync/internal/validator"
)

// QuestionHandler handles question management endpoints.
type QuestionHandler struct {
	questionService *service.QuestionService
}

// NewQuestionHandler creates a new QuestionHandler.
func NewQuestionHandler(questionService *service.QuestionService) *QuestionHandler {
	return &QuestionHandler{questionService: questionService}
}

// ListQuestions godoc
// GET /api/v1/questions?room=7A&subject=english
func (h *QuestionHandler) ListQuestions(c *gin.Context) {
	questions, err := h.questionService.List(c.Request.Context(), c.Query("room"), model.Subject(c.Query("subject")))
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"questions": questions})
}

// CreateQuestion godoc
// POST /api/v1/questions
// Accepts JSON for text questions or multipart with a "file" part for
// uploaded material.
func (h *QuestionHandler) CreateQuestion(c *gin.Context) {
	var req model.CreateQuestionRequest
	if fields := validator.BindForm(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	var file *service.QuestionFile
	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
			return
		}
		defer f.Close()
		file = &service.QuestionFile{Name: fh.Filename, Reader: f}
	}

	question, err := h.questionService.Create(c.Request.Context(), actorFrom(c), req, file)
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"question": question})
}

// DeleteQuestion godoc
// DELETE /api/v1/questions/:id
func (h *QuestionHandler) DeleteQuestion(c *gin.Context) {
	if err := h.questionService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "question deleted"})
}
