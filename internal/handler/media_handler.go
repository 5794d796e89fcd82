package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exot-sync/internal/response"
	"github.com/stemsi/exot-sync/internal/service"
)

// MediaHandler handles question material uploads.
type MediaHandler struct {
	mediaService *service.MediaService
	maxBytes     int64
}

// NewMediaHandler creates a new MediaHandler.
func NewMediaHandler(mediaService *service.MediaService, maxBytes int64) *MediaHandler {
	return &MediaHandler{mediaService: mediaService, maxBytes: maxBytes}
}

// UploadFile godoc
// POST /api/v1/files
// Stores one file under uploads/<category>/ and returns its URL.
func (h *MediaHandler) UploadFile(c *gin.Context) {
	if h.maxBytes > 0 {
		// Leave headroom for the multipart envelope.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+1<<20)
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge)
			return
		}
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}
	defer file.Close()

	res, err := h.mediaService.SaveUpload(c.Request.Context(), c.PostForm("category"), file, header)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnsupportedFileType):
			response.Fail(c, http.StatusBadRequest, response.ErrUnsupportedFile)
		case errors.Is(err, service.ErrFileTooLarge):
			response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, res)
}
