package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exot-sync/internal/response"
	"github.com/stemsi/exot-sync/internal/service"
)

var exportContentTypes = map[service.ExportFormat]string{
	service.ExportCSV:  "text/csv; charset=utf-8",
	service.ExportXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// ExportHandler serves result downloads.
type ExportHandler struct {
	exportService *service.ExportService
}

// NewExportHandler creates a new ExportHandler.
func NewExportHandler(exportService *service.ExportService) *ExportHandler {
	return &ExportHandler{exportService: exportService}
}

// ExportResults godoc
// GET /api/v1/export/results?format=csv|xlsx
// Downloads EXOT_Results_<date>.<format>.
func (h *ExportHandler) ExportResults(c *gin.Context) {
	format, ok := service.ParseExportFormat(c.Query("format"))
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrValidation)
		return
	}

	// Rendered into memory first so a failure still gets a JSON error.
	var buf bytes.Buffer
	if err := h.exportService.Write(c.Request.Context(), actorFrom(c), format, &buf); err != nil {
		failDesk(c, err)
		return
	}

	name := fmt.Sprintf("EXOT_Results_%s.%s", time.Now().Format("2006-01-02"), format)
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, exportContentTypes[format], buf.Bytes())
}
