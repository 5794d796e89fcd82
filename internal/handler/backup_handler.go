package handler

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exot-sync/internal/response"
	"github.com/stemsi/exot-sync/internal/service"
)

// maxBackupBytes bounds a restore upload.
const maxBackupBytes = 64 << 20

// BackupHandler exports and restores the desk cache.
type BackupHandler struct {
	backupService *service.BackupService
}

// NewBackupHandler creates a new BackupHandler.
func NewBackupHandler(backupService *service.BackupService) *BackupHandler {
	return &BackupHandler{backupService: backupService}
}

// ExportBackup godoc
// GET /api/v1/backup
// Downloads EXOT_Backup_<date>.json.
func (h *BackupHandler) ExportBackup(c *gin.Context) {
	backup, err := h.backupService.Export(c.Request.Context(), actorFrom(c))
	if err != nil {
		failDesk(c, err)
		return
	}
	name := fmt.Sprintf("EXOT_Backup_%s.json", time.Now().Format("2006-01-02"))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.JSON(http.StatusOK, backup)
}

// RestoreBackup godoc
// POST /api/v1/backup/restore
// Accepts the exported JSON as the request body.
func (h *BackupHandler) RestoreBackup(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBackupBytes))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidBackup)
		return
	}

	createdAt, err := h.backupService.Restore(c.Request.Context(), actorFrom(c), raw)
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"success": true, "date": createdAt})
}
