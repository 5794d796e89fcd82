package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exot-sync/internal/model"
	"github.com/stemsi/exot-sync/internal/observability"
	"github.com/stemsi/exot-sync/internal/response"
	"github.com/stemsi/exot-sync/internal/service"
	"github.com/stemsi/exot-sync/internal/validator"
)

// SyncHandler serves full pulls and collection pushes to desks.
type SyncHandler struct {
	reconcileService *service.ReconcileService
	log              zerolog.Logger
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(reconcileService *service.ReconcileService, log zerolog.Logger) *SyncHandler {
	return &SyncHandler{
		reconcileService: reconcileService,
		log:              log.With().Str("component", "sync_handler").Logger(),
	}
}

// Pull godoc
// GET /api/v1/sync
// Returns every collection with its last logical write time.
func (h *SyncHandler) Pull(c *gin.Context) {
	out, err := h.reconcileService.Pull(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Pull failed")
		observability.CaptureErr(err)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, out)
}

// Push godoc
// POST /api/v1/sync/:collection
// Replaces one collection. The whole push commits or nothing does.
func (h *SyncHandler) Push(c *gin.Context) {
	collection, ok := model.ParseCollection(c.Param("collection"))
	if !ok {
		response.Fail(c, http.StatusNotFound, response.ErrUnknownCollection)
		return
	}

	var req model.PushRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	err := h.reconcileService.Apply(c.Request.Context(), collection, req.Payload, req.UpdatedAt, pushOrigin(c, req.Origin))
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, model.PushResult{Success: true})
}

// PushSetting godoc
// PUT /api/v1/sync/settings/:key
// Writes one settings key without touching the others.
func (h *SyncHandler) PushSetting(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SettingPushRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.reconcileService.ApplySetting(c.Request.Context(), key, req.Value, req.UpdatedAt, pushOrigin(c, req.Origin)); err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, model.PushResult{Success: true})
}

// pushOrigin prefers the origin in the body and falls back to the header.
func pushOrigin(c *gin.Context, body string) string {
	if body != "" {
		return body
	}
	return response.Origin(c)
}

func (h *SyncHandler) fail(c *gin.Context, err error) {
	var rerr *service.ReconcileError
	switch {
	case errors.Is(err, service.ErrUnknownCollection):
		response.Fail(c, http.StatusNotFound, response.ErrUnknownCollection)
	case errors.As(err, &rerr):
		h.log.Warn().Err(err).Str("collection", string(rerr.Collection)).Msg("Push rejected")
		response.FailWithMessage(c, http.StatusUnprocessableEntity, response.ErrSyncRejected, rerr.Error())
	default:
		h.log.Error().Err(err).Msg("Push failed")
		observability.CaptureErr(err)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
