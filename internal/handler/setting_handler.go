package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exot-sync/internal/model"
	"github.com/stemsi/exot-sync/internal/response"
	"github.com/stemsi/exot-sync/internal/service"
	"github.com/stemsi/exot-sync/internal/validator"
)

type SettingHandler struct {
	settingService *service.SettingService
}

func NewSettingHandler(settingService *service.SettingService) *SettingHandler {
	return &SettingHandler{settingService: settingService}
}

// GetSettings godoc
// GET /api/v1/settings
func (h *SettingHandler) GetSettings(c *gin.Context) {
	settings, err := h.settingService.GetAll(c.Request.Context())
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusOK, settings)
}

// SaveSettings godoc
// PUT /api/v1/settings
// Merges the given keys into the settings.
func (h *SettingHandler) SaveSettings(c *gin.Context) {
	var req model.Settings
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	settings, err := h.settingService.Save(c.Request.Context(), req)
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusOK, settings)
}

// SetSetting godoc
// PUT /api/v1/settings/:key
func (h *SettingHandler) SetSetting(c *gin.Context) {
	var req model.SetSettingRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	settings, err := h.settingService.Set(c.Request.Context(), c.Param("key"), req.Value)
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusOK, settings)
}

// ToggleDarkMode godoc
// POST /api/v1/settings/dark-mode/toggle
func (h *SettingHandler) ToggleDarkMode(c *gin.Context) {
	h.toggle(c, model.SettingDarkMode, false)
}

// ToggleSound godoc
// POST /api/v1/settings/sound/toggle
func (h *SettingHandler) ToggleSound(c *gin.Context) {
	h.toggle(c, model.SettingSoundEnabled, true)
}

func (h *SettingHandler) toggle(c *gin.Context, key string, fallback bool) {
	v, err := h.settingService.Toggle(c.Request.Context(), key, fallback)
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{key: v})
}
