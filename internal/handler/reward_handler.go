package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exot-sync/internal/model"
	"github.com/stemsi/exot-sync/internal/response"
	"github.com/stemsi/exot-sync/internal/service"
	"github.com/stemsi/exot-sync/internal/validator"
)

// RewardHandler handles examiner rewards.
type RewardHandler struct {
	rewardService *service.RewardService
}

// NewRewardHandler creates a new RewardHandler.
func NewRewardHandler(rewardService *service.RewardService) *RewardHandler {
	return &RewardHandler{rewardService: rewardService}
}

// ListRewards godoc
// GET /api/v1/rewards
func (h *RewardHandler) ListRewards(c *gin.Context) {
	rewards, err := h.rewardService.List(c.Request.Context())
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"rewards": rewards})
}

// GetReward godoc
// GET /api/v1/rewards/:code
// Looks a reward up by QR code or id.
func (h *RewardHandler) GetReward(c *gin.Context) {
	reward, err := h.rewardService.Lookup(c.Request.Context(), c.Param("code"))
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"reward": reward})
}

// GenerateReward godoc
// POST /api/v1/users/:id/reward
// Generates the examiner's single reward.
func (h *RewardHandler) GenerateReward(c *gin.Context) {
	reward, err := h.rewardService.Generate(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"reward": reward})
}

// ClaimReward godoc
// POST /api/v1/rewards/claim
func (h *RewardHandler) ClaimReward(c *gin.Context) {
	var req model.ClaimRewardRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	reward, err := h.rewardService.Claim(c.Request.Context(), actorFrom(c), req.QRCode)
	if err != nil {
		failDesk(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"reward": reward})
}
