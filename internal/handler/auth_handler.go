package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exot-sync/internal/middleware"
	"github.com/stemsi/exot-sync/internal/model"
	"github.com/stemsi/exot-sync/internal/response"
	"github.com/stemsi/exot-sync/internal/service"
	"github.com/stemsi/exot-sync/internal/validator"
)

// AuthHandler handles desk login and password changes.
type AuthHandler struct {
	userService *service.UserService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(userService *service.UserService) *AuthHandler {
	return &AuthHandler{userService: userService}
}

// Login godoc
// POST /api/v1/auth/login
// Authenticates a committee member and returns a session token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.userService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		failDesk(c, err)
		return
	}

	response.Success(c, http.StatusOK, res)
}

// Logout godoc
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	h.userService.Logout(c.Request.Context(), actorFrom(c))
	response.Success(c, http.StatusOK, gin.H{})
}

// Me godoc
// GET /api/v1/auth/me
// Returns the profile of the logged-in member.
func (h *AuthHandler) Me(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	user, err := h.userService.GetByID(c.Request.Context(), claims.UserID)
	if err != nil {
		failDesk(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"user": publicUser(*user)})
}

// ChangePassword godoc
// PUT /api/v1/auth/password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.ChangePasswordRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.userService.ChangePassword(c.Request.Context(), actorFrom(c), claims.UserID, req.OldPassword, req.NewPassword); err != nil {
		failDesk(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"success": true})
}

// publicUser hides the stored password.
func publicUser(u model.User) model.User {
	u.Password = ""
	return u
}
