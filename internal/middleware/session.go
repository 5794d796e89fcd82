package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exot-sync/internal/response"
)

// UserChecker reports whether a committee member still exists.
type UserChecker interface {
	UserExists(ctx context.Context, id string) (bool, error)
}

// CheckSessionUser rejects sessions whose user was deleted since login,
// including deletions that arrived from another desk through sync.
func CheckSessionUser(users UserChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		ok, err := users.UserExists(c.Request.Context(), claims.UserID)
		if err != nil {
			response.AbortFail(c, http.StatusInternalServerError, response.ErrInternal)
			return
		}
		if !ok {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionExpired)
			return
		}

		c.Next()
	}
}
