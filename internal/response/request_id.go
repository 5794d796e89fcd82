package response

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// ContextKeyRequestID is the Gin context key for the request ID.
	ContextKeyRequestID = "request_id"
	// ContextKeyOrigin holds the desk origin a sync request came from.
	ContextKeyOrigin = "sync_origin"

	HeaderRequestID = "X-Request-ID"
	HeaderOrigin    = "X-Exot-Origin"

	maxHeaderIDLen = 128
)

// RequestIDMiddleware tags every request with an ID and, for desk traffic,
// the origin header so pushes can be traced back to a desk.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(HeaderRequestID)
		if reqID == "" || len(reqID) > maxHeaderIDLen {
			reqID = uuid.New().String()
		}
		c.Set(ContextKeyRequestID, reqID)
		c.Header(HeaderRequestID, reqID)

		if origin := c.GetHeader(HeaderOrigin); origin != "" && len(origin) <= maxHeaderIDLen {
			c.Set(ContextKeyOrigin, origin)
		}
		c.Next()
	}
}

// Origin returns the desk origin header of the request, if any.
func Origin(c *gin.Context) string {
	return c.GetString(ContextKeyOrigin)
}
