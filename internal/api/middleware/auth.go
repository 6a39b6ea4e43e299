package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/adforge/internal/logger"
)

// UserIDHeader carries the authenticated user identity, injected by the
// gateway in front of this service. Requests reaching this process are
// already authenticated; this middleware only propagates the identity.
const UserIDHeader = "X-User-ID"

const userIDKey = "user_id"

// RequireUser returns a middleware that extracts the gateway-injected user
// identity and rejects requests without one.
// Returns:
//   - gin.HandlerFunc: middleware handler.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(UserIDHeader)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing user identity",
			})
			return
		}

		c.Set(userIDKey, userID)
		c.Request = c.Request.WithContext(logger.SetUserID(c.Request.Context(), userID))
		c.Next()
	}
}

// CurrentUser returns the authenticated user id for the request.
// Parameters:
//   - c: Gin request context.
// Returns:
//   - string: user id, empty if the request skipped RequireUser.
func CurrentUser(c *gin.Context) string {
	return c.GetString(userIDKey)
}
