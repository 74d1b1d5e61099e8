package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/observability"
)

const (
	UserIDKey   = "userID"
	UserNameKey = "userName"
)

// AuthMiddleware validates the session token from the cookie or the
// Authorization header.
func AuthMiddleware(verifier auth.Verifier, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := observability.SessionToken(c.Request, cookieName)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		id, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(UserIDKey, id.UserID)
		c.Set(UserNameKey, id.Name)
		c.Next()
	}
}
