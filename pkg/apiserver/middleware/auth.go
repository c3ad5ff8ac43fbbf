package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/syllaflow/syllaflow/pkg/model"
)

const (
	// HeaderUserID and HeaderUserRole carry the caller identity asserted by
	// the gateway in front of this service. Token verification happens
	// there; this service only requires that a bearer token is present.
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"
)

func Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authorization := c.GetHeader("Authorization")
		if authorization == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		parts := strings.SplitN(authorization, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization"})
			return
		}
		if strings.TrimSpace(parts[1]) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}
		c.Next()
	}
}

// Identity extracts the gateway-asserted user from the request headers.
func Identity(c *gin.Context) (string, model.UserRole, bool) {
	userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
	if userID == "" {
		return "", "", false
	}
	role := model.UserRole(strings.ToUpper(strings.TrimSpace(c.GetHeader(HeaderUserRole))))
	return userID, role, true
}
