package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rivaldimahardhika/ProjectMagang/internal/access"
)

const ctxKey = "principal"

// Middleware validates the Bearer API key and sets the principal in context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}
		rawKey := strings.TrimPrefix(header, "Bearer ")

		p, err := s.Resolve(c.Request.Context(), rawKey)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}

		c.Set(ctxKey, p)
		c.Next()
	}
}

// RequireAdmin aborts requests from non-administrator principals. It runs
// after Middleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !FromContext(c).IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}

// FromContext retrieves the authenticated principal from the Gin context.
func FromContext(c *gin.Context) access.Principal {
	v, _ := c.Get(ctxKey)
	p, _ := v.(access.Principal)
	return p
}
