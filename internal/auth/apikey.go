package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/usage-insights-engine/internal/config"
)

// Gin context keys set by APIKeyMiddleware.
const (
	tenantCtxKey = "tenant_id"
	adminCtxKey  = "admin"
)

// APIKeyMiddleware enforces multi-tenancy by mapping X-API-Key → tenant id.
func APIKeyMiddleware(keys map[string]config.APIKey) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader("X-API-Key"))
		id, ok := keys[apiKey]
		if apiKey == "" || !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(tenantCtxKey, id.TenantID)
		c.Set(adminCtxKey, id.Admin)
		c.Next()
	}
}

// RequireAdmin rejects keys without the admin role. It must run after
// APIKeyMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin key required"})
			return
		}
		c.Next()
	}
}

// TenantID returns the authenticated tenant ID from the request context.
func TenantID(c *gin.Context) int64 {
	return c.GetInt64(tenantCtxKey)
}

// IsAdmin reports whether the request was made with an admin key.
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(adminCtxKey)
}
