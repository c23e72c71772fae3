package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"marketplace-orders/models"
	"marketplace-orders/utils"
)

const principalKey = "principal"

// AuthMiddleware requires a valid bearer token and stores the caller on the context.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		p, err := utils.ParseToken(strings.TrimSpace(token), secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(principalKey, p)
		c.Set("userID", p.UserID)
		c.Next()
	}
}

// CurrentPrincipal returns the caller set by AuthMiddleware.
func CurrentPrincipal(c *gin.Context) (models.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return models.Principal{}, false
	}
	p, ok := v.(models.Principal)
	return p, ok
}

// RequireSeller rejects callers without the vendor or admin role.
func RequireSeller() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := CurrentPrincipal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}
		if !p.CanManageOrders() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Only vendors and admins can update order status"})
			return
		}
		c.Next()
	}
}
