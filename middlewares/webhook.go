package middlewares

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const CallbackSecretHeader = "X-Callback-Secret"

// CallbackSecret guards provider callbacks with a shared secret header.
// An empty secret leaves the route open, which is only acceptable outside production.
func CallbackSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		got := c.GetHeader(CallbackSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid callback signature"})
			return
		}
		c.Next()
	}
}
