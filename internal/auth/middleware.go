// Package auth gates reviewer and operator routes.
package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderAdminSecret carries the operator secret.
const HeaderAdminSecret = "X-Admin-Secret"

// RequireAdmin rejects requests whose X-Admin-Secret header does not match
// secret. With an empty secret the routes are open unless production is set,
// in which case they are closed entirely.
func RequireAdmin(secret string, production bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			if production {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":   "forbidden",
					"message": "Admin routes are disabled: ADMIN_SECRET is not configured",
				})
				return
			}
			c.Next()
			return
		}

		got := c.GetHeader(HeaderAdminSecret)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Valid X-Admin-Secret header required",
			})
			return
		}
		c.Next()
	}
}
