// Package validation provides input validation middleware for the riskgate API.
package validation

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (64KB). Authorization
// requests carry device signals and card data, never files.
const MaxRequestSize = 64 << 10

// MaxIDLength bounds user, attempt and challenge identifiers.
const MaxIDLength = 128

// idRegex matches identifiers minted by this service (chl_..., att_...) and
// the opaque user ids callers send.
var idRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:@-]*$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidID reports whether s is a well-formed identifier.
func IsValidID(s string) bool {
	return len(s) <= MaxIDLength && idRegex.MatchString(s)
}

// IDParamMiddleware rejects requests whose named path parameter is present
// but malformed. Routes without the parameter pass through.
func IDParamMiddleware(params ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, p := range params {
			v := c.Param(p)
			if v == "" {
				continue
			}
			if !IsValidID(v) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_id",
					"message": "Malformed " + p + " parameter",
				})
				return
			}
		}
		c.Next()
	}
}
