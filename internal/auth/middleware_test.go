package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func runAdmin(secret string, production bool, header string) (*httptest.ResponseRecorder, *gin.Context) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/v1/users/u1/assessments", nil)
	if header != "" {
		c.Request.Header.Set(HeaderAdminSecret, header)
	}
	RequireAdmin(secret, production)(c)
	return w, c
}

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name       string
		secret     string
		production bool
		header     string
		allowed    bool
	}{
		{"correct secret", "supersecret123", true, "supersecret123", true},
		{"wrong secret", "supersecret123", true, "wrongsecret", false},
		{"missing header", "supersecret123", false, "", false},
		{"no secret in development", "", false, "", true},
		{"no secret in production", "", true, "anything", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, c := runAdmin(tt.secret, tt.production, tt.header)
			assert.Equal(t, !tt.allowed, c.IsAborted())
			if !tt.allowed {
				assert.Equal(t, http.StatusForbidden, w.Code)
			}
		})
	}
}
