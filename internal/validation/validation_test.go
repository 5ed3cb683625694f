package validation

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestIsValidID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"chl_3f9a0c1d", true},
		{"user_42", true},
		{"tenant:acme:user-7", true},
		{"taro@example.jp", true},
		{"", false},
		{"_leading", false},
		{"has space", false},
		{"../etc/passwd", false},
		{"semi;colon", false},
		{strings.Repeat("a", MaxIDLength), true},
		{strings.Repeat("a", MaxIDLength+1), false},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.valid, IsValidID(tc.id), "IsValidID(%q)", tc.id)
	}
}

func TestIDParamMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(IDParamMiddleware("id"))
	router.GET("/challenges/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := map[string]int{
		"/challenges/chl_abc":      http.StatusOK,
		"/challenges/bad%20id":     http.StatusBadRequest,
		"/challenges/semi%3Bcolon": http.StatusBadRequest,
		"/health":                  http.StatusOK,
	}
	for path, want := range cases {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, w.Code, path)
	}
}

func TestRequestSizeMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(RequestSizeMiddleware(16))
	router.POST("/authorize", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/authorize", bytes.NewReader([]byte(`{"a":1}`))))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/authorize", bytes.NewReader(bytes.Repeat([]byte("x"), 64))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
