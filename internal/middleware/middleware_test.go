package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(), Identity())
	r.POST("/echo", func(c *gin.Context) {
		body := make([]byte, 64)
		n, _ := c.Request.Body.Read(body)
		c.String(http.StatusOK, c.GetString(UserIDKey)+":"+string(body[:n]))
	})
	return r
}

func TestIdentity_RequiresHeader(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("hi"))
	newRouter().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestLogger_PreservesBody(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("hello"))
	req.Header.Set(UserIDHeader, "u1")
	newRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1:hello", w.Body.String())
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", maxLoggedBody+10)
	assert.Len(t, truncate([]byte(long)), maxLoggedBody+3)
	assert.Equal(t, "short", truncate([]byte("short")))
}
