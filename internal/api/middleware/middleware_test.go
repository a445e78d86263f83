package middleware

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

func newLimitedRouter(cfg RateLimitConfig) *gin.Engine {
	router := gin.New()
	router.Use(RateLimit(cfg))
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	return router
}

func get(router *gin.Engine, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitAllowsWithinBurst(t *testing.T) {
	router := newLimitedRouter(RateLimitConfig{RequestsPerSecond: 1, Burst: 3})

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, get(router, "203.0.113.1:1234").Code)
	}
}

func TestRateLimitRejectsOverBurst(t *testing.T) {
	router := newLimitedRouter(RateLimitConfig{RequestsPerSecond: 1, Burst: 2})

	get(router, "203.0.113.2:1234")
	get(router, "203.0.113.2:1234")
	rec := get(router, "203.0.113.2:1234")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}

func TestRateLimitIsPerClient(t *testing.T) {
	router := newLimitedRouter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1})

	assert.Equal(t, http.StatusOK, get(router, "203.0.113.3:1234").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(router, "203.0.113.3:1234").Code)
	// A different source address has its own bucket.
	assert.Equal(t, http.StatusOK, get(router, "203.0.113.4:1234").Code)
}

func TestCORSPreflight(t *testing.T) {
	router := gin.New()
	router.Use(CORS(DefaultCORSConfig()))
	router.GET("/fetch", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodOptions, "/fetch", nil)
	req.Header.Set("Origin", "https://embedder.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "GET")
}
