package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/use-agent/planillas/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(IdentityKey))
	})
	return r
}

func get(r http.Handler, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	r := newEngine(Auth([]string{"k1", "k2"}))

	tests := []struct {
		name    string
		headers map[string]string
		status  int
		body    string
	}{
		{"x-api-key", map[string]string{"X-API-Key": "k1"}, http.StatusOK, "k1"},
		{"bearer", map[string]string{"Authorization": "Bearer k2"}, http.StatusOK, "k2"},
		{"bearer lowercase", map[string]string{"Authorization": "bearer k2"}, http.StatusOK, "k2"},
		{"missing", nil, http.StatusUnauthorized, "missing API key"},
		{"wrong", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized, "invalid API key"},
		{"basic scheme", map[string]string{"Authorization": "Basic k1"}, http.StatusUnauthorized, "UNAUTHORIZED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(r, tt.headers)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
		})
	}
}

func TestAuth_NoKeysIsOpen(t *testing.T) {
	w := get(newEngine(Auth([]string{""})), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit(t *testing.T) {
	r := newEngine(Auth([]string{"a", "b"}), RateLimit(config.RateLimitConfig{RequestsPerSecond: 0.5, Burst: 2}))

	assert.Equal(t, http.StatusOK, get(r, map[string]string{"X-API-Key": "a"}).Code)
	assert.Equal(t, http.StatusOK, get(r, map[string]string{"X-API-Key": "a"}).Code)

	w := get(r, map[string]string{"X-API-Key": "a"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "RATE_LIMITED")

	// Buckets are per identity.
	assert.Equal(t, http.StatusOK, get(r, map[string]string{"X-API-Key": "b"}).Code)
}

func TestLimiterStore_Evict(t *testing.T) {
	s := newLimiterStore(config.RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
	now := time.Now()
	s.get("old", now.Add(-2*time.Hour))
	s.get("new", now)

	s.evictBefore(now.Add(-time.Hour))
	assert.Len(t, s.limiters, 1)
	assert.Contains(t, s.limiters, "new")
}
