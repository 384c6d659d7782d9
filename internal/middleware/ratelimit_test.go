// internal/middleware/ratelimit_test.go
package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"todocore/internal/clock"
	"todocore/internal/config"
	"todocore/internal/service"
)

func testLimiterConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Login:   config.RateLimitPolicy{Limit: 5, Window: 5 * time.Minute},
		Refresh: config.RateLimitPolicy{Limit: 30, Window: time.Minute},
		Default: config.RateLimitPolicy{Limit: 100, Window: time.Minute},
	}
}

func TestLimiter_Allow(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC))
	l := NewLimiter(testLimiterConfig(), clk)

	for i := 0; i < 5; i++ {
		ok, _ := l.Allow(PolicyLogin, "1.2.3.4")
		require.True(t, ok, "request %d should pass", i+1)
	}

	ok, retryAfter := l.Allow(PolicyLogin, "1.2.3.4")
	assert.False(t, ok)
	assert.Equal(t, 5*time.Minute, retryAfter)

	// Another caller has an independent budget.
	ok, _ = l.Allow(PolicyLogin, "5.6.7.8")
	assert.True(t, ok)
}

func TestLimiter_WindowSlides(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC))
	l := NewLimiter(testLimiterConfig(), clk)

	for i := 0; i < 5; i++ {
		ok, _ := l.Allow(PolicyLogin, "caller")
		require.True(t, ok)
		clk.Advance(time.Minute)
	}

	// The first request is now 5m old and has left the window.
	ok, _ := l.Allow(PolicyLogin, "caller")
	assert.True(t, ok)

	// The next one is still inside the budget's window.
	ok, retryAfter := l.Allow(PolicyLogin, "caller")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retryAfter)
}

func TestLimiter_UnknownPolicyFallsBackToDefault(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC))
	l := NewLimiter(testLimiterConfig(), clk)

	for i := 0; i < 100; i++ {
		ok, _ := l.Allow("unknown", "caller")
		require.True(t, ok)
	}
	ok, _ := l.Allow("unknown", "caller")
	assert.False(t, ok)
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	clk := clock.NewFake(time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC))
	l := NewLimiter(testLimiterConfig(), clk)
	secLog := service.NewSecurityLogger(zap.NewNop())

	r := gin.New()
	r.POST("/login", RateLimit(l, PolicyLogin, secLog), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	do := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "1.2.3.4:5678"
		r.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do().Code)
	}

	w := do()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "300", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "too_many_requests")
}
