// internal/middleware/ratelimit.go
package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"todocore/internal/clock"
	"todocore/internal/config"
	"todocore/internal/service"
	"todocore/pkg/apierrors"
	"todocore/pkg/security"
)

// Policy names routed to per-endpoint budgets.
const (
	PolicyLogin   = "login"
	PolicyRefresh = "refresh"
	PolicyDefault = "default"
)

// Limiter enforces sliding-window request budgets. Windows are tracked
// per (policy, caller) pair as timestamp lists pruned on each check.
type Limiter struct {
	policies map[string]config.RateLimitPolicy
	clock    clock.Clock

	mu      sync.Mutex
	windows map[string][]time.Time
	done    chan struct{}
}

func NewLimiter(cfg config.RateLimitConfig, clk clock.Clock) *Limiter {
	return &Limiter{
		policies: map[string]config.RateLimitPolicy{
			PolicyLogin:   cfg.Login,
			PolicyRefresh: cfg.Refresh,
			PolicyDefault: cfg.Default,
		},
		clock:   clk,
		windows: make(map[string][]time.Time),
		done:    make(chan struct{}),
	}
}

// Allow records one request for the caller under the named policy.
// When the budget is exhausted it returns false and the wait until the
// oldest counted request leaves the window.
func (l *Limiter) Allow(policy, caller string) (bool, time.Duration) {
	p, ok := l.policies[policy]
	if !ok {
		p = l.policies[PolicyDefault]
	}
	now := l.clock.Now()
	key := policy + "|" + caller

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := pruneWindow(l.windows[key], now.Add(-p.Window))
	if len(kept) >= p.Limit {
		l.windows[key] = kept
		retryAfter := kept[0].Add(p.Window).Sub(now)
		return false, retryAfter
	}
	l.windows[key] = append(kept, now)
	return true, 0
}

// Start launches the janitor that drops idle windows.
func (l *Limiter) Start() {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-l.done:
				return
			case <-ticker.C:
				l.sweep()
			}
		}
	}()
}

func (l *Limiter) Stop() {
	close(l.done)
}

func (l *Limiter) sweep() {
	now := l.clock.Now()
	var maxWindow time.Duration
	for _, p := range l.policies {
		if p.Window > maxWindow {
			maxWindow = p.Window
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, window := range l.windows {
		kept := pruneWindow(window, now.Add(-maxWindow))
		if len(kept) == 0 {
			delete(l.windows, key)
			continue
		}
		l.windows[key] = kept
	}
}

func pruneWindow(window []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	return window[i:]
}

// RateLimit applies the named policy keyed by principal when authenticated,
// falling back to client IP for anonymous endpoints.
func RateLimit(l *Limiter, policy string, secLog *service.SecurityLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := c.ClientIP()
		if principal, ok := PrincipalFromContext(c); ok {
			caller = principal.TenantID.String()
		}

		allowed, retryAfter := l.Allow(policy, caller)
		if !allowed {
			secLog.Log(c.Request.Context(), security.EventTypeRateLimitExceeded, security.SeverityMedium,
				zap.String("policy", policy),
				zap.String("path", c.FullPath()))
			RenderError(c, apierrors.RateLimited(retryAfter))
			return
		}
		c.Next()
	}
}
