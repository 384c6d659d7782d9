// internal/api/router.go
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"todocore/internal/middleware"
	"todocore/internal/service"
	"todocore/pkg/auth"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Auth   *AuthHandler
	Tasks  *TaskHandler
	Health *HealthHandler
	WS     *WSHandler
}

// NewRouter assembles the HTTP surface: auth endpoints, tenant-scoped task
// endpoints behind the identity gate, the sync socket and the operational
// endpoints.
func NewRouter(h Handlers, tm *auth.TokenManager, secLog *service.SecurityLogger, limiter *middleware.Limiter, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.ClientContext())

	r.GET("/health", h.Health.Check)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authGroup := r.Group("/api/v1/auth")
	{
		authGroup.POST("/register", middleware.RateLimit(limiter, middleware.PolicyLogin, secLog), h.Auth.Register)
		authGroup.POST("/login", middleware.RateLimit(limiter, middleware.PolicyLogin, secLog), h.Auth.Login)
		authGroup.POST("/refresh",
			middleware.RequireAuth(tm, secLog),
			middleware.RateLimit(limiter, middleware.PolicyRefresh, secLog),
			h.Auth.Refresh)
		authGroup.POST("/logout", h.Auth.Logout)
	}

	tasks := r.Group("/api/v1/tenants/:tenant_id/tasks")
	tasks.Use(
		middleware.RequireAuth(tm, secLog),
		middleware.TenantGuard(secLog),
		middleware.RateLimit(limiter, middleware.PolicyDefault, secLog),
	)
	{
		tasks.POST("", h.Tasks.Create)
		tasks.GET("", h.Tasks.List)
		tasks.GET("/:id", h.Tasks.Get)
		tasks.PUT("/:id", h.Tasks.Update)
		tasks.PATCH("/:id/complete", h.Tasks.Complete)
		tasks.DELETE("/:id", h.Tasks.Delete)
	}

	// Token checks happen after the upgrade so browser clients get a close
	// frame instead of an unreadable handshake failure. The handshake is
	// token-validation heavy, so it shares the refresh rate tier.
	r.GET("/ws/:tenant_id", middleware.RateLimit(limiter, middleware.PolicyRefresh, secLog), h.WS.Serve)

	return r
}
