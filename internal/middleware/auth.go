// internal/middleware/auth.go
package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"todocore/internal/service"
	"todocore/pkg/apierrors"
	"todocore/pkg/auth"
	"todocore/pkg/security"
)

// principalKey is the gin context key the authenticated principal is stored
// under.
const principalKey = "principal"

// Principal is the authenticated caller extracted from a verified token.
type Principal struct {
	TenantID uuid.UUID
	Email    string
}

// PrincipalFromContext returns the principal set by RequireAuth.
func PrincipalFromContext(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// ClientContext stamps the caller's network identity into the request
// context so downstream security logging can attribute events.
func ClientContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := service.WithClientInfo(c.Request.Context(), service.ClientInfo{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireAuth verifies the bearer token and attaches the principal. Every
// rejection is logged as a security event; the response never distinguishes
// why the token failed beyond the 401.
func RequireAuth(tm *auth.TokenManager, secLog *service.SecurityLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractTokenFromHeader(c.GetHeader("Authorization"))
		if err != nil {
			secLog.Log(c.Request.Context(), security.EventTypeTokenMalformed, security.SeverityMedium,
				zap.String("path", c.FullPath()))
			RenderError(c, apierrors.New(apierrors.Unauthenticated, "missing or invalid authorization header"))
			return
		}

		claims, err := tm.Validate(token)
		if err != nil {
			logTokenFailure(c, secLog, err)
			RenderError(c, apierrors.New(apierrors.Unauthenticated, "invalid token"))
			return
		}

		tenantID, err := claims.TenantID()
		if err != nil {
			secLog.Log(c.Request.Context(), security.EventTypeTokenMissingClaim, security.SeverityMedium,
				zap.String("path", c.FullPath()))
			RenderError(c, apierrors.New(apierrors.Unauthenticated, "invalid token"))
			return
		}

		c.Set(principalKey, Principal{TenantID: tenantID, Email: claims.Email})
		c.Next()
	}
}

// TenantGuard rejects requests whose :tenant_id path parameter does not
// match the authenticated principal. Cross-tenant probes are logged at high
// severity.
func TenantGuard(secLog *service.SecurityLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			RenderError(c, apierrors.New(apierrors.Unauthenticated, "authentication required"))
			return
		}

		pathTenant, err := uuid.Parse(c.Param("tenant_id"))
		if err != nil {
			RenderError(c, apierrors.New(apierrors.BadRequest, "invalid tenant id"))
			return
		}

		if pathTenant != principal.TenantID {
			secLog.Log(c.Request.Context(), security.EventTypeTenantMismatch, security.SeverityHigh,
				zap.String("token_tenant", principal.TenantID.String()),
				zap.String("path_tenant", pathTenant.String()),
				zap.String("path", c.FullPath()))
			RenderError(c, apierrors.New(apierrors.Forbidden, "tenant mismatch"))
			return
		}
		c.Next()
	}
}

func logTokenFailure(c *gin.Context, secLog *service.SecurityLogger, err error) {
	eventType := security.EventTypeTokenMalformed
	severity := security.SeverityMedium
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		eventType, severity = security.EventTypeTokenExpired, security.SeverityLow
	case errors.Is(err, auth.ErrBadSignature):
		eventType, severity = security.EventTypeTokenBadSignature, security.SeverityHigh
	case errors.Is(err, auth.ErrMissingClaim):
		eventType = security.EventTypeTokenMissingClaim
	}
	secLog.Log(c.Request.Context(), eventType, severity, zap.String("path", c.FullPath()))
}
