// internal/middleware/auth_test.go
package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"todocore/internal/service"
	"todocore/pkg/auth"
)

func newAuthTestRouter(t *testing.T) (*gin.Engine, *auth.TokenManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tm, err := auth.NewTokenManager("test-secret-that-is-at-least-32-bytes!", time.Hour)
	require.NoError(t, err)
	secLog := service.NewSecurityLogger(zap.NewNop())

	r := gin.New()
	group := r.Group("/tenants/:tenant_id")
	group.Use(RequireAuth(tm, secLog), TenantGuard(secLog))
	group.GET("/tasks", func(c *gin.Context) {
		principal, ok := PrincipalFromContext(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"tenant_id": principal.TenantID})
	})
	return r, tm
}

func doAuth(r *gin.Engine, path, authHeader string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	r, tm := newAuthTestRouter(t)
	tenantID := uuid.New()

	token, _, err := tm.Generate(tenantID, "user@example.com")
	require.NoError(t, err)

	t.Run("valid token passes", func(t *testing.T) {
		w := doAuth(r, "/tenants/"+tenantID.String()+"/tasks", "Bearer "+token)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), tenantID.String())
	})

	t.Run("missing header is rejected", func(t *testing.T) {
		w := doAuth(r, "/tenants/"+tenantID.String()+"/tasks", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("garbage token is rejected", func(t *testing.T) {
		w := doAuth(r, "/tenants/"+tenantID.String()+"/tasks", "Bearer not.a.token")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		expiredTM, err := auth.NewTokenManager("test-secret-that-is-at-least-32-bytes!", -time.Minute)
		require.NoError(t, err)
		expired, _, err := expiredTM.Generate(tenantID, "user@example.com")
		require.NoError(t, err)

		w := doAuth(r, "/tenants/"+tenantID.String()+"/tasks", "Bearer "+expired)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("forged token is rejected", func(t *testing.T) {
		otherTM, err := auth.NewTokenManager("another-secret-that-is-32-bytes-long!", time.Hour)
		require.NoError(t, err)
		forged, _, err := otherTM.Generate(tenantID, "user@example.com")
		require.NoError(t, err)

		w := doAuth(r, "/tenants/"+tenantID.String()+"/tasks", "Bearer "+forged)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestTenantGuard(t *testing.T) {
	r, tm := newAuthTestRouter(t)
	tenantID := uuid.New()

	token, _, err := tm.Generate(tenantID, "user@example.com")
	require.NoError(t, err)

	t.Run("cross-tenant path is forbidden", func(t *testing.T) {
		other := uuid.New()
		w := doAuth(r, "/tenants/"+other.String()+"/tasks", "Bearer "+token)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "tenant mismatch")
	})

	t.Run("unparseable tenant id is a bad request", func(t *testing.T) {
		w := doAuth(r, "/tenants/not-a-uuid/tasks", "Bearer "+token)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
