// internal/api/auth_handler.go
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"todocore/internal/middleware"
	"todocore/internal/service"
	"todocore/pkg/apierrors"
)

type AuthHandler struct {
	auth *service.AuthService
}

func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RenderError(c, apierrors.New(apierrors.BadRequest, "invalid request body"))
		return
	}

	result, err := h.auth.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		middleware.RenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RenderError(c, apierrors.New(apierrors.BadRequest, "invalid request body"))
		return
	}

	result, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		middleware.RenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	principal, ok := middleware.PrincipalFromContext(c)
	if !ok {
		middleware.RenderError(c, apierrors.New(apierrors.Unauthenticated, "authentication required"))
		return
	}

	result, err := h.auth.Refresh(c.Request.Context(), principal.TenantID)
	if err != nil {
		middleware.RenderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Logout exists for client symmetry. Tokens are stateless, so there is
// nothing to revoke server-side.
func (h *AuthHandler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}
