// internal/api/ws_handler.go
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"todocore/internal/service"
	"todocore/internal/ws"
	"todocore/pkg/auth"
	"todocore/pkg/security"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The frontend is served from a different origin than the API.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WSHandler struct {
	hub          *ws.Hub
	tokenManager *auth.TokenManager
	secLog       *service.SecurityLogger
	logger       *zap.Logger
}

func NewWSHandler(hub *ws.Hub, tm *auth.TokenManager, secLog *service.SecurityLogger, logger *zap.Logger) *WSHandler {
	return &WSHandler{hub: hub, tokenManager: tm, secLog: secLog, logger: logger}
}

// Serve upgrades the connection and attaches it to the hub. Browsers cannot
// set headers on WebSocket requests, so the token travels as a query
// parameter and failures are reported as a policy-violation close frame
// after the upgrade.
func (h *WSHandler) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	claims, err := h.tokenManager.Validate(c.Query("token"))
	if err != nil {
		h.secLog.Log(c.Request.Context(), security.EventTypeTokenMalformed, security.SeverityMedium,
			zap.String("path", c.FullPath()))
		closeWithPolicyViolation(conn, "invalid token")
		return
	}

	tokenTenant, err := claims.TenantID()
	if err != nil {
		closeWithPolicyViolation(conn, "invalid token")
		return
	}

	pathTenant, err := uuid.Parse(c.Param("tenant_id"))
	if err != nil {
		closeWithPolicyViolation(conn, "invalid tenant id")
		return
	}
	if pathTenant != tokenTenant {
		h.secLog.Log(c.Request.Context(), security.EventTypeTenantMismatch, security.SeverityHigh,
			zap.String("token_tenant", tokenTenant.String()),
			zap.String("path_tenant", pathTenant.String()))
		closeWithPolicyViolation(conn, "tenant mismatch")
		return
	}

	h.hub.Attach(c.Request.Context(), tokenTenant, conn)
}

func closeWithPolicyViolation(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}
