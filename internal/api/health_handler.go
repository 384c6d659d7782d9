// internal/api/health_handler.go
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
)

const (
	statusOK        = "ok"
	statusDown      = "down"
	healthDBTimeout = 2 * time.Second
)

type HealthHandler struct {
	db *sqlx.DB
}

func NewHealthHandler(db *sqlx.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Time     string `json:"time"`
}

func (h *HealthHandler) Check(c *gin.Context) {
	dbStatus := statusDown
	statusCode := http.StatusInternalServerError
	if h.pingDatabase(c.Request.Context()) {
		dbStatus = statusOK
		statusCode = http.StatusOK
	}

	c.JSON(statusCode, healthResponse{
		Status:   dbStatus,
		Database: dbStatus,
		Time:     time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) pingDatabase(ctx context.Context) bool {
	if h.db == nil {
		return false
	}
	// Bound the probe so a stalled database cannot hang health checks.
	timeoutCtx, cancel := context.WithTimeout(ctx, healthDBTimeout)
	defer cancel()
	return h.db.PingContext(timeoutCtx) == nil
}
