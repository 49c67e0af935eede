package http

import (
	"context"
	"net/http"
	"time"

	"lancast/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
)

type HealthReporter interface {
	CheckAll(ctx context.Context) monitoring.HealthStatus
}

// HealthHandler reports process health together with the session snapshot
// so a supervisor can tell an idle panel from a broken one.
type HealthHandler struct {
	checker    HealthReporter
	controller SessionController
	startedAt  time.Time
	timeout    time.Duration
}

func NewHealthHandler(checker HealthReporter, controller SessionController, startedAt time.Time) *HealthHandler {
	return &HealthHandler{
		checker:    checker,
		controller: controller,
		startedAt:  startedAt,
		timeout:    2 * time.Second,
	}
}

func (h *HealthHandler) SetupRoutes(router gin.IRouter) {
	router.GET("/health", h.Health)
}

func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	status := h.checker.CheckAll(ctx)
	code := http.StatusOK
	if !status.Healthy() {
		code = http.StatusServiceUnavailable
	}

	snap := h.controller.Snapshot()
	c.JSON(code, gin.H{
		"status":    status.Status,
		"timestamp": status.Timestamp,
		"checks":    status.Checks,
		"uptime":    time.Since(h.startedAt).Round(time.Second).String(),
		"session": gin.H{
			"role":      snap.Role,
			"state":     snap.State,
			"connected": snap.Connected,
		},
	})
}
