package http

import (
	"context"
	"net/http"
	"strings"

	"lancast/internal/core/domain"
	"lancast/internal/core/services"
	"lancast/internal/infrastructure/distributed"
	"lancast/pkg/errors"
	"lancast/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SessionController is the part of services.SessionController the panel drives.
type SessionController interface {
	EnsureCaster(ctx context.Context) (*services.CasterSession, error)
	EnsureReceiver(ctx context.Context, address string, record bool) (*services.ReceiverSession, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	SetCaptureRegion(ctx context.Context, region *domain.CaptureRegion) error
	SetScreenSource(ctx context.Context, src domain.ScreenSource) error
	Snapshot() domain.SessionSnapshot
}

// CasterLister lists casters announced on the LAN.
type CasterLister interface {
	List(ctx context.Context) ([]distributed.Announcement, error)
}

var _ SessionController = (*services.SessionController)(nil)

// SessionHandler exposes the session controller to the control panel. Errors
// are attached with c.Error and rendered by middleware.ErrorHandlerMiddleware.
type SessionHandler struct {
	controller SessionController
	casters    CasterLister
	logger     *zap.SugaredLogger
}

// NewSessionHandler builds the handler. casters may be nil when discovery is
// disabled.
func NewSessionHandler(controller SessionController, casters CasterLister, logger *zap.SugaredLogger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SessionHandler{
		controller: controller,
		casters:    casters,
		logger:     logger,
	}
}

func (h *SessionHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.GET("/session", h.GetSession)
		api.POST("/session/caster", h.SelectCaster)
		api.POST("/session/receiver", h.SelectReceiver)
		api.POST("/session/start", h.Start)
		api.POST("/session/stop", h.Stop)
		api.POST("/session/pause", h.Pause)
		api.POST("/session/resume", h.Resume)
		api.PUT("/session/region", h.SetRegion)
		api.PUT("/session/source", h.SetSource)

		api.GET("/casters", h.ListCasters)
	}
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	h.respond(c)
}

func (h *SessionHandler) SelectCaster(c *gin.Context) {
	if _, err := h.controller.EnsureCaster(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	h.respond(c)
}

func (h *SessionHandler) SelectReceiver(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
		Record  bool   `json:"record"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.WrapError(err, errors.ErrCodeInvalidInput, "invalid request body", http.StatusBadRequest))
		return
	}
	address := strings.TrimSpace(req.Address)
	if err := validation.ValidateCasterAddress(address); err != nil {
		_ = c.Error(err)
		return
	}

	if _, err := h.controller.EnsureReceiver(c.Request.Context(), address, req.Record); err != nil {
		_ = c.Error(err)
		return
	}
	h.respond(c)
}

func (h *SessionHandler) Start(c *gin.Context) {
	h.command(c, h.controller.Start)
}

func (h *SessionHandler) Stop(c *gin.Context) {
	h.command(c, h.controller.Stop)
}

func (h *SessionHandler) Pause(c *gin.Context) {
	h.command(c, h.controller.Pause)
}

func (h *SessionHandler) Resume(c *gin.Context) {
	h.command(c, h.controller.Resume)
}

type regionRequest struct {
	Full   bool `json:"full"`
	StartX *int `json:"start_x"`
	StartY *int `json:"start_y"`
	EndX   *int `json:"end_x"`
	EndY   *int `json:"end_y"`
}

// region converts the request; nil means full screen.
func (r regionRequest) region() (*domain.CaptureRegion, error) {
	if r.Full {
		return nil, nil
	}
	if r.StartX == nil || r.StartY == nil || r.EndX == nil || r.EndY == nil {
		return nil, errors.NewInvalidInputError("start_x, start_y, end_x and end_y are required unless full is set")
	}
	return &domain.CaptureRegion{StartX: *r.StartX, StartY: *r.StartY, EndX: *r.EndX, EndY: *r.EndY}, nil
}

func (h *SessionHandler) SetRegion(c *gin.Context) {
	var req regionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.WrapError(err, errors.ErrCodeInvalidInput, "invalid request body", http.StatusBadRequest))
		return
	}
	region, err := req.region()
	if err != nil {
		_ = c.Error(err)
		return
	}

	if err := h.controller.SetCaptureRegion(c.Request.Context(), region); err != nil {
		_ = c.Error(err)
		return
	}
	h.respond(c)
}

func (h *SessionHandler) SetSource(c *gin.Context) {
	var req struct {
		Source string `json:"source" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.WrapError(err, errors.ErrCodeInvalidInput, "invalid request body", http.StatusBadRequest))
		return
	}
	src, err := domain.ParseScreenSource(req.Source)
	if err != nil {
		_ = c.Error(err)
		return
	}

	if err := h.controller.SetScreenSource(c.Request.Context(), src); err != nil {
		_ = c.Error(err)
		return
	}
	h.respond(c)
}

func (h *SessionHandler) ListCasters(c *gin.Context) {
	if h.casters == nil {
		c.JSON(http.StatusOK, gin.H{
			"casters":   []distributed.Announcement{},
			"discovery": false,
		})
		return
	}

	casters, err := h.casters.List(c.Request.Context())
	if err != nil {
		_ = c.Error(errors.WrapError(err, errors.ErrCodeServiceUnavailable, "caster directory unavailable", http.StatusServiceUnavailable))
		return
	}
	if casters == nil {
		casters = []distributed.Announcement{}
	}
	c.JSON(http.StatusOK, gin.H{
		"casters":   casters,
		"discovery": true,
	})
}

func (h *SessionHandler) command(c *gin.Context, fn func(ctx context.Context) error) {
	if err := fn(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	h.respond(c)
}

func (h *SessionHandler) respond(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"session": h.controller.Snapshot(),
	})
}
