package http

import (
	"net/http"
	"strconv"
	"time"

	"lancast/internal/infrastructure/preview"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type FrameHandlerConfig struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
}

func DefaultFrameHandlerConfig() FrameHandlerConfig {
	return FrameHandlerConfig{
		PingInterval: 10 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// FrameHandler serves the latest still of the active session, either as a
// single JPEG or as a websocket stream of binary messages.
type FrameHandler struct {
	frames   *preview.Slot
	cfg      FrameHandlerConfig
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger
}

func NewFrameHandler(frames *preview.Slot, cfg FrameHandlerConfig, logger *zap.SugaredLogger) *FrameHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	def := DefaultFrameHandlerConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &FrameHandler{
		frames: frames,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
		logger: logger.With("component", "frame_handler"),
	}
}

func (h *FrameHandler) SetupRoutes(router gin.IRouter) {
	router.GET("/api/v1/frame", h.GetFrame)
	router.GET("/ws/frames", h.StreamFrames)
}

// GetFrame returns 204 until the session has produced a frame.
func (h *FrameHandler) GetFrame(c *gin.Context) {
	frame, ok := h.frames.Latest()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("X-Frame-Seq", strconv.FormatUint(frame.Seq, 10))
	c.Data(http.StatusOK, "image/jpeg", frame.Data)
}

func (h *FrameHandler) StreamFrames(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "error", err, "remote", c.ClientIP())
		return
	}
	defer conn.Close()

	frames, cancel := h.frames.Subscribe()
	defer cancel()

	remote := c.ClientIP()
	h.logger.Debugw("frame viewer attached", "remote", remote)

	// the browser never sends anything; reading only detects the close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			h.logger.Debugw("frame viewer left", "remote", remote)
			return
		case frame, ok := <-frames:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(h.cfg.WriteTimeout))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame.Data); err != nil {
				h.logger.Debugw("frame write failed", "remote", remote, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}
