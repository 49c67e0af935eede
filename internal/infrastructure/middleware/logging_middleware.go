package middleware

import (
	"time"

	"lancast/pkg/logger"
	"lancast/pkg/tracing"

	"github.com/gin-gonic/gin"
)

// RequestLoggerMiddleware logs one line per panel request. It must run after
// TracingMiddleware so the entry carries the trace id.
func RequestLoggerMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		ctx := c.Request.Context()
		if id := tracing.TraceIDFromContext(ctx); id != "" {
			ctx = logger.WithTraceID(ctx, id)
			c.Request = c.Request.WithContext(ctx)
		}

		c.Next()

		// the frame stream stays open for the life of the socket
		if c.IsWebsocket() {
			return
		}
		cl.LogRequest(ctx, c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Milliseconds())
	}
}
