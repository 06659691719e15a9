// Package httpmw provides shared gin middleware for the daemon's HTTP
// surface: request logging and OTel spans.
package httpmw

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agor-sh/agor/internal/common/logger"
)

// RequestLogger emits one entry per completed request. Successes log at
// debug so steady-state executor traffic (message appends every few
// hundred milliseconds) does not drown the daemon log; failures are
// promoted to warn or error by status class.
func RequestLogger(log *logger.Logger, serverName string) gin.HandlerFunc {
	log = log.WithFields(zap.String("server", serverName))

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		size := c.Writer.Size()
		if size < 0 {
			size = 0
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", routePath(c)),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.Int("bytes", size),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case status >= 500:
			log.Error("http request", fields...)
		case status >= 400:
			log.Warn("http request", fields...)
		default:
			log.Debug("http request", fields...)
		}
	}
}

// routePath prefers the registered route pattern over the raw URL so log
// entries aggregate by handler, not by entity id.
func routePath(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return c.Request.URL.Path
}
