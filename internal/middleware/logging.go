package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sgsgita/alumni-connect-backend/pkg/logger"
)

// LoggingMiddleware emits one structured log line per request, leveled by
// response status.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		rawQuery := c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()

		// userId is set by the auth middleware for authenticated routes.
		userIdStr := ""
		if userId, ok := c.Get("userId"); ok {
			userIdStr, _ = userId.(string)
		}

		event := logger.Log.Info()
		switch {
		case status >= 500:
			event = logger.Log.Error()
		case status >= 400:
			event = logger.Log.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", rawQuery).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("ip", c.ClientIP()).
			Str("user_id", userIdStr).
			Int("body_size", c.Writer.Size()).
			Msg("request")
	}
}
