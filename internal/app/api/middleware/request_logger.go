package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/membership/pkg/logctx"
)

// RequestLoggerMiddleware derives a logger tagged with trace_id and the matched
// route, and stores it on both the gin and request contexts. Services reach it
// through logctx.FromCtx.
func RequestLoggerMiddleware(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		fields := []any{"trace_id", c.GetString(logctx.GinTraceIDKey)}
		if route := c.FullPath(); route != "" {
			fields = append(fields, "route", route)
		}
		reqLogger := base.With(fields...)

		c.Set(logctx.GinLoggerKey, reqLogger)
		c.Request = c.Request.WithContext(logctx.WithLogger(c.Request.Context(), reqLogger))
		c.Next()
	}
}
