package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/fatflowers/membership/pkg/logctx"
	"github.com/fatflowers/membership/pkg/tool"
)

const maxTraceIDLen = 128

// TraceMiddleware assigns every request a trace id, stored on the gin and request
// contexts and echoed in the response header. A client supplied id is kept when
// it is short and printable; otherwise a UUIDv7 is generated.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(logctx.TraceHeader)
		if !validTraceID(traceID) {
			traceID = tool.GenerateUUIDV7()
		}

		c.Set(logctx.GinTraceIDKey, traceID)
		c.Header(logctx.TraceHeader, traceID)
		c.Request = c.Request.WithContext(logctx.WithTraceID(c.Request.Context(), traceID))
		c.Next()
	}
}

func validTraceID(id string) bool {
	if id == "" || len(id) > maxTraceIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
