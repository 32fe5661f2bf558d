package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fatflowers/membership/pkg/logctx"
)

func TestTraceAndLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core).Sugar()

	r := gin.New()
	r.Use(TraceMiddleware(), RequestLoggerMiddleware(base), AccessLogMiddleware())
	var seen string
	r.GET("/ping", func(c *gin.Context) {
		seen = logctx.TraceID(c.Request.Context())
		logctx.FromCtx(c.Request.Context(), base).Infow("inside")
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))

	require.Equal(t, 2, logs.Len())
	for _, e := range logs.All() {
		assert.Equal(t, "req-123", e.ContextMap()["trace_id"])
		assert.Equal(t, "/ping", e.ContextMap()["route"])
	}
	assert.Equal(t, "http_access", logs.All()[1].Message)
	assert.Equal(t, "/ping", logs.All()[1].ContextMap()["path"])
}

func TestTraceMiddlewareGeneratesID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TraceMiddleware(), RequestLoggerMiddleware(zap.NewNop().Sugar()))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)
}

func TestTraceMiddlewareRejectsUnsafeIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TraceMiddleware())
	var seen string
	r.GET("/ping", func(c *gin.Context) {
		seen = c.GetString(logctx.GinTraceIDKey)
		c.Status(http.StatusOK)
	})

	for _, id := range []string{"has space", strings.Repeat("a", maxTraceIDLen+1), "tab\tid"} {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set(logctx.TraceHeader, id)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.NotEqual(t, id, seen)
		assert.Len(t, seen, 36)
		assert.Equal(t, seen, w.Header().Get(logctx.TraceHeader))
	}
}
