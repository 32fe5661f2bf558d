package logctx

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ctxKey string

const (
	loggerKey   ctxKey = "logger"
	traceIDKey  ctxKey = "traceID"
	memberIDKey ctxKey = "member_id"
	eventIDKey  ctxKey = "event_id"
)

// GinLoggerKey and GinTraceIDKey are the gin.Context keys used by the HTTP middleware.
const (
	GinLoggerKey  = "logger"
	GinTraceIDKey = "traceID"
	// TraceHeader carries the trace id in and out of HTTP requests.
	TraceHeader = "X-Request-ID"
)

func WithLogger(ctx context.Context, l *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithMemberID tags ctx with a member id; the attached logger, if any, is enriched too.
func WithMemberID(ctx context.Context, memberID int64) context.Context {
	ctx = context.WithValue(ctx, memberIDKey, memberID)
	if lg, ok := ctx.Value(loggerKey).(*zap.SugaredLogger); ok && lg != nil {
		ctx = WithLogger(ctx, lg.With("member_id", memberID))
	}
	return ctx
}

func WithEventID(ctx context.Context, eventID string) context.Context {
	ctx = context.WithValue(ctx, eventIDKey, eventID)
	if lg, ok := ctx.Value(loggerKey).(*zap.SugaredLogger); ok && lg != nil {
		ctx = WithLogger(ctx, lg.With("event_id", eventID))
	}
	return ctx
}

func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(traceIDKey).(string)
	return s
}

// FromGin returns a request-scoped logger from gin.Context if present,
// otherwise returns the provided base logger.
func FromGin(c *gin.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return base
	}
	if l, ok := c.Get(GinLoggerKey); ok {
		if lg, ok := l.(*zap.SugaredLogger); ok && lg != nil {
			return lg
		}
	}
	return FromCtx(c.Request.Context(), base)
}

// FromCtx returns a logger from context if set, otherwise attempts to enrich
// base with trace_id/member_id/event_id from context values.
func FromCtx(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if ctx == nil {
		return base
	}
	if lg, ok := ctx.Value(loggerKey).(*zap.SugaredLogger); ok && lg != nil {
		return lg
	}
	var fields []interface{}
	if tid, ok := ctx.Value(traceIDKey).(string); ok && tid != "" {
		fields = append(fields, "trace_id", tid)
	}
	if mid, ok := ctx.Value(memberIDKey).(int64); ok && mid != 0 {
		fields = append(fields, "member_id", mid)
	}
	if eid, ok := ctx.Value(eventIDKey).(string); ok && eid != "" {
		fields = append(fields, "event_id", eid)
	}
	if len(fields) > 0 {
		return base.With(fields...)
	}
	return base
}
