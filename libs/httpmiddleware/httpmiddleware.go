package httpmiddleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/AfshinJalili/regportal/libs/auth"
	"github.com/AfshinJalili/regportal/libs/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	RequestIDHeader   = "X-Request-ID"
	traceParentHeader = "traceparent"
)

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(RequestIDHeader, reqID)
		c.Header(RequestIDHeader, reqID)
		c.Next()
	}
}

// RequestIDFromContext returns the id assigned by RequestID, or "".
func RequestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(RequestIDHeader); ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

func Logger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		metrics.RequestsInFlight.Inc()
		c.Next()
		metrics.RequestsInFlight.Dec()
		latency := time.Since(start)

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", status),
			slog.Duration("latency", latency),
			slog.String("client_ip", c.ClientIP()),
			slog.String("user_agent", c.Request.UserAgent()),
			slog.String("request_id", RequestIDFromContext(c)),
			slog.String("traceparent", c.GetHeader(traceParentHeader)),
		}
		if userID, ok := c.Get(auth.ContextUserIDKey); ok {
			attrs = append(attrs, slog.Any("user_id", userID))
		}

		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "request", attrs...)

		metrics.ObserveRequest(c.Request.Method, path, status, audience(c), latency)
	}
}

// audience classifies the caller from the claims set by auth.Middleware.
func audience(c *gin.Context) string {
	claims, ok := auth.ClaimsFromContext(c)
	switch {
	case !ok:
		return metrics.AudienceAnonymous
	case claims.IsInternal():
		return metrics.AudienceInternal
	default:
		return metrics.AudienceExternal
	}
}

func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic",
					slog.Any("error", err),
					slog.String("path", c.Request.URL.Path),
					slog.String("request_id", RequestIDFromContext(c)),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "message": "internal error"})
			}
		}()
		c.Next()
	}
}
