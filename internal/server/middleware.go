package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/directory/internal/tenantcontext"
	"github.com/smallbiznis/directory/pkg/log/ctxlogger"
	"github.com/smallbiznis/directory/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

const (
	HeaderTenant   = "X-Tenant-ID"
	HeaderOperator = "X-Operator"
)

// Correlation propagates or mints the correlation id of the request.
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := correlation.ContextWithCorrelationID(c.Request.Context(), strings.TrimSpace(c.GetHeader(correlation.HeaderName)))
		ctx, cid := correlation.EnsureCorrelationID(ctx)
		c.Header(correlation.HeaderName, cid)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequestLogger logs each request with correlation identifiers and safe fields.
func RequestLogger(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		if lastErr := c.Errors.Last(); lastErr != nil {
			errorType, errorCode := classifyErrorForLog(lastErr.Err)
			fields = append(fields,
				zap.String("error_type", errorType),
				zap.String("error_code", errorCode),
			)
		}

		log := ctxlogger.WithContext(c.Request.Context(), base)
		switch {
		case route == "/metrics" || route == "/health":
			log.Debug("http_request", fields...)
		case status >= http.StatusInternalServerError:
			log.Error("http_request", fields...)
		default:
			log.Info("http_request", fields...)
		}
	}
}

// TenantContext moves the tenant and operator headers, set by the
// authenticating gateway, into the request context.
func TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.GetHeader(HeaderTenant))
		if tenantID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		operator := strings.TrimSpace(c.GetHeader(HeaderOperator))

		ctx := tenantcontext.WithTenantID(c.Request.Context(), tenantID)
		if operator != "" {
			ctx = tenantcontext.WithOperator(ctx, operator)
			ctx = ctxlogger.ContextWithOperator(ctx, operator)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
