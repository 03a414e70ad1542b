package tenantcontext

import (
	"context"
	"strings"
)

type tenantKey struct{}
type operatorKey struct{}

// SystemOperator is recorded when no caller identity is available.
const SystemOperator = "system"

func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, strings.TrimSpace(tenantID))
}

// TenantIDFromContext returns the tenant the caller acts in, if set.
func TenantIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(tenantKey{}).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorKey{}, strings.TrimSpace(operator))
}

func OperatorFromContext(ctx context.Context) string {
	if ctx == nil {
		return SystemOperator
	}
	if op, ok := ctx.Value(operatorKey{}).(string); ok && op != "" {
		return op
	}
	return SystemOperator
}
