package shared

import "context"

type contextKey string

const (
	tenantContextKey   contextKey = "meridian.tenant"
	operatorContextKey contextKey = "meridian.operator"
)

// ContextWithTenant stores the resolved tenant id on the context.
func ContextWithTenant(ctx context.Context, tenantID int64) context.Context {
	return context.WithValue(ctx, tenantContextKey, tenantID)
}

// TenantFromContext returns the tenant id resolved by the gateway headers.
func TenantFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(tenantContextKey).(int64)
	return id, ok
}

// ContextWithOperator stores the acting operator id on the context.
func ContextWithOperator(ctx context.Context, operatorID int64) context.Context {
	return context.WithValue(ctx, operatorContextKey, operatorID)
}

// OperatorFromContext returns the acting operator id.
func OperatorFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(operatorContextKey).(int64)
	return id, ok
}
