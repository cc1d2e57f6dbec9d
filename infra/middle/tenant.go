package middle

import (
	"context"
	"net/http"
	"regexp"
	"strings"
)

type contextKey string

const (
	tenantIDContextKey  contextKey = "tenantID"
	requestIDContextKey contextKey = "requestID"
)

// DefaultTenantID is used when a request carries no tenant header.
// Single-tenant deployments never need to send one.
const DefaultTenantID = "default"

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// TenantMiddleware resolves the tenant from the X-Tenant-ID header and
// stores it in the request context. Malformed tenant ids are rejected
// before they can reach storage keys or index names.
func TenantMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := strings.TrimSpace(r.Header.Get("X-Tenant-ID"))
			if tenantID == "" {
				tenantID = DefaultTenantID
			}

			if !tenantIDPattern.MatchString(tenantID) {
				http.Error(w, "invalid tenant id", http.StatusBadRequest)
				return
			}

			ctx := SetTenantIDInContext(r.Context(), tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SetTenantIDInContext stores the tenant ID in a context.
func SetTenantIDInContext(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDContextKey, tenantID)
}

// GetTenantIDFromContext returns the tenant ID stored by TenantMiddleware,
// or the default tenant when none is set.
func GetTenantIDFromContext(ctx context.Context) string {
	if tenantID, ok := ctx.Value(tenantIDContextKey).(string); ok && tenantID != "" {
		return tenantID
	}
	return DefaultTenantID
}

// SetRequestIDInContext stores the request ID in a context.
func SetRequestIDInContext(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, requestID)
}

// GetRequestIDFromContext returns the request ID assigned by the logging
// middleware, or an empty string.
func GetRequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDContextKey).(string); ok {
		return requestID
	}
	return ""
}
