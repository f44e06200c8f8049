// ABOUTME: Tenant context propagation for dispatch calls
// ABOUTME: Absent tenant context is a configuration error, not a device failure

package dispatch

import (
	"context"
	"errors"
)

// ErrNoTenantContext is the configuration error returned when a dispatch is
// attempted without an established tenant. Unlike device-side outcomes this
// is an actual error: the caller's wiring is broken.
var ErrNoTenantContext = errors.New("no tenant context established")

// tenantKey is the key type for storing the tenant id in context.Context.
type tenantKey struct{}

// WithTenant returns a new context carrying the tenant id.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantFromContext retrieves the tenant id, returning "" if not present.
func TenantFromContext(ctx context.Context) string {
	id, _ := ctx.Value(tenantKey{}).(string)
	return id
}
