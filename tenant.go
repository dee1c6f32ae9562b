package gdprvault

import (
	"context"

	"github.com/hengadev/gdprvault/internal/tenant"
)

// WithClinic scopes ctx to one clinic. Every Service operation except the
// scheduler runs require it; without it they fail with ErrTenantScope.
func WithClinic(ctx context.Context, clinicID int64) context.Context {
	return tenant.WithClinic(ctx, clinicID)
}

// ClinicFromContext returns the clinic scope of ctx, if any.
func ClinicFromContext(ctx context.Context) (int64, bool) {
	return tenant.ClinicFromContext(ctx)
}
