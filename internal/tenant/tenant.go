// Package tenant carries the clinic scope of a session through a context.
package tenant

import "context"

type clinicKey struct{}

// WithClinic scopes ctx to clinicID. Every store transaction requires it.
func WithClinic(ctx context.Context, clinicID int64) context.Context {
	return context.WithValue(ctx, clinicKey{}, clinicID)
}

// ClinicFromContext returns the clinic scope of ctx. Non-positive ids are not a scope.
func ClinicFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(clinicKey{}).(int64)
	return id, ok && id > 0
}
