package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClinicFromContext(t *testing.T) {
	tests := []struct {
		name   string
		ctx    context.Context
		wantID int64
		wantOK bool
	}{
		{name: "unscoped", ctx: context.Background()},
		{name: "scoped", ctx: WithClinic(context.Background(), 12), wantID: 12, wantOK: true},
		{name: "zero is not a scope", ctx: WithClinic(context.Background(), 0)},
		{name: "inner scope wins", ctx: WithClinic(WithClinic(context.Background(), 1), 2), wantID: 2, wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := ClinicFromContext(tt.ctx)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantID, id)
			}
		})
	}
}
