package health

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func probe(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func TestChecker_Register(t *testing.T) {
	c := NewChecker("test", nil)
	assert.Error(t, c.Register(Check{Probe: probe(nil)}))
	assert.Error(t, c.Register(Check{Name: "db"}))
	require.NoError(t, c.Register(Check{Name: "db", Probe: probe(nil)}))
	assert.Equal(t, 5*time.Second, c.checks[0].Timeout)
}

func TestChecker_Run(t *testing.T) {
	at := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		checks []Check
		want   Status
	}{
		{name: "no checks", want: StatusUnknown},
		{name: "all healthy", want: StatusHealthy, checks: []Check{
			{Name: "db", Critical: true, Probe: probe(nil)},
			{Name: "keys", Critical: true, Probe: probe(nil)},
		}},
		{name: "critical failure", want: StatusUnhealthy, checks: []Check{
			{Name: "db", Critical: true, Probe: probe(errors.New("connection refused"))},
			{Name: "keys", Critical: true, Probe: probe(nil)},
		}},
		{name: "non critical failure", want: StatusDegraded, checks: []Check{
			{Name: "db", Critical: true, Probe: probe(nil)},
			{Name: "archive", Probe: probe(errors.New("bucket missing"))},
		}},
		{name: "degraded critical", want: StatusDegraded, checks: []Check{
			{Name: "sweep", Critical: true, Probe: probe(fmt.Errorf("%w: 2 requests overdue", ErrDegraded))},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker("0.0.1", func() time.Time { return at })
			for _, check := range tt.checks {
				require.NoError(t, c.Register(check))
			}
			report := c.Run(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Equal(t, at, report.Timestamp)
			assert.Len(t, report.Results, len(tt.checks))
		})
	}
}

func TestChecker_Timeout(t *testing.T) {
	c := NewChecker("", nil)
	require.NoError(t, c.Register(Check{
		Name:     "slow",
		Critical: true,
		Timeout:  10 * time.Millisecond,
		Probe: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}))
	require.NoError(t, c.Register(Check{Name: "alpha", Probe: probe(nil)}))

	report := c.Run(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	require.Len(t, report.Results, 2)
	assert.Equal(t, "alpha", report.Results[0].Name)
	assert.Contains(t, report.Results[1].Error, "deadline exceeded")
}
