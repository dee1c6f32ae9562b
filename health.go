package gdprvault

import (
	"context"
	"fmt"
	"time"

	"github.com/hengadev/gdprvault/internal/health"
	"github.com/hengadev/gdprvault/internal/ledger"
)

// HealthReport is the result of Service.Health.
type HealthReport = health.Report

// SweepGracePeriod is how long an approved request may stay executable before
// Health reports the execution sweep as lagging.
const SweepGracePeriod = 24 * time.Hour

// Health probes the database, the key material and the execution backlog.
// The first two are critical; a lagging sweep only degrades the report.
func (s *Service) Health(ctx context.Context) HealthReport {
	checker := health.NewChecker(Version, s.now)
	checker.Register(health.Check{Name: "database", Critical: true, Probe: s.store.Ping})
	checker.Register(health.Check{Name: "key_material", Critical: true, Probe: s.probeVault})
	checker.Register(health.Check{Name: "execution_backlog", Probe: s.probeBacklog})
	return checker.Run(ctx)
}

func (s *Service) probeVault(context.Context) error {
	const probe = "gdprvault-health"
	ct, err := s.vault.Encrypt(probe)
	if err != nil {
		return err
	}
	pt, err := s.vault.Decrypt(ct)
	if err != nil {
		return err
	}
	if pt != probe {
		return fmt.Errorf("%w: key material round trip mismatch", ErrDecryption)
	}
	return nil
}

func (s *Service) probeBacklog(ctx context.Context) error {
	approved, err := s.store.ListRequestsByStatus(ctx, ledger.StatusApproved)
	if err != nil {
		return err
	}
	deadline := s.clockNow().Add(-SweepGracePeriod)
	overdue := 0
	for _, r := range approved {
		if a, ok := r.State.(ledger.Approved); ok && a.CooloffExpiresAt.Before(deadline) {
			overdue++
		}
	}
	if overdue > 0 {
		return fmt.Errorf("%w: %d approved requests past cooloff for more than %s",
			health.ErrDegraded, overdue, SweepGracePeriod)
	}
	return nil
}
