// Package scheduler runs the periodic retention jobs: filing erasure requests for
// patients whose retention period has run out, and executing approved requests once
// their cooloff has elapsed.
//
// Both jobs enumerate work with a system read across clinics, then handle every item
// in its own clinic-scoped transaction. A failure on one item never stops the run.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/hengadev/gdprvault/internal/erasure"
	"github.com/hengadev/gdprvault/internal/gdprerr"
	"github.com/hengadev/gdprvault/internal/ledger"
	"github.com/hengadev/gdprvault/internal/monitoring"
	"github.com/hengadev/gdprvault/internal/retention"
	"github.com/hengadev/gdprvault/internal/store"
	"github.com/hengadev/gdprvault/internal/tenant"
)

// DefaultActor is recorded as requester and evaluator of retention filings.
const DefaultActor = "system:retention"

// RetentionResult counts what one retention check did.
type RetentionResult struct {
	RequestsCreated int
	Evaluated       int
	Skipped         int
	Failed          int
}

// SweepResult counts what one execution sweep did.
type SweepResult struct {
	Executed int
	Skipped  int
	Failed   int
}

// Config wires the scheduler's collaborators. Zero values get defaults.
type Config struct {
	Now    func() time.Time
	Logger monitoring.Logger
	Hook   monitoring.ObservabilityHook
}

type Scheduler struct {
	store  *store.Store
	ledger *erasure.Service
	clock  *retention.Clock
	now    func() time.Time
	logger monitoring.Logger
	hook   monitoring.ObservabilityHook
}

func New(st *store.Store, ledger *erasure.Service, clock *retention.Clock, cfg Config) *Scheduler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = monitoring.NewDiscardLogger()
	}
	if cfg.Hook == nil {
		cfg.Hook = monitoring.NoOpObservabilityHook{}
	}
	return &Scheduler{
		store:  st,
		ledger: ledger,
		clock:  clock,
		now:    cfg.Now,
		logger: cfg.Logger,
		hook:   cfg.Hook,
	}
}

// RunRetentionCheck files and auto-approves a retention request for every patient
// whose retention period has elapsed and who holds no active request. Running it
// again creates nothing new for patients already covered.
func (s *Scheduler) RunRetentionCheck(ctx context.Context, actor string) (res RetentionResult, err error) {
	done := monitoring.Track(ctx, s.hook, "scheduler.retention_check", nil)
	defer func() { done(err) }()

	if actor == "" {
		actor = DefaultActor
	}

	candidates, err := s.store.ListRetentionCandidates(ctx)
	if err != nil {
		return res, fmt.Errorf("retention check: %w", err)
	}

	for _, patient := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Evaluated++

		scoped := tenant.WithClinic(ctx, patient.ClinicID)
		status, err := s.status(scoped, patient.ID)
		if err != nil {
			res.Failed++
			s.logger.Error("retention evaluation failed",
				"clinic_id", patient.ClinicID, "patient_id", patient.ID, "error", err)
			continue
		}
		if !status.Expired {
			continue
		}

		expiry := status.ExpiresAt
		_, err = s.ledger.FileApproved(scoped, ledger.FileInput{
			ClinicID:        patient.ClinicID,
			PatientID:       patient.ID,
			RequestedBy:     actor,
			Method:          ledger.MethodSystem,
			LegalBasis:      ledger.BasisRetentionExpired,
			RetentionExpiry: &expiry,
		}, s.stillExpired(patient.ID))
		switch {
		case err == nil:
			res.RequestsCreated++
		case gdprerr.IsConflict(err) || gdprerr.IsNotEligible(err):
			res.Skipped++
			s.logger.Debug("retention filing skipped",
				"clinic_id", patient.ClinicID, "patient_id", patient.ID, "reason", err)
		default:
			res.Failed++
			s.logger.Error("retention filing failed",
				"clinic_id", patient.ClinicID, "patient_id", patient.ID, "error", err)
		}
	}

	s.logger.Info("retention check completed",
		"evaluated", res.Evaluated, "requests_created", res.RequestsCreated,
		"skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

// status evaluates the retention clock for one patient of the session's clinic.
func (s *Scheduler) status(ctx context.Context, patientID int64) (status retention.Status, err error) {
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		status, err = s.statusTx(ctx, tx, patientID)
		return err
	})
	return status, err
}

func (s *Scheduler) statusTx(ctx context.Context, tx *store.Tx, patientID int64) (retention.Status, error) {
	patient, err := tx.GetPatient(ctx, patientID)
	if err != nil {
		return retention.Status{}, err
	}
	encounters, err := tx.ListEncounters(ctx, patientID)
	if err != nil {
		return retention.Status{}, err
	}
	return s.clock.Evaluate(patient, encounters), nil
}

// stillExpired guards the filing against an encounter recorded after the candidate scan.
func (s *Scheduler) stillExpired(patientID int64) erasure.Guard {
	return func(ctx context.Context, tx *store.Tx) error {
		status, err := s.statusTx(ctx, tx, patientID)
		if err != nil {
			return err
		}
		if !status.Expired {
			return gdprerr.NewNotEligibleError(gdprerr.File,
				fmt.Sprintf("retention of patient %d renewed by activity on %s",
					patientID, status.LastActivity.Format(time.RFC3339)))
		}
		return nil
	}
}

// RunExecutionSweep executes every approved request whose cooloff has elapsed.
// A request cancelled between the scan and its execution counts as skipped.
func (s *Scheduler) RunExecutionSweep(ctx context.Context, actor string) (res SweepResult, err error) {
	done := monitoring.Track(ctx, s.hook, "scheduler.execution_sweep", nil)
	defer func() { done(err) }()

	if actor == "" {
		actor = DefaultActor
	}

	approved, err := s.store.ListRequestsByStatus(ctx, ledger.StatusApproved)
	if err != nil {
		return res, fmt.Errorf("execution sweep: %w", err)
	}

	now := s.now().UTC()
	for _, r := range approved {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := ledger.CheckExecutable(r, now); err != nil {
			res.Skipped++
			continue
		}

		_, err := s.ledger.Execute(tenant.WithClinic(ctx, r.ClinicID), r.ID, actor)
		switch {
		case err == nil:
			res.Executed++
		case gdprerr.IsNotEligible(err) || gdprerr.IsConflict(err) || gdprerr.IsNotFound(err):
			res.Skipped++
			s.logger.Warn("execution skipped", "request_id", r.ID, "clinic_id", r.ClinicID, "reason", err)
		default:
			res.Failed++
			s.logger.Error("execution failed", "request_id", r.ID, "clinic_id", r.ClinicID, "error", err)
		}
	}

	s.logger.Info("execution sweep completed",
		"executed", res.Executed, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}
