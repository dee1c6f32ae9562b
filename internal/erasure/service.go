// Package erasure runs erasure-request transitions against the store.
//
// Each operation is one clinic-scoped transaction: load the request, apply the pure
// transition from package ledger, then write it back with a status precondition.
// The audit event is recorded after the transaction settles, whatever the outcome.
package erasure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hengadev/gdprvault/internal/anonymize"
	"github.com/hengadev/gdprvault/internal/audit"
	"github.com/hengadev/gdprvault/internal/gdprerr"
	"github.com/hengadev/gdprvault/internal/ledger"
	"github.com/hengadev/gdprvault/internal/monitoring"
	"github.com/hengadev/gdprvault/internal/store"
	"github.com/hengadev/gdprvault/internal/tenant"
)

// DefaultCooloff is the cancellation window after approval.
const DefaultCooloff = 72 * time.Hour

// Config wires the service's collaborators. Zero values get defaults.
type Config struct {
	Cooloff  time.Duration
	Now      func() time.Time
	Logger   monitoring.Logger
	Recorder *audit.Recorder
	Hook     monitoring.ObservabilityHook
	Executor *anonymize.Executor
	NewID    func() string
}

// Service is the erasure request ledger.
type Service struct {
	store    *store.Store
	executor *anonymize.Executor
	recorder *audit.Recorder
	hook     monitoring.ObservabilityHook
	logger   monitoring.Logger
	now      func() time.Time
	cooloff  time.Duration
	newID    func() string
}

func NewService(st *store.Store, cfg Config) *Service {
	if cfg.Cooloff <= 0 {
		cfg.Cooloff = DefaultCooloff
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = monitoring.NewDiscardLogger()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = audit.NewRecorder(nil, cfg.Logger, cfg.Now)
	}
	if cfg.Hook == nil {
		cfg.Hook = monitoring.NoOpObservabilityHook{}
	}
	if cfg.Executor == nil {
		cfg.Executor = anonymize.NewExecutor(cfg.Logger)
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Service{
		store:    st,
		executor: cfg.Executor,
		recorder: cfg.Recorder,
		hook:     cfg.Hook,
		logger:   cfg.Logger,
		now:      cfg.Now,
		cooloff:  cfg.Cooloff,
		newID:    cfg.NewID,
	}
}

// Cooloff is the configured cancellation window.
func (s *Service) Cooloff() time.Duration { return s.cooloff }

// File creates a pending request for a patient of the session's clinic.
// A zero ClinicID in the input takes the session's clinic. System requests are
// refused here; only FileApproved creates them.
func (s *Service) File(ctx context.Context, in ledger.FileInput) (r ledger.Request, err error) {
	done := monitoring.Track(ctx, s.hook, "erasure.file", map[string]any{"patient_id": in.PatientID})
	defer func() { done(err) }()

	clinicID, err := s.scope(ctx, in.ClinicID, "file erasure request")
	if err != nil {
		return ledger.Request{}, err
	}
	in.ClinicID = clinicID

	if in.ClaimsSystem() {
		err = gdprerr.NewValidationError(fmt.Errorf("method %q and legal basis %q are reserved for the retention scheduler",
			ledger.MethodSystem, ledger.BasisRetentionExpired))
	} else {
		err = s.store.WithTx(ctx, func(tx *store.Tx) error {
			var err error
			r, err = s.file(ctx, tx, in, s.now().UTC())
			return err
		})
	}

	resource := audit.PatientResource(in.PatientID)
	if err == nil {
		resource = audit.RequestResource(r.ID)
	}
	s.recorder.Record(ctx, audit.Event{
		ClinicID: clinicID,
		Actor:    in.RequestedBy,
		Action:   audit.ActionErasureFile,
		Resource: resource,
		Outcome:  audit.OutcomeOf(err),
		Detail:   detail(err, "legal_basis", string(in.LegalBasis), "method", string(in.Method)),
	})
	if err != nil {
		return ledger.Request{}, err
	}

	s.logger.Info("erasure request filed",
		"request_id", r.ID, "clinic_id", clinicID, "patient_id", r.PatientID, "legal_basis", string(r.LegalBasis))
	return r, nil
}

func (s *Service) file(ctx context.Context, tx *store.Tx, in ledger.FileInput, now time.Time) (ledger.Request, error) {
	r, err := ledger.New(s.newID(), in, now)
	if err != nil {
		return ledger.Request{}, err
	}
	if _, err := tx.GetPatient(ctx, in.PatientID); err != nil {
		return ledger.Request{}, err
	}

	pii, err := tx.GetPatientPII(ctx, in.PatientID)
	if err != nil && !errors.Is(err, gdprerr.ErrNotFound) {
		return ledger.Request{}, err
	}
	if pii.IsAnonymized() {
		return ledger.Request{}, gdprerr.NewNotEligibleError(gdprerr.File,
			fmt.Sprintf("patient %d is already anonymized", in.PatientID))
	}

	active, err := tx.HasActiveRequest(ctx, in.PatientID)
	if err != nil {
		return ledger.Request{}, err
	}
	if active {
		return ledger.Request{}, gdprerr.NewActiveRequestConflictError(in.PatientID)
	}

	if err := tx.InsertErasureRequest(ctx, r); err != nil {
		return ledger.Request{}, err
	}
	return r, nil
}

// Guard re-checks a precondition inside the filing transaction.
type Guard func(ctx context.Context, tx *store.Tx) error

// FileApproved files a system-triggered request and approves it in the same
// transaction. The retention scheduler is the only caller. A non-nil guard runs
// first in the transaction and aborts the filing when it fails.
func (s *Service) FileApproved(ctx context.Context, in ledger.FileInput, guard Guard) (r ledger.Request, err error) {
	done := monitoring.Track(ctx, s.hook, "erasure.file_approved", map[string]any{"patient_id": in.PatientID})
	defer func() { done(err) }()

	clinicID, err := s.scope(ctx, in.ClinicID, "file retention request")
	if err != nil {
		return ledger.Request{}, err
	}
	in.ClinicID = clinicID

	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		if guard != nil {
			if err := guard(ctx, tx); err != nil {
				return err
			}
		}
		now := s.now().UTC()
		filed, err := s.file(ctx, tx, in, now)
		if err != nil {
			return err
		}
		if !filed.IsSystemTriggered() {
			return gdprerr.NewValidationError(errors.New("only system-triggered requests are approved on filing"))
		}
		r, err = ledger.Evaluate(filed, ledger.Evaluation{Decision: ledger.DecisionApprove, Evaluator: in.RequestedBy}, now, s.cooloff)
		if err != nil {
			return err
		}
		return tx.UpdateErasureRequest(ctx, r, ledger.StatusPending)
	})

	resource := audit.PatientResource(in.PatientID)
	if err == nil {
		resource = audit.RequestResource(r.ID)
	}
	s.recorder.Record(ctx, audit.Event{
		ClinicID: clinicID, Actor: in.RequestedBy, Action: audit.ActionErasureFile, Resource: resource,
		Outcome: audit.OutcomeOf(err), Detail: detail(err, "legal_basis", string(in.LegalBasis), "auto_approved", true),
	})
	if err != nil {
		return ledger.Request{}, err
	}
	s.recorder.Record(ctx, audit.Event{
		ClinicID: clinicID, Actor: in.RequestedBy, Action: audit.ActionErasureEvaluate, Resource: audit.RequestResource(r.ID),
		Outcome: audit.OutcomeSuccess, Detail: map[string]any{"decision": string(ledger.DecisionApprove)},
	})
	return r, nil
}

// Evaluate approves or denies a pending request.
func (s *Service) Evaluate(ctx context.Context, requestID string, ev ledger.Evaluation) (ledger.Request, error) {
	r, err := s.transition(ctx, "erasure.evaluate", requestID, ledger.StatusPending,
		func(r ledger.Request, now time.Time) (ledger.Request, error) {
			return ledger.Evaluate(r, ev, now, s.cooloff)
		})

	s.recorder.Record(ctx, audit.Event{
		ClinicID: r.ClinicID, Actor: ev.Evaluator, Action: audit.ActionErasureEvaluate,
		Resource: audit.RequestResource(requestID), Outcome: audit.OutcomeOf(err),
		Detail: detail(err, "decision", string(ev.Decision), "exception", string(ev.Exception)),
	})
	return r, err
}

// Cancel withdraws an approved request during its cooloff.
func (s *Service) Cancel(ctx context.Context, requestID, canceller, reason string) (ledger.Request, error) {
	r, err := s.transition(ctx, "erasure.cancel", requestID, ledger.StatusApproved,
		func(r ledger.Request, now time.Time) (ledger.Request, error) {
			return ledger.Cancel(r, canceller, reason, now)
		})

	s.recorder.Record(ctx, audit.Event{
		ClinicID: r.ClinicID, Actor: canceller, Action: audit.ActionErasureCancel,
		Resource: audit.RequestResource(requestID), Outcome: audit.OutcomeOf(err),
		Detail: detail(err, "reason", reason),
	})
	return r, err
}

// Execute anonymizes the patient of an approved, cooled-down request.
// Eligibility is decided against the clock read inside the transaction.
func (s *Service) Execute(ctx context.Context, requestID, actor string) (ledger.Request, error) {
	var summary ledger.ExecutionSummary
	r, err := s.transitionTx(ctx, "erasure.execute", requestID, ledger.StatusApproved,
		func(ctx context.Context, tx *store.Tx, r ledger.Request, now time.Time) (ledger.Request, error) {
			var err error
			summary, err = s.executor.Execute(ctx, tx, r, now)
			if err != nil {
				return r, err
			}
			return ledger.MarkExecuted(r, actor, summary, now)
		})

	s.recorder.Record(ctx, audit.Event{
		ClinicID: r.ClinicID, Actor: actor, Action: audit.ActionErasureExecute,
		Resource: audit.RequestResource(requestID), Outcome: audit.OutcomeOf(err),
		Detail: detail(err, "patient_id", r.PatientID, "fields_redacted", len(summary.FieldsRedacted)),
	})
	return r, err
}

// Get returns one request of the session's clinic.
func (s *Service) Get(ctx context.Context, requestID string) (r ledger.Request, err error) {
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		r, err = tx.GetErasureRequest(ctx, requestID)
		return err
	})
	return r, err
}

// List returns every request of a patient, most recent first.
func (s *Service) List(ctx context.Context, patientID int64) (out []ledger.Request, err error) {
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetPatient(ctx, patientID); err != nil {
			return err
		}
		out, err = tx.ListErasureRequests(ctx, patientID)
		return err
	})
	return out, err
}

type transitionFunc func(r ledger.Request, now time.Time) (ledger.Request, error)

type transitionTxFunc func(ctx context.Context, tx *store.Tx, r ledger.Request, now time.Time) (ledger.Request, error)

func (s *Service) transition(ctx context.Context, op, requestID string, from ledger.Status, fn transitionFunc) (ledger.Request, error) {
	return s.transitionTx(ctx, op, requestID, from,
		func(_ context.Context, _ *store.Tx, r ledger.Request, now time.Time) (ledger.Request, error) {
			return fn(r, now)
		})
}

// transitionTx loads the request, applies fn and persists the result only if the
// stored status is still from. On error the returned request is the one loaded, so
// callers can still report its clinic.
func (s *Service) transitionTx(ctx context.Context, op, requestID string, from ledger.Status, fn transitionTxFunc) (r ledger.Request, err error) {
	done := monitoring.Track(ctx, s.hook, op, map[string]any{"request_id": requestID})
	defer func() { done(err) }()

	if clinicID, ok := tenant.ClinicFromContext(ctx); ok {
		r.ClinicID = clinicID
	}

	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		current, err := tx.GetErasureRequest(ctx, requestID)
		if err != nil {
			return err
		}
		r = current

		next, err := fn(ctx, tx, current, s.now().UTC())
		if err != nil {
			return err
		}
		if err := tx.UpdateErasureRequest(ctx, next, from); err != nil {
			return err
		}
		r = next
		return nil
	})
	if err != nil {
		s.logger.Warn("erasure transition rejected", "operation", op, "request_id", requestID, "error", err)
		return r, err
	}
	s.logger.Info("erasure request transitioned",
		"operation", op, "request_id", requestID, "clinic_id", r.ClinicID, "status", string(r.Status()))
	return r, nil
}

// scope resolves the clinic of an operation from the session, rejecting a mismatch.
func (s *Service) scope(ctx context.Context, requested int64, op string) (int64, error) {
	clinicID, ok := tenant.ClinicFromContext(ctx)
	if !ok {
		return 0, gdprerr.NewTenantScopeError(op)
	}
	if requested != 0 && requested != clinicID {
		return 0, gdprerr.NewTenantScopeError(fmt.Sprintf("%s for clinic %d", op, requested))
	}
	return clinicID, nil
}

func detail(err error, kv ...any) map[string]any {
	d := make(map[string]any, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			d[k] = kv[i+1]
		}
	}
	if err != nil {
		d["error"] = err.Error()
	}
	return d
}
