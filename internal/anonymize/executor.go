// Package anonymize irreversibly erases a patient's identity while keeping the
// clinical history that refers to the patient id.
package anonymize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hengadev/gdprvault/internal/domain"
	"github.com/hengadev/gdprvault/internal/gdprerr"
	"github.com/hengadev/gdprvault/internal/ledger"
	"github.com/hengadev/gdprvault/internal/monitoring"
)

// Store is the slice of a clinic-scoped transaction the executor needs.
type Store interface {
	GetPatient(ctx context.Context, patientID int64) (domain.Patient, error)
	GetPatientPII(ctx context.Context, patientID int64) (*domain.PatientPII, error)
	AnonymizePatientPII(ctx context.Context, patientID int64, at time.Time) error
	DeactivatePatient(ctx context.Context, patientID int64, reason string) error
	CountClinicalRecords(ctx context.Context, patientID int64) (encounters, notes int, err error)
}

// Executor performs the identity overwrite.
type Executor struct {
	logger monitoring.Logger
}

func NewExecutor(logger monitoring.Logger) *Executor {
	if logger == nil {
		logger = monitoring.NewDiscardLogger()
	}
	return &Executor{logger: logger}
}

// Execute anonymizes the patient of r inside the caller's transaction.
//
// Eligibility is checked again here against now, and the store refuses a second
// anonymization of the same identity, so a cancelled or already executed request
// fails with ErrNotEligible before anything is written. Any error leaves the caller
// to roll back; encounters and notes are never touched.
func (e *Executor) Execute(ctx context.Context, tx Store, r ledger.Request, now time.Time) (ledger.ExecutionSummary, error) {
	if _, err := ledger.CheckExecutable(r, now); err != nil {
		return ledger.ExecutionSummary{}, err
	}

	patient, err := tx.GetPatient(ctx, r.PatientID)
	if err != nil {
		return ledger.ExecutionSummary{}, err
	}

	redacted, cleared := []string{}, []string{}
	pii, err := tx.GetPatientPII(ctx, r.PatientID)
	switch {
	case err == nil:
		redacted, cleared = populated(pii)
	case errors.Is(err, gdprerr.ErrNotFound):
	default:
		return ledger.ExecutionSummary{}, err
	}

	at := now.UTC()
	if err := tx.AnonymizePatientPII(ctx, r.PatientID, at); err != nil {
		return ledger.ExecutionSummary{}, err
	}

	changed := patient.Status != domain.PatientInactive
	if changed {
		if err := tx.DeactivatePatient(ctx, r.PatientID, domain.DeactivationReasonErasure); err != nil {
			return ledger.ExecutionSummary{}, err
		}
	}

	encounters, notes, err := tx.CountClinicalRecords(ctx, r.PatientID)
	if err != nil {
		return ledger.ExecutionSummary{}, fmt.Errorf("failed to summarise retained records: %w", err)
	}

	e.logger.Info("patient identity anonymized",
		"request_id", r.ID,
		"clinic_id", r.ClinicID,
		"patient_id", r.PatientID,
		"fields_redacted", len(redacted),
		"status_changed", changed,
	)

	return ledger.ExecutionSummary{
		PatientID:             r.PatientID,
		FieldsRedacted:        redacted,
		IndexesCleared:        cleared,
		AnonymizedAt:          at,
		PreviousPatientStatus: string(patient.Status),
		PatientStatusChanged:  changed,
		EncountersRetained:    encounters,
		NotesRetained:         notes,
	}, nil
}

// populated lists the encrypted and index columns that currently hold a value.
func populated(pii *domain.PatientPII) (fields, indexes []string) {
	fields = []string{}
	indexes = []string{}
	for _, f := range pii.EncryptedFields() {
		if len(f.Value) > 0 {
			fields = append(fields, f.Column)
		}
	}
	for i, h := range []*string{pii.NationalIDHash, pii.PhoneHash, pii.EmailHash} {
		if h != nil {
			indexes = append(indexes, domain.IndexColumns[i])
		}
	}
	return fields, indexes
}
