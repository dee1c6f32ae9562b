package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hengadev/gdprvault/internal/domain"
	"github.com/hengadev/gdprvault/internal/gdprerr"
)

// InsertEncounter records a clinical encounter for a patient of the transaction's clinic.
func (t *Tx) InsertEncounter(ctx context.Context, e domain.Encounter) (int64, error) {
	if _, err := t.GetPatient(ctx, e.PatientID); err != nil {
		return 0, err
	}
	var id int64
	err := t.queryRow(ctx, `
		INSERT INTO encounters (clinic_id, patient_id, scheduled_start, actual_start, summary)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`,
		t.clinicID, e.PatientID, e.ScheduledStart.UTC(), nullTime(e.ActualStart), e.Summary,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert encounter: %w", err)
	}
	return id, nil
}

// ListEncounters returns a patient's encounters ordered by id.
func (t *Tx) ListEncounters(ctx context.Context, patientID int64) ([]domain.Encounter, error) {
	rows, err := t.query(ctx, `
		SELECT id, patient_id, clinic_id, scheduled_start, actual_start, summary
		FROM encounters WHERE clinic_id = ? AND patient_id = ?
		ORDER BY id`,
		t.clinicID, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list encounters: %w", err)
	}
	defer rows.Close()

	var out []domain.Encounter
	for rows.Next() {
		var (
			e      domain.Encounter
			actual sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.PatientID, &e.ClinicID, &e.ScheduledStart, &actual, &e.Summary); err != nil {
			return nil, fmt.Errorf("failed to scan encounter: %w", err)
		}
		e.ScheduledStart = e.ScheduledStart.UTC()
		e.ActualStart = timePtr(actual)
		out = append(out, e)
	}
	return out, rows.Err()
}

// InsertNote attaches a clinical note to an encounter.
func (t *Tx) InsertNote(ctx context.Context, n domain.ClinicalNote) (int64, error) {
	var id int64
	err := t.queryRow(ctx, `
		INSERT INTO clinical_notes (clinic_id, encounter_id, patient_id, body, created_at)
		SELECT ?, e.id, e.patient_id, ?, ?
		FROM encounters e WHERE e.id = ? AND e.clinic_id = ? AND e.patient_id = ?
		RETURNING id`,
		t.clinicID, n.Body, n.CreatedAt.UTC(), n.EncounterID, t.clinicID, n.PatientID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, gdprerr.NewNotFoundError("encounter", n.EncounterID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert clinical note: %w", err)
	}
	return id, nil
}

// ListNotes returns a patient's clinical notes ordered by id.
func (t *Tx) ListNotes(ctx context.Context, patientID int64) ([]domain.ClinicalNote, error) {
	rows, err := t.query(ctx, `
		SELECT id, encounter_id, patient_id, body, created_at
		FROM clinical_notes WHERE clinic_id = ? AND patient_id = ?
		ORDER BY id`,
		t.clinicID, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list clinical notes: %w", err)
	}
	defer rows.Close()

	var out []domain.ClinicalNote
	for rows.Next() {
		var n domain.ClinicalNote
		if err := rows.Scan(&n.ID, &n.EncounterID, &n.PatientID, &n.Body, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan clinical note: %w", err)
		}
		n.CreatedAt = n.CreatedAt.UTC()
		out = append(out, n)
	}
	return out, rows.Err()
}

// CountClinicalRecords counts the encounters and notes held for a patient.
func (t *Tx) CountClinicalRecords(ctx context.Context, patientID int64) (encounters, notes int, err error) {
	err = t.queryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM encounters WHERE clinic_id = ? AND patient_id = ?),
			(SELECT COUNT(*) FROM clinical_notes WHERE clinic_id = ? AND patient_id = ?)`,
		t.clinicID, patientID, t.clinicID, patientID,
	).Scan(&encounters, &notes)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count clinical records: %w", err)
	}
	return encounters, notes, nil
}
