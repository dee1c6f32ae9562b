package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hengadev/gdprvault/internal/domain"
	"github.com/hengadev/gdprvault/internal/gdprerr"
)

const patientColumns = `id, clinic_id, mrn, birth_date, status, is_deleted, deleted_at, deactivation_reason, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPatient(row rowScanner) (domain.Patient, error) {
	var (
		p         domain.Patient
		birthDate sql.NullTime
		deletedAt sql.NullTime
		reason    sql.NullString
		status    string
	)
	err := row.Scan(&p.ID, &p.ClinicID, &p.MRN, &birthDate, &status, &p.IsDeleted, &deletedAt, &reason, &p.CreatedAt)
	if err != nil {
		return domain.Patient{}, err
	}
	p.Status = domain.PatientStatus(status)
	p.BirthDate = timePtr(birthDate)
	p.DeletedAt = timePtr(deletedAt)
	p.DeactivationReason = reason.String
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

// InsertPatient creates a patient in the transaction's clinic and returns its id.
func (t *Tx) InsertPatient(ctx context.Context, p domain.Patient) (int64, error) {
	if p.Status == "" {
		p.Status = domain.PatientActive
	}
	var id int64
	err := t.queryRow(ctx, `
		INSERT INTO patients (clinic_id, mrn, birth_date, status, is_deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`,
		t.clinicID, p.MRN, nullTime(p.BirthDate), string(p.Status), p.IsDeleted, p.CreatedAt.UTC(),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, gdprerr.NewDuplicateError(fmt.Sprintf("patient with MRN %s", p.MRN))
		}
		return 0, fmt.Errorf("failed to insert patient: %w", err)
	}
	return id, nil
}

// GetPatient returns a patient of the transaction's clinic.
func (t *Tx) GetPatient(ctx context.Context, patientID int64) (domain.Patient, error) {
	p, err := scanPatient(t.queryRow(ctx,
		`SELECT `+patientColumns+` FROM patients WHERE id = ? AND clinic_id = ?`+t.dialect.forUpdate(),
		patientID, t.clinicID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Patient{}, gdprerr.NewNotFoundError("patient", patientID)
	}
	if err != nil {
		return domain.Patient{}, fmt.Errorf("failed to load patient %d: %w", patientID, err)
	}
	return p, nil
}

// DeactivatePatient sets the patient inactive with reason. It never reactivates.
func (t *Tx) DeactivatePatient(ctx context.Context, patientID int64, reason string) error {
	res, err := t.exec(ctx, `
		UPDATE patients SET status = ?, deactivation_reason = ?
		WHERE id = ? AND clinic_id = ?`,
		string(domain.PatientInactive), reason, patientID, t.clinicID)
	if err != nil {
		return fmt.Errorf("failed to deactivate patient %d: %w", patientID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return gdprerr.NewNotFoundError("patient", patientID)
	}
	return nil
}

const piiColumns = `patient_id, first_name, last_name, national_id, alien_registration_number, phone, email,
	address, emergency_contact_name, emergency_contact_phone, national_id_hash, phone_hash, email_hash,
	encryption_key_version, anonymized_at, updated_at`

func scanPII(row rowScanner) (*domain.PatientPII, error) {
	var (
		p            domain.PatientPII
		nationalHash sql.NullString
		phoneHash    sql.NullString
		emailHash    sql.NullString
		anonymizedAt sql.NullTime
	)
	err := row.Scan(&p.PatientID, &p.FirstName, &p.LastName, &p.NationalID, &p.AlienRegistrationNumber,
		&p.Phone, &p.Email, &p.Address, &p.EmergencyContactName, &p.EmergencyContactPhone,
		&nationalHash, &phoneHash, &emailHash, &p.EncryptionKeyVersion, &anonymizedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.NationalIDHash = stringPtr(nationalHash)
	p.PhoneHash = stringPtr(phoneHash)
	p.EmailHash = stringPtr(emailHash)
	p.AnonymizedAt = timePtr(anonymizedAt)
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// GetPatientPII returns the encrypted identity of a patient.
func (t *Tx) GetPatientPII(ctx context.Context, patientID int64) (*domain.PatientPII, error) {
	p, err := scanPII(t.queryRow(ctx,
		`SELECT `+piiColumns+` FROM patient_pii WHERE patient_id = ? AND clinic_id = ?`+t.dialect.forUpdate(),
		patientID, t.clinicID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, gdprerr.NewNotFoundError("patient identity", patientID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load identity of patient %d: %w", patientID, err)
	}
	return p, nil
}

// PutPatientPII inserts or replaces the ciphertexts of a patient's identity.
// An anonymized identity is never written again.
func (t *Tx) PutPatientPII(ctx context.Context, pii domain.PatientPII) error {
	var exists int
	err := t.queryRow(ctx, `SELECT 1 FROM patients WHERE id = ? AND clinic_id = ?`, pii.PatientID, t.clinicID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return gdprerr.NewNotFoundError("patient", pii.PatientID)
	}
	if err != nil {
		return fmt.Errorf("failed to check patient %d: %w", pii.PatientID, err)
	}

	res, err := t.exec(ctx, `
		INSERT INTO patient_pii (patient_id, clinic_id, first_name, last_name, national_id,
			alien_registration_number, phone, email, address, emergency_contact_name,
			emergency_contact_phone, national_id_hash, phone_hash, email_hash,
			encryption_key_version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (patient_id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			national_id = excluded.national_id,
			alien_registration_number = excluded.alien_registration_number,
			phone = excluded.phone,
			email = excluded.email,
			address = excluded.address,
			emergency_contact_name = excluded.emergency_contact_name,
			emergency_contact_phone = excluded.emergency_contact_phone,
			national_id_hash = excluded.national_id_hash,
			phone_hash = excluded.phone_hash,
			email_hash = excluded.email_hash,
			encryption_key_version = excluded.encryption_key_version,
			updated_at = excluded.updated_at
		WHERE patient_pii.anonymized_at IS NULL AND patient_pii.clinic_id = excluded.clinic_id`,
		pii.PatientID, t.clinicID, nullBytes(pii.FirstName), nullBytes(pii.LastName), nullBytes(pii.NationalID),
		nullBytes(pii.AlienRegistrationNumber), nullBytes(pii.Phone), nullBytes(pii.Email), nullBytes(pii.Address),
		nullBytes(pii.EmergencyContactName), nullBytes(pii.EmergencyContactPhone), nullString(pii.NationalIDHash), nullString(pii.PhoneHash), nullString(pii.EmailHash),
		pii.EncryptionKeyVersion, pii.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store identity of patient %d: %w", pii.PatientID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to store identity of patient %d: %w", pii.PatientID, err)
	}
	if n == 0 {
		return gdprerr.NewNotEligibleError(gdprerr.Encrypt, fmt.Sprintf("identity of patient %d has been anonymized", pii.PatientID))
	}
	return nil
}

// AnonymizePatientPII nulls every ciphertext and index hash and sets anonymized_at.
// A patient without an identity row gets an empty, anonymized one. Fails with
// ErrNotEligible when the identity is already anonymized.
func (t *Tx) AnonymizePatientPII(ctx context.Context, patientID int64, at time.Time) error {
	at = at.UTC()
	res, err := t.exec(ctx, `
		UPDATE patient_pii SET
			first_name = NULL,
			last_name = NULL,
			national_id = NULL,
			alien_registration_number = NULL,
			phone = NULL,
			email = NULL,
			address = NULL,
			emergency_contact_name = NULL,
			emergency_contact_phone = NULL,
			national_id_hash = NULL,
			phone_hash = NULL,
			email_hash = NULL,
			anonymized_at = ?,
			updated_at = ?
		WHERE patient_id = ? AND clinic_id = ? AND anonymized_at IS NULL`,
		at, at, patientID, t.clinicID)
	if err != nil {
		return fmt.Errorf("failed to anonymize patient %d: %w", patientID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to anonymize patient %d: %w", patientID, err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = t.queryRow(ctx, `SELECT 1 FROM patient_pii WHERE patient_id = ? AND clinic_id = ?`, patientID, t.clinicID).Scan(&exists)
	switch {
	case err == nil:
		return gdprerr.NewNotEligibleError(gdprerr.Anonymize, fmt.Sprintf("patient %d is already anonymized", patientID))
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to check identity of patient %d: %w", patientID, err)
	}

	_, err = t.exec(ctx, `
		INSERT INTO patient_pii (patient_id, clinic_id, encryption_key_version, anonymized_at, updated_at)
		VALUES (?, ?, 0, ?, ?)`,
		patientID, t.clinicID, at, at)
	if err != nil {
		return translate(fmt.Errorf("failed to record anonymization of patient %d: %w", patientID, err))
	}
	return nil
}

// FindPatientIDsByHash returns the patients whose index column equals hash.
func (t *Tx) FindPatientIDsByHash(ctx context.Context, column string, hash string) ([]int64, error) {
	if !isIndexColumn(column) {
		return nil, gdprerr.NewValidationError(fmt.Errorf("%q is not a hash-indexed column", column))
	}
	rows, err := t.query(ctx,
		`SELECT patient_id FROM patient_pii WHERE clinic_id = ? AND `+column+` = ? ORDER BY patient_id`,
		t.clinicID, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", column, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan patient id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListStalePII returns the non-anonymized identities encrypted under a key older than version.
func (t *Tx) ListStalePII(ctx context.Context, version int) ([]domain.PatientPII, error) {
	rows, err := t.query(ctx,
		`SELECT `+piiColumns+` FROM patient_pii
		WHERE clinic_id = ? AND anonymized_at IS NULL AND encryption_key_version < ?
		ORDER BY patient_id`,
		t.clinicID, version)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale identities: %w", err)
	}
	defer rows.Close()

	var out []domain.PatientPII
	for rows.Next() {
		p, err := scanPII(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func isIndexColumn(column string) bool {
	for _, c := range domain.IndexColumns {
		if c == column {
			return true
		}
	}
	return false
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
