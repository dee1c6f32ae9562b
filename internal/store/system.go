package store

import (
	"context"
	"fmt"

	"github.com/hengadev/gdprvault/internal/domain"
	"github.com/hengadev/gdprvault/internal/ledger"
)

// The reads below cross clinic boundaries. They return identifiers and scheduling
// data only; any follow-up work must open a clinic-scoped transaction.

// ListRetentionCandidates returns the patients of every clinic whose identity is not
// anonymized and who hold no pending or approved erasure request.
func (s *Store) ListRetentionCandidates(ctx context.Context) ([]domain.Patient, error) {
	var out []domain.Patient
	err := s.withSystemTx(ctx, func(tx *Tx) error {
		rows, err := tx.query(ctx, `
			SELECT p.id, p.clinic_id, p.mrn, p.birth_date, p.status, p.is_deleted, p.deleted_at,
				p.deactivation_reason, p.created_at
			FROM patients p
			LEFT JOIN patient_pii pii ON pii.patient_id = p.id
			WHERE pii.anonymized_at IS NULL
			AND NOT EXISTS (
				SELECT 1 FROM erasure_requests er
				WHERE er.patient_id = p.id AND er.status IN (?, ?)
			)
			ORDER BY p.clinic_id, p.id`,
			string(ledger.StatusPending), string(ledger.StatusApproved))
		if err != nil {
			return fmt.Errorf("failed to list retention candidates: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			p, err := scanPatient(rows)
			if err != nil {
				return fmt.Errorf("failed to scan retention candidate: %w", err)
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}

// ListRequestsByStatus returns every request of every clinic in status, oldest first.
func (s *Store) ListRequestsByStatus(ctx context.Context, status ledger.Status) ([]ledger.Request, error) {
	var out []ledger.Request
	err := s.withSystemTx(ctx, func(tx *Tx) error {
		rows, err := tx.query(ctx,
			`SELECT `+requestColumns+` FROM erasure_requests WHERE status = ? ORDER BY filed_at, id`,
			string(status))
		if err != nil {
			return fmt.Errorf("failed to list %s requests: %w", status, err)
		}
		out, err = collectRequests(rows)
		return err
	})
	return out, err
}
