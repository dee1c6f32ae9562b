package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hengadev/gdprvault/internal/gdprerr"
	"github.com/hengadev/gdprvault/internal/ledger"
)

const requestColumns = `id, clinic_id, patient_id, requested_by, method, legal_basis, retention_expiry,
	filed_at, status, evaluated_by, evaluated_at, denial_exception, denial_reason, cooloff_expires_at,
	cancelled_by, cancelled_at, cancellation_reason, executed_by, executed_at, execution_summary`

// requestRow is the flattened column form of a ledger.Request.
type requestRow struct {
	id                 string
	clinicID           int64
	patientID          int64
	requestedBy        string
	method             string
	legalBasis         string
	retentionExpiry    sql.NullTime
	filedAt            time.Time
	status             string
	evaluatedBy        sql.NullString
	evaluatedAt        sql.NullTime
	denialException    sql.NullString
	denialReason       sql.NullString
	cooloffExpiresAt   sql.NullTime
	cancelledBy        sql.NullString
	cancelledAt        sql.NullTime
	cancellationReason sql.NullString
	executedBy         sql.NullString
	executedAt         sql.NullTime
	executionSummary   sql.NullString
}

func scanRequest(row rowScanner) (ledger.Request, error) {
	var r requestRow
	err := row.Scan(&r.id, &r.clinicID, &r.patientID, &r.requestedBy, &r.method, &r.legalBasis,
		&r.retentionExpiry, &r.filedAt, &r.status, &r.evaluatedBy, &r.evaluatedAt, &r.denialException,
		&r.denialReason, &r.cooloffExpiresAt, &r.cancelledBy, &r.cancelledAt, &r.cancellationReason,
		&r.executedBy, &r.executedAt, &r.executionSummary)
	if err != nil {
		return ledger.Request{}, err
	}
	return r.toRequest()
}

func (r requestRow) toRequest() (ledger.Request, error) {
	req := ledger.Request{
		ID:              r.id,
		ClinicID:        r.clinicID,
		PatientID:       r.patientID,
		RequestedBy:     r.requestedBy,
		Method:          ledger.Method(r.method),
		LegalBasis:      ledger.LegalBasis(r.legalBasis),
		RetentionExpiry: timePtr(r.retentionExpiry),
		FiledAt:         r.filedAt.UTC(),
	}

	approved := ledger.Approved{
		EvaluatedBy:      r.evaluatedBy.String,
		EvaluatedAt:      r.evaluatedAt.Time.UTC(),
		CooloffExpiresAt: r.cooloffExpiresAt.Time.UTC(),
	}

	switch ledger.Status(r.status) {
	case ledger.StatusPending:
		req.State = ledger.Pending{}
	case ledger.StatusApproved:
		req.State = approved
	case ledger.StatusDenied:
		req.State = ledger.Denied{
			EvaluatedBy: r.evaluatedBy.String,
			EvaluatedAt: r.evaluatedAt.Time.UTC(),
			Exception:   ledger.Exception(r.denialException.String),
			Reason:      r.denialReason.String,
		}
	case ledger.StatusCancelled:
		req.State = ledger.Cancelled{
			Approved:    approved,
			CancelledBy: r.cancelledBy.String,
			CancelledAt: r.cancelledAt.Time.UTC(),
			Reason:      r.cancellationReason.String,
		}
	case ledger.StatusExecuted:
		var summary ledger.ExecutionSummary
		if r.executionSummary.Valid && r.executionSummary.String != "" {
			if err := json.Unmarshal([]byte(r.executionSummary.String), &summary); err != nil {
				return ledger.Request{}, fmt.Errorf("failed to decode execution summary of request %s: %w", r.id, err)
			}
		}
		req.State = ledger.Executed{
			Approved:   approved,
			ExecutedBy: r.executedBy.String,
			ExecutedAt: r.executedAt.Time.UTC(),
			Summary:    summary,
		}
	default:
		return ledger.Request{}, fmt.Errorf("request %s has unknown status %q", r.id, r.status)
	}
	return req, nil
}

// stateColumns flattens the state-dependent columns of r in update order.
func stateColumns(r ledger.Request) ([]any, error) {
	var (
		evaluatedBy, evaluatedAt, denialException, denialReason, cooloff any
		cancelledBy, cancelledAt, cancellationReason                     any
		executedBy, executedAt, summary                                  any
	)
	setApproved := func(a ledger.Approved) {
		evaluatedBy = a.EvaluatedBy
		evaluatedAt = a.EvaluatedAt.UTC()
		cooloff = a.CooloffExpiresAt.UTC()
	}

	switch s := r.State.(type) {
	case ledger.Pending:
	case ledger.Approved:
		setApproved(s)
	case ledger.Denied:
		evaluatedBy = s.EvaluatedBy
		evaluatedAt = s.EvaluatedAt.UTC()
		denialException = string(s.Exception)
		denialReason = s.Reason
	case ledger.Cancelled:
		setApproved(s.Approved)
		cancelledBy = s.CancelledBy
		cancelledAt = s.CancelledAt.UTC()
		cancellationReason = s.Reason
	case ledger.Executed:
		setApproved(s.Approved)
		executedBy = s.ExecutedBy
		executedAt = s.ExecutedAt.UTC()
		b, err := json.Marshal(s.Summary)
		if err != nil {
			return nil, fmt.Errorf("failed to encode execution summary: %w", err)
		}
		summary = string(b)
	default:
		return nil, fmt.Errorf("request %s has no state", r.ID)
	}

	return []any{
		string(r.Status()), evaluatedBy, evaluatedAt, denialException, denialReason, cooloff,
		cancelledBy, cancelledAt, cancellationReason, executedBy, executedAt, summary,
	}, nil
}

// InsertErasureRequest persists a newly filed request. A second active request for
// the same patient violates the partial unique index and fails with ErrConflict.
func (t *Tx) InsertErasureRequest(ctx context.Context, r ledger.Request) error {
	if r.ClinicID != t.clinicID {
		return gdprerr.NewTenantScopeError(fmt.Sprintf("filing for clinic %d", r.ClinicID))
	}
	state, err := stateColumns(r)
	if err != nil {
		return err
	}
	args := append([]any{
		r.ID, t.clinicID, r.PatientID, r.RequestedBy, string(r.Method), string(r.LegalBasis),
		nullTime(r.RetentionExpiry), r.FiledAt.UTC(),
	}, state...)

	_, err = t.exec(ctx, `
		INSERT INTO erasure_requests (id, clinic_id, patient_id, requested_by, method, legal_basis,
			retention_expiry, filed_at, status, evaluated_by, evaluated_at, denial_exception,
			denial_reason, cooloff_expires_at, cancelled_by, cancelled_at, cancellation_reason,
			executed_by, executed_at, execution_summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...)
	if err != nil {
		if isUniqueViolation(err) {
			return gdprerr.NewActiveRequestConflictError(r.PatientID)
		}
		return fmt.Errorf("failed to insert erasure request: %w", err)
	}
	return nil
}

// UpdateErasureRequest writes next only if the stored status still equals expected.
// A concurrent transition that got there first makes this fail with ErrConflict.
func (t *Tx) UpdateErasureRequest(ctx context.Context, next ledger.Request, expected ledger.Status) error {
	state, err := stateColumns(next)
	if err != nil {
		return err
	}
	args := append(state, next.ID, t.clinicID, string(expected))

	res, err := t.exec(ctx, `
		UPDATE erasure_requests SET
			status = ?, evaluated_by = ?, evaluated_at = ?, denial_exception = ?, denial_reason = ?,
			cooloff_expires_at = ?, cancelled_by = ?, cancelled_at = ?, cancellation_reason = ?,
			executed_by = ?, executed_at = ?, execution_summary = ?
		WHERE id = ? AND clinic_id = ? AND status = ?`,
		args...)
	if err != nil {
		return translate(fmt.Errorf("failed to update erasure request %s: %w", next.ID, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update erasure request %s: %w", next.ID, err)
	}
	if n == 0 {
		return gdprerr.NewStaleStateError(next.ID, string(expected))
	}
	return nil
}

// GetErasureRequest loads a request and, on postgres, locks its row until the transaction ends.
func (t *Tx) GetErasureRequest(ctx context.Context, requestID string) (ledger.Request, error) {
	r, err := scanRequest(t.queryRow(ctx,
		`SELECT `+requestColumns+` FROM erasure_requests WHERE id = ? AND clinic_id = ?`+t.dialect.forUpdate(),
		requestID, t.clinicID))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Request{}, gdprerr.NewNotFoundError("erasure request", requestID)
	}
	if err != nil {
		return ledger.Request{}, fmt.Errorf("failed to load erasure request %s: %w", requestID, err)
	}
	return r, nil
}

// HasActiveRequest reports whether the patient holds a pending or approved request.
func (t *Tx) HasActiveRequest(ctx context.Context, patientID int64) (bool, error) {
	var n int
	err := t.queryRow(ctx, `
		SELECT COUNT(*) FROM erasure_requests
		WHERE clinic_id = ? AND patient_id = ? AND status IN (?, ?)`,
		t.clinicID, patientID, string(ledger.StatusPending), string(ledger.StatusApproved),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check active requests: %w", err)
	}
	return n > 0, nil
}

// ListErasureRequests returns a patient's requests, most recently filed first.
func (t *Tx) ListErasureRequests(ctx context.Context, patientID int64) ([]ledger.Request, error) {
	rows, err := t.query(ctx,
		`SELECT `+requestColumns+` FROM erasure_requests
		WHERE clinic_id = ? AND patient_id = ?
		ORDER BY filed_at DESC, id`,
		t.clinicID, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list erasure requests: %w", err)
	}
	return collectRequests(rows)
}

func collectRequests(rows *sql.Rows) ([]ledger.Request, error) {
	defer rows.Close()
	var out []ledger.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan erasure request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
