package main

import (
	"encoding/json"
	"io"
	"time"

	"github.com/hengadev/gdprvault"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// requestView flattens a request and its state for operators.
type requestView struct {
	ID               string                      `json:"id"`
	ClinicID         int64                       `json:"clinic_id"`
	PatientID        int64                       `json:"patient_id"`
	Status           gdprvault.RequestStatus     `json:"status"`
	RequestedBy      string                      `json:"requested_by"`
	Method           gdprvault.Method            `json:"method"`
	LegalBasis       gdprvault.LegalBasis        `json:"legal_basis"`
	FiledAt          time.Time                   `json:"filed_at"`
	RetentionExpiry  *time.Time                  `json:"retention_expiry,omitempty"`
	EvaluatedBy      string                      `json:"evaluated_by,omitempty"`
	EvaluatedAt      *time.Time                  `json:"evaluated_at,omitempty"`
	CooloffExpiresAt *time.Time                  `json:"cooloff_expires_at,omitempty"`
	Exception        gdprvault.Exception         `json:"exception,omitempty"`
	Reason           string                      `json:"reason,omitempty"`
	ClosedBy         string                      `json:"closed_by,omitempty"`
	ClosedAt         *time.Time                  `json:"closed_at,omitempty"`
	Summary          *gdprvault.ExecutionSummary `json:"summary,omitempty"`
}

func newRequestView(r gdprvault.ErasureRequest) requestView {
	v := requestView{
		ID:              r.ID,
		ClinicID:        r.ClinicID,
		PatientID:       r.PatientID,
		Status:          r.Status(),
		RequestedBy:     r.RequestedBy,
		Method:          r.Method,
		LegalBasis:      r.LegalBasis,
		FiledAt:         r.FiledAt,
		RetentionExpiry: r.RetentionExpiry,
	}
	approved := func(a gdprvault.Approved) {
		v.EvaluatedBy = a.EvaluatedBy
		v.EvaluatedAt = &a.EvaluatedAt
		v.CooloffExpiresAt = &a.CooloffExpiresAt
	}
	switch s := r.State.(type) {
	case gdprvault.Approved:
		approved(s)
	case gdprvault.Denied:
		v.EvaluatedBy = s.EvaluatedBy
		v.EvaluatedAt = &s.EvaluatedAt
		v.Exception = s.Exception
		v.Reason = s.Reason
	case gdprvault.Cancelled:
		approved(s.Approved)
		v.ClosedBy = s.CancelledBy
		v.ClosedAt = &s.CancelledAt
		v.Reason = s.Reason
	case gdprvault.Executed:
		approved(s.Approved)
		v.ClosedBy = s.ExecutedBy
		v.ClosedAt = &s.ExecutedAt
		v.Summary = &s.Summary
	}
	return v
}

type statusView struct {
	PatientID    int64     `json:"patient_id"`
	LastActivity time.Time `json:"last_activity"`
	Cutoff       time.Time `json:"cutoff"`
	ExpiresAt    time.Time `json:"expires_at"`
	Expired      bool      `json:"expired"`
}

func newStatusView(s gdprvault.RetentionStatus) statusView {
	return statusView{
		PatientID:    s.PatientID,
		LastActivity: s.LastActivity,
		Cutoff:       s.Cutoff,
		ExpiresAt:    s.ExpiresAt,
		Expired:      s.Expired,
	}
}
