// Package ledger models erasure requests as a closed state machine.
//
// Transitions are pure functions from one Request value to the next. Persistence,
// locking and audit reporting belong to the caller.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/hengadev/errsx"
	"github.com/hengadev/gdprvault/internal/gdprerr"
)

// Request is one erasure request and its current state.
type Request struct {
	ID              string
	ClinicID        int64
	PatientID       int64
	RequestedBy     string
	Method          Method
	LegalBasis      LegalBasis
	RetentionExpiry *time.Time
	FiledAt         time.Time
	State           State
}

// Status is the persisted name of the current state.
func (r Request) Status() Status {
	return r.State.Status()
}

// IsSystemTriggered reports whether the request was filed by the retention job
// rather than by a data subject. Both the method and the legal basis must say so.
func (r Request) IsSystemTriggered() bool {
	return r.Method == MethodSystem && r.LegalBasis == BasisRetentionExpired
}

// FileInput carries what a caller supplies to file a request.
type FileInput struct {
	ClinicID        int64
	PatientID       int64
	RequestedBy     string
	Method          Method
	LegalBasis      LegalBasis
	RetentionExpiry *time.Time
}

// ClaimsSystem reports whether the input uses a method or legal basis reserved
// for the retention job.
func (in FileInput) ClaimsSystem() bool {
	return in.Method == MethodSystem || in.LegalBasis == BasisRetentionExpired
}

// Validate reports every malformed field at once.
func (in FileInput) Validate() error {
	errs := errsx.Map{}
	if in.ClinicID <= 0 {
		errs.Set("clinic_id", fmt.Errorf("clinic id must be positive, got %d", in.ClinicID))
	}
	if in.PatientID <= 0 {
		errs.Set("patient_id", fmt.Errorf("patient id must be positive, got %d", in.PatientID))
	}
	if strings.TrimSpace(in.RequestedBy) == "" {
		errs.Set("requested_by", "requester is required")
	}
	if !in.Method.Valid() {
		errs.Set("method", fmt.Errorf("unknown request method %q", in.Method))
	}
	if in.LegalBasis == "" {
		errs.Set("legal_basis", "legal basis is required")
	} else if !in.LegalBasis.Valid() {
		errs.Set("legal_basis", fmt.Errorf("unknown legal basis %q", in.LegalBasis))
	}
	if in.LegalBasis == BasisRetentionExpired && in.RetentionExpiry == nil {
		errs.Set("retention_expiry", "retention expiry date is required for retention-triggered requests")
	}
	if err := errs.AsError(); err != nil {
		return gdprerr.NewValidationError(err)
	}
	return nil
}

// New files a pending request.
func New(id string, in FileInput, now time.Time) (Request, error) {
	if err := in.Validate(); err != nil {
		return Request{}, err
	}
	return Request{
		ID:              id,
		ClinicID:        in.ClinicID,
		PatientID:       in.PatientID,
		RequestedBy:     in.RequestedBy,
		Method:          in.Method,
		LegalBasis:      in.LegalBasis,
		RetentionExpiry: in.RetentionExpiry,
		FiledAt:         now,
		State:           Pending{},
	}, nil
}
