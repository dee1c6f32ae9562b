package ledger

import "time"

// Status is the persisted name of a request state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusDenied    Status = "denied"
	StatusCancelled Status = "cancelled"
	StatusExecuted  Status = "executed"
)

// ActiveStatuses are the states covered by the one-active-request-per-patient guard.
var ActiveStatuses = []Status{StatusPending, StatusApproved}

// IsActive reports whether s still blocks a new filing for the same patient.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusApproved
}

// LegalBasis is the statutory ground cited for an erasure.
type LegalBasis string

const (
	BasisConsentWithdrawn   LegalBasis = "consent_withdrawn"
	BasisNoLongerNecessary  LegalBasis = "no_longer_necessary"
	BasisUnlawfulProcessing LegalBasis = "unlawful_processing"
	BasisObjection          LegalBasis = "objection"
	BasisLegalObligation    LegalBasis = "legal_obligation"
	BasisChildConsent       LegalBasis = "child_consent"
	BasisRetentionExpired   LegalBasis = "retention_expired"
)

var legalBases = map[LegalBasis]bool{
	BasisConsentWithdrawn:   true,
	BasisNoLongerNecessary:  true,
	BasisUnlawfulProcessing: true,
	BasisObjection:          true,
	BasisLegalObligation:    true,
	BasisChildConsent:       true,
	BasisRetentionExpired:   true,
}

// Valid reports whether b is a known legal basis code.
func (b LegalBasis) Valid() bool { return legalBases[b] }

// Method is how the request reached the clinic.
type Method string

const (
	MethodEmail    Method = "email"
	MethodLetter   Method = "letter"
	MethodInPerson Method = "in_person"
	MethodPhone    Method = "phone"
	MethodPortal   Method = "portal"
	MethodSystem   Method = "system"
)

var methods = map[Method]bool{
	MethodEmail:    true,
	MethodLetter:   true,
	MethodInPerson: true,
	MethodPhone:    true,
	MethodPortal:   true,
	MethodSystem:   true,
}

// Valid reports whether m is a known request method.
func (m Method) Valid() bool { return methods[m] }

// Exception is the statutory exception cited when an erasure is refused.
type Exception string

const (
	ExceptionFreedomOfExpression Exception = "freedom_of_expression"
	ExceptionLegalObligation     Exception = "legal_obligation"
	ExceptionPublicHealth        Exception = "public_health"
	ExceptionArchivingResearch   Exception = "archiving_research"
	ExceptionLegalClaims         Exception = "legal_claims"
)

var exceptions = map[Exception]bool{
	ExceptionFreedomOfExpression: true,
	ExceptionLegalObligation:     true,
	ExceptionPublicHealth:        true,
	ExceptionArchivingResearch:   true,
	ExceptionLegalClaims:         true,
}

// Valid reports whether e is a known exception code.
func (e Exception) Valid() bool { return exceptions[e] }

// Decision is the outcome of an evaluation.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

// ExecutionSummary is the structured record stored with an executed request.
type ExecutionSummary struct {
	PatientID             int64     `json:"patient_id"`
	FieldsRedacted        []string  `json:"fields_redacted"`
	IndexesCleared        []string  `json:"indexes_cleared"`
	AnonymizedAt          time.Time `json:"anonymized_at"`
	PreviousPatientStatus string    `json:"previous_patient_status"`
	PatientStatusChanged  bool      `json:"patient_status_changed"`
	EncountersRetained    int       `json:"encounters_retained"`
	NotesRetained         int       `json:"notes_retained"`
}
