package gdprvault

import (
	"github.com/hengadev/gdprvault/internal/domain"
	"github.com/hengadev/gdprvault/internal/ledger"
	"github.com/hengadev/gdprvault/internal/retention"
	"github.com/hengadev/gdprvault/internal/scheduler"
)

// Patient data
type (
	Patient         = domain.Patient
	PatientIdentity = domain.PatientIdentity
	Encounter       = domain.Encounter
	ClinicalNote    = domain.ClinicalNote
)

// Erasure ledger
type (
	ErasureRequest   = ledger.Request
	FileInput        = ledger.FileInput
	Evaluation       = ledger.Evaluation
	ExecutionSummary = ledger.ExecutionSummary
	RequestStatus    = ledger.Status
	LegalBasis       = ledger.LegalBasis
	Method           = ledger.Method
	Exception        = ledger.Exception
	Decision         = ledger.Decision
)

// Request states
type (
	RequestState = ledger.State
	Pending      = ledger.Pending
	Approved     = ledger.Approved
	Denied       = ledger.Denied
	Cancelled    = ledger.Cancelled
	Executed     = ledger.Executed
)

// Scheduling
type (
	RetentionStatus = retention.Status
	RetentionResult = scheduler.RetentionResult
	SweepResult     = scheduler.SweepResult
)

// ReencryptResult counts what one key-rotation pass did.
type ReencryptResult struct {
	Scanned     int
	Reencrypted int
}

// Request statuses
const (
	StatusPending   = ledger.StatusPending
	StatusApproved  = ledger.StatusApproved
	StatusDenied    = ledger.StatusDenied
	StatusCancelled = ledger.StatusCancelled
	StatusExecuted  = ledger.StatusExecuted
)

// Decisions
const (
	DecisionApprove = ledger.DecisionApprove
	DecisionDeny    = ledger.DecisionDeny
)

// Legal bases
const (
	BasisConsentWithdrawn   = ledger.BasisConsentWithdrawn
	BasisNoLongerNecessary  = ledger.BasisNoLongerNecessary
	BasisUnlawfulProcessing = ledger.BasisUnlawfulProcessing
	BasisObjection          = ledger.BasisObjection
	BasisLegalObligation    = ledger.BasisLegalObligation
	BasisChildConsent       = ledger.BasisChildConsent
	BasisRetentionExpired   = ledger.BasisRetentionExpired
)

// Request methods
const (
	MethodEmail    = ledger.MethodEmail
	MethodLetter   = ledger.MethodLetter
	MethodInPerson = ledger.MethodInPerson
	MethodPhone    = ledger.MethodPhone
	MethodPortal   = ledger.MethodPortal
	MethodSystem   = ledger.MethodSystem
)

// Exceptions
const (
	ExceptionFreedomOfExpression = ledger.ExceptionFreedomOfExpression
	ExceptionLegalObligation     = ledger.ExceptionLegalObligation
	ExceptionPublicHealth        = ledger.ExceptionPublicHealth
	ExceptionArchivingResearch   = ledger.ExceptionArchivingResearch
	ExceptionLegalClaims         = ledger.ExceptionLegalClaims
)
