// Package gdprvault manages the personal-data lifecycle of patient records in a
// multi-tenant clinic system: field-level encryption of identifying data, a
// statutory retention clock, an auditable erasure request ledger, irreversible
// anonymization, and the scheduled jobs that tie them together.
//
// # Key Features
//
//   - AES-256-GCM encryption of identifying fields with versioned keys
//   - Keyed hash indexes for national id, phone and email lookup
//   - Erasure requests as a closed state machine: pending, approved, denied, cancelled, executed
//   - A cancellation window (cooloff) between approval and execution
//   - Anonymization that erases identity and keeps clinical history
//   - Retention expiry filing and execution sweeps across clinics
//   - SQLite and PostgreSQL stores with tenant-scoped transactions
//   - HashiCorp Vault and AWS KMS secret providers, S3 audit archiving
//
// # Quick Start
//
//	cfg, err := gdprvault.LoadConfigFromEnvironment()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	secrets, err := hashicorp.NewKVStore()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := gdprvault.New(ctx, cfg, secrets)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//
// Every operation on patient data runs inside one clinic:
//
//	ctx = gdprvault.WithClinic(ctx, clinicID)
//	req, err := svc.FileErasureRequest(ctx, gdprvault.FileInput{
//	    PatientID:   patientID,
//	    RequestedBy: "front-desk",
//	    Method:      gdprvault.MethodLetter,
//	    LegalBasis:  gdprvault.BasisConsentWithdrawn,
//	})
//
// # Erasure Lifecycle
//
// A filed request is pending until evaluated. Approval starts the cooloff, during
// which CancelApprovedErasure can still withdraw it; denial records the statutory
// exception and is final. Once the cooloff has elapsed, ExecuteAnonymization (or
// RunExecutionSweep) erases every identifying field, clears the hash indexes and
// deactivates the patient, all in one transaction. Encounters and clinical notes
// are kept.
//
// At most one request per patient is pending or approved at any time. A second
// filing fails with ErrConflict.
//
// # Retention
//
// RunRetentionCheck files and auto-approves a request for every patient whose last
// encounter (or registration, without encounters) is at least RetentionYears old.
// Running it repeatedly is safe; patients already covered are skipped.
//
// # Errors
//
// Operations fail with errors matching ErrValidation, ErrNotFound, ErrConflict,
// ErrNotEligible, ErrDecryption or ErrTenantScope. Validation errors wrap an
// errsx.Map keyed by field. Decryption errors are never turned into empty values.
//
// # Auditing
//
// Every ledger transition and every identity read produces an AuditEvent. A failing
// AuditSink is logged and never fails the operation.
//
// # Testing
//
// NewTestService builds a Service over a temporary SQLite database with in-memory
// secrets:
//
//	svc := gdprvault.NewTestService(t, gdprvault.WithClock(clock.Now))
package gdprvault
