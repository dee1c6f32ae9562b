package gdprvault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hengadev/gdprvault/internal/anonymize"
	"github.com/hengadev/gdprvault/internal/audit"
	"github.com/hengadev/gdprvault/internal/erasure"
	"github.com/hengadev/gdprvault/internal/identity"
	"github.com/hengadev/gdprvault/internal/monitoring"
	"github.com/hengadev/gdprvault/internal/reliability"
	"github.com/hengadev/gdprvault/internal/retention"
	"github.com/hengadev/gdprvault/internal/scheduler"
	"github.com/hengadev/gdprvault/internal/store"
	"github.com/hengadev/gdprvault/internal/vault"
)

// Vault is the field-level cipher every module persisting or displaying
// identifying fields goes through.
type Vault interface {
	// Encrypt seals plaintext under the current key version. Empty input maps to nil.
	Encrypt(plaintext string) ([]byte, error)
	// Decrypt opens a ciphertext of any configured key version. Failures wrap ErrDecryption.
	Decrypt(ciphertext []byte) (string, error)
	// Mask hides all but the last visibleTail runes of value.
	Mask(value string, visibleTail int) string
	// HashForIndex returns a keyed, non-reversible lookup key for value.
	HashForIndex(value string) string
	// KeyVersion is the version new ciphertexts carry.
	KeyVersion() int
}

// Service is the personal-data lifecycle of a clinic system: identity storage,
// the erasure request ledger, anonymization and the retention jobs.
//
// Every method except RunRetentionCheck and RunExecutionSweep needs a context
// scoped with WithClinic.
type Service struct {
	cfg       Config
	store     *store.Store
	ownsStore bool
	vault     *vault.Vault
	ledger    *erasure.Service
	identity  *identity.Service
	scheduler *scheduler.Scheduler
	clock     *retention.Clock
	now       func() time.Time
	logger    Logger
}

// New builds a Service. It fetches key material from secrets, retrying while the
// store reports ErrSecretUnavailable, then opens and migrates the configured database.
func New(ctx context.Context, cfg Config, secrets SecretManagementService, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if secrets == nil {
		return nil, fmt.Errorf("%w: secret management service is required", ErrInvalidConfiguration)
	}

	s := &settings{retry: DefaultRetryConfig()}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = monitoring.NewStructuredLogger(monitoring.LoggerConfig{
			Level:     monitoring.ParseLevel(cfg.LogLevel),
			Format:    monitoring.ParseFormat(cfg.LogFormat),
			Component: "gdprvault",
		})
	}
	hook := s.observabilityHook()

	v, err := buildVault(ctx, cfg, secrets, s)
	if err != nil {
		return nil, err
	}

	st, owns := s.store, false
	if st == nil {
		st, err = openStore(ctx, cfg, s.logger)
		if err != nil {
			return nil, err
		}
		owns = true
	}

	sink := s.auditSink
	if sink == nil {
		sink = audit.NewLogSink(s.logger)
	}
	recorder := audit.NewRecorder(sink, s.logger, s.now)

	ledger := erasure.NewService(st, erasure.Config{
		Cooloff:  cfg.Cooloff(),
		Now:      s.now,
		Logger:   s.logger,
		Recorder: recorder,
		Hook:     hook,
		Executor: anonymize.NewExecutor(s.logger),
		NewID:    s.newID,
	})
	clock := retention.NewClock(cfg.RetentionYears, s.now)

	s.logger.Info("gdprvault ready",
		"version", Version, "db_dialect", cfg.DBDialect, "key_version", v.KeyVersion(),
		"retention_years", cfg.RetentionYears, "cooloff", cfg.Cooloff().String())

	return &Service{
		cfg:       cfg,
		store:     st,
		ownsStore: owns,
		vault:     v,
		ledger:    ledger,
		identity: identity.NewService(st, v, identity.Config{
			Now: s.now, Logger: s.logger, Recorder: recorder, Hook: hook,
		}),
		scheduler: scheduler.New(st, ledger, clock, scheduler.Config{Now: s.now, Logger: s.logger, Hook: hook}),
		clock:     clock,
		now:       s.now,
		logger:    s.logger,
	}, nil
}

func buildVault(ctx context.Context, cfg Config, secrets SecretManagementService, s *settings) (*vault.Vault, error) {
	executor := reliability.NewRetryExecutor(reliability.NewExponentialBackoffPolicy(s.retry)).
		OnRetry(func(attempt int, delay time.Duration, err error) {
			s.logger.Warn("secret retrieval retry", "attempt", attempt, "delay", delay.String(), "error", err)
		})

	fetch := func(path string) ([]byte, error) {
		var secret []byte
		err := executor.Execute(ctx, func(ctx context.Context) error {
			var err error
			secret, err = secrets.GetSecret(ctx, path)
			if err != nil && !errors.Is(err, ErrSecretUnavailable) {
				return reliability.Permanent(err)
			}
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch secret %s: %w", path, err)
		}
		return secret, nil
	}

	keys := make([]vault.Secret, 0, len(cfg.KeyVersions))
	for _, version := range cfg.KeyVersions {
		value, err := fetch(fmt.Sprintf(KeyPathTemplate, cfg.KeyAlias, version))
		if err != nil {
			return nil, err
		}
		keys = append(keys, vault.Secret{Version: version, Value: value})
	}
	index, err := fetch(fmt.Sprintf(IndexKeyPathTemplate, cfg.IndexKeyAlias))
	if err != nil {
		return nil, err
	}

	v, err := vault.New(keys, cfg.CurrentKeyVersion, index, s.argon2Params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	return v, nil
}

func openStore(ctx context.Context, cfg Config, logger Logger) (*store.Store, error) {
	dialect, err := store.ParseDialect(cfg.DBDialect)
	if err != nil {
		return nil, err
	}
	dsn := cfg.DBDSN
	if dialect == store.SQLite {
		dsn = store.SQLiteDSN(dsn)
	}
	st, err := store.Open(ctx, dialect, dsn, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// Close releases the database when New opened it.
func (s *Service) Close() error {
	if !s.ownsStore {
		return nil
	}
	return s.store.Close()
}

// Config returns the validated configuration the Service runs with.
func (s *Service) Config() Config { return s.cfg }

// Vault exposes the field cipher.
func (s *Service) Vault() Vault { return s.vault }

// Mask hides all but the last MaskVisibleTail characters of value for display.
func (s *Service) Mask(value string) string { return s.vault.Mask(value, MaskVisibleTail) }

// RegisterPatient creates a patient row in the session's clinic and returns its id.
func (s *Service) RegisterPatient(ctx context.Context, p Patient) (id int64, err error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.clockNow()
	}
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		id, err = tx.InsertPatient(ctx, p)
		return err
	})
	return id, err
}

// RecordEncounter stores a clinical encounter. Encounters are what move a patient's
// retention clock.
func (s *Service) RecordEncounter(ctx context.Context, e Encounter) (id int64, err error) {
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		id, err = tx.InsertEncounter(ctx, e)
		return err
	})
	return id, err
}

// AddClinicalNote attaches medical history to an encounter. Notes survive anonymization.
func (s *Service) AddClinicalNote(ctx context.Context, n ClinicalNote) (id int64, err error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.clockNow()
	}
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		id, err = tx.InsertNote(ctx, n)
		return err
	})
	return id, err
}

// GetPatient returns a patient of the session's clinic.
func (s *Service) GetPatient(ctx context.Context, patientID int64) (p Patient, err error) {
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		p, err = tx.GetPatient(ctx, patientID)
		return err
	})
	return p, err
}

// SavePatientIdentity encrypts and stores the identifying fields of a patient.
// Fails with ErrNotEligible once the identity has been anonymized.
func (s *Service) SavePatientIdentity(ctx context.Context, actor string, patientID int64, id PatientIdentity) error {
	return s.identity.Save(ctx, actor, patientID, id)
}

// RevealPatientIdentity decrypts a patient's identity and audits the read.
func (s *Service) RevealPatientIdentity(ctx context.Context, actor string, patientID int64) (PatientIdentity, error) {
	return s.identity.Reveal(ctx, actor, patientID)
}

// FindPatientsByIndex looks patients up by national_id, phone or email through the hash index.
func (s *Service) FindPatientsByIndex(ctx context.Context, field, value string) ([]int64, error) {
	return s.identity.FindByIndex(ctx, field, value)
}

// ReencryptStaleIdentities re-seals every identity of the session's clinic that is
// still under an older key version.
func (s *Service) ReencryptStaleIdentities(ctx context.Context, actor string) (ReencryptResult, error) {
	scanned, reencrypted, err := s.identity.ReencryptStale(ctx, actor)
	return ReencryptResult{Scanned: scanned, Reencrypted: reencrypted}, err
}

// FileErasureRequest files a pending erasure request.
func (s *Service) FileErasureRequest(ctx context.Context, in FileInput) (ErasureRequest, error) {
	return s.ledger.File(ctx, in)
}

// EvaluateErasureRequest approves or denies a pending request.
func (s *Service) EvaluateErasureRequest(ctx context.Context, requestID string, ev Evaluation) (ErasureRequest, error) {
	return s.ledger.Evaluate(ctx, requestID, ev)
}

// CancelApprovedErasure withdraws an approved request while its cooloff runs.
func (s *Service) CancelApprovedErasure(ctx context.Context, requestID, canceller, reason string) (ErasureRequest, error) {
	return s.ledger.Cancel(ctx, requestID, canceller, reason)
}

// ExecuteAnonymization irreversibly anonymizes the patient of an approved request
// whose cooloff has elapsed.
func (s *Service) ExecuteAnonymization(ctx context.Context, requestID, actor string) (ErasureRequest, error) {
	return s.ledger.Execute(ctx, requestID, actor)
}

// ListErasureRequests returns every request of a patient, most recent first.
func (s *Service) ListErasureRequests(ctx context.Context, patientID int64) ([]ErasureRequest, error) {
	return s.ledger.List(ctx, patientID)
}

// GetErasureRequest returns one request of the session's clinic.
func (s *Service) GetErasureRequest(ctx context.Context, requestID string) (ErasureRequest, error) {
	return s.ledger.Get(ctx, requestID)
}

// RetentionStatus reports a patient's last activity, cutoff and expiry.
func (s *Service) RetentionStatus(ctx context.Context, patientID int64) (status RetentionStatus, err error) {
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		patient, err := tx.GetPatient(ctx, patientID)
		if err != nil {
			return err
		}
		encounters, err := tx.ListEncounters(ctx, patientID)
		if err != nil {
			return err
		}
		status = s.clock.Evaluate(patient, encounters)
		return nil
	})
	return status, err
}

// RunRetentionCheck files an auto-approved request for every patient, in every
// clinic, whose retention period has elapsed. An empty systemActor uses Config.SystemActor.
func (s *Service) RunRetentionCheck(ctx context.Context, systemActor string) (RetentionResult, error) {
	if systemActor == "" {
		systemActor = s.cfg.SystemActor
	}
	return s.scheduler.RunRetentionCheck(ctx, systemActor)
}

// RunExecutionSweep executes every approved request whose cooloff has elapsed.
func (s *Service) RunExecutionSweep(ctx context.Context, systemActor string) (SweepResult, error) {
	if systemActor == "" {
		systemActor = s.cfg.SystemActor
	}
	return s.scheduler.RunExecutionSweep(ctx, systemActor)
}

func (s *Service) clockNow() time.Time { return s.now().UTC() }
