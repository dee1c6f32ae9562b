// Package identity persists patient-identifying fields through the PII vault.
//
// Plaintext never reaches the store: every field is sealed on the way in, every
// read is audited, and an anonymized identity can be neither written nor revealed.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hengadev/errsx"
	"github.com/hengadev/gdprvault/internal/audit"
	"github.com/hengadev/gdprvault/internal/domain"
	"github.com/hengadev/gdprvault/internal/gdprerr"
	"github.com/hengadev/gdprvault/internal/monitoring"
	"github.com/hengadev/gdprvault/internal/store"
	"github.com/hengadev/gdprvault/internal/tenant"
	"github.com/hengadev/gdprvault/internal/vault"
)

// IndexFields maps the searchable identity fields to their hash-index columns.
var IndexFields = map[string]string{
	"national_id": "national_id_hash",
	"phone":       "phone_hash",
	"email":       "email_hash",
}

// Config wires the service's collaborators. Zero values get defaults.
type Config struct {
	Now      func() time.Time
	Logger   monitoring.Logger
	Recorder *audit.Recorder
	Hook     monitoring.ObservabilityHook
}

type Service struct {
	store    *store.Store
	vault    *vault.Vault
	recorder *audit.Recorder
	hook     monitoring.ObservabilityHook
	logger   monitoring.Logger
	now      func() time.Time
}

func NewService(st *store.Store, v *vault.Vault, cfg Config) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = monitoring.NewDiscardLogger()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = audit.NewRecorder(nil, cfg.Logger, cfg.Now)
	}
	if cfg.Hook == nil {
		cfg.Hook = monitoring.NoOpObservabilityHook{}
	}
	return &Service{
		store:    st,
		vault:    v,
		recorder: cfg.Recorder,
		hook:     cfg.Hook,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

// Save encrypts id under the current key and replaces the stored identity of patientID.
func (s *Service) Save(ctx context.Context, actor string, patientID int64, id domain.PatientIdentity) (err error) {
	done := monitoring.Track(ctx, s.hook, "identity.save", map[string]any{"patient_id": patientID})
	defer func() { done(err) }()

	pii, err := s.seal(patientID, id)
	if err == nil {
		err = s.store.WithTx(ctx, func(tx *store.Tx) error {
			return tx.PutPatientPII(ctx, pii)
		})
	}

	s.record(ctx, actor, audit.ActionPIIWrite, patientID, err, "key_version", s.vault.KeyVersion())
	return err
}

// Reveal decrypts the identity of patientID. Every call is audited, failed ones included.
func (s *Service) Reveal(ctx context.Context, actor string, patientID int64) (id domain.PatientIdentity, err error) {
	done := monitoring.Track(ctx, s.hook, "identity.reveal", map[string]any{"patient_id": patientID})
	defer func() { done(err) }()

	var pii *domain.PatientPII
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		pii, err = tx.GetPatientPII(ctx, patientID)
		return err
	})
	if err == nil && pii.IsAnonymized() {
		err = gdprerr.NewNotEligibleError(gdprerr.Decrypt, fmt.Sprintf("identity of patient %d has been anonymized", patientID))
	}
	if err == nil {
		id, err = s.open(pii)
	}

	s.record(ctx, actor, audit.ActionPIIDecrypt, patientID, err)
	if err != nil {
		return domain.PatientIdentity{}, err
	}
	return id, nil
}

// FindByIndex returns the patients of the session's clinic whose field equals value,
// compared through the hash index. field is one of IndexFields.
func (s *Service) FindByIndex(ctx context.Context, field, value string) (ids []int64, err error) {
	column, ok := IndexFields[field]
	if !ok {
		return nil, gdprerr.NewValidationError(fmt.Errorf("field %q has no hash index", field))
	}
	if value == "" {
		return nil, gdprerr.NewValidationError(errors.New("search value is required"))
	}
	hash := s.vault.HashForIndex(value)
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		ids, err = tx.FindPatientIDsByHash(ctx, column, hash)
		return err
	})
	return ids, err
}

// ReencryptStale re-seals every identity of the session's clinic that is still under
// an older key version. Each identity is rewritten in its own transaction; one that
// fails to decrypt is reported and the pass continues.
func (s *Service) ReencryptStale(ctx context.Context, actor string) (scanned, reencrypted int, err error) {
	done := monitoring.Track(ctx, s.hook, "identity.reencrypt", nil)
	defer func() { done(err) }()

	current := s.vault.KeyVersion()
	var stale []domain.PatientPII
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		stale, err = tx.ListStalePII(ctx, current)
		return err
	})
	if err != nil {
		return 0, 0, err
	}

	var failures []error
	for i := range stale {
		if err := ctx.Err(); err != nil {
			return scanned, reencrypted, err
		}
		scanned++
		pii := &stale[i]
		from := pii.EncryptionKeyVersion

		rerr := s.reencrypt(ctx, pii)
		s.record(ctx, actor, audit.ActionPIIReencrypt, pii.PatientID, rerr, "from_version", from, "to_version", current)
		if rerr != nil {
			failures = append(failures, fmt.Errorf("patient %d: %w", pii.PatientID, rerr))
			s.logger.Error("re-encryption failed", "patient_id", pii.PatientID, "from_version", from, "error", rerr)
			continue
		}
		reencrypted++
	}

	clinicID, _ := tenant.ClinicFromContext(ctx)
	s.logger.Info("re-encryption completed",
		"clinic_id", clinicID, "scanned", scanned, "reencrypted", reencrypted, "key_version", current)
	return scanned, reencrypted, errors.Join(failures...)
}

func (s *Service) reencrypt(ctx context.Context, stale *domain.PatientPII) error {
	id, err := s.open(stale)
	if err != nil {
		return err
	}
	pii, err := s.seal(stale.PatientID, id)
	if err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.PutPatientPII(ctx, pii)
	})
}

// seal encrypts every field of id and fills the hash indexes of non-empty searchable fields.
func (s *Service) seal(patientID int64, id domain.PatientIdentity) (domain.PatientPII, error) {
	errs := errsx.Map{}
	enc := func(name, value string) []byte {
		ct, err := s.vault.Encrypt(value)
		if err != nil {
			errs.Set(name, err)
		}
		return ct
	}

	pii := domain.PatientPII{
		PatientID:               patientID,
		FirstName:               enc("first_name", id.FirstName),
		LastName:                enc("last_name", id.LastName),
		NationalID:              enc("national_id", id.NationalID),
		AlienRegistrationNumber: enc("alien_registration_number", id.AlienRegistrationNumber),
		Phone:                   enc("phone", id.Phone),
		Email:                   enc("email", id.Email),
		Address:                 enc("address", id.Address),
		EmergencyContactName:    enc("emergency_contact_name", id.EmergencyContactName),
		EmergencyContactPhone:   enc("emergency_contact_phone", id.EmergencyContactPhone),
		NationalIDHash:          s.index(id.NationalID),
		PhoneHash:               s.index(id.Phone),
		EmailHash:               s.index(id.Email),
		EncryptionKeyVersion:    s.vault.KeyVersion(),
		UpdatedAt:               s.now().UTC(),
	}
	if err := errs.AsError(); err != nil {
		return domain.PatientPII{}, fmt.Errorf("%w: %w", gdprerr.ErrEncryption, err)
	}
	return pii, nil
}

// open decrypts every field. Any failing field fails the whole read.
func (s *Service) open(pii *domain.PatientPII) (domain.PatientIdentity, error) {
	errs := errsx.Map{}
	dec := func(name string, ct []byte) string {
		pt, err := s.vault.Decrypt(ct)
		if err != nil {
			errs.Set(name, err)
		}
		return pt
	}

	id := domain.PatientIdentity{
		FirstName:               dec("first_name", pii.FirstName),
		LastName:                dec("last_name", pii.LastName),
		NationalID:              dec("national_id", pii.NationalID),
		AlienRegistrationNumber: dec("alien_registration_number", pii.AlienRegistrationNumber),
		Phone:                   dec("phone", pii.Phone),
		Email:                   dec("email", pii.Email),
		Address:                 dec("address", pii.Address),
		EmergencyContactName:    dec("emergency_contact_name", pii.EmergencyContactName),
		EmergencyContactPhone:   dec("emergency_contact_phone", pii.EmergencyContactPhone),
	}
	if err := errs.AsError(); err != nil {
		return domain.PatientIdentity{}, gdprerr.NewDecryptionError(
			fmt.Sprintf("identity of patient %d", pii.PatientID), err)
	}
	return id, nil
}

func (s *Service) index(value string) *string {
	if value == "" {
		return nil
	}
	h := s.vault.HashForIndex(value)
	return &h
}

func (s *Service) record(ctx context.Context, actor string, action audit.Action, patientID int64, err error, kv ...any) {
	clinicID, _ := tenant.ClinicFromContext(ctx)
	detail := make(map[string]any, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			detail[k] = kv[i+1]
		}
	}
	if err != nil {
		detail["error"] = err.Error()
	}
	s.recorder.Record(ctx, audit.Event{
		ClinicID: clinicID,
		Actor:    actor,
		Action:   action,
		Resource: audit.PatientResource(patientID),
		Outcome:  audit.OutcomeOf(err),
		Detail:   detail,
	})
}
