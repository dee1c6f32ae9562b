package identity

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hengadev/errsx"
	"github.com/hengadev/gdprvault/internal/audit"
	"github.com/hengadev/gdprvault/internal/domain"
	"github.com/hengadev/gdprvault/internal/gdprerr"
	"github.com/hengadev/gdprvault/internal/store"
	"github.com/hengadev/gdprvault/internal/tenant"
	"github.com/hengadev/gdprvault/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	keyV1    = bytes.Repeat([]byte{0x11}, vault.KeySize)
	keyV2    = bytes.Repeat([]byte{0x22}, vault.KeySize)
	indexKey = []byte("index-secret")
	now      = time.Date(2025, time.May, 2, 10, 0, 0, 0, time.UTC)
)

func newVault(t *testing.T, current int, keys ...vault.Secret) *vault.Vault {
	t.Helper()
	v, err := vault.New(keys, current, indexKey, nil)
	require.NoError(t, err)
	return v
}

type fixture struct {
	store   *store.Store
	sink    *audit.MemorySink
	ctx     context.Context
	patient int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.OpenSQLiteFile(context.Background(), filepath.Join(t.TempDir(), "gdpr.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{store: st, sink: audit.NewMemorySink(), ctx: tenant.WithClinic(context.Background(), 3)}
	require.NoError(t, st.WithTx(f.ctx, func(tx *store.Tx) error {
		f.patient, err = tx.InsertPatient(f.ctx, domain.Patient{MRN: "MRN-9", CreatedAt: now})
		return err
	}))
	return f
}

func (f *fixture) service(v *vault.Vault) *Service {
	clock := func() time.Time { return now }
	return NewService(f.store, v, Config{Now: clock, Recorder: audit.NewRecorder(f.sink, nil, clock)})
}

func sampleIdentity() domain.PatientIdentity {
	return domain.PatientIdentity{
		FirstName:  "Ada",
		LastName:   "Lovelace",
		NationalID: "1815-12-10",
		Phone:      "+44 20 7946 0000",
		Email:      "ada@example.org",
		Address:    "12 St James's Square",
	}
}

func TestSaveAndReveal(t *testing.T) {
	f := newFixture(t)
	svc := f.service(newVault(t, 1, vault.Secret{Version: 1, Value: keyV1}))

	require.NoError(t, svc.Save(f.ctx, "clerk", f.patient, sampleIdentity()))

	var stored *domain.PatientPII
	require.NoError(t, f.store.WithTx(f.ctx, func(tx *store.Tx) error {
		var err error
		stored, err = tx.GetPatientPII(f.ctx, f.patient)
		return err
	}))
	assert.NotContains(t, string(stored.LastName), "Lovelace")
	assert.Nil(t, stored.AlienRegistrationNumber)
	assert.Equal(t, 1, stored.EncryptionKeyVersion)
	require.NotNil(t, stored.EmailHash)

	got, err := svc.Reveal(f.ctx, "doctor", f.patient)
	require.NoError(t, err)
	assert.Equal(t, sampleIdentity(), got)

	writes := f.sink.ByAction(audit.ActionPIIWrite)
	require.Len(t, writes, 1)
	assert.Equal(t, "clerk", writes[0].Actor)
	reads := f.sink.ByAction(audit.ActionPIIDecrypt)
	require.Len(t, reads, 1)
	assert.Equal(t, "doctor", reads[0].Actor)
	assert.Equal(t, int64(3), reads[0].ClinicID)
	assert.Equal(t, audit.OutcomeSuccess, reads[0].Outcome)
}

func TestReveal_WrongKeyIsDecryptionError(t *testing.T) {
	f := newFixture(t)
	writer := f.service(newVault(t, 1, vault.Secret{Version: 1, Value: keyV1}))
	require.NoError(t, writer.Save(f.ctx, "clerk", f.patient, sampleIdentity()))

	reader := f.service(newVault(t, 1, vault.Secret{Version: 1, Value: keyV2}))
	got, err := reader.Reveal(f.ctx, "doctor", f.patient)
	assert.ErrorIs(t, err, gdprerr.ErrDecryption)
	assert.Equal(t, domain.PatientIdentity{}, got)

	var errs errsx.Map
	require.ErrorAs(t, err, &errs)
	assert.Contains(t, errs, "last_name")

	reads := f.sink.ByAction(audit.ActionPIIDecrypt)
	require.Len(t, reads, 1)
	assert.Equal(t, audit.OutcomeFailure, reads[0].Outcome)
}

func TestReveal_Anonymized(t *testing.T) {
	f := newFixture(t)
	svc := f.service(newVault(t, 1, vault.Secret{Version: 1, Value: keyV1}))
	require.NoError(t, svc.Save(f.ctx, "clerk", f.patient, sampleIdentity()))
	require.NoError(t, f.store.WithTx(f.ctx, func(tx *store.Tx) error {
		return tx.AnonymizePatientPII(f.ctx, f.patient, now)
	}))

	_, err := svc.Reveal(f.ctx, "doctor", f.patient)
	assert.ErrorIs(t, err, gdprerr.ErrNotEligible)

	err = svc.Save(f.ctx, "clerk", f.patient, sampleIdentity())
	assert.ErrorIs(t, err, gdprerr.ErrNotEligible)
}

func TestSave_RequiresScope(t *testing.T) {
	f := newFixture(t)
	svc := f.service(newVault(t, 1, vault.Secret{Version: 1, Value: keyV1}))

	err := svc.Save(context.Background(), "clerk", f.patient, sampleIdentity())
	assert.ErrorIs(t, err, gdprerr.ErrTenantScope)

	err = svc.Save(tenant.WithClinic(context.Background(), 4), "clerk", f.patient, sampleIdentity())
	assert.ErrorIs(t, err, gdprerr.ErrNotFound)
}

func TestFindByIndex(t *testing.T) {
	f := newFixture(t)
	svc := f.service(newVault(t, 1, vault.Secret{Version: 1, Value: keyV1}))
	require.NoError(t, svc.Save(f.ctx, "clerk", f.patient, sampleIdentity()))

	tests := []struct {
		name  string
		field string
		value string
		want  []int64
	}{
		{name: "email normalised", field: "email", value: "  ADA@example.org ", want: []int64{f.patient}},
		{name: "national id", field: "national_id", value: "1815-12-10", want: []int64{f.patient}},
		{name: "no match", field: "phone", value: "000", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.FindByIndex(f.ctx, tt.field, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := svc.FindByIndex(f.ctx, "last_name", "Lovelace")
	assert.ErrorIs(t, err, gdprerr.ErrValidation)

	other, err := svc.FindByIndex(tenant.WithClinic(context.Background(), 4), "email", "ada@example.org")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestReencryptStale(t *testing.T) {
	f := newFixture(t)
	old := f.service(newVault(t, 1, vault.Secret{Version: 1, Value: keyV1}))
	require.NoError(t, old.Save(f.ctx, "clerk", f.patient, sampleIdentity()))

	rotated := f.service(newVault(t, 2,
		vault.Secret{Version: 1, Value: keyV1},
		vault.Secret{Version: 2, Value: keyV2},
	))
	scanned, reencrypted, err := rotated.ReencryptStale(f.ctx, "ops")
	require.NoError(t, err)
	assert.Equal(t, 1, scanned)
	assert.Equal(t, 1, reencrypted)

	onlyV2 := f.service(newVault(t, 2, vault.Secret{Version: 2, Value: keyV2}))
	got, err := onlyV2.Reveal(f.ctx, "doctor", f.patient)
	require.NoError(t, err)
	assert.Equal(t, sampleIdentity(), got)

	scanned, _, err = rotated.ReencryptStale(f.ctx, "ops")
	require.NoError(t, err)
	assert.Zero(t, scanned)
	assert.Len(t, f.sink.ByAction(audit.ActionPIIReencrypt), 1)
}
