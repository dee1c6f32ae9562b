package gdprvault

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hengadev/gdprvault/internal/audit"
	"github.com/hengadev/gdprvault/internal/monitoring"
	"github.com/hengadev/gdprvault/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// LifecycleTestSuite drives the public API through complete erasure lifecycles.
type LifecycleTestSuite struct {
	suite.Suite
	svc     *Service
	clock   *testClock
	sink    *audit.MemorySink
	metrics *monitoring.InMemoryMetricsCollector
	ctx     context.Context
	patient int64
}

func (s *LifecycleTestSuite) SetupTest() {
	s.clock = &testClock{now: time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC)}
	s.sink = audit.NewMemorySink()
	s.metrics = monitoring.NewInMemoryMetricsCollector()
	var seq int
	s.svc = NewTestService(s.T(),
		WithClock(s.clock.Now),
		WithAuditSink(s.sink),
		WithLogger(monitoring.NewDiscardLogger()),
		WithMetricsCollector(s.metrics),
		withIDGenerator(func() string { seq++; return fmt.Sprintf("req-%d", seq) }),
	)
	s.ctx = WithClinic(context.Background(), 1)

	var err error
	s.patient, err = s.svc.RegisterPatient(s.ctx, Patient{MRN: "MRN-100", CreatedAt: time.Date(2019, time.May, 4, 0, 0, 0, 0, time.UTC)})
	s.Require().NoError(err)
	s.Require().NoError(s.svc.SavePatientIdentity(s.ctx, "registrar", s.patient, PatientIdentity{
		FirstName: "Grace", LastName: "Hopper", NationalID: "NAT-1906", Email: "grace@example.org", Phone: "555-0100",
	}))
	encounter, err := s.svc.RecordEncounter(s.ctx, Encounter{PatientID: s.patient, ScheduledStart: time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)})
	s.Require().NoError(err)
	_, err = s.svc.AddClinicalNote(s.ctx, ClinicalNote{EncounterID: encounter, Body: "annual check"})
	s.Require().NoError(err)
}

func (s *LifecycleTestSuite) file() ErasureRequest {
	r, err := s.svc.FileErasureRequest(s.ctx, FileInput{
		PatientID: s.patient, RequestedBy: "patient", Method: MethodPortal, LegalBasis: BasisConsentWithdrawn,
	})
	s.Require().NoError(err)
	return r
}

func (s *LifecycleTestSuite) approve(id string) ErasureRequest {
	r, err := s.svc.EvaluateErasureRequest(s.ctx, id, Evaluation{Decision: DecisionApprove, Evaluator: "dpo"})
	s.Require().NoError(err)
	return r
}

func (s *LifecycleTestSuite) TestManualErasure() {
	r := s.file()
	s.Equal(StatusPending, r.Status())

	_, err := s.svc.FileErasureRequest(s.ctx, FileInput{
		PatientID: s.patient, RequestedBy: "patient", Method: MethodEmail, LegalBasis: BasisObjection,
	})
	s.True(IsConflictError(err))

	approved := s.approve(r.ID)
	state, ok := approved.State.(Approved)
	s.Require().True(ok)
	s.Equal(s.clock.Now().Add(72*time.Hour), state.CooloffExpiresAt)

	_, err = s.svc.ExecuteAnonymization(s.ctx, r.ID, "dpo")
	s.True(IsNotEligibleError(err))

	s.clock.Advance(72 * time.Hour)
	executed, err := s.svc.ExecuteAnonymization(s.ctx, r.ID, "dpo")
	s.Require().NoError(err)
	s.Equal(StatusExecuted, executed.Status())
	summary := executed.State.(Executed).Summary
	s.Equal(1, summary.EncountersRetained)
	s.Equal(1, summary.NotesRetained)
	s.Contains(summary.IndexesCleared, "email_hash")

	_, err = s.svc.RevealPatientIdentity(s.ctx, "doctor", s.patient)
	s.True(IsNotEligibleError(err))
	ids, err := s.svc.FindPatientsByIndex(s.ctx, "email", "grace@example.org")
	s.Require().NoError(err)
	s.Empty(ids)

	patient, err := s.svc.GetPatient(s.ctx, s.patient)
	s.Require().NoError(err)
	s.Equal("inactive", string(patient.Status))

	_, err = s.svc.FileErasureRequest(s.ctx, FileInput{
		PatientID: s.patient, RequestedBy: "patient", Method: MethodPortal, LegalBasis: BasisConsentWithdrawn,
	})
	s.True(IsNotEligibleError(err))

	s.Len(s.sink.ByAction(audit.ActionErasureExecute), 2)
	s.Positive(s.metrics.Counter("gdpr.operation.completed",
		map[string]string{"operation": "erasure.execute", "status": "success"}))
}

func (s *LifecycleTestSuite) TestCancelDuringCooloff() {
	r := s.file()
	s.approve(r.ID)

	s.clock.Advance(71 * time.Hour)
	cancelled, err := s.svc.CancelApprovedErasure(s.ctx, r.ID, "patient", "changed my mind")
	s.Require().NoError(err)
	s.Equal(StatusCancelled, cancelled.Status())

	s.clock.Advance(2 * time.Hour)
	_, err = s.svc.ExecuteAnonymization(s.ctx, r.ID, "dpo")
	s.True(IsNotEligibleError(err))

	identity, err := s.svc.RevealPatientIdentity(s.ctx, "doctor", s.patient)
	s.Require().NoError(err)
	s.Equal("Hopper", identity.LastName)

	second := s.file()
	s.approve(second.ID)
	s.clock.Advance(72 * time.Hour)
	_, err = s.svc.CancelApprovedErasure(s.ctx, second.ID, "patient", "too late")
	s.True(IsNotEligibleError(err))

	list, err := s.svc.ListErasureRequests(s.ctx, s.patient)
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(second.ID, list[0].ID)
}

func (s *LifecycleTestSuite) TestDeny() {
	r := s.file()
	denied, err := s.svc.EvaluateErasureRequest(s.ctx, r.ID, Evaluation{
		Decision: DecisionDeny, Evaluator: "dpo", Exception: ExceptionPublicHealth, Reason: "outbreak tracing",
	})
	s.Require().NoError(err)
	s.Equal(StatusDenied, denied.Status())

	_, err = s.svc.EvaluateErasureRequest(s.ctx, r.ID, Evaluation{Decision: DecisionApprove, Evaluator: "dpo"})
	s.True(IsConflictError(err))

	_, err = s.svc.EvaluateErasureRequest(s.ctx, s.file().ID, Evaluation{Decision: DecisionDeny, Evaluator: "dpo"})
	s.True(IsValidationError(err))
}

func (s *LifecycleTestSuite) TestTenantIsolation() {
	r := s.file()
	other := WithClinic(context.Background(), 2)

	_, err := s.svc.GetErasureRequest(other, r.ID)
	s.True(IsNotFoundError(err))
	_, err = s.svc.EvaluateErasureRequest(other, r.ID, Evaluation{Decision: DecisionApprove, Evaluator: "intruder"})
	s.True(IsNotFoundError(err))
	_, err = s.svc.RevealPatientIdentity(other, "intruder", s.patient)
	s.True(IsNotFoundError(err))

	_, err = s.svc.GetErasureRequest(context.Background(), r.ID)
	s.True(IsTenantScopeError(err))
}

func (s *LifecycleTestSuite) TestRetentionJobs() {
	old, err := s.svc.RegisterPatient(s.ctx, Patient{MRN: "MRN-OLD", CreatedAt: time.Date(2008, time.January, 2, 0, 0, 0, 0, time.UTC)})
	s.Require().NoError(err)
	_, err = s.svc.RecordEncounter(s.ctx, Encounter{PatientID: old, ScheduledStart: time.Date(2009, time.October, 12, 0, 0, 0, 0, time.UTC)})
	s.Require().NoError(err)

	status, err := s.svc.RetentionStatus(s.ctx, old)
	s.Require().NoError(err)
	s.True(status.Expired)
	s.Equal(time.Date(2024, time.October, 12, 0, 0, 0, 0, time.UTC), status.ExpiresAt)

	first, err := s.svc.RunRetentionCheck(context.Background(), "")
	s.Require().NoError(err)
	s.Equal(1, first.RequestsCreated)

	second, err := s.svc.RunRetentionCheck(context.Background(), "")
	s.Require().NoError(err)
	s.Zero(second.RequestsCreated)

	list, err := s.svc.ListErasureRequests(s.ctx, old)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(DefaultSystemActor, list[0].RequestedBy)
	s.Equal(StatusApproved, list[0].Status())

	sweep, err := s.svc.RunExecutionSweep(context.Background(), "")
	s.Require().NoError(err)
	s.Equal(SweepResult{Executed: 1}, sweep)

	current, err := s.svc.RetentionStatus(s.ctx, s.patient)
	s.Require().NoError(err)
	s.False(current.Expired)
}

func (s *LifecycleTestSuite) TestMaskAndVault() {
	s.Equal("****0100", s.svc.Mask("555-0100"))
	s.Equal("", s.svc.Mask(""))
	ct, err := s.svc.Vault().Encrypt("value")
	s.Require().NoError(err)
	pt, err := s.svc.Vault().Decrypt(ct)
	s.Require().NoError(err)
	s.Equal("value", pt)
	s.Equal(1, s.svc.Vault().KeyVersion())
}

func (s *LifecycleTestSuite) TestHealth() {
	report := s.svc.Health(context.Background())
	s.Equal("healthy", string(report.Status))
	s.Len(report.Results, 3)

	s.approve(s.file().ID)
	s.clock.Advance(72*time.Hour + SweepGracePeriod + time.Minute)
	report = s.svc.Health(context.Background())
	s.Equal("degraded", string(report.Status))
	s.Equal("execution_backlog", report.Results[1].Name)
	s.Contains(report.Results[1].Error, "1 approved requests")

	_, err := s.svc.RunExecutionSweep(context.Background(), "")
	s.Require().NoError(err)
	s.Equal("healthy", string(s.svc.Health(context.Background()).Status))
}

func TestLifecycleTestSuite(t *testing.T) {
	suite.Run(t, new(LifecycleTestSuite))
}

func TestKeyRotation(t *testing.T) {
	dir := t.TempDir()
	ctx := WithClinic(context.Background(), 1)
	secrets := NewTestSecretStore()
	quiet := WithLogger(monitoring.NewDiscardLogger())

	v1, err := New(context.Background(), TestConfig(dir), secrets, quiet)
	require.NoError(t, err)
	patient, err := v1.RegisterPatient(ctx, Patient{MRN: "MRN-1"})
	require.NoError(t, err)
	require.NoError(t, v1.SavePatientIdentity(ctx, "registrar", patient, PatientIdentity{LastName: "Noether"}))
	require.NoError(t, v1.Close())

	rotating := TestConfig(dir)
	rotating.KeyVersions = []int{1, 2}
	rotating.CurrentKeyVersion = 2
	v2, err := New(context.Background(), rotating, secrets, quiet)
	require.NoError(t, err)
	res, err := v2.ReencryptStaleIdentities(ctx, "ops")
	require.NoError(t, err)
	assert.Equal(t, ReencryptResult{Scanned: 1, Reencrypted: 1}, res)
	require.NoError(t, v2.Close())

	retired := TestConfig(dir)
	retired.KeyVersions = []int{2}
	retired.CurrentKeyVersion = 2
	v3, err := New(context.Background(), retired, secrets, quiet)
	require.NoError(t, err)
	defer v3.Close()
	identity, err := v3.RevealPatientIdentity(ctx, "doctor", patient)
	require.NoError(t, err)
	assert.Equal(t, "Noether", identity.LastName)
}

type secretStoreMock struct {
	mock.Mock
}

func (m *secretStoreMock) GetSecret(ctx context.Context, path string) ([]byte, error) {
	args := m.Called(ctx, path)
	secret, _ := args.Get(0).([]byte)
	return secret, args.Error(1)
}

func TestNew_RetriesUnavailableSecretStore(t *testing.T) {
	secrets := new(secretStoreMock)
	keyPath := fmt.Sprintf(KeyPathTemplate, TestKeyAlias, 1)
	indexPath := fmt.Sprintf(IndexKeyPathTemplate, TestIndexKeyAlias)
	secrets.On("GetSecret", mock.Anything, keyPath).
		Return(nil, fmt.Errorf("%w: connection refused", ErrSecretUnavailable)).Once()
	secrets.On("GetSecret", mock.Anything, keyPath).Return(TestKeyV1, nil).Once()
	secrets.On("GetSecret", mock.Anything, indexPath).Return(TestIndexSecret, nil).Once()

	svc, err := New(context.Background(), TestConfig(t.TempDir()), secrets,
		WithLogger(monitoring.NewDiscardLogger()),
		WithRetryConfig(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}),
	)
	require.NoError(t, err)
	defer svc.Close()
	secrets.AssertExpectations(t)
}

func TestNew_MissingSecretIsNotRetried(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{name: "default retry"},
		{name: "retry everything", opts: []Option{WithRetryConfig(RetryConfig{
			MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1,
			ShouldRetry: func(error, int) bool { return true },
		})}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secrets := new(secretStoreMock)
			secrets.On("GetSecret", mock.Anything, mock.Anything).
				Return(nil, fmt.Errorf("%w: secret gone", ErrNotFound)).Once()

			opts := append([]Option{WithLogger(monitoring.NewDiscardLogger())}, tt.opts...)
			_, err := New(context.Background(), TestConfig(t.TempDir()), secrets, opts...)
			assert.ErrorIs(t, err, ErrNotFound)
			secrets.AssertNumberOfCalls(t, "GetSecret", 1)
		})
	}
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(context.Background(), TestConfig(t.TempDir()), NewTestSecretStore(), WithClock(nil))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = New(context.Background(), Config{}, NewTestSecretStore())
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = New(context.Background(), TestConfig(t.TempDir()), nil)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestNew_SharedStoreOutlivesService(t *testing.T) {
	st, err := store.OpenSQLiteFile(context.Background(), filepath.Join(t.TempDir(), "shared.db"), nil)
	require.NoError(t, err)
	defer st.Close()

	svc, err := New(context.Background(), TestConfig(t.TempDir()), NewTestSecretStore(),
		WithLogger(monitoring.NewDiscardLogger()), withStore(st))
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	ctx := WithClinic(context.Background(), 1)
	require.NoError(t, st.WithTx(ctx, func(tx *store.Tx) error {
		_, err := tx.InsertPatient(ctx, Patient{MRN: "MRN-SHARED", CreatedAt: time.Now()})
		return err
	}))
}
