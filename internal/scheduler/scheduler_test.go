package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hengadev/gdprvault/internal/audit"
	"github.com/hengadev/gdprvault/internal/domain"
	"github.com/hengadev/gdprvault/internal/erasure"
	"github.com/hengadev/gdprvault/internal/gdprerr"
	"github.com/hengadev/gdprvault/internal/ledger"
	"github.com/hengadev/gdprvault/internal/retention"
	"github.com/hengadev/gdprvault/internal/store"
	"github.com/hengadev/gdprvault/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fixture struct {
	store     *store.Store
	ledger    *erasure.Service
	scheduler *Scheduler
	sink      *audit.MemorySink
	now       time.Time
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	st, err := store.OpenSQLiteFile(context.Background(), filepath.Join(t.TempDir(), "gdpr.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{store: st, sink: audit.NewMemorySink(), now: now}
	clock := func() time.Time { return f.now }
	var seq int64
	f.ledger = erasure.NewService(st, erasure.Config{
		Now:      clock,
		Recorder: audit.NewRecorder(f.sink, nil, clock),
		NewID:    func() string { return fmt.Sprintf("req-%d", atomic.AddInt64(&seq, 1)) },
	})
	f.scheduler = New(st, f.ledger, retention.NewClock(15, clock), Config{Now: clock})
	return f
}

// seed creates a patient with PII and one encounter at lastVisit.
func (f *fixture) seed(t *testing.T, clinicID int64, mrn string, lastVisit time.Time) int64 {
	t.Helper()
	ctx := tenant.WithClinic(context.Background(), clinicID)
	var id int64
	require.NoError(t, f.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		id, err = tx.InsertPatient(ctx, domain.Patient{MRN: mrn, CreatedAt: date(2010, time.January, 1)})
		if err != nil {
			return err
		}
		if err := tx.PutPatientPII(ctx, domain.PatientPII{
			PatientID: id, LastName: []byte("ct"), EncryptionKeyVersion: 1, UpdatedAt: lastVisit,
		}); err != nil {
			return err
		}
		_, err = tx.InsertEncounter(ctx, domain.Encounter{PatientID: id, ScheduledStart: lastVisit})
		return err
	}))
	return id
}

func (f *fixture) requests(t *testing.T, clinicID, patientID int64) []ledger.Request {
	t.Helper()
	out, err := f.ledger.List(tenant.WithClinic(context.Background(), clinicID), patientID)
	require.NoError(t, err)
	return out
}

func TestRunRetentionCheck_FifteenYearBoundary(t *testing.T) {
	tests := []struct {
		name    string
		now     time.Time
		created int
	}{
		{name: "day before", now: date(2025, time.February, 28), created: 0},
		{name: "anniversary", now: date(2025, time.March, 1), created: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.now)
			patient := f.seed(t, 1, "MRN-1", date(2010, time.March, 1))

			res, err := f.scheduler.RunRetentionCheck(context.Background(), "")
			require.NoError(t, err)
			assert.Equal(t, tt.created, res.RequestsCreated)
			assert.Equal(t, 1, res.Evaluated)
			assert.Len(t, f.requests(t, 1, patient), tt.created)
		})
	}
}

func TestRunRetentionCheck_FilesApprovedSystemRequest(t *testing.T) {
	f := newFixture(t, date(2026, time.January, 1))
	patient := f.seed(t, 1, "MRN-1", date(2010, time.March, 1))

	_, err := f.scheduler.RunRetentionCheck(context.Background(), "")
	require.NoError(t, err)

	list := f.requests(t, 1, patient)
	require.Len(t, list, 1)
	r := list[0]
	assert.Equal(t, DefaultActor, r.RequestedBy)
	assert.Equal(t, ledger.MethodSystem, r.Method)
	assert.Equal(t, ledger.BasisRetentionExpired, r.LegalBasis)
	require.NotNil(t, r.RetentionExpiry)
	assert.True(t, date(2025, time.March, 1).Equal(*r.RetentionExpiry))

	approved, ok := r.State.(ledger.Approved)
	require.True(t, ok)
	assert.Equal(t, DefaultActor, approved.EvaluatedBy)
	assert.Len(t, f.sink.ByAction(audit.ActionErasureEvaluate), 1)
}

func TestRunRetentionCheck_Idempotent(t *testing.T) {
	f := newFixture(t, date(2026, time.January, 1))
	patient := f.seed(t, 1, "MRN-1", date(2010, time.March, 1))

	first, err := f.scheduler.RunRetentionCheck(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, first.RequestsCreated)

	f.now = f.now.Add(6 * time.Hour)
	second, err := f.scheduler.RunRetentionCheck(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, second.RequestsCreated)
	assert.Zero(t, second.Failed)
	assert.Len(t, f.requests(t, 1, patient), 1)
}

func TestRunRetentionCheck_AcrossClinics(t *testing.T) {
	f := newFixture(t, date(2026, time.January, 1))
	expiredA := f.seed(t, 1, "MRN-1", date(2009, time.June, 1))
	recent := f.seed(t, 1, "MRN-2", date(2024, time.June, 1))
	expiredB := f.seed(t, 2, "MRN-1", date(2010, time.February, 1))

	res, err := f.scheduler.RunRetentionCheck(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, RetentionResult{RequestsCreated: 2, Evaluated: 3}, res)

	assert.Len(t, f.requests(t, 1, expiredA), 1)
	assert.Empty(t, f.requests(t, 1, recent))
	bRequests := f.requests(t, 2, expiredB)
	require.Len(t, bRequests, 1)
	assert.Equal(t, int64(2), bRequests[0].ClinicID)
}

func TestRunRetentionCheck_SkipsPatientWithPendingRequest(t *testing.T) {
	f := newFixture(t, date(2026, time.January, 1))
	patient := f.seed(t, 1, "MRN-1", date(2010, time.March, 1))

	ctx := tenant.WithClinic(context.Background(), 1)
	_, err := f.ledger.File(ctx, ledger.FileInput{
		PatientID: patient, RequestedBy: "front-desk", Method: ledger.MethodLetter, LegalBasis: ledger.BasisObjection,
	})
	require.NoError(t, err)

	res, err := f.scheduler.RunRetentionCheck(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, RetentionResult{}, res)
	assert.Len(t, f.requests(t, 1, patient), 1)
}

func TestStillExpired_RejectsRenewedRetention(t *testing.T) {
	f := newFixture(t, date(2026, time.January, 1))
	patient := f.seed(t, 1, "MRN-1", date(2010, time.March, 1))
	ctx := tenant.WithClinic(context.Background(), 1)

	require.NoError(t, f.store.WithTx(ctx, func(tx *store.Tx) error {
		return f.scheduler.stillExpired(patient)(ctx, tx)
	}))

	require.NoError(t, f.store.WithTx(ctx, func(tx *store.Tx) error {
		_, err := tx.InsertEncounter(ctx, domain.Encounter{PatientID: patient, ScheduledStart: date(2025, time.December, 1)})
		return err
	}))

	err := f.store.WithTx(ctx, func(tx *store.Tx) error {
		return f.scheduler.stillExpired(patient)(ctx, tx)
	})
	assert.ErrorIs(t, err, gdprerr.ErrNotEligible)
}

func TestRunExecutionSweep(t *testing.T) {
	f := newFixture(t, date(2026, time.January, 1))
	retained := f.seed(t, 1, "MRN-1", date(2010, time.March, 1))
	manual := f.seed(t, 1, "MRN-2", date(2024, time.March, 1))
	ctx := tenant.WithClinic(context.Background(), 1)

	_, err := f.scheduler.RunRetentionCheck(context.Background(), "")
	require.NoError(t, err)

	filed, err := f.ledger.File(ctx, ledger.FileInput{
		PatientID: manual, RequestedBy: "patient", Method: ledger.MethodEmail, LegalBasis: ledger.BasisConsentWithdrawn,
	})
	require.NoError(t, err)
	_, err = f.ledger.Evaluate(ctx, filed.ID, ledger.Evaluation{Decision: ledger.DecisionApprove, Evaluator: "dpo"})
	require.NoError(t, err)

	res, err := f.scheduler.RunExecutionSweep(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Executed: 1, Skipped: 1}, res)
	assert.Equal(t, ledger.StatusExecuted, f.requests(t, 1, retained)[0].Status())
	assert.Equal(t, ledger.StatusApproved, f.requests(t, 1, manual)[0].Status())

	f.now = f.now.Add(72 * time.Hour)
	res, err = f.scheduler.RunExecutionSweep(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Executed: 1}, res)
	assert.Equal(t, ledger.StatusExecuted, f.requests(t, 1, manual)[0].Status())

	again, err := f.scheduler.RunRetentionCheck(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, again.Evaluated)
}

func TestRunExecutionSweep_CancelledDuringCooloff(t *testing.T) {
	f := newFixture(t, date(2026, time.January, 1))
	patient := f.seed(t, 1, "MRN-1", date(2024, time.March, 1))
	ctx := tenant.WithClinic(context.Background(), 1)

	filed, err := f.ledger.File(ctx, ledger.FileInput{
		PatientID: patient, RequestedBy: "patient", Method: ledger.MethodEmail, LegalBasis: ledger.BasisConsentWithdrawn,
	})
	require.NoError(t, err)
	_, err = f.ledger.Evaluate(ctx, filed.ID, ledger.Evaluation{Decision: ledger.DecisionApprove, Evaluator: "dpo"})
	require.NoError(t, err)

	f.now = f.now.Add(71 * time.Hour)
	_, err = f.ledger.Cancel(ctx, filed.ID, "patient", "changed my mind")
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Hour)
	res, err := f.scheduler.RunExecutionSweep(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)
	assert.Equal(t, ledger.StatusCancelled, f.requests(t, 1, patient)[0].Status())
}

func TestRunRetentionCheck_CancelledContext(t *testing.T) {
	f := newFixture(t, date(2026, time.January, 1))
	f.seed(t, 1, "MRN-1", date(2010, time.March, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.scheduler.RunRetentionCheck(ctx, "")
	assert.Error(t, err)
}
