package domain

import "time"

// Encounter is a clinical visit. Only encounters move the retention clock.
type Encounter struct {
	ID             int64
	PatientID      int64
	ClinicID       int64
	ScheduledStart time.Time
	ActualStart    *time.Time
	Summary        string
}

// ActivityTime is the moment an encounter counts as clinical activity:
// the actual start when known, otherwise the scheduled start.
func (e Encounter) ActivityTime() time.Time {
	if e.ActualStart != nil {
		return *e.ActualStart
	}
	return e.ScheduledStart
}

// ClinicalNote is medical history attached to an encounter. Anonymization keeps it.
type ClinicalNote struct {
	ID          int64
	EncounterID int64
	PatientID   int64
	Body        string
	CreatedAt   time.Time
}
