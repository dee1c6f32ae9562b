// Package retention decides when the statutory retention period of a patient record has run out.
package retention

import (
	"time"

	"github.com/hengadev/gdprvault/internal/domain"
)

// DefaultYears is the statutory retention period applied when none is configured.
const DefaultYears = 15

// Status is the retention position of a single patient at a point in time.
type Status struct {
	PatientID    int64
	LastActivity time.Time
	Cutoff       time.Time
	// ExpiresAt is the last activity moved forward by the retention period.
	ExpiresAt time.Time
	Expired   bool
}

// Clock evaluates the retention policy against an injected notion of now.
type Clock struct {
	years int
	now   func() time.Time
}

// NewClock returns a Clock for a retention period of years. A nil now uses time.Now.
func NewClock(years int, now func() time.Time) *Clock {
	if years <= 0 {
		years = DefaultYears
	}
	if now == nil {
		now = time.Now
	}
	return &Clock{years: years, now: now}
}

// Years is the configured retention period.
func (c *Clock) Years() int {
	return c.years
}

// Cutoff is now minus the retention period, by calendar years.
func (c *Clock) Cutoff() time.Time {
	return SubtractYears(c.now(), c.years)
}

// Evaluate computes the retention status of patient given its encounters.
// Only encounters count as activity; edits to the patient row never reset the clock.
func (c *Clock) Evaluate(patient domain.Patient, encounters []domain.Encounter) Status {
	last := LastActivity(patient.CreatedAt, encounters)
	cutoff := c.Cutoff()
	return Status{
		PatientID:    patient.ID,
		LastActivity: last,
		Cutoff:       cutoff,
		ExpiresAt:    SubtractYears(last, -c.years),
		Expired:      !last.After(cutoff),
	}
}

// IsExpired reports whether the retention period of patient has elapsed.
func (c *Clock) IsExpired(patient domain.Patient, encounters []domain.Encounter) bool {
	return c.Evaluate(patient, encounters).Expired
}

// LastActivity is the latest encounter activity time, or createdAt without encounters.
func LastActivity(createdAt time.Time, encounters []domain.Encounter) time.Time {
	if len(encounters) == 0 {
		return createdAt
	}
	last := encounters[0].ActivityTime()
	for _, e := range encounters[1:] {
		if at := e.ActivityTime(); at.After(last) {
			last = at
		}
	}
	return last
}

// SubtractYears moves t back by whole calendar years, keeping month, day and clock time.
// A negative years moves t forward.
// 29 February maps to 28 February in non-leap target years instead of rolling into March.
func SubtractYears(t time.Time, years int) time.Time {
	year := t.Year() - years
	day := t.Day()
	if t.Month() == time.February && day == 29 && !isLeap(year) {
		day = 28
	}
	return time.Date(year, t.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}
