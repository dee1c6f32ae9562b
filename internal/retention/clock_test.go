package retention

import (
	"testing"
	"time"

	"github.com/hengadev/gdprvault/internal/domain"
	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func fixed(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestClock_ScenarioFifteenYears(t *testing.T) {
	patient := domain.Patient{ID: 1, CreatedAt: date(2010, time.January, 1)}
	encounters := []domain.Encounter{{ScheduledStart: date(2010, time.March, 1)}}

	tests := []struct {
		name    string
		now     time.Time
		expired bool
	}{
		{name: "day before anniversary", now: date(2025, time.February, 28), expired: false},
		{name: "anniversary", now: date(2025, time.March, 1), expired: true},
		{name: "well after", now: date(2026, time.January, 1), expired: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewClock(15, fixed(tt.now))
			assert.Equal(t, tt.expired, clock.IsExpired(patient, encounters))
		})
	}
}

func TestClock_NewEncounterResetsClock(t *testing.T) {
	now := date(2030, time.June, 15)
	clock := NewClock(15, fixed(now))
	patient := domain.Patient{ID: 1, CreatedAt: date(2000, time.January, 1)}
	encounters := []domain.Encounter{{ScheduledStart: date(2001, time.May, 1)}}

	assert.True(t, clock.IsExpired(patient, encounters))

	encounters = append(encounters, domain.Encounter{ScheduledStart: now.Add(-time.Hour), ActualStart: &now})
	status := clock.Evaluate(patient, encounters)
	assert.False(t, status.Expired)
	assert.Equal(t, now, status.LastActivity)
}

func TestLastActivity(t *testing.T) {
	created := date(2012, time.January, 1)
	actual := date(2014, time.July, 3)

	tests := []struct {
		name       string
		encounters []domain.Encounter
		expected   time.Time
	}{
		{
			name:     "no encounters falls back to creation",
			expected: created,
		},
		{
			name: "actual start wins over scheduled start",
			encounters: []domain.Encounter{
				{ScheduledStart: date(2014, time.July, 1), ActualStart: &actual},
			},
			expected: actual,
		},
		{
			name: "maximum across encounters",
			encounters: []domain.Encounter{
				{ScheduledStart: date(2013, time.March, 1)},
				{ScheduledStart: date(2016, time.March, 1)},
				{ScheduledStart: date(2015, time.March, 1)},
			},
			expected: date(2016, time.March, 1),
		},
		{
			name: "encounter earlier than creation still counts",
			encounters: []domain.Encounter{
				{ScheduledStart: date(2011, time.March, 1)},
			},
			expected: date(2011, time.March, 1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, LastActivity(created, tt.encounters))
		})
	}
}

func TestSubtractYears(t *testing.T) {
	tests := []struct {
		name     string
		from     time.Time
		years    int
		expected time.Time
	}{
		{name: "plain date", from: date(2025, time.March, 1), years: 15, expected: date(2010, time.March, 1)},
		{name: "leap day into non-leap year clamps", from: date(2024, time.February, 29), years: 15, expected: date(2009, time.February, 28)},
		{name: "leap day into leap year", from: date(2024, time.February, 29), years: 4, expected: date(2020, time.February, 29)},
		{name: "keeps clock time", from: time.Date(2025, time.May, 5, 13, 30, 0, 0, time.UTC), years: 1, expected: time.Date(2024, time.May, 5, 13, 30, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SubtractYears(tt.from, tt.years))
		})
	}
}

func TestNewClock_Defaults(t *testing.T) {
	clock := NewClock(0, nil)
	assert.Equal(t, DefaultYears, clock.Years())
}

func TestClock_ExpiresAt(t *testing.T) {
	clock := NewClock(15, fixed(date(2025, time.January, 1)))
	patient := domain.Patient{ID: 1, CreatedAt: date(2008, time.February, 29)}

	status := clock.Evaluate(patient, nil)
	assert.Equal(t, date(2023, time.February, 28), status.ExpiresAt)
	assert.True(t, status.Expired)
}
