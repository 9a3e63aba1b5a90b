// Package recurrence computes occurrence dates for recurring transactions.
//
// Each frequency has its own Stepper that knows how to move from one
// occurrence to the next; NextOccurrence layers the end-date rules on top.
package recurrence

import (
	"time"

	"flowledger/internal/core"
)

// Stepper is the strategy for a single frequency. Step returns false when the
// config lacks a field the frequency requires.
type Stepper interface {
	Step(last time.Time, cfg core.RecurrenceConfig) (time.Time, bool)
}

// DailyStepper advances by one calendar day.
type DailyStepper struct{}

func (DailyStepper) Step(last time.Time, _ core.RecurrenceConfig) (time.Time, bool) {
	return last.AddDate(0, 0, 1), true
}

// WeeklyStepper advances to the configured weekday strictly after last.
type WeeklyStepper struct{}

func (WeeklyStepper) Step(last time.Time, cfg core.RecurrenceConfig) (time.Time, bool) {
	if cfg.DayOfWeek == nil || *cfg.DayOfWeek < 0 || *cfg.DayOfWeek > 6 {
		return time.Time{}, false
	}
	ahead := *cfg.DayOfWeek - mondayIndex(last)
	if ahead <= 0 {
		ahead += 7
	}
	return last.AddDate(0, 0, ahead), true
}

// MonthlyStepper moves to the configured day of the following month, clamped
// to that month's last day.
type MonthlyStepper struct{}

func (MonthlyStepper) Step(last time.Time, cfg core.RecurrenceConfig) (time.Time, bool) {
	if cfg.DayOfMonth == nil || *cfg.DayOfMonth < 1 || *cfg.DayOfMonth > 31 {
		return time.Time{}, false
	}
	first := time.Date(last.Year(), last.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	day := min(*cfg.DayOfMonth, daysIn(first.Year(), first.Month()))
	return withClock(first.Year(), first.Month(), day, last), true
}

// AnnualStepper moves to the configured month and day of the following year.
// A day that does not exist in the target month falls back to the 28th.
type AnnualStepper struct{}

func (AnnualStepper) Step(last time.Time, cfg core.RecurrenceConfig) (time.Time, bool) {
	if cfg.Month == nil || cfg.DayOfMonth == nil {
		return time.Time{}, false
	}
	month, day := *cfg.Month, *cfg.DayOfMonth
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	year := last.Year() + 1
	if day > daysIn(year, time.Month(month)) {
		day = 28
	}
	return withClock(year, time.Month(month), day, last), true
}

var steppers = map[core.Frequency]Stepper{
	core.Daily:    DailyStepper{},
	core.Weekly:   WeeklyStepper{},
	core.Monthly:  MonthlyStepper{},
	core.Annually: AnnualStepper{},
}

// GetStepper returns the strategy registered for a frequency.
func GetStepper(freq core.Frequency) (Stepper, bool) {
	s, ok := steppers[freq]
	return s, ok
}

// RegisterStepper installs the strategy for a frequency. Not safe for use
// concurrently with NextOccurrence; register during init.
func RegisterStepper(freq core.Frequency, s Stepper) {
	steppers[freq] = s
}

// mondayIndex maps a weekday to 0 (Monday) .. 6 (Sunday).
func mondayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func withClock(year int, month time.Month, day int, clock time.Time) time.Time {
	return time.Date(year, month, day, clock.Hour(), clock.Minute(), clock.Second(), clock.Nanosecond(), time.UTC)
}
