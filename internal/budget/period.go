// Package budget derives budget windows, per-category spend and status.
// Everything here is pure; persistence and notifications live in services.
package budget

import (
	"fmt"
	"time"

	"flowledger/internal/core"
)

// StartOfDay truncates t to 00:00:00 UTC of its day.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns 23:59:59.999999 UTC of t's day.
func EndOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999000, time.UTC)
}

// PeriodBounds computes the inclusive window of the period containing anchor.
// explicitEnd is required for custom periods and ignored otherwise.
func PeriodBounds(kind core.PeriodKind, anchor time.Time, explicitEnd *time.Time) (time.Time, time.Time, error) {
	anchor = anchor.UTC()

	switch kind {
	case core.PeriodCustom:
		if explicitEnd == nil || explicitEnd.IsZero() {
			return time.Time{}, time.Time{}, core.ErrMissingEndDate
		}
		start, end := StartOfDay(anchor), EndOfDay(*explicitEnd)
		if end.Before(start) {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: end date before start date", core.ErrValidation)
		}
		return start, end, nil
	case core.PeriodWeekly:
		offset := (int(anchor.Weekday()) + 6) % 7
		start := StartOfDay(anchor.AddDate(0, 0, -offset))
		return start, EndOfDay(start.AddDate(0, 0, 6)), nil
	case core.PeriodMonthly:
		start := time.Date(anchor.Year(), anchor.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, EndOfDay(start.AddDate(0, 1, -1)), nil
	case core.PeriodYearly:
		start := time.Date(anchor.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		return start, EndOfDay(time.Date(anchor.Year(), time.December, 31, 0, 0, 0, 0, time.UTC)), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", core.ErrInvalidPeriod, kind)
	}
}

// NextPeriod returns the window that immediately follows the budget's window.
// Custom periods keep their length.
func NextPeriod(b core.Budget) (time.Time, time.Time, error) {
	start := StartOfDay(b.EndDate).AddDate(0, 0, 1)
	if b.Period == core.PeriodCustom {
		days := int(StartOfDay(b.EndDate).Sub(StartOfDay(b.StartDate)).Hours() / 24)
		end := start.AddDate(0, 0, days)
		return PeriodBounds(core.PeriodCustom, start, &end)
	}
	return PeriodBounds(b.Period, start, nil)
}
