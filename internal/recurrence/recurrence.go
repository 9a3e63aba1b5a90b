package recurrence

import (
	"time"

	"flowledger/internal/core"
)

const (
	DefaultPreviewCount = 5
	MaxPreviewCount     = 10
)

// NextOccurrence computes the occurrence that follows last. It returns false
// when the recurrence has run past its end date or the config cannot produce
// another occurrence. The end date is inclusive.
func NextOccurrence(last time.Time, cfg core.RecurrenceConfig) (time.Time, bool) {
	last = last.UTC()

	var end time.Time
	if cfg.EndDate != nil {
		end = cfg.EndDate.UTC()
		if !last.Before(end) {
			return time.Time{}, false
		}
	}

	stepper, ok := GetStepper(cfg.Frequency)
	if !ok {
		return time.Time{}, false
	}
	next, ok := stepper.Step(last, cfg)
	if !ok {
		return time.Time{}, false
	}
	if cfg.EndDate != nil && next.After(end) {
		return time.Time{}, false
	}
	return next, true
}

// Preview lists up to count upcoming occurrences after start. A non-positive
// count selects DefaultPreviewCount; counts above MaxPreviewCount are capped.
func Preview(start time.Time, cfg core.RecurrenceConfig, count int) []time.Time {
	if count <= 0 {
		count = DefaultPreviewCount
	}
	count = min(count, MaxPreviewCount)

	out := make([]time.Time, 0, count)
	cur := start
	for len(out) < count {
		next, ok := NextOccurrence(cur, cfg)
		if !ok {
			break
		}
		out = append(out, next)
		cur = next
	}
	return out
}
