package core

import (
	"errors"
	"time"
)

// RecurrenceState tracks the lifecycle of a recurring transaction.
//
//	active -> active    (Advance, an occurrence was materialized)
//	active -> ended     (End, no further occurrence exists)
//	active -> disabled  (Disable, by the user or because a child was edited)
//	ended|disabled -> active (Enable, explicit user action)
type RecurrenceState string

const (
	RecurrenceActive   RecurrenceState = "active"
	RecurrenceEnded    RecurrenceState = "ended"
	RecurrenceDisabled RecurrenceState = "disabled"
)

var ErrRecurrenceNotActive = errors.New("recurrence is not active")

// Recurrence is the recurring sub-object owned by a transaction.
type Recurrence struct {
	State           RecurrenceState
	Config          RecurrenceConfig
	LastCreatedDate time.Time
}

// NewRecurrence starts an active recurrence whose first occurrence is the
// transaction itself.
func NewRecurrence(cfg RecurrenceConfig, from time.Time) *Recurrence {
	return &Recurrence{
		State:           RecurrenceActive,
		Config:          cfg,
		LastCreatedDate: from.UTC(),
	}
}

func (r *Recurrence) Active() bool {
	return r != nil && r.State == RecurrenceActive
}

// Advance records that the occurrence at next has been materialized.
func (r *Recurrence) Advance(next time.Time) error {
	if !r.Active() {
		return ErrRecurrenceNotActive
	}
	r.LastCreatedDate = next.UTC()
	return nil
}

// End retires the recurrence because no further occurrence exists.
func (r *Recurrence) End() error {
	if !r.Active() {
		return ErrRecurrenceNotActive
	}
	r.State = RecurrenceEnded
	return nil
}

// Disable stops the recurrence on request.
func (r *Recurrence) Disable() error {
	if !r.Active() {
		return ErrRecurrenceNotActive
	}
	r.State = RecurrenceDisabled
	return nil
}

// Enable reactivates a stopped recurrence from the given instant.
func (r *Recurrence) Enable(from time.Time) {
	r.State = RecurrenceActive
	r.LastCreatedDate = from.UTC()
}
