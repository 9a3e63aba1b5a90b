// Package services orchestrates ledger writes and the derived state that
// hangs off them: balances, budget spend, recurrence materialization and
// notification intents.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"flowledger/internal/balance"
	"flowledger/internal/core"
	"flowledger/internal/ledger"
	"flowledger/internal/notify"
)

// Options carries the injectable collaborators shared by every service.
type Options struct {
	// Now defaults to time.Now in UTC.
	Now func() time.Time
	// NewID defaults to random UUIDs.
	NewID func() string
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.NewString() }
	}
	return o
}

// Engine wires the services over a single store.
type Engine struct {
	Transactions *TransactionService
	Recurrence   *RecurrenceProcessor
	Budgets      *BudgetService
	Goals        *GoalService
	Alerts       *AlertService
	Balances     *balance.Cache
}

func NewEngine(store ledger.Store, balances *balance.Cache, sink notify.Sink, opts Options) *Engine {
	opts = opts.withDefaults()

	budgets := NewBudgetService(store, store, store, sink, opts)
	alerts := NewAlertService(store, store, store, sink, opts)
	txs := NewTransactionService(store, balances, budgets, alerts, sink, opts)

	return &Engine{
		Transactions: txs,
		Recurrence:   NewRecurrenceProcessor(store, txs, sink, opts),
		Budgets:      budgets,
		Goals:        NewGoalService(store, balances, store, sink, opts),
		Alerts:       alerts,
		Balances:     balances,
	}
}

// fireOnce records a notice for (userID, kind, key) and reports whether it
// had not been recorded before.
func fireOnce(ctx context.Context, notices ledger.NoticeStore, userID string, kind notify.Kind, key string, now time.Time) (bool, error) {
	return fireAfter(ctx, notices, userID, kind, key, now, 0)
}

// fireAfter is like fireOnce but allows the notice again once window has
// passed since the previous one. A zero window never allows it again.
func fireAfter(ctx context.Context, notices ledger.NoticeStore, userID string, kind notify.Kind, key string, now time.Time, window time.Duration) (bool, error) {
	last, ok, err := notices.LastNotice(ctx, userID, string(kind), key)
	if err != nil {
		return false, fmt.Errorf("look up %s notice: %w", kind, err)
	}
	if ok && (window <= 0 || now.Sub(last) < window) {
		return false, nil
	}
	if err := notices.MarkNotice(ctx, userID, string(kind), key, now); err != nil {
		return false, fmt.Errorf("mark %s notice: %w", kind, err)
	}
	return true, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, core.ErrNotFound)
}
