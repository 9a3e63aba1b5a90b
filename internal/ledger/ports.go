// Package ledger declares the persistence ports the engine depends on.
// Implementations live in ledger/memory and storage.
package ledger

import (
	"context"
	"time"

	"flowledger/internal/core"
)

// TransactionFilter narrows a ledger query. Zero-valued fields do not filter.
// From and To are inclusive. Results are ordered newest first; Limit > 0 caps
// the result size.
type TransactionFilter struct {
	UserID       string
	Currency     core.Currency
	Direction    core.Direction
	MainCategory string
	SubCategory  string
	From         *time.Time
	To           *time.Time
	Limit        int
}

// BudgetFilter narrows a budget query. Covering keeps budgets whose window
// contains the instant.
type BudgetFilter struct {
	UserID   string
	Currency core.Currency
	Statuses []core.BudgetStatus
	Covering *time.Time
}

type (
	LedgerStore interface {
		// InsertTransaction returns core.ErrDuplicate when a materialized child
		// for the same parent and date already exists.
		InsertTransaction(ctx context.Context, tx core.Transaction) error
		UpdateTransaction(ctx context.Context, tx core.Transaction) error
		DeleteTransaction(ctx context.Context, userID, id string) error
		GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error)
		FindTransactions(ctx context.Context, f TransactionFilter) ([]core.Transaction, error)
		// ListActiveRecurring returns every transaction whose recurrence is active.
		ListActiveRecurring(ctx context.Context) ([]core.Transaction, error)
		ChildExists(ctx context.Context, parentID string, date time.Time) (bool, error)
		// SaveRecurrenceProgress writes only the recurrence state, last created
		// date and update time of tx, and only while the stored recurrence is
		// still active at prevLast. Otherwise it returns core.ErrRecurrenceNotActive.
		SaveRecurrenceProgress(ctx context.Context, tx core.Transaction, prevLast time.Time) error
	}

	BudgetStore interface {
		InsertBudget(ctx context.Context, b core.Budget) error
		UpdateBudget(ctx context.Context, b core.Budget) error
		DeleteBudget(ctx context.Context, userID, id string) error
		GetBudget(ctx context.Context, userID, id string) (core.Budget, error)
		FindBudgets(ctx context.Context, f BudgetFilter) ([]core.Budget, error)
		// FindChildBudget returns the budget rolled over from parentID, or core.ErrNotFound.
		FindChildBudget(ctx context.Context, parentID string) (core.Budget, error)
	}

	GoalStore interface {
		InsertGoal(ctx context.Context, g core.Goal) error
		UpdateGoal(ctx context.Context, g core.Goal) error
		DeleteGoal(ctx context.Context, userID, id string) error
		GetGoal(ctx context.Context, userID, id string) (core.Goal, error)
		ListGoals(ctx context.Context, userID string) ([]core.Goal, error)
		ListActiveGoals(ctx context.Context) ([]core.Goal, error)
	}

	UserStore interface {
		InsertUser(ctx context.Context, u core.User) error
		GetUser(ctx context.Context, id string) (core.User, error)
		ListUserIDs(ctx context.Context) ([]string, error)
		// SaveBalances stores the cached map only if the user's balances version
		// still equals version; otherwise it returns core.ErrStale.
		SaveBalances(ctx context.Context, userID string, balances map[core.Currency]core.Balance, version int64) error
		// ClearBalances drops the cached map and bumps the version.
		ClearBalances(ctx context.Context, userID string) error
	}

	// NoticeStore remembers when a time-based notification was last emitted
	// so sweeps can fire it once.
	NoticeStore interface {
		LastNotice(ctx context.Context, userID, kind, key string) (time.Time, bool, error)
		MarkNotice(ctx context.Context, userID, kind, key string, at time.Time) error
	}

	// Store bundles every port; both implementations satisfy it.
	Store interface {
		LedgerStore
		BudgetStore
		GoalStore
		UserStore
		NoticeStore
	}
)

// Match reports whether tx satisfies every populated field of f, ignoring Limit.
func (f TransactionFilter) Match(tx core.Transaction) bool {
	switch {
	case f.UserID != "" && tx.UserID != f.UserID:
		return false
	case f.Currency != "" && tx.Currency != f.Currency:
		return false
	case f.Direction != "" && tx.Direction != f.Direction:
		return false
	case f.MainCategory != "" && tx.MainCategory != f.MainCategory:
		return false
	case f.SubCategory != "" && tx.SubCategory != f.SubCategory:
		return false
	case f.From != nil && tx.Date.Before(f.From.UTC()):
		return false
	case f.To != nil && tx.Date.After(f.To.UTC()):
		return false
	}
	return true
}

// Match reports whether b satisfies every populated field of f.
func (f BudgetFilter) Match(b core.Budget) bool {
	if f.UserID != "" && b.UserID != f.UserID {
		return false
	}
	if f.Currency != "" && b.Currency != f.Currency {
		return false
	}
	if f.Covering != nil && !b.Contains(*f.Covering) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if b.Status == s {
			return true
		}
	}
	return false
}
