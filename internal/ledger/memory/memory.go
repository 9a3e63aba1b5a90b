// Package memory is an in-process implementation of the ledger ports, used by
// tests and single-instance runs without a database file.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"flowledger/internal/core"
	"flowledger/internal/ledger"
)

type noticeKey struct {
	userID, kind, key string
}

type Store struct {
	mu      sync.Mutex
	txs     map[string]core.Transaction
	budgets map[string]core.Budget
	goals   map[string]core.Goal
	users   map[string]core.User
	notices map[noticeKey]time.Time
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		txs:     make(map[string]core.Transaction),
		budgets: make(map[string]core.Budget),
		goals:   make(map[string]core.Goal),
		users:   make(map[string]core.User),
		notices: make(map[noticeKey]time.Time),
	}
}

func (s *Store) InsertTransaction(_ context.Context, tx core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.txs[tx.ID]; ok {
		return fmt.Errorf("transaction %s: %w", tx.ID, core.ErrDuplicate)
	}
	if tx.Materialized() && s.childExists(tx.ParentTransactionID, tx.Date) {
		return fmt.Errorf("child of %s on %s: %w", tx.ParentTransactionID, tx.Date.Format(time.DateOnly), core.ErrDuplicate)
	}
	s.txs[tx.ID] = cloneTransaction(tx)
	return nil
}

func (s *Store) UpdateTransaction(_ context.Context, tx core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.txs[tx.ID]
	if !ok || cur.UserID != tx.UserID {
		return fmt.Errorf("transaction %s: %w", tx.ID, core.ErrNotFound)
	}
	s.txs[tx.ID] = cloneTransaction(tx)
	return nil
}

func (s *Store) SaveRecurrenceProgress(_ context.Context, tx core.Transaction, prevLast time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.txs[tx.ID]
	if !ok || cur.UserID != tx.UserID {
		return fmt.Errorf("transaction %s: %w", tx.ID, core.ErrNotFound)
	}
	if !cur.Recurrence.Active() || !cur.Recurrence.LastCreatedDate.Equal(prevLast) || tx.Recurrence == nil {
		return fmt.Errorf("transaction %s: %w", tx.ID, core.ErrRecurrenceNotActive)
	}
	next := cloneTransaction(cur)
	next.Recurrence.State = tx.Recurrence.State
	next.Recurrence.LastCreatedDate = tx.Recurrence.LastCreatedDate.UTC()
	next.UpdatedAt = tx.UpdatedAt
	s.txs[tx.ID] = next
	return nil
}

func (s *Store) DeleteTransaction(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.txs[id]
	if !ok || cur.UserID != userID {
		return fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	delete(s.txs, id)
	return nil
}

func (s *Store) GetTransaction(_ context.Context, userID, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[id]
	if !ok || tx.UserID != userID {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	return cloneTransaction(tx), nil
}

func (s *Store) FindTransactions(_ context.Context, f ledger.TransactionFilter) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.Transaction
	for _, tx := range s.txs {
		if f.Match(tx) {
			out = append(out, cloneTransaction(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) ListActiveRecurring(_ context.Context) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.Transaction
	for _, tx := range s.txs {
		if tx.Recurring() {
			out = append(out, cloneTransaction(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ChildExists(_ context.Context, parentID string, date time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.childExists(parentID, date), nil
}

func (s *Store) childExists(parentID string, date time.Time) bool {
	for _, tx := range s.txs {
		if tx.ParentTransactionID == parentID && tx.Date.Equal(date) {
			return true
		}
	}
	return false
}

func (s *Store) InsertBudget(_ context.Context, b core.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.budgets[b.ID]; ok {
		return fmt.Errorf("budget %s: %w", b.ID, core.ErrDuplicate)
	}
	if b.ParentBudgetID != "" {
		for _, other := range s.budgets {
			if other.ParentBudgetID == b.ParentBudgetID {
				return fmt.Errorf("rollover of %s: %w", b.ParentBudgetID, core.ErrDuplicate)
			}
		}
	}
	s.budgets[b.ID] = cloneBudget(b)
	return nil
}

func (s *Store) UpdateBudget(_ context.Context, b core.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.budgets[b.ID]
	if !ok || cur.UserID != b.UserID {
		return fmt.Errorf("budget %s: %w", b.ID, core.ErrNotFound)
	}
	s.budgets[b.ID] = cloneBudget(b)
	return nil
}

func (s *Store) DeleteBudget(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.budgets[id]
	if !ok || cur.UserID != userID {
		return fmt.Errorf("budget %s: %w", id, core.ErrNotFound)
	}
	delete(s.budgets, id)
	return nil
}

func (s *Store) GetBudget(_ context.Context, userID, id string) (core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.budgets[id]
	if !ok || b.UserID != userID {
		return core.Budget{}, fmt.Errorf("budget %s: %w", id, core.ErrNotFound)
	}
	return cloneBudget(b), nil
}

func (s *Store) FindBudgets(_ context.Context, f ledger.BudgetFilter) ([]core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.Budget
	for _, b := range s.budgets {
		if f.Match(b) {
			out = append(out, cloneBudget(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) FindChildBudget(_ context.Context, parentID string) (core.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.budgets {
		if b.ParentBudgetID == parentID {
			return cloneBudget(b), nil
		}
	}
	return core.Budget{}, fmt.Errorf("rollover of %s: %w", parentID, core.ErrNotFound)
}

func (s *Store) InsertGoal(_ context.Context, g core.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.goals[g.ID]; ok {
		return fmt.Errorf("goal %s: %w", g.ID, core.ErrDuplicate)
	}
	s.goals[g.ID] = cloneGoal(g)
	return nil
}

func (s *Store) UpdateGoal(_ context.Context, g core.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.goals[g.ID]
	if !ok || cur.UserID != g.UserID {
		return fmt.Errorf("goal %s: %w", g.ID, core.ErrNotFound)
	}
	s.goals[g.ID] = cloneGoal(g)
	return nil
}

func (s *Store) DeleteGoal(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.goals[id]
	if !ok || cur.UserID != userID {
		return fmt.Errorf("goal %s: %w", id, core.ErrNotFound)
	}
	delete(s.goals, id)
	return nil
}

func (s *Store) GetGoal(_ context.Context, userID, id string) (core.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.goals[id]
	if !ok || g.UserID != userID {
		return core.Goal{}, fmt.Errorf("goal %s: %w", id, core.ErrNotFound)
	}
	return cloneGoal(g), nil
}

func (s *Store) ListGoals(_ context.Context, userID string) ([]core.Goal, error) {
	return s.listGoals(func(g core.Goal) bool { return g.UserID == userID }), nil
}

func (s *Store) ListActiveGoals(_ context.Context) ([]core.Goal, error) {
	return s.listGoals(func(g core.Goal) bool { return g.Status == core.GoalActive }), nil
}

func (s *Store) listGoals(keep func(core.Goal) bool) []core.Goal {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.Goal
	for _, g := range s.goals {
		if keep(g) {
			out = append(out, cloneGoal(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) InsertUser(_ context.Context, u core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("user %s: %w", u.ID, core.ErrDuplicate)
	}
	u.Balances = maps.Clone(u.Balances)
	s.users[u.ID] = u
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return core.User{}, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	u.Balances = maps.Clone(u.Balances)
	return u, nil
}

func (s *Store) ListUserIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.users)), nil
}

func (s *Store) SaveBalances(_ context.Context, userID string, balances map[core.Currency]core.Balance, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, core.ErrNotFound)
	}
	if u.BalancesVersion != version {
		return fmt.Errorf("balances of %s: %w", userID, core.ErrStale)
	}
	u.Balances = maps.Clone(balances)
	s.users[userID] = u
	return nil
}

func (s *Store) ClearBalances(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, core.ErrNotFound)
	}
	u.Balances = nil
	u.BalancesVersion++
	s.users[userID] = u
	return nil
}

func (s *Store) LastNotice(_ context.Context, userID, kind, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at, ok := s.notices[noticeKey{userID, kind, key}]
	return at, ok, nil
}

func (s *Store) MarkNotice(_ context.Context, userID, kind, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notices[noticeKey{userID, kind, key}] = at.UTC()
	return nil
}

func cloneTransaction(tx core.Transaction) core.Transaction {
	if tx.Recurrence != nil {
		r := *tx.Recurrence
		tx.Recurrence = &r
	}
	return tx
}

func cloneBudget(b core.Budget) core.Budget {
	b.Categories = slices.Clone(b.Categories)
	return b
}

func cloneGoal(g core.Goal) core.Goal {
	if g.TargetDate != nil {
		d := *g.TargetDate
		g.TargetDate = &d
	}
	return g
}
