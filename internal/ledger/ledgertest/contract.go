// Package ledgertest holds behavioural tests shared by every ledger.Store
// implementation.
package ledgertest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowledger/internal/core"
	"flowledger/internal/ledger"
)

// Run exercises a fresh store from newStore in every subtest.
func Run(t *testing.T, newStore func(t *testing.T) ledger.Store) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, s ledger.Store)
	}{
		{"TransactionRoundTrip", testTransactionRoundTrip},
		{"ChildUniqueness", testChildUniqueness},
		{"FindTransactions", testFindTransactions},
		{"ActiveRecurring", testActiveRecurring},
		{"RecurrenceProgress", testRecurrenceProgress},
		{"Budgets", testBudgets},
		{"Goals", testGoals},
		{"UserBalances", testUserBalances},
		{"Notices", testNotices},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Tx builds a valid outflow for tests.
func Tx(id, user string, date time.Time, value string) core.Transaction {
	return core.Transaction{
		ID:           id,
		UserID:       user,
		Direction:    core.Outflow,
		MainCategory: "Food",
		SubCategory:  "Groceries",
		Amount:       amount(value),
		Currency:     core.USD,
		Date:         date.UTC(),
		Description:  "test " + id,
		CreatedAt:    date.UTC(),
		UpdatedAt:    date.UTC(),
	}
}

func testTransactionRoundTrip(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	date := time.Date(2025, time.March, 4, 10, 30, 0, 0, time.UTC)
	tx := Tx("t1", "u1", date, "12.34")
	tx.Recurrence = core.NewRecurrence(core.RecurrenceConfig{
		Frequency:  core.Monthly,
		DayOfMonth: core.IntPtr(4),
		EndDate:    core.TimePtr(core.NewDate(2025, time.December, 31)),
	}, date)

	require.NoError(t, s.InsertTransaction(ctx, tx))
	assert.ErrorIs(t, s.InsertTransaction(ctx, tx), core.ErrDuplicate)

	got, err := s.GetTransaction(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(tx.Amount))
	assert.Equal(t, tx.Date, got.Date)
	require.NotNil(t, got.Recurrence)
	assert.Equal(t, core.RecurrenceActive, got.Recurrence.State)
	assert.Equal(t, 4, *got.Recurrence.Config.DayOfMonth)
	assert.Equal(t, core.NewDate(2025, time.December, 31), *got.Recurrence.Config.EndDate)

	_, err = s.GetTransaction(ctx, "u2", "t1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	got.Amount = amount("20")
	require.NoError(t, got.Recurrence.Disable())
	require.NoError(t, s.UpdateTransaction(ctx, got))
	again, err := s.GetTransaction(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.True(t, again.Amount.Equal(amount("20")))
	assert.Equal(t, core.RecurrenceDisabled, again.Recurrence.State)

	require.NoError(t, s.DeleteTransaction(ctx, "u1", "t1"))
	assert.ErrorIs(t, s.DeleteTransaction(ctx, "u1", "t1"), core.ErrNotFound)
	assert.ErrorIs(t, s.UpdateTransaction(ctx, got), core.ErrNotFound)
}

func testChildUniqueness(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	date := core.NewDate(2025, time.April, 1)

	child := Tx("c1", "u1", date, "5")
	child.ParentTransactionID = "p1"
	require.NoError(t, s.InsertTransaction(ctx, child))

	exists, err := s.ChildExists(ctx, "p1", date)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.ChildExists(ctx, "p1", date.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.False(t, exists)

	dup := Tx("c2", "u1", date, "5")
	dup.ParentTransactionID = "p1"
	assert.ErrorIs(t, s.InsertTransaction(ctx, dup), core.ErrDuplicate)
}

func testFindTransactions(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	base := core.NewDate(2025, time.May, 1)

	inflow := Tx("t3", "u1", base.AddDate(0, 0, 2), "100")
	inflow.Direction = core.Inflow
	thb := Tx("t4", "u1", base.AddDate(0, 0, 3), "50")
	thb.Currency = core.THB
	other := Tx("t5", "u2", base, "1")
	rent := Tx("t6", "u1", base.AddDate(0, 0, 4), "700")
	rent.MainCategory, rent.SubCategory = "Housing", "Rent"

	for _, tx := range []core.Transaction{
		Tx("t1", "u1", base, "10"),
		Tx("t2", "u1", base.AddDate(0, 0, 1), "20"),
		inflow, thb, other, rent,
	} {
		require.NoError(t, s.InsertTransaction(ctx, tx))
	}

	all, err := s.FindTransactions(ctx, ledger.TransactionFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Equal(t, "t6", all[0].ID, "newest first")

	from, to := base, base.AddDate(0, 0, 1)
	window, err := s.FindTransactions(ctx, ledger.TransactionFilter{
		UserID: "u1", Currency: core.USD, Direction: core.Outflow, From: &from, To: &to,
	})
	require.NoError(t, err)
	assert.Len(t, window, 2)

	housing, err := s.FindTransactions(ctx, ledger.TransactionFilter{UserID: "u1", MainCategory: "Housing", SubCategory: "Rent"})
	require.NoError(t, err)
	require.Len(t, housing, 1)
	assert.Equal(t, "t6", housing[0].ID)

	limited, err := s.FindTransactions(ctx, ledger.TransactionFilter{UserID: "u1", Direction: core.Outflow, Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "t6", limited[0].ID)
}

func testActiveRecurring(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	date := core.NewDate(2025, time.January, 1)
	cfg := core.RecurrenceConfig{Frequency: core.Daily}

	active := Tx("r1", "u1", date, "1")
	active.Recurrence = core.NewRecurrence(cfg, date)
	ended := Tx("r2", "u1", date, "1")
	ended.Recurrence = core.NewRecurrence(cfg, date)
	require.NoError(t, ended.Recurrence.End())

	for _, tx := range []core.Transaction{active, ended, Tx("plain", "u1", date, "1")} {
		require.NoError(t, s.InsertTransaction(ctx, tx))
	}

	got, err := s.ListActiveRecurring(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)
}

func testRecurrenceProgress(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	date := core.NewDate(2025, time.January, 1)
	next := date.AddDate(0, 0, 1)

	parent := Tx("r1", "u1", date, "1")
	parent.Recurrence = core.NewRecurrence(core.RecurrenceConfig{Frequency: core.Daily}, date)
	require.NoError(t, s.InsertTransaction(ctx, parent))

	// A concurrent edit of other fields survives the progress write.
	edited := parent
	edited.Amount = amount("9")
	edited.Description = "edited"
	require.NoError(t, s.UpdateTransaction(ctx, edited))

	progress := parent
	progress.Recurrence = &core.Recurrence{State: core.RecurrenceActive, Config: parent.Recurrence.Config, LastCreatedDate: next}
	require.NoError(t, s.SaveRecurrenceProgress(ctx, progress, date))

	got, err := s.GetTransaction(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(amount("9")))
	assert.Equal(t, "edited", got.Description)
	assert.True(t, got.Recurrence.LastCreatedDate.Equal(next))

	assert.ErrorIs(t, s.SaveRecurrenceProgress(ctx, progress, date), core.ErrRecurrenceNotActive, "stale last created date")

	require.NoError(t, got.Recurrence.Disable())
	require.NoError(t, s.UpdateTransaction(ctx, got))
	assert.ErrorIs(t, s.SaveRecurrenceProgress(ctx, progress, next), core.ErrRecurrenceNotActive, "disabled in the meantime")

	got, err = s.GetTransaction(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.Equal(t, core.RecurrenceDisabled, got.Recurrence.State)

	missing := progress
	missing.ID = "nope"
	assert.ErrorIs(t, s.SaveRecurrenceProgress(ctx, missing, date), core.ErrNotFound)
}

func testBudgets(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	b := core.Budget{
		ID:        "b1",
		UserID:    "u1",
		Name:      "May",
		Currency:  core.USD,
		Period:    core.PeriodMonthly,
		StartDate: core.NewDate(2025, time.May, 1),
		EndDate:   time.Date(2025, time.May, 31, 23, 59, 59, 999999000, time.UTC),
		Categories: []core.CategoryBudget{
			{Key: "Food", Allocated: amount("300"), Spent: amount("120.5"), PercentageUsed: amount("40.17")},
			{Key: "Fun - Games", Allocated: amount("50")},
		},
		TotalBudget: amount("350"),
		TotalSpent:  amount("120.5"),
		Remaining:   amount("229.5"),
		Status:      core.BudgetActive,
		AutoCreate:  true,
	}
	require.NoError(t, s.InsertBudget(ctx, b))

	got, err := s.GetBudget(ctx, "u1", "b1")
	require.NoError(t, err)
	assert.Equal(t, b.EndDate, got.EndDate)
	require.Len(t, got.Categories, 2)
	assert.True(t, got.Categories[0].Spent.Equal(amount("120.5")))
	assert.True(t, got.AutoCreate)

	got.Status = core.BudgetCompleted
	require.NoError(t, s.UpdateBudget(ctx, got))

	child := b
	child.ID, child.ParentBudgetID = "b2", "b1"
	child.StartDate, child.EndDate = core.NewDate(2025, time.June, 1), time.Date(2025, time.June, 30, 23, 59, 59, 999999000, time.UTC)
	child.Status = core.BudgetUpcoming
	require.NoError(t, s.InsertBudget(ctx, child))

	twin := child
	twin.ID = "b3"
	assert.ErrorIs(t, s.InsertBudget(ctx, twin), core.ErrDuplicate)

	found, err := s.FindChildBudget(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "b2", found.ID)
	_, err = s.FindChildBudget(ctx, "b2")
	assert.ErrorIs(t, err, core.ErrNotFound)

	at := core.NewDate(2025, time.June, 15)
	covering, err := s.FindBudgets(ctx, ledger.BudgetFilter{UserID: "u1", Currency: core.USD, Covering: &at})
	require.NoError(t, err)
	require.Len(t, covering, 1)
	assert.Equal(t, "b2", covering[0].ID)

	completed, err := s.FindBudgets(ctx, ledger.BudgetFilter{Statuses: []core.BudgetStatus{core.BudgetCompleted}})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "b1", completed[0].ID)

	require.NoError(t, s.DeleteBudget(ctx, "u1", "b2"))
	_, err = s.GetBudget(ctx, "u1", "b2")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testGoals(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	g := core.Goal{
		ID:            "g1",
		UserID:        "u1",
		Name:          "Trip",
		TargetAmount:  amount("1000"),
		CurrentAmount: amount("250"),
		Currency:      core.USD,
		Status:        core.GoalActive,
		TargetDate:    core.TimePtr(core.NewDate(2025, time.December, 1)),
	}
	require.NoError(t, s.InsertGoal(ctx, g))
	done := g
	done.ID, done.Status = "g2", core.GoalAchieved
	require.NoError(t, s.InsertGoal(ctx, done))

	got, err := s.GetGoal(ctx, "u1", "g1")
	require.NoError(t, err)
	assert.True(t, got.CurrentAmount.Equal(amount("250")))
	require.NotNil(t, got.TargetDate)
	assert.Equal(t, core.NewDate(2025, time.December, 1), *got.TargetDate)

	got.CurrentAmount = amount("300")
	require.NoError(t, s.UpdateGoal(ctx, got))

	all, err := s.ListGoals(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := s.ListActiveGoals(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].CurrentAmount.Equal(amount("300")))

	require.NoError(t, s.DeleteGoal(ctx, "u1", "g2"))
	_, err = s.GetGoal(ctx, "u1", "g2")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testUserBalances(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertUser(ctx, core.User{ID: "u1", DefaultCurrency: core.MMK}))
	require.NoError(t, s.InsertUser(ctx, core.User{ID: "u2", DefaultCurrency: core.USD}))

	ids, err := s.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, ids)

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, u.Balances)
	assert.Equal(t, core.MMK, u.DefaultCurrency)

	balances := map[core.Currency]core.Balance{
		core.USD: {Currency: core.USD, Balance: amount("60"), Available: amount("60"), TotalInflow: amount("100"), TotalOutflow: amount("40")},
	}
	require.NoError(t, s.SaveBalances(ctx, "u1", balances, u.BalancesVersion))

	u, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Contains(t, u.Balances, core.USD)
	assert.True(t, u.Balances[core.USD].Balance.Equal(amount("60")))

	stale := u.BalancesVersion
	require.NoError(t, s.ClearBalances(ctx, "u1"))
	assert.ErrorIs(t, s.SaveBalances(ctx, "u1", balances, stale), core.ErrStale)

	u, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, u.Balances)
	assert.Greater(t, u.BalancesVersion, stale)

	_, err = s.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testNotices(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	_, ok, err := s.LastNotice(ctx, "u1", "budget_ending_soon", "b1")
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2025, time.May, 28, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkNotice(ctx, "u1", "budget_ending_soon", "b1", at))
	require.NoError(t, s.MarkNotice(ctx, "u1", "budget_ending_soon", "b1", at.Add(time.Hour)))

	got, ok, err := s.LastNotice(ctx, "u1", "budget_ending_soon", "b1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, at.Add(time.Hour), got)
}
