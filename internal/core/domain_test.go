package core

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTransaction() Transaction {
	return Transaction{
		ID:           "tx-1",
		UserID:       "user-1",
		Direction:    Outflow,
		MainCategory: "Food",
		SubCategory:  "Groceries",
		Amount:       decimal.NewFromInt(12),
		Currency:     USD,
		Date:         NewDate(2025, time.January, 10),
	}
}

func TestTransactionValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Transaction)
		wantErr error
	}{
		{name: "valid", mutate: func(*Transaction) {}},
		{name: "zero amount allowed", mutate: func(tx *Transaction) { tx.Amount = decimal.Zero }},
		{name: "missing user", mutate: func(tx *Transaction) { tx.UserID = "" }, wantErr: ErrMissingUser},
		{name: "bad direction", mutate: func(tx *Transaction) { tx.Direction = "sideways" }, wantErr: ErrInvalidDirection},
		{name: "empty category", mutate: func(tx *Transaction) { tx.MainCategory = " " }, wantErr: ErrEmptyCategory},
		{name: "negative amount", mutate: func(tx *Transaction) { tx.Amount = decimal.NewFromInt(-1) }, wantErr: ErrInvalidAmount},
		{name: "unknown currency", mutate: func(tx *Transaction) { tx.Currency = "eur" }, wantErr: ErrInvalidCurrency},
		{name: "zero date", mutate: func(tx *Transaction) { tx.Date = time.Time{} }, wantErr: ErrZeroDate},
		{
			name: "child cannot recur",
			mutate: func(tx *Transaction) {
				tx.ParentTransactionID = "parent"
				tx.Recurrence = NewRecurrence(RecurrenceConfig{Frequency: Daily}, tx.Date)
			},
			wantErr: ErrChildRecurrence,
		},
		{
			name: "bad day of week",
			mutate: func(tx *Transaction) {
				tx.Recurrence = NewRecurrence(RecurrenceConfig{Frequency: Weekly, DayOfWeek: IntPtr(7)}, tx.Date)
			},
			wantErr: ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := validTransaction()
			tt.mutate(&tx)
			err := tx.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestRecurrenceTransitions(t *testing.T) {
	start := NewDate(2025, time.March, 1)
	r := NewRecurrence(RecurrenceConfig{Frequency: Daily}, start)
	require.True(t, r.Active())

	next := start.AddDate(0, 0, 1)
	require.NoError(t, r.Advance(next))
	assert.Equal(t, next, r.LastCreatedDate)

	require.NoError(t, r.Disable())
	assert.Equal(t, RecurrenceDisabled, r.State)
	assert.True(t, errors.Is(r.Advance(next.AddDate(0, 0, 1)), ErrRecurrenceNotActive))
	assert.ErrorIs(t, r.End(), ErrRecurrenceNotActive)
	assert.ErrorIs(t, r.Disable(), ErrRecurrenceNotActive)

	r.Enable(next)
	require.NoError(t, r.End())
	assert.Equal(t, RecurrenceEnded, r.State)

	var none *Recurrence
	assert.False(t, none.Active())
}

func TestCategoryBudgetMatches(t *testing.T) {
	clothing := Transaction{MainCategory: "Shopping", SubCategory: "Clothing"}
	food := Transaction{MainCategory: "Food", SubCategory: "Clothing"}

	main := CategoryBudget{Key: "Shopping"}
	sub := CategoryBudget{Key: CategoryKey("Shopping", "Clothing")}
	other := CategoryBudget{Key: "Shopping - Electronics"}

	assert.True(t, main.Matches(clothing))
	assert.True(t, sub.Matches(clothing))
	assert.False(t, other.Matches(clothing))
	assert.False(t, sub.Matches(food))

	m, s := sub.Split()
	assert.Equal(t, "Shopping", m)
	assert.Equal(t, "Clothing", s)
}

func TestParseCurrency(t *testing.T) {
	c, err := ParseCurrency(" USD ")
	require.NoError(t, err)
	assert.Equal(t, USD, c)

	_, err = ParseCurrency("eur")
	assert.ErrorIs(t, err, ErrInvalidCurrency)
}

func TestMilestoneInterval(t *testing.T) {
	assert.True(t, MMK.MilestoneInterval().Equal(decimal.NewFromInt(1_000_000)))
	assert.True(t, THB.MilestoneInterval().Equal(decimal.NewFromInt(1000)))
	assert.True(t, MMK.Scale(50).Equal(decimal.NewFromInt(50_000)))
}

func TestGoalProgress(t *testing.T) {
	g := Goal{TargetAmount: decimal.NewFromInt(200), CurrentAmount: decimal.NewFromInt(50)}
	assert.True(t, g.Progress().Equal(decimal.NewFromInt(25)))
	assert.True(t, Percentage(decimal.NewFromInt(5), decimal.Zero).IsZero())
}

func TestBudgetContains(t *testing.T) {
	b := Budget{
		StartDate: NewDate(2025, time.May, 1),
		EndDate:   time.Date(2025, time.May, 31, 23, 59, 59, 999999000, time.UTC),
	}
	assert.True(t, b.Contains(b.StartDate))
	assert.True(t, b.Contains(b.EndDate))
	assert.False(t, b.Contains(NewDate(2025, time.June, 1)))
}
