package core

import "github.com/shopspring/decimal"

// BudgetSummary aggregates the budgets of one user in one currency.
type BudgetSummary struct {
	Currency  Currency
	Total     int
	Upcoming  int
	Active    int
	Completed int
	Exceeded  int
	Allocated decimal.Decimal
	Spent     decimal.Decimal
	Remaining decimal.Decimal
}
