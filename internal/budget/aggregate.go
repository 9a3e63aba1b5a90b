package budget

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"flowledger/internal/core"
)

// Recompute derives spend, totals and status for b from the given ledger
// slice. Transactions outside the budget's user, currency, window or
// direction are ignored. Every rule sums all the transactions it matches; a
// transaction matched by several rules is counted once in the total.
func Recompute(b core.Budget, txs []core.Transaction, now time.Time) core.Budget {
	cats := make([]core.CategoryBudget, len(b.Categories))
	for i, c := range b.Categories {
		cats[i] = core.CategoryBudget{Key: c.Key, Allocated: c.Allocated, Spent: decimal.Zero}
	}

	counted := make(map[string]struct{})
	totalSpent := decimal.Zero
	for i, tx := range txs {
		if !applies(b, tx) {
			continue
		}
		key := tx.ID
		if key == "" {
			key = fmt.Sprintf("#%d", i)
		}
		if _, seen := counted[key]; seen {
			continue
		}
		for j := range cats {
			if !cats[j].Matches(tx) {
				continue
			}
			cats[j].Spent = cats[j].Spent.Add(tx.Amount)
			if _, seen := counted[key]; !seen {
				counted[key] = struct{}{}
				totalSpent = totalSpent.Add(tx.Amount)
			}
		}
	}

	for i := range cats {
		cats[i].PercentageUsed = core.Percentage(cats[i].Spent, cats[i].Allocated).Round(2)
		cats[i].Exceeded = cats[i].Spent.GreaterThan(cats[i].Allocated)
	}

	b.Categories = cats
	b.TotalBudget = TotalAllocated(cats)
	b.TotalSpent = totalSpent
	b.Remaining = b.TotalBudget.Sub(totalSpent)
	b.PercentageUsed = core.Percentage(totalSpent, b.TotalBudget).Round(2)
	b.Status = Status(b, now)
	return b
}

func applies(b core.Budget, tx core.Transaction) bool {
	return tx.Direction == core.Outflow &&
		tx.UserID == b.UserID &&
		tx.Currency == b.Currency &&
		b.Contains(tx.Date)
}

// TotalAllocated sums the allocations, skipping a "Main - Sub" rule whose main
// category also has its own rule.
func TotalAllocated(cats []core.CategoryBudget) decimal.Decimal {
	mains := make(map[string]bool)
	for _, c := range cats {
		if main, sub := c.Split(); sub == "" {
			mains[main] = true
		}
	}
	total := decimal.Zero
	for _, c := range cats {
		main, sub := c.Split()
		if sub != "" && mains[main] {
			continue
		}
		total = total.Add(c.Allocated)
	}
	return total
}

// Status evaluates the budget state machine at now:
// upcoming before the window, completed after it, otherwise exceeded or active.
func Status(b core.Budget, now time.Time) core.BudgetStatus {
	now = now.UTC()
	switch {
	case now.Before(b.StartDate):
		return core.BudgetUpcoming
	case now.After(b.EndDate):
		return core.BudgetCompleted
	case b.TotalSpent.GreaterThan(b.TotalBudget):
		return core.BudgetExceeded
	}
	for _, c := range b.Categories {
		if c.Exceeded {
			return core.BudgetExceeded
		}
	}
	return core.BudgetActive
}

// ValidateCategories rejects duplicate keys and reports main/sub overlaps,
// which are allowed but resolved by rule order.
func ValidateCategories(cats []core.CategoryBudget) ([]string, error) {
	seen := make(map[string]bool, len(cats))
	mains := make(map[string]bool)
	for _, c := range cats {
		main, sub := c.Split()
		key := core.CategoryKey(main, sub)
		if seen[key] {
			return nil, fmt.Errorf("%w: %q", core.ErrDuplicateCategory, key)
		}
		seen[key] = true
		if sub == "" {
			mains[main] = true
		}
	}

	var warnings []string
	for _, c := range cats {
		main, sub := c.Split()
		if sub != "" && mains[main] {
			warnings = append(warnings, fmt.Sprintf(
				"category %q overlaps main category %q; the total counts each transaction once",
				c.Key, main))
		}
	}
	return warnings, nil
}

// Summarize groups budgets per currency.
func Summarize(budgets []core.Budget) map[core.Currency]core.BudgetSummary {
	out := make(map[core.Currency]core.BudgetSummary)
	for _, b := range budgets {
		s, ok := out[b.Currency]
		if !ok {
			s = core.BudgetSummary{Currency: b.Currency}
		}
		s.Total++
		switch b.Status {
		case core.BudgetUpcoming:
			s.Upcoming++
		case core.BudgetActive:
			s.Active++
		case core.BudgetCompleted:
			s.Completed++
		case core.BudgetExceeded:
			s.Exceeded++
		}
		s.Allocated = s.Allocated.Add(b.TotalBudget)
		s.Spent = s.Spent.Add(b.TotalSpent)
		s.Remaining = s.Allocated.Sub(s.Spent)
		out[b.Currency] = s
	}
	return out
}
