package notify

import (
	"time"

	"github.com/shopspring/decimal"

	"flowledger/internal/core"
)

var (
	goalMilestones  = []int64{25, 50, 75}
	budgetThreshold = decimal.NewFromInt(80)
	budgetLimit     = decimal.NewFromInt(100)
)

// crossed reports old < bound <= new.
func crossed(oldV, newV, bound decimal.Decimal) bool {
	return oldV.LessThan(bound) && newV.GreaterThanOrEqual(bound)
}

// GoalProgress returns one intent per progress milestone crossed when the
// goal's saved amount moves from oldAmount to newAmount.
func GoalProgress(g core.Goal, oldAmount, newAmount decimal.Decimal) []Intent {
	oldPct := core.Percentage(oldAmount, g.TargetAmount)
	newPct := core.Percentage(newAmount, g.TargetAmount)

	var out []Intent
	for _, m := range goalMilestones {
		if crossed(oldPct, newPct, decimal.NewFromInt(m)) {
			out = append(out, Intent{
				UserID: g.UserID,
				Kind:   KindGoalProgress,
				Params: map[string]any{
					"goal_id":   g.ID,
					"goal_name": g.Name,
					"milestone": m,
					"progress":  newPct.Round(2).String(),
				},
			})
		}
	}
	if crossed(oldPct, newPct, budgetLimit) {
		out = append(out, Intent{
			UserID: g.UserID,
			Kind:   KindGoalAchieved,
			Params: map[string]any{
				"goal_id":       g.ID,
				"goal_name":     g.Name,
				"target_amount": g.TargetAmount.String(),
				"currency":      string(g.Currency),
			},
		})
	}
	return out
}

// GoalAmountMilestone fires when the saved amount passes a multiple of the
// currency's milestone interval. Only the highest milestone reached is
// reported.
func GoalAmountMilestone(g core.Goal, oldAmount, newAmount decimal.Decimal) (Intent, bool) {
	interval := g.Currency.MilestoneInterval()
	oldSteps := oldAmount.Div(interval).Floor()
	newSteps := newAmount.Div(interval).Floor()
	if !newSteps.GreaterThan(oldSteps) || !newSteps.IsPositive() {
		return Intent{}, false
	}
	return Intent{
		UserID: g.UserID,
		Kind:   KindGoalMilestoneAmount,
		Params: map[string]any{
			"goal_id":   g.ID,
			"goal_name": g.Name,
			"milestone": newSteps.Mul(interval).String(),
			"currency":  string(g.Currency),
		},
	}, true
}

// BudgetThreshold fires on the edge where overall usage crosses 80% or 100%.
// Jumping straight past 100% reports only the exceeded intent.
func BudgetThreshold(b core.Budget, oldPct, newPct decimal.Decimal) (Intent, bool) {
	params := map[string]any{
		"budget_id":   b.ID,
		"budget_name": b.Name,
		"percentage":  newPct.Round(2).String(),
		"currency":    string(b.Currency),
	}
	switch {
	case crossed(oldPct, newPct, budgetLimit):
		return Intent{UserID: b.UserID, Kind: KindBudgetExceeded, Params: params}, true
	case crossed(oldPct, newPct, budgetThreshold) && newPct.LessThan(budgetLimit):
		return Intent{UserID: b.UserID, Kind: KindBudgetThreshold, Params: params}, true
	}
	return Intent{}, false
}

// CategoryThreshold is BudgetThreshold for a single category rule.
func CategoryThreshold(b core.Budget, c core.CategoryBudget, oldPct, newPct decimal.Decimal) (Intent, bool) {
	in, ok := BudgetThreshold(b, oldPct, newPct)
	if !ok {
		return Intent{}, false
	}
	in.Params["category"] = c.Key
	if in.Kind == KindBudgetExceeded {
		in.Kind = KindBudgetCategoryExceeded
	} else {
		in.Kind = KindBudgetCategoryThreshold
	}
	return in, true
}

// BudgetCrossings compares two snapshots of the same budget and returns the
// overall and per-category crossing intents.
func BudgetCrossings(before, after core.Budget) []Intent {
	var out []Intent
	if in, ok := BudgetThreshold(after, before.PercentageUsed, after.PercentageUsed); ok {
		out = append(out, in)
	}
	old := make(map[string]decimal.Decimal, len(before.Categories))
	for _, c := range before.Categories {
		old[c.Key] = c.PercentageUsed
	}
	for _, c := range after.Categories {
		if in, ok := CategoryThreshold(after, c, old[c.Key], c.PercentageUsed); ok {
			out = append(out, in)
		}
	}
	return out
}

// GoalDeadline fires when the goal is exactly one of the reminder distances
// away from its target date.
func GoalDeadline(g core.Goal, daysLeft int, reminders []int) (Intent, bool) {
	for _, d := range reminders {
		if daysLeft == d {
			return Intent{
				UserID: g.UserID,
				Kind:   KindGoalApproachingDate,
				Params: map[string]any{
					"goal_id":   g.ID,
					"goal_name": g.Name,
					"days_left": daysLeft,
					"progress":  g.Progress().Round(2).String(),
				},
			}, true
		}
	}
	return Intent{}, false
}

// The builders below wrap lifecycle events that need no threshold logic.

func RecurrenceCreated(parent, child core.Transaction) Intent {
	return Intent{
		UserID: parent.UserID,
		Kind:   KindRecurrenceCreated,
		Params: map[string]any{
			"parent_transaction_id": parent.ID,
			"transaction_id":        child.ID,
			"amount":                child.Amount.String(),
			"currency":              string(child.Currency),
			"category":              core.CategoryKey(child.MainCategory, child.SubCategory),
			"date":                  child.Date.Format(time.RFC3339),
		},
	}
}

func RecurrenceEnded(parent core.Transaction) Intent {
	return Intent{
		UserID: parent.UserID,
		Kind:   KindRecurrenceEnded,
		Params: map[string]any{
			"transaction_id": parent.ID,
			"category":       core.CategoryKey(parent.MainCategory, parent.SubCategory),
			"description":    parent.Description,
		},
	}
}

func RecurrenceDisabled(parent core.Transaction, childID string) Intent {
	return Intent{
		UserID: parent.UserID,
		Kind:   KindRecurrenceDisabled,
		Params: map[string]any{
			"transaction_id":        parent.ID,
			"edited_transaction_id": childID,
			"category":              core.CategoryKey(parent.MainCategory, parent.SubCategory),
		},
	}
}

func budgetParams(b core.Budget) map[string]any {
	return map[string]any{
		"budget_id":    b.ID,
		"budget_name":  b.Name,
		"currency":     string(b.Currency),
		"total_budget": b.TotalBudget.String(),
		"start_date":   b.StartDate.Format(time.DateOnly),
		"end_date":     b.EndDate.Format(time.DateOnly),
	}
}

func BudgetStarted(b core.Budget) Intent {
	return Intent{UserID: b.UserID, Kind: KindBudgetStarted, Params: budgetParams(b)}
}

func BudgetNowActive(b core.Budget) Intent {
	return Intent{UserID: b.UserID, Kind: KindBudgetNowActive, Params: budgetParams(b)}
}

func BudgetEndingSoon(b core.Budget, daysLeft int) Intent {
	p := budgetParams(b)
	p["days_left"] = daysLeft
	p["remaining"] = b.Remaining.String()
	return Intent{UserID: b.UserID, Kind: KindBudgetEndingSoon, Params: p}
}

func BudgetAutoCreated(prev, next core.Budget) Intent {
	p := budgetParams(next)
	p["parent_budget_id"] = prev.ID
	p["adjusted"] = next.AdjustAllocations
	return Intent{UserID: next.UserID, Kind: KindBudgetAutoCreated, Params: p}
}

func LargeTransaction(tx core.Transaction, threshold decimal.Decimal) Intent {
	return Intent{
		UserID: tx.UserID,
		Kind:   KindLargeTransaction,
		Params: map[string]any{
			"transaction_id": tx.ID,
			"amount":         tx.Amount.String(),
			"currency":       string(tx.Currency),
			"category":       core.CategoryKey(tx.MainCategory, tx.SubCategory),
			"threshold":      threshold.Round(2).String(),
		},
	}
}

func UnusualSpending(userID string, currency core.Currency, category string, thisWeek, weeklyAverage decimal.Decimal) Intent {
	return Intent{
		UserID: userID,
		Kind:   KindUnusualSpending,
		Params: map[string]any{
			"category":       category,
			"currency":       string(currency),
			"this_week":      thisWeek.Round(2).String(),
			"weekly_average": weeklyAverage.Round(2).String(),
			"increase":       core.Percentage(thisWeek.Sub(weeklyAverage), weeklyAverage).Round(0).String(),
		},
	}
}
