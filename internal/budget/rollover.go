package budget

import (
	"time"

	"github.com/shopspring/decimal"

	"flowledger/internal/core"
)

var (
	pct50  = decimal.NewFromInt(50)
	pct80  = decimal.NewFromInt(80)
	pct100 = decimal.NewFromInt(100)
	pct120 = decimal.NewFromInt(120)
)

// AdjustAllocations prepares category rules for the next period. When adjust
// is false allocations are copied; otherwise each allocation is scaled by how
// much of it was used in the finished period.
func AdjustAllocations(cats []core.CategoryBudget, adjust bool) []core.CategoryBudget {
	out := make([]core.CategoryBudget, len(cats))
	for i, c := range cats {
		alloc := c.Allocated
		if adjust {
			alloc = alloc.Mul(adjustmentFactor(c.PercentageUsed)).Round(2)
		}
		out[i] = core.CategoryBudget{Key: c.Key, Allocated: alloc}
	}
	return out
}

func adjustmentFactor(used decimal.Decimal) decimal.Decimal {
	switch {
	case used.LessThan(pct50):
		return decimal.RequireFromString("0.8")
	case used.LessThan(pct80):
		return decimal.RequireFromString("0.9")
	case used.GreaterThan(pct120):
		return decimal.RequireFromString("1.2")
	case used.GreaterThan(pct100):
		return decimal.RequireFromString("1.1")
	default:
		return decimal.NewFromInt(1)
	}
}

// NextBudget builds the successor of a finished auto-rolling budget. Derived
// fields start empty; the caller recomputes them once the budget is active.
func NextBudget(prev core.Budget, id string, now time.Time) (core.Budget, error) {
	start, end, err := NextPeriod(prev)
	if err != nil {
		return core.Budget{}, err
	}
	cats := AdjustAllocations(prev.Categories, prev.AdjustAllocations)
	next := core.Budget{
		ID:                id,
		UserID:            prev.UserID,
		Name:              prev.Name,
		Description:       prev.Description,
		Currency:          prev.Currency,
		Period:            prev.Period,
		StartDate:         start,
		EndDate:           end,
		Categories:        cats,
		TotalBudget:       TotalAllocated(cats),
		AutoCreate:        prev.AutoCreate,
		AdjustAllocations: prev.AdjustAllocations,
		ParentBudgetID:    prev.ID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	next.Remaining = next.TotalBudget
	next.Status = Status(next, now)
	return next, nil
}
