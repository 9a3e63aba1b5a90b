package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowledger/internal/core"
)

func TestAdjustAllocations(t *testing.T) {
	cats := []core.CategoryBudget{
		{Key: "A", Allocated: dec("100"), PercentageUsed: dec("40")},
		{Key: "B", Allocated: dec("100"), PercentageUsed: dec("70")},
		{Key: "C", Allocated: dec("100"), PercentageUsed: dec("90")},
		{Key: "D", Allocated: dec("100"), PercentageUsed: dec("110")},
		{Key: "E", Allocated: dec("100"), PercentageUsed: dec("150"), Spent: dec("150"), Exceeded: true},
	}

	adjusted := AdjustAllocations(cats, true)
	want := []string{"80", "90", "100", "110", "120"}
	for i, w := range want {
		assert.True(t, adjusted[i].Allocated.Equal(dec(w)), "%s: got %s want %s", cats[i].Key, adjusted[i].Allocated, w)
		assert.True(t, adjusted[i].Spent.IsZero())
		assert.False(t, adjusted[i].Exceeded)
	}

	copied := AdjustAllocations(cats, false)
	for i := range cats {
		assert.True(t, copied[i].Allocated.Equal(dec("100")))
	}
}

func TestNextBudget(t *testing.T) {
	prev := mayBudget(core.CategoryBudget{Key: "Food", Allocated: dec("200"), PercentageUsed: dec("30")})
	prev.AutoCreate = true
	prev.AdjustAllocations = true

	now := core.NewDate(2025, time.June, 1)
	next, err := NextBudget(prev, "b2", now)
	require.NoError(t, err)

	assert.Equal(t, "b1", next.ParentBudgetID)
	assert.Equal(t, core.NewDate(2025, time.June, 1), next.StartDate)
	assert.Equal(t, endOf(2025, time.June, 30), next.EndDate)
	assert.True(t, next.TotalBudget.Equal(dec("160")))
	assert.Equal(t, core.BudgetActive, next.Status)
	assert.True(t, next.AutoCreate)
}
