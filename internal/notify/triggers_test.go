package notify

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowledger/internal/core"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func kinds(in []Intent) []Kind {
	out := make([]Kind, 0, len(in))
	for _, i := range in {
		out = append(out, i.Kind)
	}
	return out
}

func TestGoalProgress(t *testing.T) {
	g := core.Goal{ID: "g1", UserID: "u1", Name: "Bike", TargetAmount: d(1000), Currency: core.USD}

	tests := []struct {
		name       string
		old, new   int64
		milestones []int64
		achieved   bool
	}{
		{name: "40 to 60 fires only 50", old: 400, new: 600, milestones: []int64{50}},
		{name: "exactly on milestone fires", old: 200, new: 250, milestones: []int64{25}},
		{name: "already past milestone", old: 250, new: 260},
		{name: "jump across several", old: 0, new: 800, milestones: []int64{25, 50, 75}},
		{name: "reaching target", old: 900, new: 1000, achieved: true},
		{name: "decrease fires nothing", old: 600, new: 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GoalProgress(g, d(tt.old), d(tt.new))
			var milestones []int64
			achieved := false
			for _, in := range got {
				assert.Equal(t, "u1", in.UserID)
				switch in.Kind {
				case KindGoalProgress:
					milestones = append(milestones, in.Params["milestone"].(int64))
				case KindGoalAchieved:
					achieved = true
				}
			}
			assert.Equal(t, tt.milestones, milestones)
			assert.Equal(t, tt.achieved, achieved)
		})
	}
}

func TestGoalProgressDoesNotRefire(t *testing.T) {
	g := core.Goal{ID: "g1", UserID: "u1", TargetAmount: d(100), Currency: core.USD}
	first := GoalProgress(g, d(40), d(60))
	second := GoalProgress(g, d(60), d(70))
	assert.Len(t, first, 1)
	assert.Empty(t, second)
}

func TestGoalAmountMilestone(t *testing.T) {
	usd := core.Goal{ID: "g1", UserID: "u1", TargetAmount: d(10000), Currency: core.USD}
	mmk := core.Goal{ID: "g2", UserID: "u1", TargetAmount: d(10_000_000), Currency: core.MMK}

	in, ok := GoalAmountMilestone(usd, d(900), d(2100))
	require.True(t, ok)
	assert.Equal(t, KindGoalMilestoneAmount, in.Kind)
	assert.Equal(t, "2000", in.Params["milestone"])

	_, ok = GoalAmountMilestone(usd, d(1100), d(1900))
	assert.False(t, ok)

	_, ok = GoalAmountMilestone(mmk, d(900), d(5000))
	assert.False(t, ok)

	in, ok = GoalAmountMilestone(mmk, d(999_999), d(1_000_000))
	require.True(t, ok)
	assert.Equal(t, "1000000", in.Params["milestone"])
}

func TestBudgetThreshold(t *testing.T) {
	b := core.Budget{ID: "b1", UserID: "u1", Name: "May", Currency: core.USD}

	tests := []struct {
		name     string
		old, new int64
		want     Kind
	}{
		{name: "cross 80", old: 70, new: 85, want: KindBudgetThreshold},
		{name: "already above 80", old: 81, new: 90},
		{name: "cross 100", old: 90, new: 100, want: KindBudgetExceeded},
		{name: "jump past both", old: 50, new: 130, want: KindBudgetExceeded},
		{name: "already exceeded", old: 120, new: 150},
		{name: "below threshold", old: 10, new: 79},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, ok := BudgetThreshold(b, d(tt.old), d(tt.new))
			if tt.want == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, in.Kind)
			assert.Equal(t, "b1", in.Params["budget_id"])
		})
	}
}

func TestBudgetCrossings(t *testing.T) {
	before := core.Budget{
		ID: "b1", UserID: "u1", PercentageUsed: d(50),
		Categories: []core.CategoryBudget{
			{Key: "Food", PercentageUsed: d(70)},
			{Key: "Fun", PercentageUsed: d(95)},
		},
	}
	after := before
	after.PercentageUsed = d(82)
	after.Categories = []core.CategoryBudget{
		{Key: "Food", PercentageUsed: d(75)},
		{Key: "Fun", PercentageUsed: d(101)},
	}

	got := BudgetCrossings(before, after)
	assert.Equal(t, []Kind{KindBudgetThreshold, KindBudgetCategoryExceeded}, kinds(got))
	assert.Equal(t, "Fun", got[1].Params["category"])

	assert.Empty(t, BudgetCrossings(after, after))
}

func TestGoalDeadline(t *testing.T) {
	g := core.Goal{ID: "g1", UserID: "u1", TargetAmount: d(100), CurrentAmount: d(30)}
	reminders := []int{14, 7, 3}

	in, ok := GoalDeadline(g, 7, reminders)
	require.True(t, ok)
	assert.Equal(t, KindGoalApproachingDate, in.Kind)
	assert.Equal(t, 7, in.Params["days_left"])

	_, ok = GoalDeadline(g, 8, reminders)
	assert.False(t, ok)
}
