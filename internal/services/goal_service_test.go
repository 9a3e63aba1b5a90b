package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowledger/internal/core"
	"flowledger/internal/notify"
)

func newGoal(target string) core.Goal {
	return core.Goal{
		UserID:       testUser,
		Name:         "Bike",
		TargetAmount: dec(target),
		Currency:     core.USD,
	}
}

func TestGoalService_Contribute(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()

	f.create(t, txn(core.Inflow, "Salary", "", "1000", now))
	g, err := f.engine.Goals.Create(ctx, newGoal("500"))
	require.NoError(t, err)
	assert.Equal(t, core.GoalActive, g.Status)

	g, err = f.engine.Goals.Contribute(ctx, testUser, g.ID, dec("200"))
	require.NoError(t, err)
	assert.True(t, g.CurrentAmount.Equal(dec("200")))
	assert.Equal(t, 1, f.sink.count(notify.KindGoalProgress))
	assert.True(t, f.available(t, core.USD).Equal(dec("800")), "contributions are reserved from the available balance")

	_, err = f.engine.Goals.Contribute(ctx, testUser, g.ID, dec("900"))
	assert.ErrorIs(t, err, core.ErrInsufficientFunds)

	_, err = f.engine.Goals.Contribute(ctx, testUser, g.ID, dec("-250"))
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	_, err = f.engine.Goals.Contribute(ctx, testUser, g.ID, decimal.Zero)
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	f.sink.reset()
	g, err = f.engine.Goals.Contribute(ctx, testUser, g.ID, dec("300"))
	require.NoError(t, err)
	assert.Equal(t, core.GoalAchieved, g.Status)
	assert.Equal(t, []notify.Kind{notify.KindGoalProgress, notify.KindGoalProgress, notify.KindGoalAchieved}, f.sink.kinds())

	g, err = f.engine.Goals.Contribute(ctx, testUser, g.ID, dec("-100"))
	require.NoError(t, err)
	assert.Equal(t, core.GoalActive, g.Status)
	assert.True(t, f.available(t, core.USD).Equal(dec("600")))
}

func TestGoalService_AmountMilestone(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()

	f.create(t, txn(core.Inflow, "Salary", "", "10000", now))
	g, err := f.engine.Goals.Create(ctx, newGoal("8000"))
	require.NoError(t, err)

	_, err = f.engine.Goals.Contribute(ctx, testUser, g.ID, dec("2500"))
	require.NoError(t, err)

	var milestones []notify.Intent
	for _, in := range f.sink.intents {
		if in.Kind == notify.KindGoalMilestoneAmount {
			milestones = append(milestones, in)
		}
	}
	require.Len(t, milestones, 1, "only the highest milestone reached is reported")
	assert.Equal(t, "2000", milestones[0].Params["milestone"])
}

func TestGoalService_CreateReservesStartingAmount(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()

	g := newGoal("500")
	g.CurrentAmount = dec("50")
	_, err := f.engine.Goals.Create(ctx, g)
	assert.ErrorIs(t, err, core.ErrInsufficientFunds)

	f.create(t, txn(core.Inflow, "Gift", "", "60", now))
	_, err = f.engine.Goals.Create(ctx, g)
	require.NoError(t, err)
	assert.True(t, f.available(t, core.USD).Equal(dec("10")))
}

func TestGoalService_DeadlineSweep(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()

	g := newGoal("500")
	g.TargetDate = core.TimePtr(core.NewDate(2025, time.March, 24))
	_, err := f.engine.Goals.Create(ctx, g)
	require.NoError(t, err)
	_, err = f.engine.Goals.Create(ctx, newGoal("100"))
	require.NoError(t, err)

	sent, err := f.engine.Goals.RunGoalDeadlineSweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	sent, err = f.engine.Goals.RunGoalDeadlineSweep(ctx, now.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, sent, "a reminder fires once")

	sent, err = f.engine.Goals.RunGoalDeadlineSweep(ctx, core.NewDate(2025, time.March, 15))
	require.NoError(t, err)
	assert.Zero(t, sent)

	sent, err = f.engine.Goals.RunGoalDeadlineSweep(ctx, core.NewDate(2025, time.March, 17))
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 2, f.sink.count(notify.KindGoalApproachingDate))
}
