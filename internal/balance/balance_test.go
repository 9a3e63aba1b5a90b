package balance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowledger/internal/core"
	"flowledger/internal/ledger"
	"flowledger/internal/ledger/memory"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type countingStore struct {
	*memory.Store
	finds     atomic.Int32
	failSaves bool
}

func (s *countingStore) FindTransactions(ctx context.Context, f ledger.TransactionFilter) ([]core.Transaction, error) {
	s.finds.Add(1)
	return s.Store.FindTransactions(ctx, f)
}

func (s *countingStore) SaveBalances(ctx context.Context, userID string, b map[core.Currency]core.Balance, v int64) error {
	if s.failSaves {
		return errors.New("disk full")
	}
	return s.Store.SaveBalances(ctx, userID, b, v)
}

func newStore(t *testing.T, defaultCurrency core.Currency) *countingStore {
	t.Helper()
	s := &countingStore{Store: memory.New()}
	require.NoError(t, s.InsertUser(context.Background(), core.User{ID: "u1", DefaultCurrency: defaultCurrency}))
	return s
}

func addTx(t *testing.T, s ledger.LedgerStore, id string, dir core.Direction, amount string, cur core.Currency) {
	t.Helper()
	require.NoError(t, s.InsertTransaction(context.Background(), core.Transaction{
		ID:           id,
		UserID:       "u1",
		Direction:    dir,
		MainCategory: "General",
		Amount:       dec(amount),
		Currency:     cur,
		Date:         core.NewDate(2025, time.January, 1),
	}))
}

func TestGetBalanceInvalidation(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, core.USD)
	c := New(s, s, s, WithFrontSize(16))

	addTx(t, s, "t1", core.Inflow, "100", core.USD)
	addTx(t, s, "t2", core.Outflow, "40", core.USD)

	v, err := c.GetBalance(ctx, "u1", core.USD)
	require.NoError(t, err)
	assert.True(t, v.For(core.USD).Balance.Equal(dec("60")))
	assert.True(t, v.For(core.USD).TotalInflow.Equal(dec("100")))

	addTx(t, s, "t3", core.Outflow, "10", core.USD)
	require.NoError(t, c.Invalidate(ctx, "u1"))

	v, err = c.GetBalance(ctx, "u1", core.USD)
	require.NoError(t, err)
	assert.True(t, v.For(core.USD).Balance.Equal(dec("50")))
}

func TestGetBalanceServesPersistedFigures(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, core.USD)
	c := New(s, s, s)

	addTx(t, s, "t1", core.Inflow, "100", core.USD)
	_, err := c.GetBalance(ctx, "u1", "")
	require.NoError(t, err)

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Contains(t, u.Balances, core.USD)

	// Writes that skip invalidation are not observed: reads come from the user record.
	addTx(t, s, "t2", core.Inflow, "5", core.USD)
	v, err := c.GetBalance(ctx, "u1", core.USD)
	require.NoError(t, err)
	assert.True(t, v.For(core.USD).Balance.Equal(dec("100")))
	assert.Equal(t, int32(1), s.finds.Load())
}

func TestGetBalanceCurrencies(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, core.USD)
	c := New(s, s, s)

	addTx(t, s, "t1", core.Inflow, "500000", core.MMK)
	addTx(t, s, "t2", core.Inflow, "300", core.THB)
	require.NoError(t, s.InsertGoal(ctx, core.Goal{
		ID: "g1", UserID: "u1", Name: "Phone", TargetAmount: dec("1000"),
		CurrentAmount: dec("120"), Currency: core.THB, Status: core.GoalAchieved,
	}))

	all, err := c.GetBalance(ctx, "u1", "")
	require.NoError(t, err)
	assert.Len(t, all.Balances, 2)

	thb := all.For(core.THB)
	assert.True(t, thb.AllocatedToGoals.Equal(dec("120")))
	assert.True(t, thb.Available.Equal(dec("180")))

	usd, err := c.GetBalance(ctx, "u1", core.USD)
	require.NoError(t, err)
	require.Len(t, usd.Balances, 1)
	assert.True(t, usd.For(core.USD).Balance.IsZero())
}

func TestGetBalanceFallsBackToDefaultCurrency(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, core.MMK)
	c := New(s, s, s)

	v, err := c.GetBalance(ctx, "u1", "")
	require.NoError(t, err)
	require.Len(t, v.Balances, 1)
	assert.Contains(t, v.Balances, core.MMK)

	require.NoError(t, s.InsertUser(ctx, core.User{ID: "u2"}))
	c = New(s, s, s, WithDefaultCurrency(core.THB))
	v, err = c.GetBalance(ctx, "u2", "")
	require.NoError(t, err)
	assert.Contains(t, v.Balances, core.THB)
}

func TestGetBalanceReturnsFreshValueWhenPersistFails(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, core.USD)
	s.failSaves = true
	c := New(s, s, s, WithFrontSize(4))

	addTx(t, s, "t1", core.Inflow, "25", core.USD)
	v, err := c.GetBalance(ctx, "u1", core.USD)
	require.NoError(t, err)
	assert.True(t, v.For(core.USD).Balance.Equal(dec("25")))

	_, err = c.GetBalance(ctx, "u1", core.USD)
	require.NoError(t, err)
	assert.Equal(t, int32(2), s.finds.Load(), "unpersisted figures are recomputed on the next read")
}

func TestGetBalanceConcurrentReadsShareOneRecompute(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, core.USD)
	c := New(s, s, s, WithFrontSize(4))
	addTx(t, s, "t1", core.Inflow, "10", core.USD)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetBalance(ctx, "u1", core.USD)
			assert.NoError(t, err)
			assert.True(t, v.For(core.USD).Balance.Equal(dec("10")))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), s.finds.Load())
}

func TestGetBalanceUnknownUser(t *testing.T) {
	s := newStore(t, core.USD)
	c := New(s, s, s)
	_, err := c.GetBalance(context.Background(), "nobody", "")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.NoError(t, c.Invalidate(context.Background(), "nobody"))
}

func TestViewIsACopy(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, core.USD)
	c := New(s, s, s, WithFrontSize(4))
	addTx(t, s, "t1", core.Inflow, "10", core.USD)

	v, err := c.GetBalance(ctx, "u1", "")
	require.NoError(t, err)
	delete(v.Balances, core.USD)

	again, err := c.GetBalance(ctx, "u1", "")
	require.NoError(t, err)
	assert.Contains(t, again.Balances, core.USD)
}
