package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowledger/internal/core"
	"flowledger/internal/ledger"
	"flowledger/internal/notify"
)

func TestRecurrenceSweep_Idempotent(t *testing.T) {
	start := core.NewDate(2025, time.January, 1)
	f := newFixture(t, start)
	ctx := context.Background()

	parent := txn(core.Outflow, "Coffee", "", "3", start)
	parent.Recurrence = core.NewRecurrence(core.RecurrenceConfig{Frequency: core.Daily}, start)
	parent = f.create(t, parent)

	now := time.Date(2025, time.January, 2, 12, 0, 0, 0, time.UTC)
	first, err := f.engine.Recurrence.RunRecurrenceSweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, RecurrenceSweepResult{Checked: 1, Created: 1}, first)

	second, err := f.engine.Recurrence.RunRecurrenceSweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, RecurrenceSweepResult{Checked: 1}, second)

	txs, err := f.store.FindTransactions(ctx, ledger.TransactionFilter{UserID: testUser})
	require.NoError(t, err)
	require.Len(t, txs, 2)

	child := findChild(t, txs, parent.ID)
	assert.Equal(t, core.NewDate(2025, time.January, 2), child.Date)
	assert.Nil(t, child.Recurrence)
	assert.True(t, child.Amount.Equal(parent.Amount))

	got, err := f.store.GetTransaction(ctx, testUser, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, core.NewDate(2025, time.January, 2), got.Recurrence.LastCreatedDate)
	assert.Equal(t, 1, f.sink.count(notify.KindRecurrenceCreated))
}

func TestRecurrenceSweep_OneOccurrencePerTick(t *testing.T) {
	start := core.NewDate(2025, time.January, 1)
	f := newFixture(t, start)
	ctx := context.Background()

	parent := txn(core.Inflow, "Salary", "", "10", start)
	parent.Recurrence = core.NewRecurrence(core.RecurrenceConfig{Frequency: core.Daily}, start)
	f.create(t, parent)

	now := core.NewDate(2025, time.January, 10)
	for range 3 {
		res, err := f.engine.Recurrence.RunRecurrenceSweep(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Created)
	}

	txs, err := f.store.FindTransactions(ctx, ledger.TransactionFilter{UserID: testUser})
	require.NoError(t, err)
	assert.Len(t, txs, 4)
	assert.Equal(t, core.NewDate(2025, time.January, 4), txs[0].Date, "newest child is the third catch-up occurrence")
}

func TestRecurrenceSweep_MonthEndClamping(t *testing.T) {
	start := core.NewDate(2025, time.January, 31)
	f := newFixture(t, start)
	ctx := context.Background()

	parent := txn(core.Outflow, "Rent", "", "800", start)
	parent.Recurrence = core.NewRecurrence(core.RecurrenceConfig{Frequency: core.Monthly, DayOfMonth: core.IntPtr(31)}, start)
	parent = f.create(t, parent)

	now := core.NewDate(2025, time.April, 30)
	for range 3 {
		_, err := f.engine.Recurrence.RunRecurrenceSweep(ctx, now)
		require.NoError(t, err)
	}

	got, err := f.store.GetTransaction(ctx, testUser, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, core.NewDate(2025, time.April, 30), got.Recurrence.LastCreatedDate)

	txs, err := f.store.FindTransactions(ctx, ledger.TransactionFilter{UserID: testUser})
	require.NoError(t, err)
	var dates []time.Time
	for _, tx := range txs {
		if tx.Materialized() {
			dates = append(dates, tx.Date)
		}
	}
	assert.ElementsMatch(t, []time.Time{
		core.NewDate(2025, time.February, 28),
		core.NewDate(2025, time.March, 31),
		core.NewDate(2025, time.April, 30),
	}, dates)
}

func TestRecurrenceSweep_EndsAfterEndDate(t *testing.T) {
	start := core.NewDate(2025, time.January, 1)
	f := newFixture(t, start)
	ctx := context.Background()

	parent := txn(core.Outflow, "Course", "", "20", start)
	parent.Recurrence = core.NewRecurrence(core.RecurrenceConfig{
		Frequency: core.Weekly,
		DayOfWeek: core.IntPtr(2),
		EndDate:   core.TimePtr(core.NewDate(2025, time.January, 10)),
	}, start)
	parent = f.create(t, parent)

	now := core.NewDate(2025, time.February, 1)
	res, err := f.engine.Recurrence.RunRecurrenceSweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created, "Jan 8 is the last Wednesday before the end date")

	res, err = f.engine.Recurrence.RunRecurrenceSweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, RecurrenceSweepResult{Checked: 1, Ended: 1}, res)

	got, err := f.store.GetTransaction(ctx, testUser, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RecurrenceEnded, got.Recurrence.State)
	assert.Equal(t, 1, f.sink.count(notify.KindRecurrenceEnded))

	res, err = f.engine.Recurrence.RunRecurrenceSweep(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, res.Checked)
}

func TestRecurrenceSweep_ExistingChildAdvancesParent(t *testing.T) {
	start := core.NewDate(2025, time.January, 1)
	f := newFixture(t, start)
	ctx := context.Background()

	parent := txn(core.Outflow, "Coffee", "", "3", start)
	parent.Recurrence = core.NewRecurrence(core.RecurrenceConfig{Frequency: core.Daily}, start)
	parent = f.create(t, parent)

	// A previous run inserted the child but crashed before advancing the parent.
	orphan := txn(core.Outflow, "Coffee", "", "3", core.NewDate(2025, time.January, 2))
	orphan.ID = "orphan"
	orphan.ParentTransactionID = parent.ID
	require.NoError(t, f.store.InsertTransaction(ctx, orphan))

	res, err := f.engine.Recurrence.RunRecurrenceSweep(ctx, core.NewDate(2025, time.January, 2))
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Zero(t, f.sink.count(notify.KindRecurrenceCreated))

	got, err := f.store.GetTransaction(ctx, testUser, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, core.NewDate(2025, time.January, 2), got.Recurrence.LastCreatedDate)
}

type failingLedger struct {
	ledger.LedgerStore
	err error
}

func (f failingLedger) ChildExists(context.Context, string, time.Time) (bool, error) {
	return false, f.err
}

func TestRecurrenceSweep_StoreErrorAborts(t *testing.T) {
	start := core.NewDate(2025, time.January, 1)
	f := newFixture(t, start)
	ctx := context.Background()

	for _, cat := range []string{"A", "B"} {
		tx := txn(core.Outflow, cat, "", "1", start)
		tx.Recurrence = core.NewRecurrence(core.RecurrenceConfig{Frequency: core.Daily}, start)
		f.create(t, tx)
	}

	boom := errors.New("disk unavailable")
	p := NewRecurrenceProcessor(failingLedger{LedgerStore: f.store, err: boom}, f.engine.Transactions, f.sink, Options{})
	res, err := p.RunRecurrenceSweep(ctx, core.NewDate(2025, time.January, 5))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, res.Checked)
	assert.Zero(t, res.Created)
}

// editingLedger runs an edit right after the sweep has listed the parents.
type editingLedger struct {
	ledger.LedgerStore
	afterScan func()
}

func (l editingLedger) ListActiveRecurring(ctx context.Context) ([]core.Transaction, error) {
	txs, err := l.LedgerStore.ListActiveRecurring(ctx)
	if err == nil {
		l.afterScan()
	}
	return txs, err
}

func TestRecurrenceSweep_RespectsEditsMadeDuringSweep(t *testing.T) {
	start := core.NewDate(2025, time.January, 1)
	now := core.NewDate(2025, time.January, 5)
	ctx := context.Background()

	newParent := func(f *fixture) core.Transaction {
		tx := txn(core.Outflow, "Gym", "", "30", start)
		tx.Recurrence = core.NewRecurrence(core.RecurrenceConfig{Frequency: core.Daily}, start)
		return f.create(t, tx)
	}

	t.Run("disabled after the scan stays disabled", func(t *testing.T) {
		f := newFixture(t, start)
		parent := newParent(f)

		edit := func() {
			_, err := f.engine.Transactions.DisableRecurrence(ctx, testUser, parent.ID)
			require.NoError(t, err)
		}
		p := NewRecurrenceProcessor(editingLedger{LedgerStore: f.store, afterScan: edit}, f.engine.Transactions, f.sink, Options{})

		res, err := p.RunRecurrenceSweep(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, RecurrenceSweepResult{Checked: 1}, res)

		got, err := f.store.GetTransaction(ctx, testUser, parent.ID)
		require.NoError(t, err)
		assert.Equal(t, core.RecurrenceDisabled, got.Recurrence.State)

		txs, err := f.store.FindTransactions(ctx, ledger.TransactionFilter{UserID: testUser})
		require.NoError(t, err)
		assert.Len(t, txs, 1)
	})

	t.Run("amount edited after the scan is kept and copied", func(t *testing.T) {
		f := newFixture(t, start)
		parent := newParent(f)

		edit := func() {
			changed := parent
			changed.Amount = dec("45")
			_, err := f.engine.Transactions.Update(ctx, changed)
			require.NoError(t, err)
		}
		p := NewRecurrenceProcessor(editingLedger{LedgerStore: f.store, afterScan: edit}, f.engine.Transactions, f.sink, Options{})

		res, err := p.RunRecurrenceSweep(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Created)

		got, err := f.store.GetTransaction(ctx, testUser, parent.ID)
		require.NoError(t, err)
		assert.True(t, got.Amount.Equal(dec("45")))
		assert.Equal(t, core.RecurrenceActive, got.Recurrence.State)
		assert.Equal(t, core.NewDate(2025, time.January, 2), got.Recurrence.LastCreatedDate)

		txs, err := f.store.FindTransactions(ctx, ledger.TransactionFilter{UserID: testUser})
		require.NoError(t, err)
		child := findChild(t, txs, parent.ID)
		assert.True(t, child.Amount.Equal(dec("45")))
	})
}
