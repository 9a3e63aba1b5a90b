package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowledger/internal/core"
	"flowledger/internal/ledger/ledgertest"
	"flowledger/internal/notify"
)

func TestAlertService_UnusualSpending(t *testing.T) {
	now := time.Date(2025, time.March, 29, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()

	const sparse = "user-2"
	require.NoError(t, f.store.InsertUser(ctx, core.User{ID: sparse, DefaultCurrency: core.USD}))

	for i, day := range []int{1, 5, 10, 15, 20} {
		date := core.NewDate(2025, time.March, day)
		require.NoError(t, f.store.InsertTransaction(ctx, ledgertest.Tx(fmt.Sprintf("prior-%d", i), testUser, date, "20")))
	}
	require.NoError(t, f.store.InsertTransaction(ctx, ledgertest.Tx("week", testUser, core.NewDate(2025, time.March, 25), "100")))

	require.NoError(t, f.store.InsertTransaction(ctx, ledgertest.Tx("s-prior", sparse, core.NewDate(2025, time.March, 10), "5")))
	require.NoError(t, f.store.InsertTransaction(ctx, ledgertest.Tx("s-week", sparse, core.NewDate(2025, time.March, 26), "900")))

	sent, err := f.engine.Alerts.RunUnusualSpendingSweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, sent, "users with too little history are skipped")

	require.Len(t, f.sink.intents, 1)
	in := f.sink.intents[0]
	assert.Equal(t, notify.KindUnusualSpending, in.Kind)
	assert.Equal(t, testUser, in.UserID)
	assert.Equal(t, "Food", in.Params["category"])
	assert.Equal(t, "25", in.Params["weekly_average"])

	sent, err = f.engine.Alerts.RunUnusualSpendingSweep(ctx, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, sent, "one alert per category per week")
}

func TestAlertService_UnusualSpendingNeedsMeaningfulExcess(t *testing.T) {
	now := time.Date(2025, time.March, 29, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()

	for i, day := range []int{1, 5, 10, 15, 20} {
		date := core.NewDate(2025, time.March, day)
		require.NoError(t, f.store.InsertTransaction(ctx, ledgertest.Tx(fmt.Sprintf("prior-%d", i), testUser, date, "4")))
	}
	// 54 is well over 1.5x the weekly average of 5 but only 49 above it.
	require.NoError(t, f.store.InsertTransaction(ctx, ledgertest.Tx("week", testUser, core.NewDate(2025, time.March, 25), "54")))

	sent, err := f.engine.Alerts.RunUnusualSpendingSweep(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, sent)
}
