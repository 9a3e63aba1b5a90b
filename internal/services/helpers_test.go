package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"flowledger/internal/balance"
	"flowledger/internal/core"
	"flowledger/internal/ledger/memory"
	"flowledger/internal/notify"
)

type recordingSink struct {
	mu      sync.Mutex
	intents []notify.Intent
}

func (s *recordingSink) Emit(_ context.Context, in notify.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents = append(s.intents, in)
	return nil
}

func (s *recordingSink) kinds() []notify.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.Kind, len(s.intents))
	for i, in := range s.intents {
		out[i] = in.Kind
	}
	return out
}

func (s *recordingSink) count(kind notify.Kind) int {
	n := 0
	for _, k := range s.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents = nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

type fixture struct {
	store  *memory.Store
	sink   *recordingSink
	clock  *clock
	engine *Engine
}

const testUser = "user-1"

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.InsertUser(context.Background(), core.User{ID: testUser, DefaultCurrency: core.USD}))

	sink := &recordingSink{}
	clk := &clock{now: now.UTC()}
	var seq int
	var seqMu sync.Mutex
	opts := Options{
		Now: clk.Now,
		NewID: func() string {
			seqMu.Lock()
			defer seqMu.Unlock()
			seq++
			return fmt.Sprintf("id-%03d", seq)
		},
	}
	balances := balance.New(store, store, store, balance.WithFrontSize(16))
	return &fixture{
		store:  store,
		sink:   sink,
		clock:  clk,
		engine: NewEngine(store, balances, sink, opts),
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func txn(dir core.Direction, main, sub, amount string, date time.Time) core.Transaction {
	return core.Transaction{
		UserID:       testUser,
		Direction:    dir,
		MainCategory: main,
		SubCategory:  sub,
		Amount:       dec(amount),
		Currency:     core.USD,
		Date:         date,
	}
}

func (f *fixture) create(t *testing.T, tx core.Transaction) core.Transaction {
	t.Helper()
	out, err := f.engine.Transactions.Create(context.Background(), tx)
	require.NoError(t, err)
	return out
}

func (f *fixture) available(t *testing.T, currency core.Currency) decimal.Decimal {
	t.Helper()
	view, err := f.engine.Balances.GetBalance(context.Background(), testUser, currency)
	require.NoError(t, err)
	return view.For(currency).Available
}

func findChild(t *testing.T, txs []core.Transaction, parentID string) core.Transaction {
	t.Helper()
	for _, tx := range txs {
		if tx.ParentTransactionID == parentID {
			return tx
		}
	}
	t.Fatalf("no child of %s among %d transactions", parentID, len(txs))
	return core.Transaction{}
}
