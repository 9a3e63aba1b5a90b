// Package balance maintains the per-user, per-currency balance figures.
//
// The figures are persisted on the user record and recomputed from the
// ledger and goals only after an invalidation. Every balance read in the
// engine goes through Cache.
package balance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"flowledger/internal/cache"
	"flowledger/internal/core"
	"flowledger/internal/ledger"
	"flowledger/internal/log"
)

// View is the result of a balance lookup.
type View struct {
	Balances map[core.Currency]core.Balance
}

// For returns the entry for currency, zeroed when absent.
func (v View) For(currency core.Currency) core.Balance {
	if b, ok := v.Balances[currency]; ok {
		return b
	}
	return zeroBalance(currency)
}

type Cache struct {
	users  ledger.UserStore
	ledger ledger.LedgerStore
	goals  ledger.GoalStore

	front *cache.LRUCache[map[core.Currency]core.Balance]
	group singleflight.Group

	mu   sync.Mutex
	gens map[string]uint64

	defaultCurrency core.Currency
}

type Option func(*Cache)

// WithFrontSize keeps up to size users' figures in process memory in front
// of the user record.
func WithFrontSize(size int) Option {
	return func(c *Cache) {
		if size > 0 {
			c.front = cache.NewLRUCache[map[core.Currency]core.Balance](size, 0)
		}
	}
}

// WithDefaultCurrency sets the currency reported for users without any
// transactions, goals or default currency of their own.
func WithDefaultCurrency(currency core.Currency) Option {
	return func(c *Cache) {
		if currency.Valid() {
			c.defaultCurrency = currency
		}
	}
}

func New(users ledger.UserStore, ledgerStore ledger.LedgerStore, goals ledger.GoalStore, opts ...Option) *Cache {
	c := &Cache{
		users:           users,
		ledger:          ledgerStore,
		goals:           goals,
		gens:            make(map[string]uint64),
		defaultCurrency: core.USD,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetBalance returns the user's figures. An empty currency returns every
// currency; otherwise the view holds exactly the requested one.
func (c *Cache) GetBalance(ctx context.Context, userID string, currency core.Currency) (View, error) {
	gen := c.generation(userID)
	key := frontKey(userID, gen)

	if c.front != nil {
		if m, ok := c.front.Get(key); ok {
			return slice(m, currency), nil
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.load(ctx, userID, gen)
	})
	if err != nil {
		return View{}, err
	}
	return slice(v.(map[core.Currency]core.Balance), currency), nil
}

// Invalidate drops the user's cached figures. The next read recomputes them.
func (c *Cache) Invalidate(ctx context.Context, userID string) error {
	err := c.users.ClearBalances(ctx, userID)

	c.mu.Lock()
	c.gens[userID]++
	c.mu.Unlock()
	if c.front != nil {
		c.front.DeletePrefix(userID + "#")
	}

	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("invalidate balances of %s: %w", userID, err)
	}
	return nil
}

func (c *Cache) load(ctx context.Context, userID string, gen uint64) (map[core.Currency]core.Balance, error) {
	user, err := c.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	if user.Balances != nil {
		c.remember(userID, gen, user.Balances)
		return user.Balances, nil
	}

	txs, err := c.ledger.FindTransactions(ctx, ledger.TransactionFilter{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("aggregate transactions of %s: %w", userID, err)
	}
	goals, err := c.goals.ListGoals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("aggregate goals of %s: %w", userID, err)
	}

	fallback := user.DefaultCurrency
	if !fallback.Valid() {
		fallback = c.defaultCurrency
	}
	balances := Compute(txs, goals, fallback)

	if err := c.users.SaveBalances(ctx, userID, balances, user.BalancesVersion); err != nil {
		// The fresh figures are still correct for this read.
		slog.WarnContext(ctx, "Failed to persist balances",
			log.FieldUserID, userID,
			log.FieldError, err)
		return balances, nil
	}
	c.remember(userID, gen, balances)
	return balances, nil
}

func (c *Cache) remember(userID string, gen uint64, balances map[core.Currency]core.Balance) {
	if c.front == nil || c.generation(userID) != gen {
		return
	}
	c.front.Set(frontKey(userID, gen), balances)
}

func (c *Cache) generation(userID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[userID]
}

func frontKey(userID string, gen uint64) string {
	return userID + "#" + strconv.FormatUint(gen, 10)
}

func slice(m map[core.Currency]core.Balance, currency core.Currency) View {
	if currency == "" {
		return View{Balances: maps.Clone(m)}
	}
	b, ok := m[currency]
	if !ok {
		b = zeroBalance(currency)
	}
	return View{Balances: map[core.Currency]core.Balance{currency: b}}
}

func zeroBalance(currency core.Currency) core.Balance {
	return core.Balance{
		Currency:         currency,
		Balance:          decimal.Zero,
		AllocatedToGoals: decimal.Zero,
		Available:        decimal.Zero,
		TotalInflow:      decimal.Zero,
		TotalOutflow:     decimal.Zero,
	}
}

// Compute aggregates ledger totals and goal allocations per currency. When
// neither source has any currency, a zeroed entry for fallback is returned.
func Compute(txs []core.Transaction, goals []core.Goal, fallback core.Currency) map[core.Currency]core.Balance {
	out := make(map[core.Currency]core.Balance)
	entry := func(c core.Currency) core.Balance {
		if b, ok := out[c]; ok {
			return b
		}
		return zeroBalance(c)
	}

	for _, tx := range txs {
		b := entry(tx.Currency)
		switch tx.Direction {
		case core.Inflow:
			b.TotalInflow = b.TotalInflow.Add(tx.Amount)
		case core.Outflow:
			b.TotalOutflow = b.TotalOutflow.Add(tx.Amount)
		}
		out[tx.Currency] = b
	}
	for _, g := range goals {
		b := entry(g.Currency)
		b.AllocatedToGoals = b.AllocatedToGoals.Add(g.CurrentAmount)
		out[g.Currency] = b
	}
	if len(out) == 0 && fallback != "" {
		out[fallback] = zeroBalance(fallback)
	}

	for c, b := range out {
		b.Balance = b.TotalInflow.Sub(b.TotalOutflow)
		b.Available = b.Balance.Sub(b.AllocatedToGoals)
		out[c] = b
	}
	return out
}
