package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"flowledger/internal/core"
	"flowledger/internal/ledger"
	"flowledger/internal/log"
	"flowledger/internal/notify"
)

const (
	largeTxHistory   = 50
	largeTxCooldown  = 5 * time.Minute
	unusualMinPrior  = 5
	unusualWeek      = 7 * 24 * time.Hour
	unusualPriorSpan = 4 * unusualWeek
)

var (
	largeTxFactor   = decimal.NewFromInt(3)
	unusualFactor   = decimal.RequireFromString("1.5")
	unusualPriorWks = decimal.NewFromInt(4)
)

// AlertService raises spending alerts that look at a user's history rather
// than at a single budget or goal.
type AlertService struct {
	ledger  ledger.LedgerStore
	users   ledger.UserStore
	notices ledger.NoticeStore
	sink    notify.Sink
	now     func() time.Time
}

func NewAlertService(store ledger.LedgerStore, users ledger.UserStore, notices ledger.NoticeStore, sink notify.Sink, opts Options) *AlertService {
	opts = opts.withDefaults()
	return &AlertService{
		ledger:  store,
		users:   users,
		notices: notices,
		sink:    sink,
		now:     opts.Now,
	}
}

// LargeTransactionThreshold is the amount at or above which an outflow is
// flagged, given the user's previous outflows in the same currency.
func LargeTransactionThreshold(currency core.Currency, history []core.Transaction) decimal.Decimal {
	if len(history) == 0 {
		return currency.Scale(150)
	}
	total := core.SumBy(history, nil)
	avg := total.Div(decimal.NewFromInt(int64(len(history))))
	return decimal.Max(avg.Mul(largeTxFactor), currency.Scale(100))
}

// CheckLargeTransaction emits a large-transaction alert for tx when it
// exceeds the user's threshold, at most once per user per cooldown.
func (s *AlertService) CheckLargeTransaction(ctx context.Context, tx core.Transaction) (bool, error) {
	if tx.Direction != core.Outflow {
		return false, nil
	}
	recent, err := s.ledger.FindTransactions(ctx, ledger.TransactionFilter{
		UserID:    tx.UserID,
		Currency:  tx.Currency,
		Direction: core.Outflow,
		Limit:     largeTxHistory + 1,
	})
	if err != nil {
		return false, fmt.Errorf("load outflow history: %w", err)
	}
	history := slices.DeleteFunc(recent, func(t core.Transaction) bool { return t.ID == tx.ID })
	if len(history) > largeTxHistory {
		history = history[:largeTxHistory]
	}

	threshold := LargeTransactionThreshold(tx.Currency, history)
	if tx.Amount.LessThan(threshold) {
		return false, nil
	}
	fire, err := fireAfter(ctx, s.notices, tx.UserID, notify.KindLargeTransaction, "", s.now(), largeTxCooldown)
	if err != nil || !fire {
		return false, err
	}

	slog.InfoContext(ctx, "Large transaction detected",
		log.FieldTransactionID, tx.ID,
		log.FieldUserID, tx.UserID,
		log.FieldAmount, tx.Amount.String(),
		"threshold", threshold.Round(2).String())

	notify.EmitAll(ctx, s.sink, notify.LargeTransaction(tx, threshold))
	return true, nil
}

// Run sweeps at the current clock time.
func (s *AlertService) Run(ctx context.Context) (int, error) {
	return s.RunUnusualSpendingSweep(ctx, s.now())
}

// RunUnusualSpendingSweep compares each user's per-category outflow over the
// last week with the weekly average of the four weeks before it.
func (s *AlertService) RunUnusualSpendingSweep(ctx context.Context, now time.Time) (int, error) {
	userIDs, err := s.users.ListUserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	now = now.UTC()
	sent := 0
	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		n, err := s.checkUser(ctx, userID, now)
		sent += n
		if err != nil {
			return sent, err
		}
	}

	slog.InfoContext(ctx, "Unusual spending processed", "users", len(userIDs), "sent", sent)
	return sent, nil
}

type weeklySpend struct {
	thisWeek decimal.Decimal
	prior    decimal.Decimal
}

func (s *AlertService) checkUser(ctx context.Context, userID string, now time.Time) (int, error) {
	weekStart := now.Add(-unusualWeek)
	from := weekStart.Add(-unusualPriorSpan)
	txs, err := s.ledger.FindTransactions(ctx, ledger.TransactionFilter{
		UserID:    userID,
		Direction: core.Outflow,
		From:      &from,
		To:        &now,
	})
	if err != nil {
		return 0, fmt.Errorf("load outflows of %s: %w", userID, err)
	}

	priorCount := make(map[core.Currency]int)
	spend := make(map[core.Currency]map[string]*weeklySpend)
	for _, tx := range txs {
		byCat, ok := spend[tx.Currency]
		if !ok {
			byCat = make(map[string]*weeklySpend)
			spend[tx.Currency] = byCat
		}
		ws, ok := byCat[tx.MainCategory]
		if !ok {
			ws = &weeklySpend{}
			byCat[tx.MainCategory] = ws
		}
		if tx.Date.After(weekStart) {
			ws.thisWeek = ws.thisWeek.Add(tx.Amount)
		} else {
			ws.prior = ws.prior.Add(tx.Amount)
			priorCount[tx.Currency]++
		}
	}

	year, week := now.ISOWeek()
	sent := 0
	for currency, byCat := range spend {
		if priorCount[currency] < unusualMinPrior {
			continue
		}
		for category, ws := range byCat {
			avg := ws.prior.Div(unusualPriorWks)
			if !avg.IsPositive() || !ws.thisWeek.GreaterThan(avg.Mul(unusualFactor)) {
				continue
			}
			if !ws.thisWeek.Sub(avg).GreaterThan(currency.Scale(50)) {
				continue
			}
			key := fmt.Sprintf("%s:%s:%d-W%02d", currency, category, year, week)
			fire, err := fireOnce(ctx, s.notices, userID, notify.KindUnusualSpending, key, now)
			if err != nil {
				return sent, err
			}
			if fire {
				notify.EmitAll(ctx, s.sink, notify.UnusualSpending(userID, currency, category, ws.thisWeek, avg))
				sent++
			}
		}
	}
	return sent, nil
}
