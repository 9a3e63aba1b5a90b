package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"flowledger/internal/budget"
	"flowledger/internal/core"
	"flowledger/internal/ledger"
	"flowledger/internal/log"
	"flowledger/internal/notify"
)

const (
	// EndingSoonDays is how close to its end an open budget triggers a reminder.
	EndingSoonDays = 3
	// maxRollovers bounds how many successive periods one sweep may create
	// for a budget that has been idle for a long time.
	maxRollovers = 60
)

var openStatuses = []core.BudgetStatus{core.BudgetUpcoming, core.BudgetActive, core.BudgetExceeded}

// BudgetInput is what a user provides to create a budget. The total is
// always derived from the category allocations.
type BudgetInput struct {
	UserID            string
	Name              string
	Description       string
	Currency          core.Currency
	Period            core.PeriodKind
	StartDate         time.Time
	EndDate           *time.Time
	Categories        []core.CategoryBudget
	AutoCreate        bool
	AdjustAllocations bool
}

// BudgetSweepResult summarizes one period-transition pass.
type BudgetSweepResult struct {
	Checked    int
	Activated  int
	EndingSoon int
	Completed  int
	RolledOver int
}

type BudgetService struct {
	budgets ledger.BudgetStore
	ledger  ledger.LedgerStore
	notices ledger.NoticeStore
	sink    notify.Sink
	now     func() time.Time
	newID   func() string
}

func NewBudgetService(budgets ledger.BudgetStore, txs ledger.LedgerStore, notices ledger.NoticeStore, sink notify.Sink, opts Options) *BudgetService {
	opts = opts.withDefaults()
	return &BudgetService{
		budgets: budgets,
		ledger:  txs,
		notices: notices,
		sink:    sink,
		now:     opts.Now,
		newID:   opts.NewID,
	}
}

// Create validates and stores a budget. The returned warnings describe
// overlapping main and sub category rules, which are resolved by rule order.
func (s *BudgetService) Create(ctx context.Context, in BudgetInput) (core.Budget, []string, error) {
	if !in.Period.Valid() {
		return core.Budget{}, nil, core.ErrInvalidPeriod
	}
	start, end, err := budget.PeriodBounds(in.Period, in.StartDate, in.EndDate)
	if err != nil {
		return core.Budget{}, nil, err
	}
	cats := make([]core.CategoryBudget, len(in.Categories))
	for i, c := range in.Categories {
		main, sub := c.Split()
		cats[i] = core.CategoryBudget{Key: core.CategoryKey(main, sub), Allocated: c.Allocated.Round(2)}
	}
	warnings, err := budget.ValidateCategories(cats)
	if err != nil {
		return core.Budget{}, nil, err
	}

	now := s.now()
	b := core.Budget{
		ID:                s.newID(),
		UserID:            in.UserID,
		Name:              strings.TrimSpace(in.Name),
		Description:       strings.TrimSpace(in.Description),
		Currency:          in.Currency,
		Period:            in.Period,
		StartDate:         start,
		EndDate:           end,
		Categories:        cats,
		AutoCreate:        in.AutoCreate,
		AdjustAllocations: in.AdjustAllocations,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := b.Validate(); err != nil {
		return core.Budget{}, nil, err
	}

	b, err = s.evaluate(ctx, b, now)
	if err != nil {
		return core.Budget{}, nil, err
	}
	if err := s.budgets.InsertBudget(ctx, b); err != nil {
		return core.Budget{}, nil, fmt.Errorf("insert budget: %w", err)
	}

	slog.InfoContext(ctx, "Budget created",
		log.FieldBudgetID, b.ID,
		log.FieldUserID, b.UserID,
		"period", b.Period,
		log.FieldStatus, b.Status,
		"total_budget", b.TotalBudget.String())

	if b.Status == core.BudgetActive || b.Status == core.BudgetExceeded {
		notify.EmitAll(ctx, s.sink, notify.BudgetStarted(b))
		notify.EmitAll(ctx, s.sink, notify.BudgetCrossings(core.Budget{}, b)...)
	}
	return b, warnings, nil
}

func (s *BudgetService) Get(ctx context.Context, userID, id string) (core.Budget, error) {
	return s.budgets.GetBudget(ctx, userID, id)
}

func (s *BudgetService) List(ctx context.Context, userID string) ([]core.Budget, error) {
	if userID == "" {
		return nil, core.ErrMissingUser
	}
	return s.budgets.FindBudgets(ctx, ledger.BudgetFilter{UserID: userID})
}

func (s *BudgetService) Delete(ctx context.Context, userID, id string) error {
	if err := s.budgets.DeleteBudget(ctx, userID, id); err != nil {
		return fmt.Errorf("delete budget: %w", err)
	}
	slog.InfoContext(ctx, "Budget deleted", log.FieldBudgetID, id, log.FieldUserID, userID)
	return nil
}

// Summary aggregates a user's budgets per currency.
func (s *BudgetService) Summary(ctx context.Context, userID string) (map[core.Currency]core.BudgetSummary, error) {
	list, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	return budget.Summarize(list), nil
}

// Recompute refreshes a single budget from the ledger and emits any
// threshold crossings.
func (s *BudgetService) Recompute(ctx context.Context, userID, id string) (core.Budget, error) {
	b, err := s.budgets.GetBudget(ctx, userID, id)
	if err != nil {
		return core.Budget{}, fmt.Errorf("get budget %s: %w", id, err)
	}
	return s.refresh(ctx, b, s.now())
}

// RecomputeForTransactions refreshes every budget whose user, currency and
// window cover one of the given transaction snapshots. Callers pass both the
// old and the new version of an edited transaction.
func (s *BudgetService) RecomputeForTransactions(ctx context.Context, txs ...core.Transaction) error {
	now := s.now()
	seen := make(map[string]bool)
	var errs []error
	for _, tx := range txs {
		date := tx.Date
		covering, err := s.budgets.FindBudgets(ctx, ledger.BudgetFilter{
			UserID:   tx.UserID,
			Currency: tx.Currency,
			Covering: &date,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("find budgets for %s: %w", tx.ID, err))
			continue
		}
		for _, b := range covering {
			if seen[b.ID] {
				continue
			}
			seen[b.ID] = true
			if _, err := s.refresh(ctx, b, now); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Run sweeps at the current clock time.
func (s *BudgetService) Run(ctx context.Context) (BudgetSweepResult, error) {
	return s.RunBudgetPeriodSweep(ctx, s.now())
}

// RunBudgetPeriodSweep moves open budgets through their period transitions:
// upcoming to active, reminders near the end, and completion with an
// optional rollover into the next period.
func (s *BudgetService) RunBudgetPeriodSweep(ctx context.Context, now time.Time) (BudgetSweepResult, error) {
	var res BudgetSweepResult
	now = now.UTC()

	open, err := s.budgets.FindBudgets(ctx, ledger.BudgetFilter{Statuses: openStatuses})
	if err != nil {
		return res, fmt.Errorf("list open budgets: %w", err)
	}

	for _, before := range open {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++

		after, err := s.evaluate(ctx, before, now)
		if err != nil {
			return res, err
		}

		if after.Status == core.BudgetCompleted {
			if after.AutoCreate {
				n, err := s.rollover(ctx, after, now)
				res.RolledOver += n
				if err != nil {
					return res, err
				}
			}
			if err := s.save(ctx, before, after); err != nil {
				return res, err
			}
			res.Completed++
			slog.InfoContext(ctx, "Budget completed",
				log.FieldBudgetID, after.ID,
				log.FieldUserID, after.UserID,
				"total_spent", after.TotalSpent.String())
			continue
		}

		if err := s.save(ctx, before, after); err != nil {
			return res, err
		}
		if after.Status == core.BudgetUpcoming {
			continue
		}

		if before.Status == core.BudgetUpcoming {
			fire, err := fireOnce(ctx, s.notices, after.UserID, notify.KindBudgetNowActive, after.ID, now)
			if err != nil {
				return res, err
			}
			if fire {
				res.Activated++
				notify.EmitAll(ctx, s.sink, notify.BudgetNowActive(after))
			}
		}

		if days := daysUntil(now, after.EndDate); days <= EndingSoonDays {
			fire, err := fireOnce(ctx, s.notices, after.UserID, notify.KindBudgetEndingSoon, after.ID, now)
			if err != nil {
				return res, err
			}
			if fire {
				res.EndingSoon++
				notify.EmitAll(ctx, s.sink, notify.BudgetEndingSoon(after, days))
			}
		}
	}

	slog.InfoContext(ctx, "Budget periods processed",
		"checked", res.Checked,
		"activated", res.Activated,
		"ending_soon", res.EndingSoon,
		"completed", res.Completed,
		"rolled_over", res.RolledOver)
	return res, nil
}

// rollover creates the successor chain of a completed budget up to the
// period containing now. It is safe to repeat: an existing successor is
// reused instead of duplicated.
func (s *BudgetService) rollover(ctx context.Context, prev core.Budget, now time.Time) (int, error) {
	created := 0
	for range maxRollovers {
		next, err := s.budgets.FindChildBudget(ctx, prev.ID)
		switch {
		case err == nil:
		case isNotFound(err):
			next, err = s.createSuccessor(ctx, prev, now)
			if errors.Is(err, core.ErrDuplicate) {
				next, err = s.budgets.FindChildBudget(ctx, prev.ID)
				if err != nil {
					return created, fmt.Errorf("find successor of %s: %w", prev.ID, err)
				}
				break
			}
			if err != nil {
				return created, err
			}
			created++
		default:
			return created, fmt.Errorf("find successor of %s: %w", prev.ID, err)
		}

		if next.Status != core.BudgetCompleted || !next.AutoCreate {
			return created, nil
		}
		prev = next
	}
	slog.WarnContext(ctx, "Budget rollover stopped before reaching the current period",
		log.FieldBudgetID, prev.ID,
		log.FieldUserID, prev.UserID)
	return created, nil
}

func (s *BudgetService) createSuccessor(ctx context.Context, prev core.Budget, now time.Time) (core.Budget, error) {
	next, err := budget.NextBudget(prev, s.newID(), now)
	if err != nil {
		return core.Budget{}, fmt.Errorf("next period of %s: %w", prev.ID, err)
	}
	next, err = s.evaluate(ctx, next, now)
	if err != nil {
		return core.Budget{}, err
	}
	if err := s.budgets.InsertBudget(ctx, next); err != nil {
		return core.Budget{}, fmt.Errorf("insert successor of %s: %w", prev.ID, err)
	}

	slog.InfoContext(ctx, "Budget rolled over",
		log.FieldBudgetID, next.ID,
		"parent_budget_id", prev.ID,
		log.FieldUserID, next.UserID,
		"start_date", next.StartDate.Format(time.DateOnly),
		"total_budget", next.TotalBudget.String())

	notify.EmitAll(ctx, s.sink, notify.BudgetAutoCreated(prev, next))
	return next, nil
}

// refresh recomputes b, persists it and emits crossings. A completed
// auto-create budget is rolled over before its status is saved, so a failed
// rollover leaves it open for the period sweep to retry.
func (s *BudgetService) refresh(ctx context.Context, b core.Budget, now time.Time) (core.Budget, error) {
	after, err := s.evaluate(ctx, b, now)
	if err != nil {
		return core.Budget{}, err
	}
	if after.Status == core.BudgetCompleted && after.AutoCreate {
		if _, err := s.rollover(ctx, after, now); err != nil {
			return core.Budget{}, err
		}
	}
	if err := s.save(ctx, b, after); err != nil {
		return core.Budget{}, err
	}
	return after, nil
}

// evaluate derives spend and status without persisting. Budgets that have
// not started carry no spend.
func (s *BudgetService) evaluate(ctx context.Context, b core.Budget, now time.Time) (core.Budget, error) {
	if now.Before(b.StartDate) {
		b.TotalBudget = budget.TotalAllocated(b.Categories)
		b.TotalSpent = decimal.Zero
		b.Remaining = b.TotalBudget
		b.PercentageUsed = decimal.Zero
		b.Status = core.BudgetUpcoming
		return b, nil
	}

	from, to := b.StartDate, b.EndDate
	txs, err := s.ledger.FindTransactions(ctx, ledger.TransactionFilter{
		UserID:    b.UserID,
		Currency:  b.Currency,
		Direction: core.Outflow,
		From:      &from,
		To:        &to,
	})
	if err != nil {
		return core.Budget{}, fmt.Errorf("load spend for budget %s: %w", b.ID, err)
	}
	return budget.Recompute(b, txs, now), nil
}

func (s *BudgetService) save(ctx context.Context, before, after core.Budget) error {
	after.UpdatedAt = s.now()
	if err := s.budgets.UpdateBudget(ctx, after); err != nil {
		return fmt.Errorf("update budget %s: %w", after.ID, err)
	}
	if after.Status == core.BudgetCompleted || after.Status == core.BudgetUpcoming {
		return nil
	}
	notify.EmitAll(ctx, s.sink, notify.BudgetCrossings(before, after)...)
	return nil
}

// daysUntil counts whole days from now until end, floored at zero.
func daysUntil(now, end time.Time) int {
	d := end.Sub(now)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}
