package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"flowledger/internal/balance"
	"flowledger/internal/budget"
	"flowledger/internal/core"
	"flowledger/internal/ledger"
	"flowledger/internal/log"
	"flowledger/internal/notify"
)

// DeadlineReminders are the distances, in days, at which an active goal's
// approaching target date is announced.
var DeadlineReminders = []int{14, 7, 3}

type GoalService struct {
	goals    ledger.GoalStore
	balances *balance.Cache
	notices  ledger.NoticeStore
	sink     notify.Sink
	now      func() time.Time
	newID    func() string
}

func NewGoalService(goals ledger.GoalStore, balances *balance.Cache, notices ledger.NoticeStore, sink notify.Sink, opts Options) *GoalService {
	opts = opts.withDefaults()
	return &GoalService{
		goals:    goals,
		balances: balances,
		notices:  notices,
		sink:     sink,
		now:      opts.Now,
		newID:    opts.NewID,
	}
}

// Create stores a goal. A starting amount is reserved from the available
// balance like any contribution.
func (s *GoalService) Create(ctx context.Context, g core.Goal) (core.Goal, error) {
	now := s.now()
	g.ID = s.newID()
	g.Name = strings.TrimSpace(g.Name)
	g.TargetAmount = g.TargetAmount.Round(2)
	g.CurrentAmount = g.CurrentAmount.Round(2)
	g.Status = goalStatus(g)
	g.CreatedAt, g.UpdatedAt = now, now
	if err := g.Validate(); err != nil {
		return core.Goal{}, err
	}
	if g.CurrentAmount.IsPositive() {
		if err := s.ensureAvailable(ctx, g.UserID, g.Currency, g.CurrentAmount); err != nil {
			return core.Goal{}, err
		}
	}
	if err := s.goals.InsertGoal(ctx, g); err != nil {
		return core.Goal{}, fmt.Errorf("insert goal: %w", err)
	}

	slog.InfoContext(ctx, "Goal created",
		log.FieldGoalID, g.ID,
		log.FieldUserID, g.UserID,
		"target_amount", g.TargetAmount.String(),
		log.FieldCurrency, g.Currency)

	s.invalidate(ctx, g.UserID)
	return g, nil
}

func (s *GoalService) Get(ctx context.Context, userID, id string) (core.Goal, error) {
	return s.goals.GetGoal(ctx, userID, id)
}

func (s *GoalService) List(ctx context.Context, userID string) ([]core.Goal, error) {
	if userID == "" {
		return nil, core.ErrMissingUser
	}
	return s.goals.ListGoals(ctx, userID)
}

// Contribute moves delta into (or out of) the goal. Positive deltas must be
// covered by the available balance of the goal's currency.
func (s *GoalService) Contribute(ctx context.Context, userID, goalID string, delta decimal.Decimal) (core.Goal, error) {
	delta = delta.Round(2)
	if delta.IsZero() {
		return core.Goal{}, core.ErrInvalidAmount
	}
	g, err := s.goals.GetGoal(ctx, userID, goalID)
	if err != nil {
		return core.Goal{}, fmt.Errorf("get goal %s: %w", goalID, err)
	}

	oldAmount := g.CurrentAmount
	newAmount := oldAmount.Add(delta)
	if newAmount.IsNegative() {
		return core.Goal{}, fmt.Errorf("%w: goal holds only %s", core.ErrInvalidAmount, oldAmount.String())
	}
	if delta.IsPositive() {
		if err := s.ensureAvailable(ctx, userID, g.Currency, delta); err != nil {
			return core.Goal{}, err
		}
	}

	g.CurrentAmount = newAmount
	g.Status = goalStatus(g)
	g.UpdatedAt = s.now()
	if err := s.goals.UpdateGoal(ctx, g); err != nil {
		return core.Goal{}, fmt.Errorf("update goal: %w", err)
	}

	slog.InfoContext(ctx, "Goal contribution recorded",
		log.FieldGoalID, g.ID,
		log.FieldUserID, userID,
		"delta", delta.String(),
		"current_amount", g.CurrentAmount.String(),
		log.FieldStatus, g.Status)

	s.invalidate(ctx, userID)

	intents := notify.GoalProgress(g, oldAmount, newAmount)
	if in, ok := notify.GoalAmountMilestone(g, oldAmount, newAmount); ok {
		intents = append(intents, in)
	}
	notify.EmitAll(ctx, s.sink, intents...)
	return g, nil
}

func (s *GoalService) Delete(ctx context.Context, userID, id string) error {
	if err := s.goals.DeleteGoal(ctx, userID, id); err != nil {
		return fmt.Errorf("delete goal: %w", err)
	}
	slog.InfoContext(ctx, "Goal deleted", log.FieldGoalID, id, log.FieldUserID, userID)
	s.invalidate(ctx, userID)
	return nil
}

// Run sweeps at the current clock time.
func (s *GoalService) Run(ctx context.Context) (int, error) {
	return s.RunGoalDeadlineSweep(ctx, s.now())
}

// RunGoalDeadlineSweep announces active goals whose target date is one of
// the DeadlineReminders away. Each reminder fires once per goal.
func (s *GoalService) RunGoalDeadlineSweep(ctx context.Context, now time.Time) (int, error) {
	goals, err := s.goals.ListActiveGoals(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active goals: %w", err)
	}

	today := budget.StartOfDay(now)
	sent := 0
	for _, g := range goals {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if g.TargetDate == nil {
			continue
		}
		daysLeft := int(budget.StartOfDay(*g.TargetDate).Sub(today) / (24 * time.Hour))
		in, ok := notify.GoalDeadline(g, daysLeft, DeadlineReminders)
		if !ok {
			continue
		}
		fire, err := fireOnce(ctx, s.notices, g.UserID, notify.KindGoalApproachingDate, g.ID+":"+strconv.Itoa(daysLeft), now)
		if err != nil {
			return sent, err
		}
		if fire {
			notify.EmitAll(ctx, s.sink, in)
			sent++
		}
	}

	slog.InfoContext(ctx, "Goal deadlines processed", "goals", len(goals), "sent", sent)
	return sent, nil
}

func (s *GoalService) ensureAvailable(ctx context.Context, userID string, currency core.Currency, amount decimal.Decimal) error {
	view, err := s.balances.GetBalance(ctx, userID, currency)
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}
	if available := view.For(currency).Available; available.LessThan(amount) {
		return fmt.Errorf("%w: available %s %s, requested %s", core.ErrInsufficientFunds, available.String(), currency, amount.String())
	}
	return nil
}

func (s *GoalService) invalidate(ctx context.Context, userID string) {
	if err := s.balances.Invalidate(ctx, userID); err != nil {
		slog.ErrorContext(ctx, "Failed to invalidate balances",
			log.FieldUserID, userID, log.FieldError, err)
	}
}

func goalStatus(g core.Goal) core.GoalStatus {
	if g.CurrentAmount.GreaterThanOrEqual(g.TargetAmount) {
		return core.GoalAchieved
	}
	return core.GoalActive
}
