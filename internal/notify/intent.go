// Package notify decides when a notification should be sent and carries the
// resulting intents to a delivery sink. Delivery itself happens elsewhere.
package notify

import (
	"context"
	"log/slog"
	"time"

	"flowledger/internal/log"
)

// Kind names the event a notification intent describes.
type Kind string

const (
	KindRecurrenceCreated  Kind = "recurring_transaction_created"
	KindRecurrenceEnded    Kind = "recurring_transaction_ended"
	KindRecurrenceDisabled Kind = "recurring_transaction_disabled"

	KindBudgetThreshold         Kind = "budget_threshold"
	KindBudgetExceeded          Kind = "budget_exceeded"
	KindBudgetCategoryThreshold Kind = "budget_category_threshold"
	KindBudgetCategoryExceeded  Kind = "budget_category_exceeded"
	KindBudgetStarted           Kind = "budget_started"
	KindBudgetNowActive         Kind = "budget_now_active"
	KindBudgetEndingSoon        Kind = "budget_ending_soon"
	KindBudgetAutoCreated       Kind = "budget_auto_created"

	KindGoalProgress        Kind = "goal_progress"
	KindGoalAchieved        Kind = "goal_achieved"
	KindGoalMilestoneAmount Kind = "goal_milestone_amount"
	KindGoalApproachingDate Kind = "goal_approaching_date"

	KindLargeTransaction Kind = "large_transaction"
	KindUnusualSpending  Kind = "unusual_spending"
)

// Intent is a request to notify a user. Params holds JSON-friendly values only.
type Intent struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Kind      Kind           `json:"kind"`
	Params    map[string]any `json:"params"`
	CreatedAt time.Time      `json:"created_at"`
}

// Sink accepts intents for delivery.
type Sink interface {
	Emit(ctx context.Context, in Intent) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, in Intent) error

func (f SinkFunc) Emit(ctx context.Context, in Intent) error { return f(ctx, in) }

// EmitAll hands every intent to the sink. Failures are logged and swallowed:
// a lost notification never fails the operation that produced it.
func EmitAll(ctx context.Context, sink Sink, intents ...Intent) {
	if sink == nil {
		return
	}
	for _, in := range intents {
		if err := sink.Emit(ctx, in); err != nil {
			slog.WarnContext(ctx, "Failed to emit notification intent",
				log.FieldUserID, in.UserID,
				log.FieldKind, in.Kind,
				log.FieldError, err)
		}
	}
}

// LogSink writes intents to a logger. It is the fallback when no message
// broker is configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(ctx context.Context, in Intent) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "Notification intent",
		"id", in.ID,
		log.FieldUserID, in.UserID,
		log.FieldKind, in.Kind,
		"params", in.Params)
	return nil
}
