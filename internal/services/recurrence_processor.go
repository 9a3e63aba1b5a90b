package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"flowledger/internal/core"
	"flowledger/internal/ledger"
	"flowledger/internal/log"
	"flowledger/internal/notify"
	"flowledger/internal/recurrence"
)

// RecurrenceSweepResult summarizes one materialization pass.
type RecurrenceSweepResult struct {
	Checked int
	Created int
	Ended   int
}

// RecurrenceProcessor materializes due occurrences of recurring transactions.
type RecurrenceProcessor struct {
	ledger       ledger.LedgerStore
	transactions *TransactionService
	sink         notify.Sink
	now          func() time.Time
	newID        func() string
}

func NewRecurrenceProcessor(store ledger.LedgerStore, transactions *TransactionService, sink notify.Sink, opts Options) *RecurrenceProcessor {
	opts = opts.withDefaults()
	return &RecurrenceProcessor{
		ledger:       store,
		transactions: transactions,
		sink:         sink,
		now:          opts.Now,
		newID:        opts.NewID,
	}
}

// Run sweeps at the current clock time.
func (p *RecurrenceProcessor) Run(ctx context.Context) (RecurrenceSweepResult, error) {
	return p.RunRecurrenceSweep(ctx, p.now())
}

// RunRecurrenceSweep creates at most one occurrence per active recurring
// transaction whose next date is on or before now, and ends recurrences that
// have no further occurrence. Re-running with the same now creates nothing.
// A store error aborts the sweep; progress made so far is kept.
func (p *RecurrenceProcessor) RunRecurrenceSweep(ctx context.Context, now time.Time) (RecurrenceSweepResult, error) {
	var res RecurrenceSweepResult
	now = now.UTC()

	parents, err := p.ledger.ListActiveRecurring(ctx)
	if err != nil {
		return res, fmt.Errorf("list recurring transactions: %w", err)
	}

	slog.InfoContext(ctx, "Processing recurring transactions",
		"count", len(parents),
		"now", now.Format(time.RFC3339))

	for _, parent := range parents {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++

		created, ended, err := p.process(ctx, parent, now)
		if err != nil {
			slog.ErrorContext(ctx, "Recurrence sweep aborted",
				log.FieldTransactionID, parent.ID,
				log.FieldError, err)
			return res, err
		}
		if created {
			res.Created++
		}
		if ended {
			res.Ended++
		}
	}

	slog.InfoContext(ctx, "Recurring transactions processed",
		"checked", res.Checked,
		"created", res.Created,
		"ended", res.Ended)
	return res, nil
}

func (p *RecurrenceProcessor) process(ctx context.Context, scanned core.Transaction, now time.Time) (created, ended bool, err error) {
	// The scan is a snapshot; users may have edited or stopped the parent since.
	parent, err := p.ledger.GetTransaction(ctx, scanned.UserID, scanned.ID)
	if isNotFound(err) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("reload recurring transaction %s: %w", scanned.ID, err)
	}
	if !parent.Recurrence.Active() {
		return false, false, nil
	}
	prevLast := parent.Recurrence.LastCreatedDate

	next, ok := recurrence.NextOccurrence(prevLast, parent.Recurrence.Config)
	if !ok {
		if err := parent.Recurrence.End(); err != nil {
			return false, false, err
		}
		parent.UpdatedAt = now
		saved, err := p.saveProgress(ctx, parent, prevLast)
		if err != nil || !saved {
			return false, false, err
		}
		slog.InfoContext(ctx, "Recurrence ended",
			log.FieldTransactionID, parent.ID,
			log.FieldUserID, parent.UserID)
		notify.EmitAll(ctx, p.sink, notify.RecurrenceEnded(parent))
		return false, true, nil
	}
	if next.After(now) {
		return false, false, nil
	}

	exists, err := p.ledger.ChildExists(ctx, parent.ID, next)
	if err != nil {
		return false, false, fmt.Errorf("check occurrence of %s: %w", parent.ID, err)
	}

	child := p.materialize(parent, next, now)
	if !exists {
		err := p.transactions.insertMaterialized(ctx, child)
		switch {
		case errors.Is(err, core.ErrDuplicate):
			exists = true
		case err != nil:
			return false, false, fmt.Errorf("insert occurrence of %s: %w", parent.ID, err)
		}
	}

	if err := parent.Recurrence.Advance(next); err != nil {
		return false, false, err
	}
	parent.UpdatedAt = now
	if _, err := p.saveProgress(ctx, parent, prevLast); err != nil {
		return false, false, err
	}

	if exists {
		slog.DebugContext(ctx, "Occurrence already materialized",
			log.FieldTransactionID, parent.ID,
			log.FieldOccurrence, next.Format(time.DateOnly))
		return false, false, nil
	}

	slog.InfoContext(ctx, "Occurrence materialized",
		log.FieldTransactionID, child.ID,
		log.FieldParentID, parent.ID,
		log.FieldOccurrence, next.Format(time.DateOnly))
	notify.EmitAll(ctx, p.sink, notify.RecurrenceCreated(parent, child))
	return true, false, nil
}

// saveProgress writes the parent's recurrence progress unless a user stopped
// or rewound it after it was read. It reports whether the write happened.
func (p *RecurrenceProcessor) saveProgress(ctx context.Context, parent core.Transaction, prevLast time.Time) (bool, error) {
	err := p.ledger.SaveRecurrenceProgress(ctx, parent, prevLast)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, core.ErrRecurrenceNotActive):
		slog.InfoContext(ctx, "Recurrence changed during sweep, leaving it as is",
			log.FieldTransactionID, parent.ID,
			log.FieldUserID, parent.UserID)
		return false, nil
	default:
		return false, fmt.Errorf("save recurrence of %s: %w", parent.ID, err)
	}
}

func (p *RecurrenceProcessor) materialize(parent core.Transaction, date, now time.Time) core.Transaction {
	return core.Transaction{
		ID:                  p.newID(),
		UserID:              parent.UserID,
		Direction:           parent.Direction,
		MainCategory:        parent.MainCategory,
		SubCategory:         parent.SubCategory,
		Amount:              parent.Amount,
		Currency:            parent.Currency,
		Date:                date,
		Description:         parent.Description,
		ParentTransactionID: parent.ID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}
