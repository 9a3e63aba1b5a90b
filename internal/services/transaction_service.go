package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"flowledger/internal/balance"
	"flowledger/internal/core"
	"flowledger/internal/ledger"
	"flowledger/internal/log"
	"flowledger/internal/notify"
	"flowledger/internal/recurrence"
)

// TransactionService writes ledger entries and keeps the derived state of
// the affected user consistent with them.
type TransactionService struct {
	ledger   ledger.LedgerStore
	balances *balance.Cache
	budgets  *BudgetService
	alerts   *AlertService
	sink     notify.Sink
	now      func() time.Time
	newID    func() string
}

func NewTransactionService(
	store ledger.LedgerStore,
	balances *balance.Cache,
	budgets *BudgetService,
	alerts *AlertService,
	sink notify.Sink,
	opts Options,
) *TransactionService {
	opts = opts.withDefaults()
	return &TransactionService{
		ledger:   store,
		balances: balances,
		budgets:  budgets,
		alerts:   alerts,
		sink:     sink,
		now:      opts.Now,
		newID:    opts.NewID,
	}
}

// Create stores a user-entered transaction. An active recurrence starts
// counting from the transaction date.
func (s *TransactionService) Create(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if tx.Materialized() {
		return core.Transaction{}, fmt.Errorf("%w: parent transaction id is set by the recurrence sweep", core.ErrValidation)
	}
	now := s.now()
	if tx.ID == "" {
		tx.ID = s.newID()
	}
	normalize(&tx)
	if tx.Recurrence != nil && tx.Recurrence.Active() {
		tx.Recurrence.LastCreatedDate = tx.Date
	}
	tx.CreatedAt, tx.UpdatedAt = now, now

	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if err := s.ledger.InsertTransaction(ctx, tx); err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction created",
		log.FieldTransactionID, tx.ID,
		log.FieldUserID, tx.UserID,
		"direction", tx.Direction,
		log.FieldAmount, tx.Amount.String(),
		log.FieldCurrency, tx.Currency,
		"recurring", tx.Recurring())

	s.afterWrite(ctx, tx.UserID, tx)
	if s.alerts != nil && tx.Direction == core.Outflow {
		if _, err := s.alerts.CheckLargeTransaction(ctx, tx); err != nil {
			slog.WarnContext(ctx, "Large transaction check failed",
				log.FieldTransactionID, tx.ID, log.FieldError, err)
		}
	}
	return tx, nil
}

// Update replaces the mutable fields of a stored transaction. Editing the
// amount, date, category, currency or direction of a materialized child
// stops its parent from generating further occurrences.
func (s *TransactionService) Update(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	old, err := s.ledger.GetTransaction(ctx, tx.UserID, tx.ID)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", tx.ID, err)
	}

	normalize(&tx)
	tx.ParentTransactionID = old.ParentTransactionID
	tx.CreatedAt = old.CreatedAt
	tx.UpdatedAt = s.now()
	if tx.Recurrence != nil && tx.Recurrence.Active() && !old.Recurring() {
		tx.Recurrence.LastCreatedDate = tx.Date
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}

	if old.Materialized() && coreFieldsChanged(old, tx) {
		if _, err := s.DisableParentRecurrence(ctx, old.UserID, old.ID); err != nil && !isNotFound(err) {
			return core.Transaction{}, fmt.Errorf("disable parent recurrence: %w", err)
		}
	}

	if err := s.ledger.UpdateTransaction(ctx, tx); err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction updated",
		log.FieldTransactionID, tx.ID,
		log.FieldUserID, tx.UserID)

	s.afterWrite(ctx, tx.UserID, old, tx)
	return tx, nil
}

func (s *TransactionService) Delete(ctx context.Context, userID, id string) error {
	old, err := s.ledger.GetTransaction(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("get transaction %s: %w", id, err)
	}
	if err := s.ledger.DeleteTransaction(ctx, userID, id); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction deleted",
		log.FieldTransactionID, id,
		log.FieldUserID, userID)

	s.afterWrite(ctx, userID, old)
	return nil
}

func (s *TransactionService) Get(ctx context.Context, userID, id string) (core.Transaction, error) {
	return s.ledger.GetTransaction(ctx, userID, id)
}

func (s *TransactionService) List(ctx context.Context, f ledger.TransactionFilter) ([]core.Transaction, error) {
	if f.UserID == "" {
		return nil, core.ErrMissingUser
	}
	return s.ledger.FindTransactions(ctx, f)
}

// DisableRecurrence stops a recurring transaction at the user's request.
func (s *TransactionService) DisableRecurrence(ctx context.Context, userID, id string) (core.Transaction, error) {
	tx, err := s.ledger.GetTransaction(ctx, userID, id)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}
	if err := tx.Recurrence.Disable(); err != nil {
		return core.Transaction{}, err
	}
	tx.UpdatedAt = s.now()
	if err := s.ledger.UpdateTransaction(ctx, tx); err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}

	slog.InfoContext(ctx, "Recurrence disabled",
		log.FieldTransactionID, tx.ID,
		log.FieldUserID, userID)
	return tx, nil
}

// DisableParentRecurrence disables the recurrence of the parent that
// generated childID and notifies the user. It returns the parent unchanged
// when its recurrence was already inactive.
func (s *TransactionService) DisableParentRecurrence(ctx context.Context, userID, childID string) (core.Transaction, error) {
	child, err := s.ledger.GetTransaction(ctx, userID, childID)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", childID, err)
	}
	if !child.Materialized() {
		return core.Transaction{}, core.ErrNotMaterialized
	}
	parent, err := s.ledger.GetTransaction(ctx, userID, child.ParentTransactionID)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get parent %s: %w", child.ParentTransactionID, err)
	}

	if err := parent.Recurrence.Disable(); err != nil {
		if errors.Is(err, core.ErrRecurrenceNotActive) {
			return parent, nil
		}
		return core.Transaction{}, err
	}
	parent.UpdatedAt = s.now()
	if err := s.ledger.UpdateTransaction(ctx, parent); err != nil {
		return core.Transaction{}, fmt.Errorf("update parent: %w", err)
	}

	slog.InfoContext(ctx, "Parent recurrence disabled after child edit",
		log.FieldTransactionID, parent.ID,
		"child_id", childID,
		log.FieldUserID, userID)

	notify.EmitAll(ctx, s.sink, notify.RecurrenceDisabled(parent, childID))
	return parent, nil
}

// PreviewRecurrence lists the next count occurrences of a stored recurring
// transaction without materializing them.
func (s *TransactionService) PreviewRecurrence(ctx context.Context, userID, id string, count int) ([]time.Time, error) {
	tx, err := s.ledger.GetTransaction(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", id, err)
	}
	if !tx.Recurring() {
		return nil, core.ErrRecurrenceNotActive
	}
	return recurrence.Preview(tx.Recurrence.LastCreatedDate, tx.Recurrence.Config, count), nil
}

// insertMaterialized stores a child produced by the recurrence sweep.
func (s *TransactionService) insertMaterialized(ctx context.Context, child core.Transaction) error {
	if err := s.ledger.InsertTransaction(ctx, child); err != nil {
		return err
	}
	s.afterWrite(ctx, child.UserID, child)
	return nil
}

// afterWrite runs once a ledger write has committed. The balance cache is
// invalidated before budgets are recomputed so readers never see figures
// older than the write.
func (s *TransactionService) afterWrite(ctx context.Context, userID string, touched ...core.Transaction) {
	if s.balances != nil {
		if err := s.balances.Invalidate(ctx, userID); err != nil {
			slog.ErrorContext(ctx, "Failed to invalidate balances",
				log.FieldUserID, userID, log.FieldError, err)
		}
	}
	if s.budgets != nil {
		if err := s.budgets.RecomputeForTransactions(ctx, touched...); err != nil {
			slog.ErrorContext(ctx, "Failed to recompute budgets",
				log.FieldUserID, userID, log.FieldError, err)
		}
	}
}

func normalize(tx *core.Transaction) {
	tx.MainCategory = strings.TrimSpace(tx.MainCategory)
	tx.SubCategory = strings.TrimSpace(tx.SubCategory)
	tx.Description = strings.TrimSpace(tx.Description)
	tx.Date = tx.Date.UTC()
	tx.Amount = tx.Amount.Round(2)
}

func coreFieldsChanged(a, b core.Transaction) bool {
	return !a.Amount.Equal(b.Amount) ||
		!a.Date.Equal(b.Date) ||
		a.Currency != b.Currency ||
		a.Direction != b.Direction ||
		a.MainCategory != b.MainCategory ||
		a.SubCategory != b.SubCategory
}
