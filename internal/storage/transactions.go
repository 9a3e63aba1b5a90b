package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"flowledger/internal/core"
	"flowledger/internal/ledger"
)

const transactionColumns = `id, user_id, direction, main_category, sub_category, amount, currency, date,
	description, recurrence_state, frequency, day_of_week, day_of_month, month, end_date,
	last_created_date, parent_transaction_id, created_at, updated_at`

type recurrenceColumns struct {
	state       sql.NullString
	frequency   sql.NullString
	dayOfWeek   sql.NullInt64
	dayOfMonth  sql.NullInt64
	month       sql.NullInt64
	endDate     sql.NullString
	lastCreated sql.NullString
}

func recurrenceToColumns(r *core.Recurrence) recurrenceColumns {
	if r == nil {
		return recurrenceColumns{}
	}
	return recurrenceColumns{
		state:       nullString(string(r.State)),
		frequency:   nullString(string(r.Config.Frequency)),
		dayOfWeek:   nullInt(r.Config.DayOfWeek),
		dayOfMonth:  nullInt(r.Config.DayOfMonth),
		month:       nullInt(r.Config.Month),
		endDate:     nullTime(r.Config.EndDate),
		lastCreated: nullTime(&r.LastCreatedDate),
	}
}

func (c recurrenceColumns) toRecurrence() (*core.Recurrence, error) {
	if !c.state.Valid {
		return nil, nil
	}
	end, err := parseNullTime(c.endDate)
	if err != nil {
		return nil, err
	}
	r := &core.Recurrence{
		State: core.RecurrenceState(c.state.String),
		Config: core.RecurrenceConfig{
			Frequency:  core.Frequency(c.frequency.String),
			DayOfWeek:  intPtr(c.dayOfWeek),
			DayOfMonth: intPtr(c.dayOfMonth),
			Month:      intPtr(c.month),
			EndDate:    end,
		},
	}
	if last, err := parseNullTime(c.lastCreated); err != nil {
		return nil, err
	} else if last != nil {
		r.LastCreatedDate = *last
	}
	return r, nil
}

func (r *SQLiteRepository) InsertTransaction(ctx context.Context, tx core.Transaction) error {
	rc := recurrenceToColumns(tx.Recurrence)
	_, err := r.db.ExecContext(ctx, `INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.Direction, tx.MainCategory, tx.SubCategory, tx.Amount, tx.Currency,
		formatTime(tx.Date), tx.Description,
		rc.state, rc.frequency, rc.dayOfWeek, rc.dayOfMonth, rc.month, rc.endDate, rc.lastCreated,
		nullString(tx.ParentTransactionID), formatTime(tx.CreatedAt), formatTime(tx.UpdatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("transaction %s: %w", tx.ID, core.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", tx.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, tx core.Transaction) error {
	rc := recurrenceToColumns(tx.Recurrence)
	res, err := r.db.ExecContext(ctx, `UPDATE transactions SET
			direction = ?, main_category = ?, sub_category = ?, amount = ?, currency = ?, date = ?,
			description = ?, recurrence_state = ?, frequency = ?, day_of_week = ?, day_of_month = ?,
			month = ?, end_date = ?, last_created_date = ?, parent_transaction_id = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		tx.Direction, tx.MainCategory, tx.SubCategory, tx.Amount, tx.Currency, formatTime(tx.Date),
		tx.Description, rc.state, rc.frequency, rc.dayOfWeek, rc.dayOfMonth,
		rc.month, rc.endDate, rc.lastCreated, nullString(tx.ParentTransactionID), formatTime(tx.UpdatedAt),
		tx.ID, tx.UserID)
	if isUniqueViolation(err) {
		return fmt.Errorf("transaction %s: %w", tx.ID, core.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", tx.ID, err)
	}
	return expectOne(res, "transaction "+tx.ID)
}

func (r *SQLiteRepository) SaveRecurrenceProgress(ctx context.Context, tx core.Transaction, prevLast time.Time) error {
	if tx.Recurrence == nil {
		return fmt.Errorf("transaction %s: %w", tx.ID, core.ErrRecurrenceNotActive)
	}
	res, err := r.db.ExecContext(ctx, `UPDATE transactions SET
			recurrence_state = ?, last_created_date = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND recurrence_state = ? AND last_created_date = ?`,
		tx.Recurrence.State, formatTime(tx.Recurrence.LastCreatedDate), formatTime(tx.UpdatedAt),
		tx.ID, tx.UserID, core.RecurrenceActive, formatTime(prevLast))
	if err != nil {
		return fmt.Errorf("save recurrence of %s: %w", tx.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save recurrence of %s rows affected: %w", tx.ID, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := r.GetTransaction(ctx, tx.UserID, tx.ID); err != nil {
		return err
	}
	return fmt.Errorf("transaction %s: %w", tx.ID, core.ErrRecurrenceNotActive)
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	return expectOne(res, "transaction "+id)
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	return tx, err
}

func (r *SQLiteRepository) FindTransactions(ctx context.Context, f ledger.TransactionFilter) ([]core.Transaction, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		where = append(where, cond)
		args = append(args, v)
	}
	if f.UserID != "" {
		add("user_id = ?", f.UserID)
	}
	if f.Currency != "" {
		add("currency = ?", f.Currency)
	}
	if f.Direction != "" {
		add("direction = ?", f.Direction)
	}
	if f.MainCategory != "" {
		add("main_category = ?", f.MainCategory)
	}
	if f.SubCategory != "" {
		add("sub_category = ?", f.SubCategory)
	}
	if f.From != nil {
		add("date >= ?", formatTime(*f.From))
	}
	if f.To != nil {
		add("date <= ?", formatTime(*f.To))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY date DESC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return r.queryTransactions(ctx, query, args...)
}

func (r *SQLiteRepository) ListActiveRecurring(ctx context.Context) ([]core.Transaction, error) {
	return r.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE recurrence_state = ? ORDER BY id`, core.RecurrenceActive)
}

func (r *SQLiteRepository) ChildExists(ctx context.Context, parentID string, date time.Time) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM transactions
		WHERE parent_transaction_id = ? AND date = ?`, parentID, formatTime(date)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check child of %s: %w", parentID, err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) queryTransactions(ctx context.Context, query string, args ...any) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanTransaction(s rowScanner) (core.Transaction, error) {
	var (
		tx                     core.Transaction
		date, created, updated string
		parent                 sql.NullString
		rc                     recurrenceColumns
	)
	err := s.Scan(&tx.ID, &tx.UserID, &tx.Direction, &tx.MainCategory, &tx.SubCategory, &tx.Amount,
		&tx.Currency, &date, &tx.Description,
		&rc.state, &rc.frequency, &rc.dayOfWeek, &rc.dayOfMonth, &rc.month, &rc.endDate, &rc.lastCreated,
		&parent, &created, &updated)
	if err != nil {
		return core.Transaction{}, err
	}
	if tx.Date, err = parseTime(date); err != nil {
		return core.Transaction{}, err
	}
	if tx.CreatedAt, err = parseTime(created); err != nil {
		return core.Transaction{}, err
	}
	if tx.UpdatedAt, err = parseTime(updated); err != nil {
		return core.Transaction{}, err
	}
	if tx.Recurrence, err = rc.toRecurrence(); err != nil {
		return core.Transaction{}, err
	}
	tx.ParentTransactionID = parent.String
	return tx, nil
}
