package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"flowledger/internal/core"
	"flowledger/internal/ledger"
)

const budgetColumns = `id, user_id, name, description, currency, period, start_date, end_date, categories,
	total_budget, total_spent, remaining, percentage_used, status, auto_create, adjust_allocations,
	parent_budget_id, created_at, updated_at`

// categoryRecord is the JSON shape of a category rule inside the budgets row.
type categoryRecord struct {
	Key            string          `json:"key"`
	Allocated      decimal.Decimal `json:"allocated"`
	Spent          decimal.Decimal `json:"spent"`
	PercentageUsed decimal.Decimal `json:"percentage_used"`
	Exceeded       bool            `json:"exceeded"`
}

func encodeCategories(cats []core.CategoryBudget) (string, error) {
	recs := make([]categoryRecord, len(cats))
	for i, c := range cats {
		recs[i] = categoryRecord(c)
	}
	b, err := json.Marshal(recs)
	if err != nil {
		return "", fmt.Errorf("encode categories: %w", err)
	}
	return string(b), nil
}

func decodeCategories(s string) ([]core.CategoryBudget, error) {
	var recs []categoryRecord
	if err := json.Unmarshal([]byte(s), &recs); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	cats := make([]core.CategoryBudget, len(recs))
	for i, r := range recs {
		cats[i] = core.CategoryBudget(r)
	}
	return cats, nil
}

func (r *SQLiteRepository) InsertBudget(ctx context.Context, b core.Budget) error {
	cats, err := encodeCategories(b.Categories)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO budgets (`+budgetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.Name, b.Description, b.Currency, b.Period,
		formatTime(b.StartDate), formatTime(b.EndDate), cats,
		b.TotalBudget, b.TotalSpent, b.Remaining, b.PercentageUsed, b.Status,
		b.AutoCreate, b.AdjustAllocations, nullString(b.ParentBudgetID),
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("budget %s: %w", b.ID, core.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert budget %s: %w", b.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) UpdateBudget(ctx context.Context, b core.Budget) error {
	cats, err := encodeCategories(b.Categories)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE budgets SET
			name = ?, description = ?, period = ?, start_date = ?, end_date = ?, categories = ?,
			total_budget = ?, total_spent = ?, remaining = ?, percentage_used = ?, status = ?,
			auto_create = ?, adjust_allocations = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		b.Name, b.Description, b.Period, formatTime(b.StartDate), formatTime(b.EndDate), cats,
		b.TotalBudget, b.TotalSpent, b.Remaining, b.PercentageUsed, b.Status,
		b.AutoCreate, b.AdjustAllocations, formatTime(b.UpdatedAt),
		b.ID, b.UserID)
	if err != nil {
		return fmt.Errorf("update budget %s: %w", b.ID, err)
	}
	return expectOne(res, "budget "+b.ID)
}

func (r *SQLiteRepository) DeleteBudget(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM budgets WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete budget %s: %w", id, err)
	}
	return expectOne(res, "budget "+id)
}

func (r *SQLiteRepository) GetBudget(ctx context.Context, userID, id string) (core.Budget, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id = ? AND user_id = ?`, id, userID)
	b, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, fmt.Errorf("budget %s: %w", id, core.ErrNotFound)
	}
	return b, err
}

func (r *SQLiteRepository) FindBudgets(ctx context.Context, f ledger.BudgetFilter) ([]core.Budget, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Currency != "" {
		where = append(where, "currency = ?")
		args = append(args, f.Currency)
	}
	if f.Covering != nil {
		at := formatTime(*f.Covering)
		where = append(where, "start_date <= ? AND end_date >= ?")
		args = append(args, at, at)
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			marks[i] = "?"
			args = append(args, s)
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT ` + budgetColumns + ` FROM budgets`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY start_date, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query budgets: %w", err)
	}
	defer rows.Close()

	var out []core.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) FindChildBudget(ctx context.Context, parentID string) (core.Budget, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE parent_budget_id = ?`, parentID)
	b, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, fmt.Errorf("rollover of %s: %w", parentID, core.ErrNotFound)
	}
	return b, err
}

func scanBudget(s rowScanner) (core.Budget, error) {
	var (
		b                                  core.Budget
		start, end, cats, created, updated string
		parent                             sql.NullString
	)
	err := s.Scan(&b.ID, &b.UserID, &b.Name, &b.Description, &b.Currency, &b.Period,
		&start, &end, &cats, &b.TotalBudget, &b.TotalSpent, &b.Remaining, &b.PercentageUsed, &b.Status,
		&b.AutoCreate, &b.AdjustAllocations, &parent, &created, &updated)
	if err != nil {
		return core.Budget{}, err
	}
	if b.StartDate, err = parseTime(start); err != nil {
		return core.Budget{}, err
	}
	if b.EndDate, err = parseTime(end); err != nil {
		return core.Budget{}, err
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return core.Budget{}, err
	}
	if b.UpdatedAt, err = parseTime(updated); err != nil {
		return core.Budget{}, err
	}
	if b.Categories, err = decodeCategories(cats); err != nil {
		return core.Budget{}, err
	}
	b.ParentBudgetID = parent.String
	return b, nil
}
