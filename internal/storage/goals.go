package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"flowledger/internal/core"
)

const goalColumns = `id, user_id, name, target_amount, current_amount, currency, status, target_date,
	created_at, updated_at`

func (r *SQLiteRepository) InsertGoal(ctx context.Context, g core.Goal) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO goals (`+goalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.UserID, g.Name, g.TargetAmount, g.CurrentAmount, g.Currency, g.Status,
		nullTime(g.TargetDate), formatTime(g.CreatedAt), formatTime(g.UpdatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("goal %s: %w", g.ID, core.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert goal %s: %w", g.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) UpdateGoal(ctx context.Context, g core.Goal) error {
	res, err := r.db.ExecContext(ctx, `UPDATE goals SET
			name = ?, target_amount = ?, current_amount = ?, status = ?, target_date = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		g.Name, g.TargetAmount, g.CurrentAmount, g.Status, nullTime(g.TargetDate), formatTime(g.UpdatedAt),
		g.ID, g.UserID)
	if err != nil {
		return fmt.Errorf("update goal %s: %w", g.ID, err)
	}
	return expectOne(res, "goal "+g.ID)
}

func (r *SQLiteRepository) DeleteGoal(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM goals WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete goal %s: %w", id, err)
	}
	return expectOne(res, "goal "+id)
}

func (r *SQLiteRepository) GetGoal(ctx context.Context, userID, id string) (core.Goal, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = ? AND user_id = ?`, id, userID)
	g, err := scanGoal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Goal{}, fmt.Errorf("goal %s: %w", id, core.ErrNotFound)
	}
	return g, err
}

func (r *SQLiteRepository) ListGoals(ctx context.Context, userID string) ([]core.Goal, error) {
	return r.queryGoals(ctx, `SELECT `+goalColumns+` FROM goals WHERE user_id = ? ORDER BY id`, userID)
}

func (r *SQLiteRepository) ListActiveGoals(ctx context.Context) ([]core.Goal, error) {
	return r.queryGoals(ctx, `SELECT `+goalColumns+` FROM goals WHERE status = ? ORDER BY id`, core.GoalActive)
}

func (r *SQLiteRepository) queryGoals(ctx context.Context, query string, args ...any) ([]core.Goal, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query goals: %w", err)
	}
	defer rows.Close()

	var out []core.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanGoal(s rowScanner) (core.Goal, error) {
	var (
		g                core.Goal
		target           sql.NullString
		created, updated string
	)
	err := s.Scan(&g.ID, &g.UserID, &g.Name, &g.TargetAmount, &g.CurrentAmount, &g.Currency, &g.Status,
		&target, &created, &updated)
	if err != nil {
		return core.Goal{}, err
	}
	if g.TargetDate, err = parseNullTime(target); err != nil {
		return core.Goal{}, err
	}
	if g.CreatedAt, err = parseTime(created); err != nil {
		return core.Goal{}, err
	}
	if g.UpdatedAt, err = parseTime(updated); err != nil {
		return core.Goal{}, err
	}
	return g, nil
}
