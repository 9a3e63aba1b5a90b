package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"flowledger/internal/core"
)

func (r *SQLiteRepository) InsertUser(ctx context.Context, u core.User) error {
	balances, err := encodeBalances(u.Balances)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO users (id, default_currency, balances, balances_version)
		VALUES (?, ?, ?, ?)`, u.ID, u.DefaultCurrency, balances, u.BalancesVersion)
	if isUniqueViolation(err) {
		return fmt.Errorf("user %s: %w", u.ID, core.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert user %s: %w", u.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id string) (core.User, error) {
	var (
		u        core.User
		balances sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, default_currency, balances, balances_version
		FROM users WHERE id = ?`, id).Scan(&u.ID, &u.DefaultCurrency, &balances, &u.BalancesVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	if u.Balances, err = decodeBalances(balances); err != nil {
		return core.User{}, err
	}
	return u, nil
}

func (r *SQLiteRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SQLiteRepository) SaveBalances(ctx context.Context, userID string, balances map[core.Currency]core.Balance, version int64) error {
	encoded, err := encodeBalances(balances)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE users SET balances = ?
		WHERE id = ? AND balances_version = ?`, encoded, userID, version)
	if err != nil {
		return fmt.Errorf("save balances of %s: %w", userID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("save balances of %s: %w", userID, err)
	} else if n == 1 {
		return nil
	}
	if _, err := r.GetUser(ctx, userID); err != nil {
		return err
	}
	return fmt.Errorf("balances of %s: %w", userID, core.ErrStale)
}

func (r *SQLiteRepository) ClearBalances(ctx context.Context, userID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET balances = NULL, balances_version = balances_version + 1
		WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("clear balances of %s: %w", userID, err)
	}
	return expectOne(res, "user "+userID)
}

func (r *SQLiteRepository) LastNotice(ctx context.Context, userID, kind, key string) (time.Time, bool, error) {
	var at string
	err := r.db.QueryRowContext(ctx, `SELECT notified_at FROM notices
		WHERE user_id = ? AND kind = ? AND key = ?`, userID, kind, key).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get notice %s/%s: %w", kind, key, err)
	}
	t, err := parseTime(at)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (r *SQLiteRepository) MarkNotice(ctx context.Context, userID, kind, key string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO notices (user_id, kind, key, notified_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, kind, key) DO UPDATE SET notified_at = excluded.notified_at`,
		userID, kind, key, formatTime(at))
	if err != nil {
		return fmt.Errorf("mark notice %s/%s: %w", kind, key, err)
	}
	return nil
}

// balanceRecord is the JSON shape of one cached currency entry.
type balanceRecord struct {
	Balance          decimal.Decimal `json:"balance"`
	AllocatedToGoals decimal.Decimal `json:"allocated_to_goals"`
	Available        decimal.Decimal `json:"available_balance"`
	TotalInflow      decimal.Decimal `json:"total_inflow"`
	TotalOutflow     decimal.Decimal `json:"total_outflow"`
}

func encodeBalances(m map[core.Currency]core.Balance) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	recs := make(map[core.Currency]balanceRecord, len(m))
	for c, b := range m {
		recs[c] = balanceRecord{
			Balance:          b.Balance,
			AllocatedToGoals: b.AllocatedToGoals,
			Available:        b.Available,
			TotalInflow:      b.TotalInflow,
			TotalOutflow:     b.TotalOutflow,
		}
	}
	raw, err := json.Marshal(recs)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode balances: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func decodeBalances(s sql.NullString) (map[core.Currency]core.Balance, error) {
	if !s.Valid {
		return nil, nil
	}
	var recs map[core.Currency]balanceRecord
	if err := json.Unmarshal([]byte(s.String), &recs); err != nil {
		return nil, fmt.Errorf("decode balances: %w", err)
	}
	out := make(map[core.Currency]core.Balance, len(recs))
	for c, r := range recs {
		out[c] = core.Balance{
			Currency:         c,
			Balance:          r.Balance,
			AllocatedToGoals: r.AllocatedToGoals,
			Available:        r.Available,
			TotalInflow:      r.TotalInflow,
			TotalOutflow:     r.TotalOutflow,
		}
	}
	return out, nil
}
