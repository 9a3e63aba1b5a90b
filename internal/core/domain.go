package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Inflow  Direction = "inflow"
	Outflow Direction = "outflow"
)

const (
	USD Currency = "usd"
	MMK Currency = "mmk"
	THB Currency = "thb"
)

const (
	Daily    Frequency = "daily"
	Weekly   Frequency = "weekly"
	Monthly  Frequency = "monthly"
	Annually Frequency = "annually"
)

const (
	PeriodWeekly  PeriodKind = "weekly"
	PeriodMonthly PeriodKind = "monthly"
	PeriodYearly  PeriodKind = "yearly"
	PeriodCustom  PeriodKind = "custom"
)

const (
	BudgetUpcoming  BudgetStatus = "upcoming"
	BudgetActive    BudgetStatus = "active"
	BudgetCompleted BudgetStatus = "completed"
	BudgetExceeded  BudgetStatus = "exceeded"
)

const (
	GoalActive   GoalStatus = "active"
	GoalAchieved GoalStatus = "achieved"
)

// CategorySeparator joins a main and a sub category into a composite budget key.
const CategorySeparator = " - "

type (
	Direction    string
	Currency     string
	Frequency    string
	PeriodKind   string
	BudgetStatus string
	GoalStatus   string

	// RecurrenceConfig describes when a recurring transaction repeats.
	// DayOfWeek counts from Monday (0) to Sunday (6).
	RecurrenceConfig struct {
		Frequency  Frequency
		DayOfWeek  *int
		DayOfMonth *int
		Month      *int
		EndDate    *time.Time
	}

	Transaction struct {
		ID           string
		UserID       string
		Direction    Direction
		MainCategory string
		SubCategory  string
		Amount       decimal.Decimal
		Currency     Currency
		Date         time.Time
		Description  string

		// Recurrence is nil for plain transactions.
		Recurrence *Recurrence
		// ParentTransactionID is set on transactions materialized from a recurring parent.
		ParentTransactionID string

		CreatedAt time.Time
		UpdatedAt time.Time
	}

	CategoryBudget struct {
		Key            string
		Allocated      decimal.Decimal
		Spent          decimal.Decimal
		PercentageUsed decimal.Decimal
		Exceeded       bool
	}

	Budget struct {
		ID             string
		UserID         string
		Name           string
		Description    string
		Currency       Currency
		Period         PeriodKind
		StartDate      time.Time
		EndDate        time.Time
		Categories     []CategoryBudget
		TotalBudget    decimal.Decimal
		TotalSpent     decimal.Decimal
		Remaining      decimal.Decimal
		PercentageUsed decimal.Decimal
		Status         BudgetStatus

		AutoCreate        bool
		AdjustAllocations bool
		ParentBudgetID    string

		CreatedAt time.Time
		UpdatedAt time.Time
	}

	Goal struct {
		ID            string
		UserID        string
		Name          string
		TargetAmount  decimal.Decimal
		CurrentAmount decimal.Decimal
		Currency      Currency
		Status        GoalStatus
		TargetDate    *time.Time
		CreatedAt     time.Time
		UpdatedAt     time.Time
	}

	// Balance is the derived per-currency position of a user.
	Balance struct {
		Currency         Currency
		Balance          decimal.Decimal
		AllocatedToGoals decimal.Decimal
		Available        decimal.Decimal
		TotalInflow      decimal.Decimal
		TotalOutflow     decimal.Decimal
	}

	User struct {
		ID              string
		DefaultCurrency Currency
		// Balances is nil when the cached figures are absent or invalidated.
		Balances        map[Currency]Balance
		BalancesVersion int64
	}
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrDuplicate  = errors.New("duplicate")
	// ErrStale is returned when a compare-and-set write lost against a newer write.
	ErrStale = errors.New("stale write")

	ErrInvalidAmount     = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrInvalidCurrency   = fmt.Errorf("%w: invalid currency", ErrValidation)
	ErrInvalidDirection  = fmt.Errorf("%w: invalid direction", ErrValidation)
	ErrEmptyCategory     = fmt.Errorf("%w: empty main category", ErrValidation)
	ErrMissingUser       = fmt.Errorf("%w: missing user id", ErrValidation)
	ErrZeroDate          = fmt.Errorf("%w: date cannot be zero", ErrValidation)
	ErrInvalidFrequency  = fmt.Errorf("%w: invalid recurrence frequency", ErrValidation)
	ErrInvalidPeriod     = fmt.Errorf("%w: invalid budget period", ErrValidation)
	ErrMissingEndDate    = fmt.Errorf("%w: custom period requires an end date", ErrValidation)
	ErrDuplicateCategory = fmt.Errorf("%w: duplicate budget category", ErrValidation)
	ErrChildRecurrence   = fmt.Errorf("%w: materialized transactions cannot recur", ErrValidation)
	ErrNotMaterialized   = fmt.Errorf("%w: transaction was not created from a recurrence", ErrValidation)
	ErrInsufficientFunds = fmt.Errorf("%w: insufficient available balance", ErrValidation)
)

// NewDate returns midnight UTC of the given calendar day.
func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func (c Currency) Valid() bool {
	switch c {
	case USD, MMK, THB:
		return true
	}
	return false
}

// ParseCurrency lowercases and validates a currency code.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, s)
	}
	return c, nil
}

// MilestoneInterval is the cumulative-amount step at which goal milestones fire.
func (c Currency) MilestoneInterval() decimal.Decimal {
	if c == MMK {
		return decimal.NewFromInt(1_000_000)
	}
	return decimal.NewFromInt(1000)
}

// Scale converts a base amount expressed in usd-like units into this currency's
// convention; mmk amounts are a thousand times larger.
func (c Currency) Scale(base int64) decimal.Decimal {
	if c == MMK {
		return decimal.NewFromInt(base * 1000)
	}
	return decimal.NewFromInt(base)
}

func (d Direction) Valid() bool {
	return d == Inflow || d == Outflow
}

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly, Annually:
		return true
	}
	return false
}

func (p PeriodKind) Valid() bool {
	switch p {
	case PeriodWeekly, PeriodMonthly, PeriodYearly, PeriodCustom:
		return true
	}
	return false
}

// CategoryKey builds the composite key a budget uses for a main/sub pair.
func CategoryKey(main, sub string) string {
	if sub == "" {
		return main
	}
	return main + CategorySeparator + sub
}

// Split returns the main and optional sub category encoded in the key.
func (c CategoryBudget) Split() (main, sub string) {
	main, sub, _ = strings.Cut(c.Key, CategorySeparator)
	return strings.TrimSpace(main), strings.TrimSpace(sub)
}

// Matches reports whether a transaction falls under this category rule.
func (c CategoryBudget) Matches(tx Transaction) bool {
	main, sub := c.Split()
	if tx.MainCategory != main {
		return false
	}
	return sub == "" || tx.SubCategory == sub
}

// Recurring reports whether the transaction currently generates occurrences.
func (t Transaction) Recurring() bool {
	return t.Recurrence != nil && t.Recurrence.State == RecurrenceActive
}

// Materialized reports whether the transaction was created from a recurring parent.
func (t Transaction) Materialized() bool {
	return t.ParentTransactionID != ""
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return ErrMissingUser
	}
	if !t.Direction.Valid() {
		return ErrInvalidDirection
	}
	if strings.TrimSpace(t.MainCategory) == "" {
		return ErrEmptyCategory
	}
	if t.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	if !t.Currency.Valid() {
		return ErrInvalidCurrency
	}
	if t.Date.IsZero() {
		return ErrZeroDate
	}
	if len(t.Description) > 200 {
		return fmt.Errorf("%w: description too long (max 200 characters)", ErrValidation)
	}
	if t.Recurrence != nil {
		if t.Materialized() && t.Recurrence.State == RecurrenceActive {
			return ErrChildRecurrence
		}
		if err := t.Recurrence.Config.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the shape of the config. Missing per-frequency fields are
// not reported here: they make the recurrence terminate instead.
func (c RecurrenceConfig) Validate() error {
	if !c.Frequency.Valid() {
		return ErrInvalidFrequency
	}
	if c.DayOfWeek != nil && (*c.DayOfWeek < 0 || *c.DayOfWeek > 6) {
		return fmt.Errorf("%w: day of week must be 0-6", ErrValidation)
	}
	if c.DayOfMonth != nil && (*c.DayOfMonth < 1 || *c.DayOfMonth > 31) {
		return fmt.Errorf("%w: day of month must be 1-31", ErrValidation)
	}
	if c.Month != nil && (*c.Month < 1 || *c.Month > 12) {
		return fmt.Errorf("%w: month must be 1-12", ErrValidation)
	}
	return nil
}

func (b Budget) Validate() error {
	if strings.TrimSpace(b.UserID) == "" {
		return ErrMissingUser
	}
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("%w: empty budget name", ErrValidation)
	}
	if !b.Currency.Valid() {
		return ErrInvalidCurrency
	}
	if !b.Period.Valid() {
		return ErrInvalidPeriod
	}
	if len(b.Categories) == 0 {
		return fmt.Errorf("%w: budget needs at least one category", ErrValidation)
	}
	for _, c := range b.Categories {
		if main, _ := c.Split(); main == "" {
			return ErrEmptyCategory
		}
		if c.Allocated.IsNegative() {
			return ErrInvalidAmount
		}
	}
	return nil
}

// Contains reports whether the instant falls inside the budget window.
func (b Budget) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(b.StartDate) && !t.After(b.EndDate)
}

func (g Goal) Validate() error {
	if strings.TrimSpace(g.UserID) == "" {
		return ErrMissingUser
	}
	if strings.TrimSpace(g.Name) == "" {
		return fmt.Errorf("%w: empty goal name", ErrValidation)
	}
	if !g.TargetAmount.IsPositive() {
		return ErrInvalidAmount
	}
	if g.CurrentAmount.IsNegative() {
		return ErrInvalidAmount
	}
	if !g.Currency.Valid() {
		return ErrInvalidCurrency
	}
	return nil
}

// Progress is the goal completion percentage.
func (g Goal) Progress() decimal.Decimal {
	return Percentage(g.CurrentAmount, g.TargetAmount)
}

// Percentage returns part/whole*100, or zero when whole is zero.
func Percentage(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(decimal.NewFromInt(100))
}

// IntPtr is a convenience for building optional recurrence fields.
func IntPtr(v int) *int { return &v }

// TimePtr is a convenience for building optional instants.
func TimePtr(t time.Time) *time.Time { return &t }
