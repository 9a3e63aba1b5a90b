package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowledger/internal/core"
)

func endOf(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 23, 59, 59, 999999000, time.UTC)
}

func TestPeriodBounds(t *testing.T) {
	tests := []struct {
		name      string
		kind      core.PeriodKind
		anchor    time.Time
		end       *time.Time
		wantStart time.Time
		wantEnd   time.Time
		wantErr   error
	}{
		{
			name:      "weekly from wednesday",
			kind:      core.PeriodWeekly,
			anchor:    time.Date(2025, time.January, 8, 15, 4, 5, 0, time.UTC),
			wantStart: core.NewDate(2025, time.January, 6),
			wantEnd:   endOf(2025, time.January, 12),
		},
		{
			name:      "weekly from sunday",
			kind:      core.PeriodWeekly,
			anchor:    core.NewDate(2025, time.January, 12),
			wantStart: core.NewDate(2025, time.January, 6),
			wantEnd:   endOf(2025, time.January, 12),
		},
		{
			name:      "monthly february leap year",
			kind:      core.PeriodMonthly,
			anchor:    core.NewDate(2024, time.February, 10),
			wantStart: core.NewDate(2024, time.February, 1),
			wantEnd:   endOf(2024, time.February, 29),
		},
		{
			name:      "monthly december",
			kind:      core.PeriodMonthly,
			anchor:    core.NewDate(2024, time.December, 31),
			wantStart: core.NewDate(2024, time.December, 1),
			wantEnd:   endOf(2024, time.December, 31),
		},
		{
			name:      "yearly",
			kind:      core.PeriodYearly,
			anchor:    core.NewDate(2025, time.July, 4),
			wantStart: core.NewDate(2025, time.January, 1),
			wantEnd:   endOf(2025, time.December, 31),
		},
		{
			name:      "custom",
			kind:      core.PeriodCustom,
			anchor:    time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC),
			end:       core.TimePtr(core.NewDate(2025, time.March, 20)),
			wantStart: core.NewDate(2025, time.March, 3),
			wantEnd:   endOf(2025, time.March, 20),
		},
		{
			name:    "custom without end",
			kind:    core.PeriodCustom,
			anchor:  core.NewDate(2025, time.March, 3),
			wantErr: core.ErrMissingEndDate,
		},
		{
			name:    "custom end before start",
			kind:    core.PeriodCustom,
			anchor:  core.NewDate(2025, time.March, 3),
			end:     core.TimePtr(core.NewDate(2025, time.March, 1)),
			wantErr: core.ErrValidation,
		},
		{
			name:    "unknown kind",
			kind:    "fortnightly",
			anchor:  core.NewDate(2025, time.March, 3),
			wantErr: core.ErrInvalidPeriod,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := PeriodBounds(tt.kind, tt.anchor, tt.end)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestNextPeriod(t *testing.T) {
	monthly := core.Budget{
		Period:    core.PeriodMonthly,
		StartDate: core.NewDate(2024, time.December, 1),
		EndDate:   endOf(2024, time.December, 31),
	}
	start, end, err := NextPeriod(monthly)
	require.NoError(t, err)
	assert.Equal(t, core.NewDate(2025, time.January, 1), start)
	assert.Equal(t, endOf(2025, time.January, 31), end)

	custom := core.Budget{
		Period:    core.PeriodCustom,
		StartDate: core.NewDate(2025, time.March, 1),
		EndDate:   endOf(2025, time.March, 10),
	}
	start, end, err = NextPeriod(custom)
	require.NoError(t, err)
	assert.Equal(t, core.NewDate(2025, time.March, 11), start)
	assert.Equal(t, endOf(2025, time.March, 20), end)
}
