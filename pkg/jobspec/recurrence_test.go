package jobspec_test

import (
	"testing"
	"time"

	"github.com/illmade-knight/go-job-scheduler/pkg/jobspec"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecurrenceSpec_Finer(t *testing.T) {
	t.Parallel()
	minute := jobspec.NewRecurrence(jobspec.FrequencyMinute)
	hour := jobspec.NewRecurrence(jobspec.FrequencyHour)
	twoHours := jobspec.RecurrenceSpec{Frequency: jobspec.FrequencyHour, Interval: 2}

	assert.True(t, minute.Finer(hour))
	assert.False(t, hour.Finer(minute))
	assert.False(t, hour.Finer(hour))
	assert.True(t, hour.Finer(twoHours))
	assert.Equal(t, "2 Hour", twoHours.Cadence())

	t.Run("huge intervals do not overflow", func(t *testing.T) {
		t.Parallel()
		centuries := jobspec.RecurrenceSpec{Frequency: jobspec.FrequencyMonth, Interval: 4000}
		longer := jobspec.RecurrenceSpec{Frequency: jobspec.FrequencyMonth, Interval: 4001}

		assert.True(t, minute.Finer(centuries))
		assert.False(t, centuries.Finer(minute))
		assert.True(t, centuries.Finer(longer))
		assert.Positive(t, centuries.Period())

		job := jobspec.JobSpec{Name: "rare", Recurrence: centuries}
		assert.NoError(t, jobspec.CheckQuota(job, jobspec.QuotaPolicy{MaxRecurrence: minute, MaxJobCount: 1}))
	})
}

func TestRecurrenceSpec_CronExpression(t *testing.T) {
	t.Parallel()
	// A Tuesday.
	start := time.Date(2026, 3, 17, 9, 45, 0, 0, time.UTC)

	testCases := []struct {
		name       string
		recurrence jobspec.RecurrenceSpec
		expected   string
	}{
		{name: "every minute", recurrence: jobspec.NewRecurrence(jobspec.FrequencyMinute), expected: "*/1 * * * *"},
		{name: "every 15 minutes", recurrence: jobspec.RecurrenceSpec{Frequency: jobspec.FrequencyMinute, Interval: 15}, expected: "*/15 * * * *"},
		{name: "every hour", recurrence: jobspec.NewRecurrence(jobspec.FrequencyHour), expected: "45 */1 * * *"},
		{name: "every 6 hours", recurrence: jobspec.RecurrenceSpec{Frequency: jobspec.FrequencyHour, Interval: 6}, expected: "45 */6 * * *"},
		{name: "every day", recurrence: jobspec.NewRecurrence(jobspec.FrequencyDay), expected: "45 9 * * *"},
		{name: "every week", recurrence: jobspec.NewRecurrence(jobspec.FrequencyWeek), expected: "45 9 * * 2"},
		{name: "every quarter", recurrence: jobspec.RecurrenceSpec{Frequency: jobspec.FrequencyMonth, Interval: 3}, expected: "45 9 17 */3 *"},
		{name: "every year", recurrence: jobspec.RecurrenceSpec{Frequency: jobspec.FrequencyMonth, Interval: 12}, expected: "45 9 17 3 *"},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			expr, err := tc.recurrence.CronExpression(start)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, expr)
			_, err = cron.ParseStandard(expr)
			assert.NoError(t, err)
		})
	}

	t.Run("rejects schedules cron cannot express", func(t *testing.T) {
		t.Parallel()
		for _, r := range []jobspec.RecurrenceSpec{
			{Frequency: jobspec.FrequencyWeek, Interval: 2},
			{Frequency: jobspec.FrequencyMinute, Interval: 90},
			{Frequency: jobspec.FrequencyMonth, Interval: 13},
			// Steps that do not divide the field restart early each cycle.
			{Frequency: jobspec.FrequencyMinute, Interval: 7},
			{Frequency: jobspec.FrequencyMinute, Interval: 60},
			{Frequency: jobspec.FrequencyHour, Interval: 5},
			{Frequency: jobspec.FrequencyDay, Interval: 2},
			{Frequency: jobspec.FrequencyMonth, Interval: 5},
		} {
			_, err := r.CronExpression(start)
			assert.ErrorIs(t, err, jobspec.ErrNotExpressible, r.Cadence())
		}
	})

	t.Run("rejects monthly schedules past the 28th", func(t *testing.T) {
		t.Parallel()
		endOfMonth := time.Date(2026, 1, 31, 9, 45, 0, 0, time.UTC)
		_, err := jobspec.NewRecurrence(jobspec.FrequencyMonth).CronExpression(endOfMonth)
		assert.ErrorIs(t, err, jobspec.ErrNotExpressible)
	})

	t.Run("rendered schedules keep an even gap", func(t *testing.T) {
		t.Parallel()
		for _, r := range []jobspec.RecurrenceSpec{
			{Frequency: jobspec.FrequencyMinute, Interval: 15},
			{Frequency: jobspec.FrequencyHour, Interval: 8},
		} {
			expr, err := r.CronExpression(start)
			require.NoError(t, err)
			schedule, err := cron.ParseStandard(expr)
			require.NoError(t, err)
			prev := schedule.Next(start)
			for i := 0; i < 100; i++ {
				next := schedule.Next(prev)
				require.Equal(t, r.Period(), next.Sub(prev), "%s after %s", r.Cadence(), prev)
				prev = next
			}
		}
	})

	t.Run("rejects invalid recurrences", func(t *testing.T) {
		t.Parallel()
		_, err := jobspec.RecurrenceSpec{Frequency: jobspec.FrequencyDay}.CronExpression(start)
		assert.ErrorIs(t, err, jobspec.ErrInvalidSpec)
	})
}

func TestTierLimits_Admits(t *testing.T) {
	t.Parallel()
	minuteQuota := jobspec.QuotaPolicy{MaxRecurrence: jobspec.NewRecurrence(jobspec.FrequencyMinute), MaxJobCount: 5}

	assert.NoError(t, jobspec.TierStandard.Limits().Admits(minuteQuota))
	assert.Error(t, jobspec.TierFree.Limits().Admits(minuteQuota), "free tier only allows hourly floors")

	bigQuota := jobspec.QuotaPolicy{MaxRecurrence: jobspec.NewRecurrence(jobspec.FrequencyHour), MaxJobCount: 51}
	assert.Error(t, jobspec.TierStandard.Limits().Admits(bigQuota))
	assert.NoError(t, jobspec.TierPremium.Limits().Admits(bigQuota))
}
