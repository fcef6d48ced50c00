package jobspec_test

import (
	"strings"
	"testing"
	"time"

	"github.com/illmade-knight/go-job-scheduler/pkg/jobspec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func standardQuota() jobspec.QuotaPolicy {
	return jobspec.QuotaPolicy{
		MaxRecurrence: jobspec.NewRecurrence(jobspec.FrequencyMinute),
		MaxJobCount:   5,
	}
}

func TestBuildJobCollection(t *testing.T) {
	t.Parallel()

	t.Run("builds a valid collection with defaults", func(t *testing.T) {
		t.Parallel()
		spec, err := jobspec.BuildJobCollection("jc_test", "westus", jobspec.TierStandard, standardQuota())
		require.NoError(t, err)
		assert.Equal(t, "jc_test", spec.Name)
		assert.Equal(t, "westus", spec.Location)
		assert.Equal(t, jobspec.TierStandard, spec.Tier)
		assert.Equal(t, jobspec.CollectionEnabled, spec.State)
		assert.Equal(t, 5, spec.Quota.MaxJobCount)
	})

	t.Run("applies state option", func(t *testing.T) {
		t.Parallel()
		spec, err := jobspec.BuildJobCollection("jc_test", "westus", jobspec.TierStandard, standardQuota(),
			jobspec.WithCollectionState(jobspec.CollectionDisabled))
		require.NoError(t, err)
		assert.Equal(t, jobspec.CollectionDisabled, spec.State)
	})

	testCases := []struct {
		name     string
		collName string
		location string
		tier     jobspec.Tier
		quota    jobspec.QuotaPolicy
		field    string
	}{
		{name: "empty name", collName: "", location: "westus", tier: jobspec.TierStandard, quota: standardQuota(), field: "collection.name"},
		{name: "name with slash", collName: "a/b", location: "westus", tier: jobspec.TierStandard, quota: standardQuota(), field: "collection.name"},
		{name: "empty location", collName: "jc", location: "", tier: jobspec.TierStandard, quota: standardQuota(), field: "collection.location"},
		{name: "unknown tier", collName: "jc", location: "westus", tier: "Gold", quota: standardQuota(), field: "collection.tier"},
		{name: "zero job count", collName: "jc", location: "westus", tier: jobspec.TierStandard,
			quota: jobspec.QuotaPolicy{MaxRecurrence: jobspec.NewRecurrence(jobspec.FrequencyMinute), MaxJobCount: 0}, field: "quota.max_job_count"},
		{name: "zero quota interval", collName: "jc", location: "westus", tier: jobspec.TierStandard,
			quota: jobspec.QuotaPolicy{MaxRecurrence: jobspec.RecurrenceSpec{Frequency: jobspec.FrequencyMinute}, MaxJobCount: 1}, field: "quota.max_recurrence.interval"},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := jobspec.BuildJobCollection(tc.collName, tc.location, tc.tier, tc.quota)
			require.Error(t, err)
			assert.ErrorIs(t, err, jobspec.ErrInvalidSpec)
			var vErr *jobspec.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tc.field, vErr.Field)
		})
	}
}

func TestBuildJob(t *testing.T) {
	t.Parallel()
	weekly := jobspec.RecurrenceSpec{Frequency: jobspec.FrequencyWeek, Interval: 1, Count: jobspec.IntPtr(10000)}

	t.Run("builds a job with defaults", func(t *testing.T) {
		t.Parallel()
		before := time.Now().UTC().Add(-time.Second)
		spec, err := jobspec.BuildJob("job1", jobspec.ActionSpec{URI: "https://example.test/ping"}, weekly)
		require.NoError(t, err)

		assert.Equal(t, jobspec.ActionHTTP, spec.Action.Type)
		assert.Equal(t, "GET", spec.Action.Method)
		assert.Equal(t, jobspec.RetryNone, spec.Action.RetryPolicy.RetryType)
		assert.Equal(t, jobspec.JobEnabled, spec.State)
		assert.False(t, spec.StartTime.Before(before.Truncate(time.Second)), "start time should default to build time")
		assert.Equal(t, time.UTC, spec.StartTime.Location())
		require.NotNil(t, spec.Recurrence.Count)
		assert.Equal(t, 10000, *spec.Recurrence.Count)
	})

	t.Run("honours explicit start time and state", func(t *testing.T) {
		t.Parallel()
		start := time.Date(2026, 1, 2, 3, 4, 5, 600, time.FixedZone("x", 3600))
		spec, err := jobspec.BuildJob("job1", jobspec.HTTPAction("post", "https://example.test/ping"), weekly,
			jobspec.WithStartTime(start), jobspec.WithJobState(jobspec.JobDisabled))
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 1, 2, 2, 4, 5, 0, time.UTC), spec.StartTime)
		assert.Equal(t, jobspec.JobDisabled, spec.State)
		assert.Equal(t, "POST", spec.Action.Method)
	})

	t.Run("clears retry fields of a None policy", func(t *testing.T) {
		t.Parallel()
		action := jobspec.ActionSpec{
			URI:         "https://example.test/ping",
			RetryPolicy: jobspec.RetryPolicy{RetryType: jobspec.RetryNone, RetryCount: 3, RetryInterval: jobspec.Duration(time.Minute)},
		}
		spec, err := jobspec.BuildJob("job1", action, weekly)
		require.NoError(t, err)
		assert.Zero(t, spec.Action.RetryPolicy.RetryCount)
		assert.Zero(t, spec.Action.RetryPolicy.RetryInterval)
	})

	t.Run("does not share the caller's header map", func(t *testing.T) {
		t.Parallel()
		headers := map[string]string{"X-Trace": "1"}
		spec, err := jobspec.BuildJob("job1", jobspec.ActionSpec{URI: "https://example.test/ping", Headers: headers}, weekly)
		require.NoError(t, err)
		headers["X-Trace"] = "2"
		assert.Equal(t, "1", spec.Action.Headers["X-Trace"])
	})

	testCases := []struct {
		name       string
		action     jobspec.ActionSpec
		recurrence jobspec.RecurrenceSpec
		field      string
	}{
		{name: "empty uri", action: jobspec.ActionSpec{}, recurrence: weekly, field: "action.uri"},
		{name: "relative uri", action: jobspec.ActionSpec{URI: "/ping"}, recurrence: weekly, field: "action.uri"},
		{name: "non http scheme", action: jobspec.ActionSpec{URI: "ftp://example.test/x"}, recurrence: weekly, field: "action.uri"},
		{name: "bad method", action: jobspec.HTTPAction("TRACE", "https://example.test"), recurrence: weekly, field: "action.method"},
		{name: "zero interval", action: jobspec.HTTPAction("GET", "https://example.test"),
			recurrence: jobspec.RecurrenceSpec{Frequency: jobspec.FrequencyHour, Interval: 0}, field: "recurrence.interval"},
		{name: "negative interval", action: jobspec.HTTPAction("GET", "https://example.test"),
			recurrence: jobspec.RecurrenceSpec{Frequency: jobspec.FrequencyHour, Interval: -2}, field: "recurrence.interval"},
		{name: "zero count", action: jobspec.HTTPAction("GET", "https://example.test"),
			recurrence: jobspec.RecurrenceSpec{Frequency: jobspec.FrequencyHour, Interval: 1, Count: jobspec.IntPtr(0)}, field: "recurrence.count"},
		{name: "unknown frequency", action: jobspec.HTTPAction("GET", "https://example.test"),
			recurrence: jobspec.RecurrenceSpec{Frequency: "Second", Interval: 1}, field: "recurrence.frequency"},
		{name: "fixed retry without count", action: jobspec.ActionSpec{URI: "https://example.test",
			RetryPolicy: jobspec.RetryPolicy{RetryType: jobspec.RetryFixed, RetryInterval: jobspec.Duration(time.Minute)}},
			recurrence: weekly, field: "action.retry_policy.retry_count"},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := jobspec.BuildJob("job1", tc.action, tc.recurrence)
			require.Error(t, err)
			var vErr *jobspec.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tc.field, vErr.Field)
		})
	}

	t.Run("reports every problem at once", func(t *testing.T) {
		t.Parallel()
		_, err := jobspec.BuildJob("", jobspec.ActionSpec{}, jobspec.RecurrenceSpec{Frequency: jobspec.FrequencyDay})
		require.Error(t, err)
		for _, field := range []string{"job.name", "action.uri", "recurrence.interval"} {
			assert.True(t, strings.Contains(err.Error(), field), "expected %s in %q", field, err.Error())
		}
	})
}

func TestCheckQuota(t *testing.T) {
	t.Parallel()
	quota := jobspec.QuotaPolicy{MaxRecurrence: jobspec.NewRecurrence(jobspec.FrequencyHour), MaxJobCount: 5}

	job, err := jobspec.BuildJob("job1", jobspec.HTTPAction("GET", "https://example.test"),
		jobspec.RecurrenceSpec{Frequency: jobspec.FrequencyMinute, Interval: 30})
	require.NoError(t, err)
	err = jobspec.CheckQuota(job, quota)
	require.Error(t, err)
	assert.ErrorIs(t, err, jobspec.ErrInvalidSpec)

	job.Recurrence = jobspec.RecurrenceSpec{Frequency: jobspec.FrequencyMinute, Interval: 60}
	assert.NoError(t, jobspec.CheckQuota(job, quota), "equal cadence is allowed")
}

func TestNewName(t *testing.T) {
	t.Parallel()
	a := jobspec.NewName("jc_")
	b := jobspec.NewName("jc_")
	assert.True(t, strings.HasPrefix(a, "jc_"))
	assert.NotEqual(t, a, b)
	assert.NoError(t, jobspec.ValidateName("collection.name", a))
}
