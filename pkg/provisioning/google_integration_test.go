//go:build integration

package provisioning

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-job-scheduler/pkg/jobspec"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGoogleAuthority_FirestoreEmulator runs against a Firestore emulator
// named by FIRESTORE_EMULATOR_HOST. Cloud Scheduler is faked.
func TestGoogleAuthority_FirestoreEmulator(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	projectID := "test-project"
	store, err := firestore.NewClient(ctx, projectID)
	require.NoError(t, err)
	sched := newFakeCloudScheduler()
	authority := newGoogleAuthority(store, sched, GoogleAuthorityConfig{
		ProjectID:       projectID,
		CollectionsRoot: "jobCollections-" + uuid.NewString(),
	}, zerolog.Nop())
	t.Cleanup(func() { _ = authority.Close() })

	collection, err := jobspec.BuildJobCollection("jc_it", "us-central1", jobspec.TierStandard, jobspec.QuotaPolicy{
		MaxRecurrence: jobspec.NewRecurrence(jobspec.FrequencyMinute),
		MaxJobCount:   1,
	})
	require.NoError(t, err)

	_, err = authority.PutJob(ctx, "rg", "jc_it", googleTestJob(t))
	require.ErrorIs(t, err, ErrCollectionNotFound)

	rec, err := authority.PutCollection(ctx, "rg/with-slash", collection)
	require.NoError(t, err)
	assert.True(t, rec.Created)

	firstModified := rec.ModifiedAt
	rec, err = authority.PutCollection(ctx, "rg/with-slash", collection)
	require.NoError(t, err)
	assert.False(t, rec.Created)
	assert.Equal(t, collection, rec.Spec)
	assert.True(t, firstModified.Equal(rec.ModifiedAt), "identical put keeps ModifiedAt")

	job := googleTestJob(t)
	jobRec, err := authority.PutJob(ctx, "rg/with-slash", "jc_it", job)
	require.NoError(t, err)
	assert.True(t, jobRec.Created)
	assert.Contains(t, sched.jobs, "projects/test-project/locations/us-central1/jobs/jc_it--job1")

	fetched, err := authority.GetJob(ctx, "rg/with-slash", "jc_it", "job1")
	require.NoError(t, err)
	assert.True(t, SameJobSpec(job, fetched.Spec))

	again, err := authority.PutJob(ctx, "rg/with-slash", "jc_it", job)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.True(t, jobRec.ModifiedAt.Equal(again.ModifiedAt), "identical put keeps ModifiedAt")

	daily := collection
	daily.Quota.MaxRecurrence = jobspec.NewRecurrence(jobspec.FrequencyDay)
	_, err = authority.PutCollection(ctx, "rg/with-slash", daily)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	second := googleTestJob(t)
	second.Name = "job2"
	_, err = authority.PutJob(ctx, "rg/with-slash", "jc_it", second)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	_, err = authority.GetJob(ctx, "rg/with-slash", "jc_it", "job2")
	assert.ErrorIs(t, err, ErrNotFound)
}
