package provisioning

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"time"

	"cloud.google.com/go/firestore"
	scheduler "cloud.google.com/go/scheduler/apiv1"
	"cloud.google.com/go/scheduler/apiv1/schedulerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/illmade-knight/go-job-scheduler/pkg/jobspec"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

const (
	defaultCollectionsRoot = "jobCollections"
	jobsSubcollection      = "jobs"
)

// cloudScheduler is the subset of *scheduler.CloudSchedulerClient the
// authority uses.
type cloudScheduler interface {
	GetJob(ctx context.Context, req *schedulerpb.GetJobRequest, opts ...gax.CallOption) (*schedulerpb.Job, error)
	CreateJob(ctx context.Context, req *schedulerpb.CreateJobRequest, opts ...gax.CallOption) (*schedulerpb.Job, error)
	UpdateJob(ctx context.Context, req *schedulerpb.UpdateJobRequest, opts ...gax.CallOption) (*schedulerpb.Job, error)
	PauseJob(ctx context.Context, req *schedulerpb.PauseJobRequest, opts ...gax.CallOption) (*schedulerpb.Job, error)
	ResumeJob(ctx context.Context, req *schedulerpb.ResumeJobRequest, opts ...gax.CallOption) (*schedulerpb.Job, error)
	Close() error
}

// GoogleAuthorityConfig configures a GoogleAuthority.
type GoogleAuthorityConfig struct {
	ProjectID string
	// CollectionsRoot is the top-level Firestore collection holding job
	// collections. Defaults to "jobCollections".
	CollectionsRoot string
}

// GoogleAuthority is a scheduling authority built on Google Cloud. Firestore
// is the source of truth for collections and job definitions, and quota
// rules are checked inside Firestore transactions. Each job is mirrored to a
// Cloud Scheduler HTTP job that does the actual firing. Cloud Scheduler has no
// occurrence cap, so a recurrence count is recorded but not enforced there.
type GoogleAuthority struct {
	store     *firestore.Client
	scheduler cloudScheduler
	projectID string
	root      string
	logger    zerolog.Logger
	now       func() time.Time
}

// NewGoogleAuthority creates the Firestore and Cloud Scheduler clients.
func NewGoogleAuthority(ctx context.Context, cfg GoogleAuthorityConfig, logger zerolog.Logger, clientOpts ...option.ClientOption) (*GoogleAuthority, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("google authority requires a project id")
	}
	store, err := firestore.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	sched, err := scheduler.NewCloudSchedulerClient(ctx, clientOpts...)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("scheduler.NewCloudSchedulerClient: %w", err)
	}
	return newGoogleAuthority(store, sched, cfg, logger), nil
}

func newGoogleAuthority(store *firestore.Client, sched cloudScheduler, cfg GoogleAuthorityConfig, logger zerolog.Logger) *GoogleAuthority {
	root := cfg.CollectionsRoot
	if root == "" {
		root = defaultCollectionsRoot
	}
	return &GoogleAuthority{
		store:     store,
		scheduler: sched,
		projectID: cfg.ProjectID,
		root:      root,
		logger:    logger.With().Str("subcomponent", "GoogleAuthority").Logger(),
		now:       time.Now,
	}
}

// collectionDoc is the Firestore form of a job collection.
type collectionDoc struct {
	ResourceGroup          string    `firestore:"resourceGroup"`
	Name                   string    `firestore:"name"`
	Location               string    `firestore:"location"`
	Tier                   string    `firestore:"tier"`
	State                  string    `firestore:"state"`
	MaxJobCount            int       `firestore:"maxJobCount"`
	MaxRecurrenceFrequency string    `firestore:"maxRecurrenceFrequency"`
	MaxRecurrenceInterval  int       `firestore:"maxRecurrenceInterval"`
	CreatedAt              time.Time `firestore:"createdAt"`
	ModifiedAt             time.Time `firestore:"modifiedAt"`
}

// jobDoc is the Firestore form of a job.
type jobDoc struct {
	Name               string            `firestore:"name"`
	StartTime          time.Time         `firestore:"startTime"`
	ActionType         string            `firestore:"actionType"`
	URI                string            `firestore:"uri"`
	Method             string            `firestore:"method"`
	Headers            map[string]string `firestore:"headers,omitempty"`
	Body               string            `firestore:"body,omitempty"`
	RetryType          string            `firestore:"retryType"`
	RetryIntervalNanos int64             `firestore:"retryIntervalNanos"`
	RetryCount         int               `firestore:"retryCount"`
	Frequency          string            `firestore:"frequency"`
	Interval           int               `firestore:"interval"`
	Count              *int              `firestore:"count"`
	State              string            `firestore:"state"`
	SchedulerJob       string            `firestore:"schedulerJob"`
	CreatedAt          time.Time         `firestore:"createdAt"`
	ModifiedAt         time.Time         `firestore:"modifiedAt"`
}

func newCollectionDoc(resourceGroup string, spec jobspec.JobCollectionSpec) collectionDoc {
	return collectionDoc{
		ResourceGroup:          resourceGroup,
		Name:                   spec.Name,
		Location:               spec.Location,
		Tier:                   string(spec.Tier),
		State:                  string(spec.State),
		MaxJobCount:            spec.Quota.MaxJobCount,
		MaxRecurrenceFrequency: string(spec.Quota.MaxRecurrence.Frequency),
		MaxRecurrenceInterval:  spec.Quota.MaxRecurrence.Interval,
	}
}

func (d collectionDoc) spec() jobspec.JobCollectionSpec {
	return jobspec.JobCollectionSpec{
		Name:     d.Name,
		Location: d.Location,
		Tier:     jobspec.Tier(d.Tier),
		State:    jobspec.CollectionState(d.State),
		Quota: jobspec.QuotaPolicy{
			MaxJobCount: d.MaxJobCount,
			MaxRecurrence: jobspec.RecurrenceSpec{
				Frequency: jobspec.Frequency(d.MaxRecurrenceFrequency),
				Interval:  d.MaxRecurrenceInterval,
			},
		},
	}
}

func newJobDoc(spec jobspec.JobSpec) jobDoc {
	return jobDoc{
		Name:               spec.Name,
		StartTime:          spec.StartTime.UTC(),
		ActionType:         string(spec.Action.Type),
		URI:                spec.Action.URI,
		Method:             spec.Action.Method,
		Headers:            spec.Action.Headers,
		Body:               spec.Action.Body,
		RetryType:          string(spec.Action.RetryPolicy.RetryType),
		RetryIntervalNanos: int64(spec.Action.RetryPolicy.RetryInterval),
		RetryCount:         spec.Action.RetryPolicy.RetryCount,
		Frequency:          string(spec.Recurrence.Frequency),
		Interval:           spec.Recurrence.Interval,
		Count:              spec.Recurrence.Count,
		State:              string(spec.State),
	}
}

func (d jobDoc) spec() jobspec.JobSpec {
	return jobspec.JobSpec{
		Name:      d.Name,
		StartTime: d.StartTime.UTC(),
		Action: jobspec.ActionSpec{
			Type:    jobspec.ActionType(d.ActionType),
			URI:     d.URI,
			Method:  d.Method,
			Headers: d.Headers,
			Body:    d.Body,
			RetryPolicy: jobspec.RetryPolicy{
				RetryType:     jobspec.RetryType(d.RetryType),
				RetryInterval: jobspec.Duration(d.RetryIntervalNanos),
				RetryCount:    d.RetryCount,
			},
		},
		Recurrence: jobspec.RecurrenceSpec{
			Frequency: jobspec.Frequency(d.Frequency),
			Interval:  d.Interval,
			Count:     d.Count,
		},
		State: jobspec.JobState(d.State),
	}
}

func (a *GoogleAuthority) collectionRef(resourceGroup, name string) *firestore.DocumentRef {
	// Firestore document ids cannot contain '/'.
	return a.store.Collection(a.root).Doc(fmt.Sprintf("%s:%s", url.PathEscape(resourceGroup), name))
}

// PutCollection creates or replaces a collection document. A quota that no
// longer covers the jobs already held, by count or by recurrence floor, is
// rejected.
func (a *GoogleAuthority) PutCollection(ctx context.Context, resourceGroup string, spec jobspec.JobCollectionSpec) (*CollectionRecord, error) {
	resource := "jobCollections/" + spec.Name
	if err := spec.Tier.Limits().Admits(spec.Quota); err != nil {
		return nil, NewRemoteError(ErrQuotaExceeded, resource, "%s tier: %v", spec.Tier, err)
	}

	ref := a.collectionRef(resourceGroup, spec.Name)
	var doc collectionDoc
	var created bool
	err := a.store.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc = newCollectionDoc(resourceGroup, spec)
		// Firestore keeps microseconds.
		now := a.now().UTC().Truncate(time.Microsecond)
		doc.CreatedAt, doc.ModifiedAt = now, now
		created = true

		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var existing collectionDoc
			if err := snap.DataTo(&existing); err != nil {
				return err
			}
			jobs, err := tx.Documents(ref.Collection(jobsSubcollection)).GetAll()
			if err != nil {
				return err
			}
			if len(jobs) > spec.Quota.MaxJobCount {
				return NewRemoteError(ErrQuotaExceeded, resource,
					"collection holds %d jobs, more than the requested max job count of %d", len(jobs), spec.Quota.MaxJobCount)
			}
			for _, jobSnap := range jobs {
				var held jobDoc
				if err := jobSnap.DataTo(&held); err != nil {
					return err
				}
				if err := jobspec.CheckQuota(held.spec(), spec.Quota); err != nil {
					return NewRemoteError(ErrQuotaExceeded, resource, "held job '%s' no longer fits: %v", held.Name, err)
				}
			}
			created = false
			doc.CreatedAt = existing.CreatedAt
			if reflect.DeepEqual(existing.spec(), spec) {
				doc.ModifiedAt = existing.ModifiedAt
			}
		}
		return tx.Set(ref, doc)
	})
	if err != nil {
		return nil, classifyGRPC(err, resource)
	}

	a.logger.Debug().Str("collection", spec.Name).Bool("created", created).Msg("Collection stored")
	return &CollectionRecord{
		Spec:     doc.spec(),
		Metadata: Metadata{Created: created, CreatedAt: doc.CreatedAt, ModifiedAt: doc.ModifiedAt},
	}, nil
}

// GetCollection reads a collection document.
func (a *GoogleAuthority) GetCollection(ctx context.Context, resourceGroup, name string) (*CollectionRecord, error) {
	resource := "jobCollections/" + name
	snap, err := a.collectionRef(resourceGroup, name).Get(ctx)
	if err != nil {
		return nil, classifyGRPC(err, resource)
	}
	var doc collectionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode collection '%s': %w", name, err)
	}
	return &CollectionRecord{
		Spec:     doc.spec(),
		Metadata: Metadata{CreatedAt: doc.CreatedAt, ModifiedAt: doc.ModifiedAt},
	}, nil
}

// PutJob stores the job definition under its collection, enforcing the quota,
// and then mirrors it to Cloud Scheduler. Jobs Cloud Scheduler cannot express
// are rejected before anything is written. A failed mirror leaves the stored
// definition in place; repeating the call converges both.
func (a *GoogleAuthority) PutJob(ctx context.Context, resourceGroup, collection string, spec jobspec.JobSpec) (*JobRecord, error) {
	resource := fmt.Sprintf("jobCollections/%s/jobs/%s", collection, spec.Name)
	if _, err := toSchedulerJob("", collection, spec); err != nil {
		return nil, NewRemoteError(ErrRemoteValidation, resource, "%v", err)
	}
	parentRef := a.collectionRef(resourceGroup, collection)
	jobRef := parentRef.Collection(jobsSubcollection).Doc(spec.Name)

	var doc jobDoc
	var parent collectionDoc
	var created bool
	err := a.store.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		parentSnap, err := tx.Get(parentRef)
		if status.Code(err) == codes.NotFound {
			return NewRemoteError(ErrCollectionNotFound, resource,
				"job collection '%s' does not exist in resource group '%s'", collection, resourceGroup)
		}
		if err != nil {
			return err
		}
		if err := parentSnap.DataTo(&parent); err != nil {
			return err
		}
		if err := jobspec.CheckQuota(spec, parent.spec().Quota); err != nil {
			return NewRemoteError(ErrQuotaExceeded, resource, "%v", err)
		}

		jobs, err := tx.Documents(parentRef.Collection(jobsSubcollection)).GetAll()
		if err != nil {
			return err
		}
		var existing *jobDoc
		for _, snap := range jobs {
			if snap.Ref.ID == spec.Name {
				existing = &jobDoc{}
				if err := snap.DataTo(existing); err != nil {
					return err
				}
			}
		}

		doc = newJobDoc(spec)
		doc.SchedulerJob = a.schedulerJobName(parent.Location, collection, spec.Name)
		now := a.now().UTC().Truncate(time.Microsecond)
		doc.CreatedAt, doc.ModifiedAt = now, now
		created = existing == nil
		if created && len(jobs) >= parent.MaxJobCount {
			return NewRemoteError(ErrQuotaExceeded, resource,
				"job collection '%s' already holds its maximum of %d jobs", collection, parent.MaxJobCount)
		}
		if existing != nil {
			doc.CreatedAt = existing.CreatedAt
			if SameJobSpec(existing.spec(), spec) {
				doc.ModifiedAt = existing.ModifiedAt
			}
		}
		return tx.Set(jobRef, doc)
	})
	if err != nil {
		return nil, classifyGRPC(err, resource)
	}

	if err := a.mirrorJob(ctx, parent.Location, collection, spec); err != nil {
		return nil, classifyGRPC(err, resource)
	}

	a.logger.Debug().Str("collection", collection).Str("job", spec.Name).Bool("created", created).Msg("Job stored and mirrored")
	return &JobRecord{
		Collection: collection,
		Spec:       doc.spec(),
		Metadata:   Metadata{Created: created, CreatedAt: doc.CreatedAt, ModifiedAt: doc.ModifiedAt},
	}, nil
}

// GetJob reads a job document.
func (a *GoogleAuthority) GetJob(ctx context.Context, resourceGroup, collection, name string) (*JobRecord, error) {
	resource := fmt.Sprintf("jobCollections/%s/jobs/%s", collection, name)
	snap, err := a.collectionRef(resourceGroup, collection).Collection(jobsSubcollection).Doc(name).Get(ctx)
	if err != nil {
		return nil, classifyGRPC(err, resource)
	}
	var doc jobDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode job '%s': %w", name, err)
	}
	return &JobRecord{
		Collection: collection,
		Spec:       doc.spec(),
		Metadata:   Metadata{CreatedAt: doc.CreatedAt, ModifiedAt: doc.ModifiedAt},
	}, nil
}

// Close closes both clients.
func (a *GoogleAuthority) Close() error {
	return errors.Join(a.scheduler.Close(), a.store.Close())
}

func (a *GoogleAuthority) schedulerJobName(location, collection, job string) string {
	return fmt.Sprintf("projects/%s/locations/%s/jobs/%s--%s", a.projectID, location, collection, job)
}

// mirrorJob creates or updates the Cloud Scheduler job for spec and aligns its
// paused state with the job state.
func (a *GoogleAuthority) mirrorJob(ctx context.Context, location, collection string, spec jobspec.JobSpec) error {
	desired, err := toSchedulerJob(a.schedulerJobName(location, collection, spec.Name), collection, spec)
	if err != nil {
		return NewRemoteError(ErrRemoteValidation, spec.Name, "%v", err)
	}

	current, err := a.scheduler.GetJob(ctx, &schedulerpb.GetJobRequest{Name: desired.Name})
	switch {
	case status.Code(err) == codes.NotFound:
		parent := fmt.Sprintf("projects/%s/locations/%s", a.projectID, location)
		current, err = a.scheduler.CreateJob(ctx, &schedulerpb.CreateJobRequest{Parent: parent, Job: desired})
		if err != nil {
			return fmt.Errorf("failed to create scheduler job '%s': %w", desired.Name, err)
		}
	case err != nil:
		return fmt.Errorf("failed to check scheduler job '%s': %w", desired.Name, err)
	default:
		current, err = a.scheduler.UpdateJob(ctx, &schedulerpb.UpdateJobRequest{Job: desired})
		if err != nil {
			return fmt.Errorf("failed to update scheduler job '%s': %w", desired.Name, err)
		}
	}

	paused := current.GetState() == schedulerpb.Job_PAUSED
	switch {
	case spec.State == jobspec.JobDisabled && !paused:
		_, err = a.scheduler.PauseJob(ctx, &schedulerpb.PauseJobRequest{Name: desired.Name})
	case spec.State == jobspec.JobEnabled && paused:
		_, err = a.scheduler.ResumeJob(ctx, &schedulerpb.ResumeJobRequest{Name: desired.Name})
	}
	if err != nil {
		return fmt.Errorf("failed to set state of scheduler job '%s': %w", desired.Name, err)
	}
	return nil
}

var schedulerMethods = map[string]schedulerpb.HttpMethod{
	"GET":    schedulerpb.HttpMethod_GET,
	"POST":   schedulerpb.HttpMethod_POST,
	"PUT":    schedulerpb.HttpMethod_PUT,
	"PATCH":  schedulerpb.HttpMethod_PATCH,
	"DELETE": schedulerpb.HttpMethod_DELETE,
	"HEAD":   schedulerpb.HttpMethod_HEAD,
}

// toSchedulerJob renders a job spec as a Cloud Scheduler HTTP job.
func toSchedulerJob(name, collection string, spec jobspec.JobSpec) (*schedulerpb.Job, error) {
	schedule, err := spec.Recurrence.CronExpression(spec.StartTime)
	if err != nil {
		return nil, err
	}
	method, ok := schedulerMethods[spec.Action.Method]
	if !ok {
		return nil, fmt.Errorf("method %q is not supported by Cloud Scheduler", spec.Action.Method)
	}

	description := fmt.Sprintf("%s/%s every %s", collection, spec.Name, spec.Recurrence.Cadence())
	if spec.Recurrence.Count != nil {
		description += fmt.Sprintf(", up to %d occurrences", *spec.Recurrence.Count)
	}
	job := &schedulerpb.Job{
		Name:        name,
		Description: description,
		Schedule:    schedule,
		TimeZone:    "Etc/UTC",
		Target: &schedulerpb.Job_HttpTarget{
			HttpTarget: &schedulerpb.HttpTarget{
				Uri:        spec.Action.URI,
				HttpMethod: method,
				Headers:    spec.Action.Headers,
				Body:       []byte(spec.Action.Body),
			},
		},
	}
	if spec.Action.RetryPolicy.RetryType == jobspec.RetryFixed {
		interval := durationpb.New(time.Duration(spec.Action.RetryPolicy.RetryInterval))
		job.RetryConfig = &schedulerpb.RetryConfig{
			RetryCount:         int32(spec.Action.RetryPolicy.RetryCount),
			MinBackoffDuration: interval,
			MaxBackoffDuration: interval,
			MaxDoublings:       0,
		}
	} else {
		job.RetryConfig = &schedulerpb.RetryConfig{RetryCount: 0}
	}
	return job, nil
}

// classifyGRPC maps a Google API error onto the error classes. Errors that
// are already classified pass through.
func classifyGRPC(err error, resource string) error {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return err
	}
	var kind error
	switch status.Code(err) {
	case codes.NotFound:
		kind = ErrNotFound
	case codes.PermissionDenied, codes.Unauthenticated:
		kind = ErrAuthorization
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange, codes.AlreadyExists:
		kind = ErrRemoteValidation
	default:
		kind = ErrTransient
	}
	return &RemoteError{
		Kind:     kind,
		Code:     CodeForKind(kind),
		Message:  status.Convert(err).Message(),
		Resource: resource,
		Err:      err,
	}
}
