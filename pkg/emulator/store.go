package emulator

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/illmade-knight/go-job-scheduler/pkg/jobspec"
	"github.com/illmade-knight/go-job-scheduler/pkg/provisioning"
	"github.com/rs/zerolog"
)

// Operation names a store call, for fault injection.
type Operation string

const (
	OpPutCollection Operation = "PutCollection"
	OpGetCollection Operation = "GetCollection"
	OpPutJob        Operation = "PutJob"
	OpGetJob        Operation = "GetJob"
)

// FaultFunc may return an error to fail a call before the store touches its
// state. Returning nil lets the call proceed.
type FaultFunc func(op Operation, resourceGroup, collection, job string) error

type collectionKey struct {
	resourceGroup string
	name          string
}

type storedCollection struct {
	spec       jobspec.JobCollectionSpec
	createdAt  time.Time
	modifiedAt time.Time
	jobs       map[string]*storedJob
}

type storedJob struct {
	spec       jobspec.JobSpec
	createdAt  time.Time
	modifiedAt time.Time
}

// Store is an in-memory scheduling authority. It enforces the same rules a
// real authority does: tier ceilings on quotas, the quota job count and
// recurrence floor on jobs, and collection existence for job writes. Writes
// are serialized.
type Store struct {
	mu          sync.Mutex
	collections map[collectionKey]*storedCollection
	denied      map[string]bool
	fault       FaultFunc
	now         func() time.Time
	logger      zerolog.Logger
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithClock replaces time.Now for metadata timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithFault installs a fault injector.
func WithFault(fault FaultFunc) StoreOption {
	return func(s *Store) {
		s.fault = fault
	}
}

// NewStore creates an empty store.
func NewStore(logger zerolog.Logger, opts ...StoreOption) *Store {
	s := &Store{
		collections: make(map[collectionKey]*storedCollection),
		denied:      make(map[string]bool),
		now:         time.Now,
		logger:      logger.With().Str("component", "EmulatorStore").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deny makes every call scoped to resourceGroup fail with an authorization error.
func (s *Store) Deny(resourceGroup string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied[resourceGroup] = true
}

// JobCount reports how many jobs a collection holds.
func (s *Store) JobCount(resourceGroup, collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[collectionKey{resourceGroup, collection}]; ok {
		return len(c.jobs)
	}
	return 0
}

func (s *Store) precheck(op Operation, resourceGroup, collection, job string) error {
	if s.fault != nil {
		if err := s.fault(op, resourceGroup, collection, job); err != nil {
			return err
		}
	}
	if s.denied[resourceGroup] {
		return provisioning.NewRemoteError(provisioning.ErrAuthorization, resourceGroup,
			"caller lacks permission on resource group '%s'", resourceGroup)
	}
	return nil
}

// PutCollection creates or fully replaces a collection.
func (s *Store) PutCollection(_ context.Context, resourceGroup string, spec jobspec.JobCollectionSpec) (*provisioning.CollectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.precheck(OpPutCollection, resourceGroup, spec.Name, ""); err != nil {
		return nil, err
	}
	resource := fmt.Sprintf("jobCollections/%s", spec.Name)
	if err := spec.Validate(); err != nil {
		return nil, provisioning.NewRemoteError(provisioning.ErrRemoteValidation, resource, "%v", err)
	}
	if err := spec.Tier.Limits().Admits(spec.Quota); err != nil {
		return nil, provisioning.NewRemoteError(provisioning.ErrQuotaExceeded, resource, "%s tier: %v", spec.Tier, err)
	}

	key := collectionKey{resourceGroup, spec.Name}
	now := s.now().UTC()
	existing, ok := s.collections[key]
	if !ok {
		stored := &storedCollection{
			spec:       spec,
			createdAt:  now,
			modifiedAt: now,
			jobs:       make(map[string]*storedJob),
		}
		s.collections[key] = stored
		s.logger.Debug().Str("collection", spec.Name).Msg("Collection created")
		return collectionRecord(stored, true), nil
	}

	if len(existing.jobs) > spec.Quota.MaxJobCount {
		return nil, provisioning.NewRemoteError(provisioning.ErrQuotaExceeded, resource,
			"collection holds %d jobs, more than the requested max job count of %d", len(existing.jobs), spec.Quota.MaxJobCount)
	}
	for _, job := range existing.jobs {
		if err := jobspec.CheckQuota(job.spec, spec.Quota); err != nil {
			return nil, provisioning.NewRemoteError(provisioning.ErrQuotaExceeded, resource,
				"held job '%s' no longer fits: %v", job.spec.Name, err)
		}
	}
	if !reflect.DeepEqual(existing.spec, spec) {
		existing.spec = spec
		existing.modifiedAt = now
		s.logger.Debug().Str("collection", spec.Name).Msg("Collection replaced")
	}
	return collectionRecord(existing, false), nil
}

// GetCollection returns the stored collection.
func (s *Store) GetCollection(_ context.Context, resourceGroup, name string) (*provisioning.CollectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.precheck(OpGetCollection, resourceGroup, name, ""); err != nil {
		return nil, err
	}
	stored, ok := s.collections[collectionKey{resourceGroup, name}]
	if !ok {
		return nil, provisioning.NewRemoteError(provisioning.ErrNotFound, "jobCollections/"+name,
			"job collection '%s' does not exist in resource group '%s'", name, resourceGroup)
	}
	return collectionRecord(stored, false), nil
}

// PutJob creates or fully replaces a job in an existing collection.
func (s *Store) PutJob(_ context.Context, resourceGroup, collection string, spec jobspec.JobSpec) (*provisioning.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.precheck(OpPutJob, resourceGroup, collection, spec.Name); err != nil {
		return nil, err
	}
	resource := fmt.Sprintf("jobCollections/%s/jobs/%s", collection, spec.Name)
	parent, ok := s.collections[collectionKey{resourceGroup, collection}]
	if !ok {
		return nil, provisioning.NewRemoteError(provisioning.ErrCollectionNotFound, resource,
			"job collection '%s' does not exist in resource group '%s'", collection, resourceGroup)
	}
	if err := spec.Validate(); err != nil {
		return nil, provisioning.NewRemoteError(provisioning.ErrRemoteValidation, resource, "%v", err)
	}
	if err := jobspec.CheckQuota(spec, parent.spec.Quota); err != nil {
		return nil, provisioning.NewRemoteError(provisioning.ErrQuotaExceeded, resource, "%v", err)
	}

	spec = cloneJob(spec)
	now := s.now().UTC()
	existing, ok := parent.jobs[spec.Name]
	if !ok {
		if len(parent.jobs) >= parent.spec.Quota.MaxJobCount {
			return nil, provisioning.NewRemoteError(provisioning.ErrQuotaExceeded, resource,
				"job collection '%s' already holds its maximum of %d jobs", collection, parent.spec.Quota.MaxJobCount)
		}
		stored := &storedJob{spec: spec, createdAt: now, modifiedAt: now}
		parent.jobs[spec.Name] = stored
		s.logger.Debug().Str("collection", collection).Str("job", spec.Name).Msg("Job created")
		return jobRecord(collection, stored, true), nil
	}

	if !provisioning.SameJobSpec(existing.spec, spec) {
		existing.spec = spec
		existing.modifiedAt = now
		s.logger.Debug().Str("collection", collection).Str("job", spec.Name).Msg("Job replaced")
	}
	return jobRecord(collection, existing, false), nil
}

// GetJob returns the stored job.
func (s *Store) GetJob(_ context.Context, resourceGroup, collection, name string) (*provisioning.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.precheck(OpGetJob, resourceGroup, collection, name); err != nil {
		return nil, err
	}
	resource := fmt.Sprintf("jobCollections/%s/jobs/%s", collection, name)
	parent, ok := s.collections[collectionKey{resourceGroup, collection}]
	if !ok {
		return nil, provisioning.NewRemoteError(provisioning.ErrCollectionNotFound, resource,
			"job collection '%s' does not exist in resource group '%s'", collection, resourceGroup)
	}
	stored, ok := parent.jobs[name]
	if !ok {
		return nil, provisioning.NewRemoteError(provisioning.ErrNotFound, resource,
			"job '%s' does not exist in collection '%s'", name, collection)
	}
	return jobRecord(collection, stored, false), nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func collectionRecord(c *storedCollection, created bool) *provisioning.CollectionRecord {
	return &provisioning.CollectionRecord{
		Spec: c.spec,
		Metadata: provisioning.Metadata{
			Created:    created,
			CreatedAt:  c.createdAt,
			ModifiedAt: c.modifiedAt,
		},
	}
}

func jobRecord(collection string, j *storedJob, created bool) *provisioning.JobRecord {
	return &provisioning.JobRecord{
		Collection: collection,
		Spec:       cloneJob(j.spec),
		Metadata: provisioning.Metadata{
			Created:    created,
			CreatedAt:  j.createdAt,
			ModifiedAt: j.modifiedAt,
		},
	}
}

// cloneJob copies the reference-typed fields so stored state never aliases
// caller memory.
func cloneJob(spec jobspec.JobSpec) jobspec.JobSpec {
	if spec.Recurrence.Count != nil {
		spec.Recurrence.Count = jobspec.IntPtr(*spec.Recurrence.Count)
	}
	if spec.Action.Headers != nil {
		headers := make(map[string]string, len(spec.Action.Headers))
		for k, v := range spec.Action.Headers {
			headers[k] = v
		}
		spec.Action.Headers = headers
	}
	return spec
}
