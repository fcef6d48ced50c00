package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-job-scheduler/pkg/jobspec"
	"github.com/rs/zerolog"
)

// ResourceState is the reconciliation state of a remote resource.
type ResourceState string

const (
	StateAbsent   ResourceState = "Absent"
	StateCreating ResourceState = "Creating"
	StateActive   ResourceState = "Active"
	StateUpdating ResourceState = "Updating"
)

// Outcome says what a call did to the remote resource.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeFetched Outcome = "fetched"
)

// CollectionHandle describes a collection as the authority reported it.
type CollectionHandle struct {
	ResourceGroup string
	Spec          jobspec.JobCollectionSpec
	State         ResourceState
	Outcome       Outcome
	CreatedAt     time.Time
	ModifiedAt    time.Time
}

// Name is the collection name.
func (h *CollectionHandle) Name() string { return h.Spec.Name }

// JobHandle describes a job as the authority reported it.
type JobHandle struct {
	ResourceGroup string
	Collection    string
	Spec          jobspec.JobSpec
	State         ResourceState
	Outcome       Outcome
	CreatedAt     time.Time
	ModifiedAt    time.Time
}

// Name is the job name.
func (h *JobHandle) Name() string { return h.Spec.Name }

// Client reconciles collection and job specs against a scheduling authority.
// Every call is a single synchronous create-or-update (or read); the client
// keeps no state between calls and never retries. It is safe for concurrent
// use.
type Client struct {
	authority Authority
	logger    zerolog.Logger
	metrics   *Metrics
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithMetrics records reconcile outcomes in m.
func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a provisioning client on top of an authority.
func NewClient(authority Authority, logger zerolog.Logger, opts ...ClientOption) (*Client, error) {
	if authority == nil {
		return nil, errors.New("scheduling authority (Authority interface) cannot be nil")
	}
	c := &Client{
		authority: authority,
		logger:    logger.With().Str("component", "ProvisioningClient").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ReconcileCollection creates the collection if it is absent and replaces it
// otherwise. Invalid specs fail with a jobspec.ValidationError before the
// authority is contacted.
func (c *Client) ReconcileCollection(ctx context.Context, resourceGroup string, spec jobspec.JobCollectionSpec) (*CollectionHandle, error) {
	if err := validateScope(resourceGroup, spec.Validate()); err != nil {
		c.metrics.observe("collection", "", err, 0)
		return nil, fmt.Errorf("job collection '%s': %w", spec.Name, err)
	}
	log := c.logger.With().Str("resource_group", resourceGroup).Str("collection", spec.Name).Logger()
	log.Debug().Msg("Reconciling job collection...")

	start := time.Now()
	rec, err := c.authority.PutCollection(ctx, resourceGroup, spec)
	if err != nil {
		c.metrics.observe("collection", "", err, time.Since(start))
		log.Error().Err(err).Msg("Job collection reconciliation failed")
		return nil, fmt.Errorf("failed to reconcile job collection '%s': %w", spec.Name, err)
	}

	outcome := outcomeOf(rec.Metadata)
	c.metrics.observe("collection", outcome, nil, time.Since(start))
	log.Info().
		Str("transition", transition(outcome)).
		Str("tier", string(rec.Spec.Tier)).
		Int("max_job_count", rec.Spec.Quota.MaxJobCount).
		Msgf("Job collection %s.", outcome)

	return &CollectionHandle{
		ResourceGroup: resourceGroup,
		Spec:          rec.Spec,
		State:         StateActive,
		Outcome:       outcome,
		CreatedAt:     rec.CreatedAt,
		ModifiedAt:    rec.ModifiedAt,
	}, nil
}

// ReconcileJob creates or replaces a job inside an existing collection. The
// collection is never created implicitly: if it does not exist the call fails
// with ErrCollectionNotFound.
func (c *Client) ReconcileJob(ctx context.Context, resourceGroup, collectionName string, spec jobspec.JobSpec) (*JobHandle, error) {
	scopeErr := spec.Validate()
	if err := jobspec.ValidateName("collection.name", collectionName); err != nil {
		scopeErr = errors.Join(scopeErr, err)
	}
	if err := validateScope(resourceGroup, scopeErr); err != nil {
		c.metrics.observe("job", "", err, 0)
		return nil, fmt.Errorf("job '%s': %w", spec.Name, err)
	}
	log := c.logger.With().
		Str("resource_group", resourceGroup).
		Str("collection", collectionName).
		Str("job", spec.Name).
		Logger()
	log.Debug().Msg("Reconciling job...")

	start := time.Now()
	rec, err := c.authority.PutJob(ctx, resourceGroup, collectionName, spec)
	if err != nil {
		c.metrics.observe("job", "", err, time.Since(start))
		log.Error().Err(err).Msg("Job reconciliation failed")
		return nil, fmt.Errorf("failed to reconcile job '%s' in collection '%s': %w", spec.Name, collectionName, err)
	}

	outcome := outcomeOf(rec.Metadata)
	c.metrics.observe("job", outcome, nil, time.Since(start))
	log.Info().
		Str("transition", transition(outcome)).
		Str("recurrence", rec.Spec.Recurrence.Cadence()).
		Msgf("Job %s.", outcome)

	return &JobHandle{
		ResourceGroup: resourceGroup,
		Collection:    collectionName,
		Spec:          rec.Spec,
		State:         StateActive,
		Outcome:       outcome,
		CreatedAt:     rec.CreatedAt,
		ModifiedAt:    rec.ModifiedAt,
	}, nil
}

// GetCollection re-fetches a collection from the authority.
func (c *Client) GetCollection(ctx context.Context, resourceGroup, name string) (*CollectionHandle, error) {
	rec, err := c.authority.GetCollection(ctx, resourceGroup, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get job collection '%s': %w", name, err)
	}
	return &CollectionHandle{
		ResourceGroup: resourceGroup,
		Spec:          rec.Spec,
		State:         StateActive,
		Outcome:       OutcomeFetched,
		CreatedAt:     rec.CreatedAt,
		ModifiedAt:    rec.ModifiedAt,
	}, nil
}

// GetJob re-fetches a job from the authority.
func (c *Client) GetJob(ctx context.Context, resourceGroup, collectionName, name string) (*JobHandle, error) {
	rec, err := c.authority.GetJob(ctx, resourceGroup, collectionName, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get job '%s' in collection '%s': %w", name, collectionName, err)
	}
	return &JobHandle{
		ResourceGroup: resourceGroup,
		Collection:    collectionName,
		Spec:          rec.Spec,
		State:         StateActive,
		Outcome:       OutcomeFetched,
		CreatedAt:     rec.CreatedAt,
		ModifiedAt:    rec.ModifiedAt,
	}, nil
}

// Close releases the underlying authority.
func (c *Client) Close() error {
	return c.authority.Close()
}

func validateScope(resourceGroup string, specErr error) error {
	if resourceGroup == "" {
		specErr = errors.Join(specErr, &jobspec.ValidationError{Field: "resource_group", Message: "must not be empty"})
	}
	return specErr
}

func outcomeOf(meta Metadata) Outcome {
	if meta.Created {
		return OutcomeCreated
	}
	return OutcomeUpdated
}

// transition names the state path a create-or-update walked.
func transition(outcome Outcome) string {
	if outcome == OutcomeCreated {
		return fmt.Sprintf("%s->%s->%s", StateAbsent, StateCreating, StateActive)
	}
	return fmt.Sprintf("%s->%s->%s", StateActive, StateUpdating, StateActive)
}
