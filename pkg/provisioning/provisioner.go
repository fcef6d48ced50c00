package provisioning

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/illmade-knight/go-job-scheduler/pkg/jobspec"
	"github.com/rs/zerolog"
)

// ErrDrift reports that a remote resource no longer matches its plan.
var ErrDrift = errors.New("remote resource differs from plan")

// RetryConfig bounds how transient failures are retried by a Provisioner.
type RetryConfig struct {
	// MaxAttempts counts the first attempt. 1 disables retries.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig is used when no retry option is given.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     4,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

// ProvisionedResources is what Apply managed to reconcile.
type ProvisionedResources struct {
	Collection *CollectionHandle
	// Jobs holds the jobs that succeeded, in plan order.
	Jobs []*JobHandle
}

// Provisioner applies whole plans: the collection first, then its jobs
// concurrently. Only transient failures are retried; create-or-update makes
// a retry safe.
type Provisioner struct {
	client *Client
	logger zerolog.Logger
	retry  RetryConfig
}

// ProvisionerOption customises a Provisioner.
type ProvisionerOption func(*Provisioner)

// WithRetry replaces DefaultRetryConfig.
func WithRetry(cfg RetryConfig) ProvisionerOption {
	return func(p *Provisioner) {
		p.retry = cfg
	}
}

// NewProvisioner creates a plan runner on top of client.
func NewProvisioner(client *Client, logger zerolog.Logger, opts ...ProvisionerOption) (*Provisioner, error) {
	if client == nil {
		return nil, errors.New("provisioning client cannot be nil")
	}
	p := &Provisioner{
		client: client,
		logger: logger.With().Str("component", "Provisioner").Logger(),
		retry:  DefaultRetryConfig,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.retry.MaxAttempts < 1 {
		p.retry.MaxAttempts = 1
	}
	return p, nil
}

// Apply reconciles every resource in the plan. If the collection fails no job
// is attempted. Job failures are joined into the returned error while the
// jobs that succeeded are still reported, so a partial apply is visible.
func (p *Provisioner) Apply(ctx context.Context, plan jobspec.Plan) (*ProvisionedResources, error) {
	built, err := plan.Build()
	if err != nil {
		return nil, fmt.Errorf("plan is invalid: %w", err)
	}
	log := p.logger.With().
		Str("resource_group", built.ResourceGroup).
		Str("collection", built.Collection.Name).
		Logger()
	log.Info().Int("jobs", len(built.Jobs)).Msg("Applying plan...")

	var collection *CollectionHandle
	err = p.withRetry(ctx, log, func() error {
		var err error
		collection, err = p.client.ReconcileCollection(ctx, built.ResourceGroup, built.Collection)
		return err
	})
	if err != nil {
		return nil, err
	}

	handles := make([]*JobHandle, len(built.Jobs))
	var wg sync.WaitGroup
	errChan := make(chan error, len(built.Jobs))
	for i, jobSpec := range built.Jobs {
		wg.Add(1)
		go func(i int, spec jobspec.JobSpec) {
			defer wg.Done()
			jobLog := log.With().Str("job", spec.Name).Logger()
			err := p.withRetry(ctx, jobLog, func() error {
				handle, err := p.client.ReconcileJob(ctx, built.ResourceGroup, built.Collection.Name, spec)
				if err == nil {
					handles[i] = handle
				}
				return err
			})
			if err != nil {
				errChan <- err
			}
		}(i, jobSpec)
	}
	wg.Wait()
	close(errChan)

	result := &ProvisionedResources{Collection: collection}
	for _, h := range handles {
		if h != nil {
			result.Jobs = append(result.Jobs, h)
		}
	}

	var allErrors []error
	for err := range errChan {
		allErrors = append(allErrors, err)
	}
	if len(allErrors) > 0 {
		log.Error().Int("failed", len(allErrors)).Int("succeeded", len(result.Jobs)).Msg("Plan applied with failures")
		return result, errors.Join(allErrors...)
	}

	log.Info().Msg("Plan applied successfully.")
	return result, nil
}

// Verify re-fetches every resource in the plan and checks that the authority
// holds exactly what the plan declares. Jobs whose plan entry leaves the start
// time unset are not compared on it.
func (p *Provisioner) Verify(ctx context.Context, plan jobspec.Plan) error {
	built, err := plan.Build()
	if err != nil {
		return fmt.Errorf("plan is invalid: %w", err)
	}
	p.logger.Info().Str("collection", built.Collection.Name).Int("jobs", len(built.Jobs)).Msg("Verifying plan...")

	var allErrors []error
	collection, err := p.client.GetCollection(ctx, built.ResourceGroup, built.Collection.Name)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	if !reflect.DeepEqual(collection.Spec, built.Collection) {
		allErrors = append(allErrors, fmt.Errorf("job collection '%s': %w", built.Collection.Name, ErrDrift))
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(built.Jobs))
	for i, jobSpec := range built.Jobs {
		wg.Add(1)
		go func(spec jobspec.JobSpec, pinned bool) {
			defer wg.Done()
			job, err := p.client.GetJob(ctx, built.ResourceGroup, built.Collection.Name, spec.Name)
			if err != nil {
				errChan <- err
				return
			}
			if !pinned {
				spec.StartTime = job.Spec.StartTime
			}
			if !SameJobSpec(job.Spec, spec) {
				errChan <- fmt.Errorf("job '%s': %w", spec.Name, ErrDrift)
			}
		}(jobSpec, !plan.Jobs[i].StartTime.IsZero())
	}
	wg.Wait()
	close(errChan)

	for err := range errChan {
		allErrors = append(allErrors, err)
	}
	if len(allErrors) > 0 {
		return fmt.Errorf("verification failed: %w", errors.Join(allErrors...))
	}

	p.logger.Info().Msg("Plan verified successfully.")
	return nil
}

// SameJobSpec compares two job specs, treating equal instants in different
// locations as the same start time and nil and empty headers alike.
func SameJobSpec(a, b jobspec.JobSpec) bool {
	if !a.StartTime.Equal(b.StartTime) {
		return false
	}
	a.StartTime, b.StartTime = time.Time{}, time.Time{}
	if len(a.Action.Headers) == 0 && len(b.Action.Headers) == 0 {
		a.Action.Headers, b.Action.Headers = nil, nil
	}
	return reflect.DeepEqual(a, b)
}

func (p *Provisioner) withRetry(ctx context.Context, log zerolog.Logger, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.retry.InitialInterval
	b.MaxInterval = p.retry.MaxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.retry.MaxAttempts-1)), ctx)

	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Msg("Transient failure, retrying")
	})
}
