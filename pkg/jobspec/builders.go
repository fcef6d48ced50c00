package jobspec

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CollectionOption customises BuildJobCollection.
type CollectionOption func(*JobCollectionSpec)

// WithCollectionState overrides the default Enabled state.
func WithCollectionState(state CollectionState) CollectionOption {
	return func(c *JobCollectionSpec) {
		c.State = state
	}
}

// JobOption customises BuildJob.
type JobOption func(*JobSpec)

// WithStartTime sets an explicit first occurrence. Without it the job starts
// at build time.
func WithStartTime(t time.Time) JobOption {
	return func(j *JobSpec) {
		j.StartTime = t
	}
}

// WithJobState overrides the default Enabled state.
func WithJobState(state JobState) JobOption {
	return func(j *JobSpec) {
		j.State = state
	}
}

// BuildJobCollection constructs a validated collection spec. It performs no I/O.
func BuildJobCollection(name, location string, tier Tier, quota QuotaPolicy, opts ...CollectionOption) (JobCollectionSpec, error) {
	spec := JobCollectionSpec{
		Name:     name,
		Location: location,
		Tier:     tier,
		State:    CollectionEnabled,
		Quota:    quota,
	}
	for _, opt := range opts {
		opt(&spec)
	}
	if err := spec.Validate(); err != nil {
		return JobCollectionSpec{}, fmt.Errorf("job collection '%s': %w", name, err)
	}
	return spec, nil
}

// BuildJob constructs a validated job spec. The action method defaults to GET,
// and a None retry policy has its interval and count cleared.
func BuildJob(name string, action ActionSpec, recurrence RecurrenceSpec, opts ...JobOption) (JobSpec, error) {
	spec := JobSpec{
		Name:       name,
		Action:     normalizeAction(action),
		Recurrence: recurrence,
		State:      JobEnabled,
	}
	for _, opt := range opts {
		opt(&spec)
	}
	if spec.StartTime.IsZero() {
		spec.StartTime = time.Now()
	}
	spec.StartTime = spec.StartTime.UTC().Truncate(time.Second)

	if err := spec.Validate(); err != nil {
		return JobSpec{}, fmt.Errorf("job '%s': %w", name, err)
	}
	return spec, nil
}

// HTTPAction is a shorthand for an Http action without retries.
func HTTPAction(method, uri string) ActionSpec {
	return ActionSpec{
		Type:        ActionHTTP,
		URI:         uri,
		Method:      method,
		RetryPolicy: RetryPolicy{RetryType: RetryNone},
	}
}

// NewName returns prefix followed by a random UUID. It is the single source of
// generated collection and job names.
func NewName(prefix string) string {
	return prefix + uuid.NewString()
}

func normalizeAction(a ActionSpec) ActionSpec {
	if a.Type == "" {
		a.Type = ActionHTTP
	}
	if a.Method == "" {
		a.Method = http.MethodGet
	}
	a.Method = strings.ToUpper(a.Method)
	if a.RetryPolicy.RetryType == "" {
		a.RetryPolicy.RetryType = RetryNone
	}
	if a.RetryPolicy.RetryType == RetryNone {
		a.RetryPolicy.RetryInterval = 0
		a.RetryPolicy.RetryCount = 0
	}
	if len(a.Headers) > 0 {
		headers := make(map[string]string, len(a.Headers))
		for k, v := range a.Headers {
			headers[k] = v
		}
		a.Headers = headers
	}
	return a
}
