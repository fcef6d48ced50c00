package jobspec

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidSpec is matched by every ValidationError through errors.Is.
var ErrInvalidSpec = errors.New("invalid spec")

// ValidationError reports a malformed spec. It is detected locally and a spec
// that produces one is never sent to the authority.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Is makes errors.Is(err, ErrInvalidSpec) hold for any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidSpec
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Names are used as path segments by the authority, so they are restricted to
// a URL-safe alphabet.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,99}$`)

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
	http.MethodHead:   true,
}

// ValidateName checks a collection or job name.
func ValidateName(field, name string) error {
	if name == "" {
		return invalid(field, "must not be empty")
	}
	if !namePattern.MatchString(name) {
		return invalid(field, "%q must be 1-100 letters, digits, '-' or '_' and start with a letter or digit", name)
	}
	return nil
}

// Validate checks the recurrence in isolation.
func (r RecurrenceSpec) Validate() error {
	var allErrors []error
	if !r.Frequency.Valid() {
		allErrors = append(allErrors, invalid("recurrence.frequency", "unknown frequency %q", r.Frequency))
	}
	if r.Interval < 1 {
		allErrors = append(allErrors, invalid("recurrence.interval", "must be at least 1, got %d", r.Interval))
	}
	if r.Count != nil && *r.Count < 1 {
		allErrors = append(allErrors, invalid("recurrence.count", "must be at least 1 when set, got %d", *r.Count))
	}
	return errors.Join(allErrors...)
}

// Validate checks the retry policy.
func (p RetryPolicy) Validate() error {
	switch p.RetryType {
	case RetryNone:
		return nil
	case RetryFixed:
		var allErrors []error
		if p.RetryInterval <= 0 {
			allErrors = append(allErrors, invalid("action.retry_policy.retry_interval", "must be positive for a Fixed retry policy"))
		}
		if p.RetryCount < 1 {
			allErrors = append(allErrors, invalid("action.retry_policy.retry_count", "must be at least 1 for a Fixed retry policy"))
		}
		return errors.Join(allErrors...)
	default:
		return invalid("action.retry_policy.retry_type", "unknown retry type %q", p.RetryType)
	}
}

// Validate checks the action, including its retry policy.
func (a ActionSpec) Validate() error {
	var allErrors []error
	if a.Type != ActionHTTP {
		allErrors = append(allErrors, invalid("action.type", "unsupported action type %q", a.Type))
	}
	if a.URI == "" {
		allErrors = append(allErrors, invalid("action.uri", "must not be empty"))
	} else if u, err := url.Parse(a.URI); err != nil || !u.IsAbs() || u.Host == "" {
		allErrors = append(allErrors, invalid("action.uri", "%q is not an absolute URI", a.URI))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		allErrors = append(allErrors, invalid("action.uri", "scheme %q is not supported for Http actions", u.Scheme))
	}
	if !allowedMethods[strings.ToUpper(a.Method)] {
		allErrors = append(allErrors, invalid("action.method", "unsupported HTTP method %q", a.Method))
	}
	if err := a.RetryPolicy.Validate(); err != nil {
		allErrors = append(allErrors, err)
	}
	return errors.Join(allErrors...)
}

// Validate checks a fully populated job spec.
func (j JobSpec) Validate() error {
	var allErrors []error
	if err := ValidateName("job.name", j.Name); err != nil {
		allErrors = append(allErrors, err)
	}
	if err := j.Action.Validate(); err != nil {
		allErrors = append(allErrors, err)
	}
	if err := j.Recurrence.Validate(); err != nil {
		allErrors = append(allErrors, err)
	}
	if j.State != JobEnabled && j.State != JobDisabled {
		allErrors = append(allErrors, invalid("job.state", "unknown job state %q", j.State))
	}
	if j.StartTime.IsZero() {
		allErrors = append(allErrors, invalid("job.start_time", "must be set"))
	}
	return errors.Join(allErrors...)
}

// Validate checks the quota policy in isolation.
func (q QuotaPolicy) Validate() error {
	var allErrors []error
	if q.MaxJobCount < 1 {
		allErrors = append(allErrors, invalid("quota.max_job_count", "must be at least 1, got %d", q.MaxJobCount))
	}
	if !q.MaxRecurrence.Frequency.Valid() {
		allErrors = append(allErrors, invalid("quota.max_recurrence.frequency", "unknown frequency %q", q.MaxRecurrence.Frequency))
	}
	if q.MaxRecurrence.Interval < 1 {
		allErrors = append(allErrors, invalid("quota.max_recurrence.interval", "must be at least 1, got %d", q.MaxRecurrence.Interval))
	}
	return errors.Join(allErrors...)
}

// Validate checks a fully populated collection spec.
func (c JobCollectionSpec) Validate() error {
	var allErrors []error
	if err := ValidateName("collection.name", c.Name); err != nil {
		allErrors = append(allErrors, err)
	}
	if c.Location == "" {
		allErrors = append(allErrors, invalid("collection.location", "must not be empty"))
	}
	if !c.Tier.Valid() {
		allErrors = append(allErrors, invalid("collection.tier", "unknown tier %q", c.Tier))
	}
	if c.State != CollectionEnabled && c.State != CollectionDisabled {
		allErrors = append(allErrors, invalid("collection.state", "unknown collection state %q", c.State))
	}
	if err := c.Quota.Validate(); err != nil {
		allErrors = append(allErrors, err)
	}
	return errors.Join(allErrors...)
}

// CheckQuota reports whether a job fits a collection's quota recurrence floor.
// The job count part of the quota can only be judged by the authority.
func CheckQuota(job JobSpec, quota QuotaPolicy) error {
	if job.Recurrence.Finer(quota.MaxRecurrence) {
		return invalid("job.recurrence", "every %s is finer than the collection's quota floor of every %s",
			job.Recurrence.Cadence(), quota.MaxRecurrence.Cadence())
	}
	return nil
}
