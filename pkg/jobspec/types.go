package jobspec

import (
	"time"

	"gopkg.in/yaml.v3"
)

// This file defines the value types that describe a job collection and the
// jobs it owns. The `yaml` tags map them onto plan files and the `json` tags
// onto the wire contract of the scheduling authority.

// Tier is the service tier ("sku") of a job collection. It governs the quota
// ceilings the authority will accept.
type Tier string

const (
	TierFree     Tier = "Free"
	TierStandard Tier = "Standard"
	TierPremium  Tier = "Premium"
)

// CollectionState is the lifecycle state of a job collection.
type CollectionState string

const (
	CollectionEnabled  CollectionState = "Enabled"
	CollectionDisabled CollectionState = "Disabled"
)

// JobState is the lifecycle state of a single job.
type JobState string

const (
	JobEnabled  JobState = "Enabled"
	JobDisabled JobState = "Disabled"
)

// Frequency is the unit a recurrence interval is counted in.
type Frequency string

const (
	FrequencyMinute Frequency = "Minute"
	FrequencyHour   Frequency = "Hour"
	FrequencyDay    Frequency = "Day"
	FrequencyWeek   Frequency = "Week"
	FrequencyMonth  Frequency = "Month"
)

// ActionType identifies the kind of invocable action a job runs.
type ActionType string

const (
	ActionHTTP ActionType = "Http"
)

// RetryType selects how the authority retries a failed action invocation.
type RetryType string

const (
	RetryNone  RetryType = "None"
	RetryFixed RetryType = "Fixed"
)

// RecurrenceSpec describes how often a job fires.
type RecurrenceSpec struct {
	Frequency Frequency `yaml:"frequency" json:"frequency"`
	Interval  int       `yaml:"interval" json:"interval"`
	// Count caps the total number of occurrences. Nil means unbounded.
	Count *int `yaml:"count,omitempty" json:"count,omitempty"`
}

// RetryPolicy describes whether the authority retries a failed invocation.
type RetryPolicy struct {
	RetryType     RetryType `yaml:"retry_type" json:"retryType"`
	RetryInterval Duration  `yaml:"retry_interval,omitempty" json:"retryInterval,omitempty"`
	RetryCount    int       `yaml:"retry_count,omitempty" json:"retryCount,omitempty"`
}

// ActionSpec is the action a job invokes on each occurrence.
type ActionSpec struct {
	Type        ActionType        `yaml:"type" json:"type"`
	URI         string            `yaml:"uri" json:"uri"`
	Method      string            `yaml:"method,omitempty" json:"method,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Body        string            `yaml:"body,omitempty" json:"body,omitempty"`
	RetryPolicy RetryPolicy       `yaml:"retry_policy" json:"retryPolicy"`
}

// JobSpec is a named unit of recurring work. Its name is unique within the
// owning collection.
type JobSpec struct {
	Name       string         `yaml:"name" json:"name"`
	StartTime  time.Time      `yaml:"start_time,omitempty" json:"startTime"`
	Action     ActionSpec     `yaml:"action" json:"action"`
	Recurrence RecurrenceSpec `yaml:"recurrence" json:"recurrence"`
	State      JobState       `yaml:"state,omitempty" json:"state"`
}

// QuotaPolicy bounds what a job collection may contain.
type QuotaPolicy struct {
	// MaxRecurrence is the finest cadence jobs in the collection may use.
	// Only Frequency and Interval are meaningful.
	MaxRecurrence RecurrenceSpec `yaml:"max_recurrence" json:"maxRecurrence"`
	MaxJobCount   int            `yaml:"max_job_count" json:"maxJobCount"`
}

// JobCollectionSpec is a named, quota-bounded container for jobs.
type JobCollectionSpec struct {
	Name     string          `yaml:"name" json:"name"`
	Location string          `yaml:"location" json:"location"`
	Tier     Tier            `yaml:"tier" json:"tier"`
	State    CollectionState `yaml:"state,omitempty" json:"state"`
	Quota    QuotaPolicy     `yaml:"quota" json:"quota"`
}

// Duration wraps time.Duration so plan files can say "30s" and the wire
// contract carries the same string form.
type Duration time.Duration

// UnmarshalYAML implements the yaml.Unmarshaler interface, allowing "15s" to be parsed directly to a duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// MarshalText lets encoding/json emit the string form.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText parses the string form produced by MarshalText.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// IntPtr is a convenience for populating RecurrenceSpec.Count.
func IntPtr(v int) *int {
	return &v
}
