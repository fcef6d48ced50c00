package jobspec

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"gopkg.in/yaml.v3"
)

// Plan is the unit a caller provisions: one collection in a resource group and
// the jobs that belong to it. It maps directly onto a plan YAML file.
type Plan struct {
	ResourceGroup string            `yaml:"resource_group"`
	Collection    JobCollectionSpec `yaml:"collection"`
	Jobs          []JobSpec         `yaml:"jobs,omitempty"`
}

// UnmarshalYAML defaults an omitted interval to 1.
func (r *RecurrenceSpec) UnmarshalYAML(value *yaml.Node) error {
	type plain RecurrenceSpec
	out := plain{Interval: 1}
	if err := value.Decode(&out); err != nil {
		return err
	}
	*r = RecurrenceSpec(out)
	return nil
}

// LoadPlan reads and builds a plan from a YAML file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file '%s': %w", path, err)
	}
	return ParsePlan(data)
}

// ParsePlan decodes YAML and runs every spec through its builder so that
// defaults are applied and the whole plan is validated.
func ParsePlan(data []byte) (*Plan, error) {
	var raw Plan
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	return raw.Build()
}

// Build validates the plan and returns a copy with defaults applied. All
// problems are reported together.
func (p Plan) Build() (*Plan, error) {
	var allErrors []error
	if p.ResourceGroup == "" {
		allErrors = append(allErrors, invalid("resource_group", "must not be empty"))
	}

	var collectionOpts []CollectionOption
	if p.Collection.State != "" {
		collectionOpts = append(collectionOpts, WithCollectionState(p.Collection.State))
	}
	collection, err := BuildJobCollection(p.Collection.Name, p.Collection.Location, p.Collection.Tier, p.Collection.Quota, collectionOpts...)
	if err != nil {
		allErrors = append(allErrors, err)
	}

	built := &Plan{ResourceGroup: p.ResourceGroup, Collection: collection}
	seen := make(map[string]bool, len(p.Jobs))
	for _, job := range p.Jobs {
		if seen[job.Name] {
			allErrors = append(allErrors, invalid("job.name", "%q appears more than once in the plan", job.Name))
			continue
		}
		seen[job.Name] = true

		var jobOpts []JobOption
		if !job.StartTime.IsZero() {
			jobOpts = append(jobOpts, WithStartTime(job.StartTime))
		}
		if job.State != "" {
			jobOpts = append(jobOpts, WithJobState(job.State))
		}
		spec, err := BuildJob(job.Name, job.Action, job.Recurrence, jobOpts...)
		if err != nil {
			allErrors = append(allErrors, err)
			continue
		}
		if err := CheckQuota(spec, p.Collection.Quota); err != nil {
			allErrors = append(allErrors, fmt.Errorf("job '%s': %w", job.Name, err))
			continue
		}
		built.Jobs = append(built.Jobs, spec)
	}

	if len(p.Jobs) > p.Collection.Quota.MaxJobCount && p.Collection.Quota.MaxJobCount > 0 {
		allErrors = append(allErrors, invalid("jobs", "plan declares %d jobs but the quota allows %d",
			len(p.Jobs), p.Collection.Quota.MaxJobCount))
	}

	if len(allErrors) > 0 {
		return nil, errors.Join(allErrors...)
	}
	return built, nil
}

// DemoPlan reproduces the getting-started provisioning: a Standard collection
// allowing five jobs at minute granularity, holding a weekly and an hourly GET
// job that each fire up to 10000 times.
func DemoPlan(resourceGroup, location, actionURL string) (*Plan, error) {
	quota := QuotaPolicy{
		MaxRecurrence: NewRecurrence(FrequencyMinute),
		MaxJobCount:   5,
	}
	plan := Plan{
		ResourceGroup: resourceGroup,
		Collection: JobCollectionSpec{
			Name:     NewName("jc_"),
			Location: location,
			Tier:     TierStandard,
			State:    CollectionEnabled,
			Quota:    quota,
		},
	}
	for _, freq := range []Frequency{FrequencyWeek, FrequencyHour} {
		plan.Jobs = append(plan.Jobs, JobSpec{
			Name:   NewName(""),
			Action: HTTPAction(http.MethodGet, actionURL),
			Recurrence: RecurrenceSpec{
				Frequency: freq,
				Interval:  1,
				Count:     IntPtr(10000),
			},
			State: JobEnabled,
		})
	}
	return plan.Build()
}
