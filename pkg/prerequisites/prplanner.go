package prerequisites

import (
	"sort"

	"github.com/illmade-knight/go-job-scheduler/pkg/jobspec"
)

// Service APIs the Google backend talks to.
const (
	FirestoreAPI      = "firestore.googleapis.com"
	CloudSchedulerAPI = "cloudscheduler.googleapis.com"
)

// PrerequisitePlanner works out which Google Cloud APIs a plan needs when it is
// applied through the Google backend.
type PrerequisitePlanner struct{}

// NewPlanner creates a new PrerequisitePlanner.
func NewPlanner() *PrerequisitePlanner {
	return &PrerequisitePlanner{}
}

// PlanRequiredServices returns the sorted service hostnames the plan needs.
// Collections live in Firestore; jobs are also mirrored to Cloud Scheduler.
func (p *PrerequisitePlanner) PlanRequiredServices(plan jobspec.Plan) []string {
	requiredAPIs := make(map[string]struct{})
	if plan.Collection.Name != "" {
		requiredAPIs[FirestoreAPI] = struct{}{}
	}
	if len(plan.Jobs) > 0 {
		requiredAPIs[FirestoreAPI] = struct{}{}
		requiredAPIs[CloudSchedulerAPI] = struct{}{}
	}

	apiList := make([]string, 0, len(requiredAPIs))
	for api := range requiredAPIs {
		apiList = append(apiList, api)
	}
	sort.Strings(apiList)
	return apiList
}
