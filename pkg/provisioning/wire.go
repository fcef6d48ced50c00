package provisioning

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/illmade-knight/go-job-scheduler/pkg/jobspec"
)

// This file defines the JSON wire contract of a scheduling authority. It is
// spoken by RESTAuthority and served by the emulator.
//
//	PUT|GET /subscriptions/{sub}/resourceGroups/{rg}/jobCollections/{collection}
//	PUT|GET /subscriptions/{sub}/resourceGroups/{rg}/jobCollections/{collection}/jobs/{job}
//
// A PUT answers 201 when it created the resource and 200 when it replaced it.
// Failures carry an ErrorResponse body.

// Machine-readable error codes.
const (
	CodeInvalidSpec          = "InvalidSpec"
	CodeAuthenticationFailed = "AuthenticationFailed"
	CodeAuthorizationFailed  = "AuthorizationFailed"
	CodeCollectionNotFound   = "CollectionNotFound"
	CodeResourceNotFound     = "ResourceNotFound"
	CodeQuotaExceeded        = "QuotaExceeded"
	CodeServiceUnavailable   = "ServiceUnavailable"
	CodeInternalError        = "InternalError"
)

// CollectionResource is the wire form of a job collection.
type CollectionResource struct {
	Name       string               `json:"name"`
	Location   string               `json:"location"`
	Properties CollectionProperties `json:"properties"`
	SystemData *SystemData          `json:"systemData,omitempty"`
}

// CollectionProperties holds the mutable fields of a collection.
type CollectionProperties struct {
	Sku   Sku                     `json:"sku"`
	State jobspec.CollectionState `json:"state"`
	Quota QuotaResource           `json:"quota"`
}

// Sku names the service tier.
type Sku struct {
	Name jobspec.Tier `json:"name"`
}

// QuotaResource is the wire form of a quota policy.
type QuotaResource struct {
	MaxJobCount   int                    `json:"maxJobCount"`
	MaxRecurrence MaxRecurrenceResource `json:"maxRecurrence"`
}

// MaxRecurrenceResource is the cadence floor of a quota.
type MaxRecurrenceResource struct {
	Frequency jobspec.Frequency `json:"frequency"`
	Interval  int               `json:"interval"`
}

// JobResource is the wire form of a job.
type JobResource struct {
	Name       string        `json:"name"`
	Properties JobProperties `json:"properties"`
	SystemData *SystemData   `json:"systemData,omitempty"`
}

// JobProperties holds the mutable fields of a job.
type JobProperties struct {
	StartTime  time.Time              `json:"startTime"`
	Action     JobAction              `json:"action"`
	Recurrence jobspec.RecurrenceSpec `json:"recurrence"`
	State      jobspec.JobState       `json:"state"`
}

// JobAction is the wire form of an action.
type JobAction struct {
	Type        jobspec.ActionType  `json:"type"`
	Request     HTTPRequest         `json:"request"`
	RetryPolicy jobspec.RetryPolicy `json:"retryPolicy"`
}

// HTTPRequest is the request an Http action sends.
type HTTPRequest struct {
	URI     string            `json:"uri"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// SystemData is metadata assigned by the authority.
type SystemData struct {
	CreatedAt      time.Time `json:"createdAt"`
	LastModifiedAt time.Time `json:"lastModifiedAt"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the machine-readable code and a human message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CollectionPath is the resource path of a collection.
func CollectionPath(subscriptionID, resourceGroup, collection string) string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/jobCollections/%s",
		url.PathEscape(subscriptionID), url.PathEscape(resourceGroup), url.PathEscape(collection))
}

// JobPath is the resource path of a job.
func JobPath(subscriptionID, resourceGroup, collection, job string) string {
	return CollectionPath(subscriptionID, resourceGroup, collection) + "/jobs/" + url.PathEscape(job)
}

// NewCollectionResource converts a spec (and optional metadata) to its wire form.
func NewCollectionResource(spec jobspec.JobCollectionSpec, meta *Metadata) CollectionResource {
	res := CollectionResource{
		Name:     spec.Name,
		Location: spec.Location,
		Properties: CollectionProperties{
			Sku:   Sku{Name: spec.Tier},
			State: spec.State,
			Quota: QuotaResource{
				MaxJobCount: spec.Quota.MaxJobCount,
				MaxRecurrence: MaxRecurrenceResource{
					Frequency: spec.Quota.MaxRecurrence.Frequency,
					Interval:  spec.Quota.MaxRecurrence.Interval,
				},
			},
		},
	}
	if meta != nil {
		res.SystemData = &SystemData{CreatedAt: meta.CreatedAt, LastModifiedAt: meta.ModifiedAt}
	}
	return res
}

// Spec converts the wire form back to a spec.
func (r CollectionResource) Spec() jobspec.JobCollectionSpec {
	return jobspec.JobCollectionSpec{
		Name:     r.Name,
		Location: r.Location,
		Tier:     r.Properties.Sku.Name,
		State:    r.Properties.State,
		Quota: jobspec.QuotaPolicy{
			MaxJobCount: r.Properties.Quota.MaxJobCount,
			MaxRecurrence: jobspec.RecurrenceSpec{
				Frequency: r.Properties.Quota.MaxRecurrence.Frequency,
				Interval:  r.Properties.Quota.MaxRecurrence.Interval,
			},
		},
	}
}

// NewJobResource converts a spec (and optional metadata) to its wire form.
func NewJobResource(spec jobspec.JobSpec, meta *Metadata) JobResource {
	res := JobResource{
		Name: spec.Name,
		Properties: JobProperties{
			StartTime: spec.StartTime,
			Action: JobAction{
				Type: spec.Action.Type,
				Request: HTTPRequest{
					URI:     spec.Action.URI,
					Method:  spec.Action.Method,
					Headers: spec.Action.Headers,
					Body:    spec.Action.Body,
				},
				RetryPolicy: spec.Action.RetryPolicy,
			},
			Recurrence: spec.Recurrence,
			State:      spec.State,
		},
	}
	if meta != nil {
		res.SystemData = &SystemData{CreatedAt: meta.CreatedAt, LastModifiedAt: meta.ModifiedAt}
	}
	return res
}

// Spec converts the wire form back to a spec.
func (r JobResource) Spec() jobspec.JobSpec {
	return jobspec.JobSpec{
		Name:      r.Name,
		StartTime: r.Properties.StartTime,
		Action: jobspec.ActionSpec{
			Type:        r.Properties.Action.Type,
			URI:         r.Properties.Action.Request.URI,
			Method:      r.Properties.Action.Request.Method,
			Headers:     r.Properties.Action.Request.Headers,
			Body:        r.Properties.Action.Request.Body,
			RetryPolicy: r.Properties.Action.RetryPolicy,
		},
		Recurrence: r.Properties.Recurrence,
		State:      r.Properties.State,
	}
}

// Metadata returns the authority-assigned metadata, if any.
func (s *SystemData) Metadata(created bool) Metadata {
	if s == nil {
		return Metadata{Created: created}
	}
	return Metadata{Created: created, CreatedAt: s.CreatedAt, ModifiedAt: s.LastModifiedAt}
}

var codeKinds = map[string]error{
	CodeInvalidSpec:          ErrRemoteValidation,
	CodeAuthenticationFailed: ErrAuthorization,
	CodeAuthorizationFailed:  ErrAuthorization,
	CodeCollectionNotFound:   ErrCollectionNotFound,
	CodeResourceNotFound:     ErrNotFound,
	CodeQuotaExceeded:        ErrQuotaExceeded,
	CodeServiceUnavailable:   ErrTransient,
	CodeInternalError:        ErrTransient,
}

var codeStatuses = map[string]int{
	CodeInvalidSpec:          http.StatusBadRequest,
	CodeAuthenticationFailed: http.StatusUnauthorized,
	CodeAuthorizationFailed:  http.StatusForbidden,
	CodeCollectionNotFound:   http.StatusNotFound,
	CodeResourceNotFound:     http.StatusNotFound,
	CodeQuotaExceeded:        http.StatusConflict,
	CodeServiceUnavailable:   http.StatusServiceUnavailable,
	CodeInternalError:        http.StatusInternalServerError,
}

// KindForCode maps a wire error code to its class. Unknown codes are nil.
func KindForCode(code string) error {
	return codeKinds[code]
}

// StatusForCode is the HTTP status the wire contract pairs with code.
func StatusForCode(code string) int {
	if status, ok := codeStatuses[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// CodeForKind is the default wire code for a class.
func CodeForKind(kind error) string {
	switch {
	case errors.Is(kind, ErrQuotaExceeded):
		return CodeQuotaExceeded
	case errors.Is(kind, ErrAuthorization):
		return CodeAuthorizationFailed
	case errors.Is(kind, ErrCollectionNotFound):
		return CodeCollectionNotFound
	case errors.Is(kind, ErrNotFound):
		return CodeResourceNotFound
	case errors.Is(kind, ErrRemoteValidation):
		return CodeInvalidSpec
	case errors.Is(kind, ErrTransient):
		return CodeServiceUnavailable
	default:
		return CodeInternalError
	}
}

// classifyStatus picks a class from an HTTP status when the body carried no
// recognisable code.
func classifyStatus(status int, jobScoped bool) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthorization
	case status == http.StatusNotFound && jobScoped:
		return ErrCollectionNotFound
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusConflict:
		return ErrQuotaExceeded
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return ErrTransient
	default:
		return ErrRemoteValidation
	}
}
