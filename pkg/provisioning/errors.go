package provisioning

import (
	"errors"
	"fmt"
)

// Classes of failure reported by a scheduling authority. Every RemoteError
// matches exactly one of them through errors.Is.
var (
	ErrQuotaExceeded      = errors.New("quota exceeded")
	ErrAuthorization      = errors.New("authorization denied")
	ErrCollectionNotFound = errors.New("job collection not found")
	ErrNotFound           = errors.New("resource not found")
	ErrTransient          = errors.New("transient failure")
	ErrRemoteValidation   = errors.New("rejected by authority")
)

// RemoteError is a failure reported by, or on the way to, the scheduling
// authority. Kind is one of the Err* classes above.
type RemoteError struct {
	Kind       error
	Code       string
	Message    string
	StatusCode int
	Resource   string
	Err        error
}

// NewRemoteError builds a RemoteError with the code the wire contract uses
// for kind.
func NewRemoteError(kind error, resource, format string, args ...interface{}) *RemoteError {
	return &RemoteError{
		Kind:     kind,
		Code:     CodeForKind(kind),
		Message:  fmt.Sprintf(format, args...),
		Resource: resource,
	}
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s): %s", e.Resource, e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, msg)
}

// Unwrap exposes both the class and the underlying cause.
func (e *RemoteError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsTransient reports whether err is safe to retry. Because create-or-update
// is idempotent, retrying a transient failure cannot duplicate resources.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// transientError wraps a transport failure.
func transientError(resource string, cause error) *RemoteError {
	return &RemoteError{
		Kind:     ErrTransient,
		Code:     CodeServiceUnavailable,
		Resource: resource,
		Err:      cause,
	}
}
