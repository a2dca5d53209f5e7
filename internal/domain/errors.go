package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies collaborator failures for the retry layer.
type ErrorKind string

const (
	// Transient failures: worth retrying with backoff.
	ErrThrottled        ErrorKind = "throttled"
	ErrTimeout          ErrorKind = "timeout"
	ErrConnection       ErrorKind = "connection"
	ErrServiceUnhealthy ErrorKind = "service_unhealthy"

	// Permanent failures: retrying cannot help.
	ErrPermissionDenied ErrorKind = "permission_denied"
	ErrNotFound         ErrorKind = "not_found"
	ErrValidation       ErrorKind = "validation"
)

// CollaboratorError is a classified failure returned by a collaborator call.
type CollaboratorError struct {
	Kind         ErrorKind
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	if e.Collaborator != "" {
		return fmt.Sprintf("%s: %s: %v", e.Collaborator, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// NewCollaboratorError wraps err with a classification.
func NewCollaboratorError(kind ErrorKind, collaborator string, err error) *CollaboratorError {
	return &CollaboratorError{Kind: kind, Collaborator: collaborator, Err: err}
}

// IsTransient reports whether err is a collaborator failure that a retry
// may resolve. Unclassified errors are treated as permanent so unknown
// failure modes cannot burn the time budget.
func IsTransient(err error) bool {
	var ce *CollaboratorError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Kind {
	case ErrThrottled, ErrTimeout, ErrConnection, ErrServiceUnhealthy:
		return true
	default:
		return false
	}
}

// ConfigurationError reports an invalid task graph or wiring, detected
// before any task runs. It is fatal and never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// IsConfigurationError reports whether err is a plan-time configuration error.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
