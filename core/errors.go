package core

import (
	"errors"
	"fmt"
)

// NotFoundError reports a stale id reference. It is a recoverable,
// user-visible condition, never a reason to abort the application.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }

// ServiceNotFoundError reports a persona bound to a model service that does
// not exist.
type ServiceNotFoundError struct {
	Persona   string
	ServiceID string
}

func (e *ServiceNotFoundError) Error() string {
	if e.ServiceID == "" {
		return fmt.Sprintf("%s has no model service configured", e.Persona)
	}

	return fmt.Sprintf("model service %q of %s not found", e.ServiceID, e.Persona)
}

// MissingCredentialError reports a model service without an API key.
type MissingCredentialError struct {
	ServiceID   string
	ServiceName string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("model service %q has no API key: configure credentials in settings", e.ServiceName)
}

// ValidationError reports an invalid field in a create or patch request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason) }

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConfigError reports whether err is a configuration problem
// (ServiceNotFoundError or MissingCredentialError) that the user must fix
// before retrying.
func IsConfigError(err error) bool {
	var (
		snf *ServiceNotFoundError
		mc  *MissingCredentialError
	)

	return errors.As(err, &snf) || errors.As(err, &mc)
}
