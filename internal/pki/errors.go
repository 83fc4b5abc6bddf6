package pki

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration matches any *ConfigurationError with errors.Is.
	ErrConfiguration = errors.New("unsupported certificate configuration")

	// ErrInvalidChain matches any *InvalidChainError with errors.Is.
	ErrInvalidChain = errors.New("invalid certificate chain")

	// ErrEmptySubject is returned when a certificate is requested without a subject.
	ErrEmptySubject = errors.New("subject is required")
)

// ConfigurationError reports an unsupported algorithm, key strength or validity
// period. It is raised when a Generator is constructed and is never retried.
type ConfigurationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid generator configuration: %s %v: %s", e.Field, e.Value, e.Message)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// InvalidChainError reports a parent certificate and signing key that cannot be
// used to issue a child certificate.
type InvalidChainError struct {
	Subject string
	Issuer  string
	Message string
	Cause   error
}

func (e *InvalidChainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cannot issue %q from %q: %s: %v", e.Subject, e.Issuer, e.Message, e.Cause)
	}
	return fmt.Sprintf("cannot issue %q from %q: %s", e.Subject, e.Issuer, e.Message)
}

func (e *InvalidChainError) Is(target error) bool {
	return target == ErrInvalidChain
}

func (e *InvalidChainError) Unwrap() error {
	return e.Cause
}
