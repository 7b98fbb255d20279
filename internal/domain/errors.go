package domain

import (
	"context"
	"errors"
	"fmt"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeInput             ErrorType = "input"
	ErrorTypeProviderAuth      ErrorType = "provider_auth"
	ErrorTypeProviderTransient ErrorType = "provider_transient"
	ErrorTypeProviderMalformed ErrorType = "provider_malformed"
	ErrorTypeStorage           ErrorType = "storage"
	ErrorTypeCancelled         ErrorType = "cancelled"
	ErrorTypeValidation        ErrorType = "validation"
	ErrorTypeConfig            ErrorType = "config"
	ErrorTypeIO                ErrorType = "io"
	ErrorTypeInternal          ErrorType = "internal"
)

// Job error codes stored alongside a failed job.
const (
	CodeInputError        = "input_error"
	CodeProviderAuth      = "provider_auth"
	CodeProviderTransient = "provider_transient"
	CodeCancelled         = "cancelled"
	CodeInterrupted       = "interrupted"
	CodeInternal          = "internal"
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func InputError(message string, err error) *DomainError {
	return NewError(ErrorTypeInput, message, err)
}

func ProviderAuthError(message string, err error) *DomainError {
	return NewError(ErrorTypeProviderAuth, message, err)
}

func ProviderTransientError(message string, err error) *DomainError {
	return NewError(ErrorTypeProviderTransient, message, err)
}

func MalformedResponseError(message string, err error) *DomainError {
	return NewError(ErrorTypeProviderMalformed, message, err)
}

func StorageError(message string, err error) *DomainError {
	return NewError(ErrorTypeStorage, message, err)
}

func CancellationError(message string, err error) *DomainError {
	return NewError(ErrorTypeCancelled, message, err)
}

func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(ErrorTypeIO, message, err)
}

func InternalError(message string, err error) *DomainError {
	return NewError(ErrorTypeInternal, message, err)
}

// TypeOf returns the ErrorType of the outermost DomainError in err's chain.
// Context cancellation is reported as ErrorTypeCancelled even when unwrapped.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de.Type
	}
	if errors.Is(err, context.Canceled) {
		return ErrorTypeCancelled
	}
	return ErrorTypeInternal
}

// IsType reports whether err carries a DomainError of the given type.
func IsType(err error, t ErrorType) bool {
	return TypeOf(err) == t
}

// CodeOf maps an error to the code recorded on a failed job.
func CodeOf(err error) string {
	switch TypeOf(err) {
	case ErrorTypeInput, ErrorTypeValidation:
		return CodeInputError
	case ErrorTypeProviderAuth, ErrorTypeConfig:
		return CodeProviderAuth
	case ErrorTypeProviderTransient:
		return CodeProviderTransient
	case ErrorTypeCancelled:
		return CodeCancelled
	default:
		return CodeInternal
	}
}
