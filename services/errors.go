package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeUnauthorized  ErrorType = "unauthorized"
	ErrorTypeUnavailable   ErrorType = "unavailable"
	ErrorTypePrecondition  ErrorType = "precondition"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeNotConnected  ErrorType = "not_connected"
	ErrorTypeTimeout       ErrorType = "timeout"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeRateLimit     ErrorType = "rate_limit"
	ErrorTypeInternal      ErrorType = "internal"
	ErrorTypeExternal      ErrorType = "external"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Code    string
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches on Code when the target carries one, otherwise on Type.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if t.Code != "" {
		return e.Code == t.Code
	}
	return e.Type == t.Type
}

// WithDetail returns a copy of the error with an extra detail.
// Sentinels are shared, so they are never mutated in place.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	cp := *e
	cp.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// Wrap returns a copy of the error carrying cause as its wrapped error.
func (e *DomainError) Wrap(cause error) *DomainError {
	cp := *e
	cp.Err = cause
	return &cp
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, code, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

var (
	// Authentication
	ErrAuthenticationMissing = NewDomainError(ErrorTypeUnauthorized, "authentication_missing",
		"authentication required - supply a bearer token", nil)
	ErrAuthenticationInvalid = NewDomainError(ErrorTypeUnauthorized, "authentication_invalid",
		"authentication token was rejected", nil)
	ErrAuthenticationServiceUnavailable = NewDomainError(ErrorTypeUnavailable, "authentication_service_unavailable",
		"identity service unavailable - retry later", nil)

	// Target resolution
	ErrNoActiveTarget = NewDomainError(ErrorTypePrecondition, "no_active_target",
		"no active target selected - select one explicitly", nil)
	ErrTargetNotFound = NewDomainError(ErrorTypeNotFound, "target_not_found",
		"target not found - it was never registered or has disconnected", nil)
	ErrNotConnected = NewDomainError(ErrorTypeNotConnected, "not_connected",
		"backend connection is not connected", nil)
	ErrCommandTimeout = NewDomainError(ErrorTypeTimeout, "command_timeout",
		"backend did not answer the command in time", nil)
	ErrUnknownCommand = NewDomainError(ErrorTypeNotFound, "unknown_command",
		"unknown command", nil)

	// Programming / configuration defects
	ErrConfiguration = NewDomainError(ErrorTypeConfiguration, "configuration_error",
		"configuration error", nil)

	ErrInvalidInput      = NewDomainError(ErrorTypeValidation, "invalid_input", "invalid input", nil)
	ErrRateLimitExceeded = NewDomainError(ErrorTypeRateLimit, "rate_limit_exceeded", "rate limit exceeded", nil)
	ErrInternal          = NewDomainError(ErrorTypeInternal, "internal", "internal server error", nil)
	ErrBackendFailure    = NewDomainError(ErrorTypeExternal, "backend_error", "backend reported an error", nil)
)

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthorized
}

// IsUnavailableError checks if an error is a transient unavailability error
func IsUnavailableError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnavailable
}

// IsPreconditionError checks if an error is a precondition error
func IsPreconditionError(err error) bool {
	return GetErrorType(err) == ErrorTypePrecondition
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsConfigurationError checks if an error is a configuration error
func IsConfigurationError(err error) bool {
	return GetErrorType(err) == ErrorTypeConfiguration
}

// IsNotConnectedError checks if an error is a not connected error
func IsNotConnectedError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotConnected
}

// IsTimeoutError checks if an error is a timeout error
func IsTimeoutError(err error) bool {
	return GetErrorType(err) == ErrorTypeTimeout
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return GetErrorType(err) == ErrorTypeRateLimit
}

// IsExternalError checks if an error is a backend-reported error
func IsExternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeExternal
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorCode returns the stable code of a domain error, or empty string
func GetErrorCode(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// GetErrorMessage returns the user-facing message of a domain error.
func GetErrorMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Configurationf builds a configuration error with a specific message.
func Configurationf(format string, args ...interface{}) error {
	return &DomainError{
		Type:    ErrorTypeConfiguration,
		Code:    ErrConfiguration.Code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Invalidf builds a validation error with a specific message.
func Invalidf(format string, args ...interface{}) error {
	return &DomainError{
		Type:    ErrorTypeValidation,
		Code:    ErrInvalidInput.Code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, ErrInternal.Code, message, err)
}
