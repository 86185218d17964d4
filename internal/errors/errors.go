package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication & Authorization
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"
	ErrCodeConfiguration   ErrorCode = "CONFIGURATION_ERROR"

	// Resource
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	ErrCodeConflict      ErrorCode = "CONFLICT"

	// Automation safety
	ErrCodeAccountSuspended ErrorCode = "ACCOUNT_SUSPENDED"
	ErrCodeTransientAction  ErrorCode = "TRANSIENT_ACTION_ERROR"
	ErrCodePermanentAction  ErrorCode = "PERMANENT_ACTION_ERROR"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

func InvalidToken(message string) *AppError {
	return New(ErrCodeInvalidToken, message)
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func AlreadyExists(resource string) *AppError {
	return New(ErrCodeAlreadyExists, fmt.Sprintf("%s already exists", resource))
}

func Conflict(message string) *AppError {
	return New(ErrCodeConflict, message)
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

// Configuration marks settings that can never schedule anything, such as
// malformed windows. These are rejected when written, not at tick time.
func Configuration(reason string) *AppError {
	return New(ErrCodeConfiguration, fmt.Sprintf("Invalid configuration: %s", reason))
}

// AccountSuspended signals that the safety monitor has suspended the
// account and all automation for it is blocked.
func AccountSuspended(accountID string, reason string) *AppError {
	return New(ErrCodeAccountSuspended, fmt.Sprintf("Account %s suspended: %s", accountID, reason)).
		WithDetails(map[string]string{"accountId": accountID, "reason": reason})
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Kind classifies action failures for breaker and retry decisions.
type Kind int

const (
	KindTransient Kind = iota
	KindPermanent
	KindSuspended
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindSuspended:
		return "suspended"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error classes reported by executors or assigned by the engine. They are
// the analyzer's grouping key, so the strings are part of the API.
const (
	ClassRateLimited    = "rate_limited"
	ClassNetworkTimeout = "network_timeout"
	ClassCaptcha        = "captcha"
	ClassRemovedContent = "removed_content"
	ClassInvalidTarget  = "invalid_target"
	ClassBanned         = "banned"
	ClassSuspended      = "suspended"
	ClassTimeout        = "timeout"
	ClassExpired        = "expired"
)

// ClassifyClass maps a reported error class to its taxonomy kind. Unknown
// classes are treated as transient so one odd executor string cannot mask
// a failing key from the breaker.
func ClassifyClass(class string) Kind {
	switch class {
	case ClassRateLimited, ClassNetworkTimeout, ClassCaptcha, ClassTimeout:
		return KindTransient
	case ClassRemovedContent, ClassInvalidTarget, ClassBanned:
		return KindPermanent
	case ClassSuspended:
		return KindSuspended
	default:
		return KindTransient
	}
}

// ActionError describes one failed automation action with enough structure
// for the breaker, the analyzer, and executor retry hints.
type ActionError struct {
	Kind       Kind
	Class      string
	Message    string
	RetryAfter time.Duration
}

func (e *ActionError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %s (retry after %s)", e.Class, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

// Temporary reports whether the failure is expected to clear on its own.
func (e *ActionError) Temporary() bool {
	return e.Kind == KindTransient
}

// TransientAction builds a retryable action failure. retryAfter may be zero
// when the platform gave no hint.
func TransientAction(class, message string, retryAfter time.Duration) *ActionError {
	return &ActionError{Kind: KindTransient, Class: class, Message: message, RetryAfter: retryAfter}
}

// PermanentAction builds a non-retryable action failure.
func PermanentAction(class, message string) *ActionError {
	return &ActionError{Kind: KindPermanent, Class: class, Message: message}
}

// ActionFromClass builds an ActionError from a raw executor report. The
// retry hint only survives for transient kinds; a permanent failure does
// not become retryable because an executor attached a duration to it.
func ActionFromClass(class, message string, retryAfter time.Duration) *ActionError {
	kind := ClassifyClass(class)
	switch kind {
	case KindTransient:
		return TransientAction(class, message, retryAfter)
	case KindPermanent:
		return PermanentAction(class, message)
	default:
		return &ActionError{Kind: kind, Class: class, Message: message}
	}
}
