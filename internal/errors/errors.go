// Package errors provides a structured application error type shared
// across the scrape coordination engine: every collaborator that can
// fail (JobStore, BrowserPool, CaptchaChain, Worker, Repository)
// classifies its failures into one of the ErrorTypes below so the
// JobStore's retry policy and the HTTP boundary's status-code mapping
// stay in one place.
package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorType classifies an AppError for HTTP status mapping, retry
// policy, and safe external messaging.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeDatabase   ErrorType = "database"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeRateLimit  ErrorType = "rate_limit"

	// Scrape-coordination kinds (spec §7). These classify Worker job
	// failures; the JobStore consults Retryable() to decide whether to
	// schedule a backoff retry or mark the job terminally failed.
	ErrorTypeCaptchaFailed      ErrorType = "captcha_failed"
	ErrorTypePortalUnreachable  ErrorType = "portal_unreachable"
	ErrorTypeBotDetected        ErrorType = "bot_detected"
	ErrorTypeInvalidCaseNumber  ErrorType = "invalid_case_number"
	ErrorTypeBrowserCrash       ErrorType = "browser_crash"
	ErrorTypeValidationFailed   ErrorType = "validation_failed"
	ErrorTypeScrapeTimeout      ErrorType = "scrape_timeout"
	ErrorTypeSolverAPI          ErrorType = "solver_api"
	ErrorTypeObjectStoreFailure ErrorType = "object_store_failure"
	ErrorTypeRepositoryFailure  ErrorType = "repository_failure"
)

var statusCodes = map[ErrorType]int{
	ErrorTypeValidation: http.StatusBadRequest,
	ErrorTypeDatabase:   http.StatusInternalServerError,
	ErrorTypeNetwork:    http.StatusInternalServerError,
	ErrorTypeAuth:       http.StatusUnauthorized,
	ErrorTypeNotFound:   http.StatusNotFound,
	ErrorTypeConflict:   http.StatusConflict,
	ErrorTypeInternal:   http.StatusInternalServerError,
	ErrorTypeTimeout:    http.StatusRequestTimeout,
	ErrorTypeRateLimit:  http.StatusTooManyRequests,

	ErrorTypeCaptchaFailed:      http.StatusInternalServerError,
	ErrorTypePortalUnreachable:  http.StatusBadGateway,
	ErrorTypeBotDetected:        http.StatusInternalServerError,
	ErrorTypeInvalidCaseNumber:  http.StatusUnprocessableEntity,
	ErrorTypeBrowserCrash:       http.StatusInternalServerError,
	ErrorTypeValidationFailed:   http.StatusUnprocessableEntity,
	ErrorTypeScrapeTimeout:      http.StatusGatewayTimeout,
	ErrorTypeSolverAPI:          http.StatusBadGateway,
	ErrorTypeObjectStoreFailure: http.StatusInternalServerError,
	ErrorTypeRepositoryFailure:  http.StatusInternalServerError,
}

// retryable holds the spec §7 disposition table. Kinds absent from this
// map (the generic kinds above, such as ErrorTypeInternal) default to
// retryable via Retryable's fallback, matching "Unknown: retryable,
// conservative".
var retryable = map[ErrorType]bool{
	ErrorTypeCaptchaFailed:      true,
	ErrorTypePortalUnreachable:  true,
	ErrorTypeBotDetected:        true,
	ErrorTypeInvalidCaseNumber:  false,
	ErrorTypeBrowserCrash:       true,
	ErrorTypeValidationFailed:   false,
	ErrorTypeScrapeTimeout:      true,
	ErrorTypeSolverAPI:          true,
	ErrorTypeObjectStoreFailure: true,
	ErrorTypeRepositoryFailure:  true,
}

// AppError is the single structured error type threaded through the
// engine. It implements error and carries enough context (type,
// details, cause) to classify a JobStore retry decision or an HTTP
// response without the caller needing a type switch on the cause.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	Cause      error
	StatusCode int
}

func New(errorType ErrorType, message string) *AppError {
	return &AppError{
		Type:       errorType,
		Message:    message,
		StatusCode: statusCodeFor(errorType),
	}
}

func Wrap(cause error, errorType ErrorType, message string) *AppError {
	return &AppError{
		Type:       errorType,
		Message:    message,
		Cause:      cause,
		StatusCode: statusCodeFor(errorType),
	}
}

func Wrapf(cause error, errorType ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, errorType, fmt.Sprintf(format, args...))
}

func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Details != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Details)
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails modifies e in place and returns it, matching the
// teacher's builder-style chaining.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// Retryable reports whether the JobStore should schedule a backoff
// retry for this error kind (spec §7). Unrecognized kinds (including
// the generic ErrorTypeInternal seen from non-scrape callers) default
// to retryable, mirroring the spec's conservative Unknown disposition.
func (e *AppError) Retryable() bool {
	if r, ok := retryable[e.Type]; ok {
		return r
	}
	return true
}

func statusCodeFor(errorType ErrorType) int {
	if code, ok := statusCodes[errorType]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// Predefined constructors, kept from the teacher for the generic kinds.

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

func NewDatabaseError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeDatabase, "database operation failed: %s", operation)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

func NewAuthError(message string) *AppError {
	return New(ErrorTypeAuth, message)
}

func NewTimeoutError(operation string) *AppError {
	return New(ErrorTypeTimeout, fmt.Sprintf("operation timed out: %s", operation))
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, errorType ErrorType) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Type == errorType
}

// GetType returns err's ErrorType, or ErrorTypeInternal if err is not
// an *AppError.
func GetType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP status associated with err.
func GetStatusCode(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// ErrorMessages holds the safe, externally-visible message for each
// error type that should not leak internal detail.
var ErrorMessages = struct {
	ResourceNotFound       string
	AuthenticationFailed   string
	OperationTimeout       string
	RateLimitExceeded      string
	ConcurrentModification string
}{
	ResourceNotFound:       "The requested resource was not found",
	AuthenticationFailed:   "Authentication failed",
	OperationTimeout:       "The operation timed out",
	RateLimitExceeded:      "Rate limit exceeded, please try again later",
	ConcurrentModification: "The resource was modified concurrently",
}

// SafeErrorMessage returns a message safe to return to an external
// caller: validation messages pass through (they describe caller
// input), everything else maps to a generic, type-specific message
// that never leaks internal detail (queries, stack traces, hosts).
func SafeErrorMessage(err error) string {
	appErr, ok := err.(*AppError)
	if !ok {
		return "An unexpected error occurred"
	}

	switch appErr.Type {
	case ErrorTypeValidation:
		return appErr.Message
	case ErrorTypeNotFound:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeAuth:
		return ErrorMessages.AuthenticationFailed
	case ErrorTypeTimeout:
		return ErrorMessages.OperationTimeout
	case ErrorTypeRateLimit:
		return ErrorMessages.RateLimitExceeded
	case ErrorTypeConflict:
		return ErrorMessages.ConcurrentModification
	default:
		return "An internal error occurred"
	}
}

// LogFields returns structured fields suitable for a logrus.Fields
// (or any map[string]interface{} consumer) describing err.
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{
		"error": err.Error(),
	}

	appErr, ok := err.(*AppError)
	if !ok {
		return fields
	}

	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	return fields
}

// Chain combines multiple errors (skipping nils) into one error whose
// message joins each constituent with " -> ", preserving the order in
// which the failures occurred, so a multi-step failure can be reported
// as a single message.
func Chain(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}

	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		msgs := make([]string, len(nonNil))
		for i, err := range nonNil {
			msgs[i] = err.Error()
		}
		return fmt.Errorf("%s", strings.Join(msgs, " -> "))
	}
}
