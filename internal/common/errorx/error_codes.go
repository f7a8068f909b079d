package errorx

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryValidation     ErrorCategory = "validation"
	CategoryAuthentication ErrorCategory = "authentication"
	CategoryAuthorization  ErrorCategory = "authorization"
	CategoryNotFound       ErrorCategory = "not_found"
	CategoryTransient      ErrorCategory = "transient"
	CategoryPayload        ErrorCategory = "payload"
	CategoryInternal       ErrorCategory = "internal"
)

// Severity represents the severity level of an error
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// APIError represents a structured error with category and HTTP mapping
type APIError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Category   ErrorCategory  `json:"category"`
	Severity   Severity       `json:"severity"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	Timestamp  string         `json:"timestamp,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Category, e.Message)
}

// JSON returns the error as a JSON string
func (e *APIError) JSON() string {
	out, _ := json.Marshal(e)
	return string(out)
}

// Clone returns a shallow copy so that shared sentinels stay immutable
func (e *APIError) Clone() *APIError {
	cp := *e
	if e.Details != nil {
		cp.Details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			cp.Details[k] = v
		}
	}
	return &cp
}

// WithDetail adds a detail to a copy of the error
func (e *APIError) WithDetail(key string, value any) *APIError {
	cp := e.Clone()
	if cp.Details == nil {
		cp.Details = make(map[string]any)
	}
	cp.Details[key] = value
	return cp
}

// WithMessage overrides the message on a copy of the error
func (e *APIError) WithMessage(format string, args ...any) *APIError {
	cp := e.Clone()
	cp.Message = fmt.Sprintf(format, args...)
	return cp
}

// Is reports whether target is an APIError with the same code,
// so predefined sentinels work with errors.Is after WithDetail.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Code == e.Code
}

// Predefined errors covering the service taxonomy
var (
	// Authentication (E2000-E2999)
	ErrUnauthenticated = &APIError{
		Code:       "E2001",
		Message:    "Authentication required",
		Category:   CategoryAuthentication,
		Severity:   SeverityError,
		HTTPStatus: http.StatusUnauthorized,
	}
	ErrInvalidCredential = &APIError{
		Code:       "E2002",
		Message:    "Invalid credential provided",
		Category:   CategoryAuthentication,
		Severity:   SeverityError,
		HTTPStatus: http.StatusUnauthorized,
	}

	// Authorization (E3000-E3999)
	ErrForbidden = &APIError{
		Code:       "E3001",
		Message:    "Access denied",
		Category:   CategoryAuthorization,
		Severity:   SeverityError,
		HTTPStatus: http.StatusForbidden,
	}

	// Not found (E4000-E4999)
	ErrNotFound = &APIError{
		Code:       "E4001",
		Message:    "Requested resource not found",
		Category:   CategoryNotFound,
		Severity:   SeverityError,
		HTTPStatus: http.StatusNotFound,
	}

	// Delivery and job failures (E6000-E6999)
	ErrTransientChannelFailure = &APIError{
		Code:       "E6001",
		Message:    "Channel delivery failed, will retry",
		Category:   CategoryTransient,
		Severity:   SeverityWarning,
		HTTPStatus: http.StatusServiceUnavailable,
	}
	ErrPermanentPayload = &APIError{
		Code:       "E6002",
		Message:    "Job payload is malformed",
		Category:   CategoryPayload,
		Severity:   SeverityError,
		HTTPStatus: http.StatusBadRequest,
	}

	// Internal (E5000-E5999)
	ErrInternal = &APIError{
		Code:       "E5001",
		Message:    "Internal server error occurred",
		Category:   CategoryInternal,
		Severity:   SeverityCritical,
		HTTPStatus: http.StatusInternalServerError,
	}

	// Validation (E1000-E1999)
	ErrInvalidInput = &APIError{
		Code:       "E1001",
		Message:    "Invalid input provided",
		Category:   CategoryValidation,
		Severity:   SeverityError,
		HTTPStatus: http.StatusBadRequest,
	}
)
