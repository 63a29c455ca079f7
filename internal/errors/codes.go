package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies the class of a submission failure
type ErrorCode string

const (
	// Client errors (4xx equivalent)
	ErrCodeNotFound    ErrorCode = "NOT_FOUND"
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
	ErrCodeValidation  ErrorCode = "VALIDATION_ERROR"

	// Server errors (5xx equivalent)
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

// SubmissionError is a structured, terminal failure of the submission pipeline
type SubmissionError struct {
	Code    ErrorCode
	Message string
	Details any
	Cause   error
}

// Error implements the error interface
func (e *SubmissionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *SubmissionError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error code to a response status
func (e *SubmissionError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Retriable reports whether the submitter may retry the same request later
func (e *SubmissionError) Retriable() bool {
	return e.Code == ErrCodeRateLimited
}

// NewSubmissionError creates a new SubmissionError
func NewSubmissionError(code ErrorCode, message string, cause error) *SubmissionError {
	return &SubmissionError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithDetails attaches details surfaced to the client
func (e *SubmissionError) WithDetails(details any) *SubmissionError {
	e.Details = details
	return e
}

func NotFound(message string) *SubmissionError {
	return NewSubmissionError(ErrCodeNotFound, message, nil)
}

func RateLimited() *SubmissionError {
	return NewSubmissionError(ErrCodeRateLimited, "Rate limit exceeded", nil)
}

// Validation carries field-level messages keyed by field ID
func Validation(message string, fieldErrors map[string]string) *SubmissionError {
	err := NewSubmissionError(ErrCodeValidation, message, nil)
	if len(fieldErrors) > 0 {
		err.Details = fieldErrors
	}
	return err
}

func Internal(message string, cause error) *SubmissionError {
	return NewSubmissionError(ErrCodeInternal, message, cause)
}

// ExternalService surfaces the authority's own messages when present
func ExternalService(message string, authorityMessages []string, cause error) *SubmissionError {
	err := NewSubmissionError(ErrCodeExternalService, message, cause)
	if len(authorityMessages) > 0 {
		err.Details = authorityMessages
	}
	return err
}

// AsSubmissionError extracts a SubmissionError from an error chain
func AsSubmissionError(err error) (*SubmissionError, bool) {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if se, ok := AsSubmissionError(err); ok {
		return se.Code
	}
	return ErrCodeInternal
}
