package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeSetup         ErrorType = "setup"
	ErrorTypePageSource    ErrorType = "page_source"
	ErrorTypeTranscription ErrorType = "transcription"
	ErrorTypeConfig        ErrorType = "config"
	ErrorTypeIO            ErrorType = "io"
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

// SetupError reports bad configuration. It aborts the run before any network activity.
func SetupError(message string, err error) *DomainError {
	return NewError(ErrorTypeSetup, message, err)
}

// PageSourceError reports an unreadable or unsupported input document.
func PageSourceError(message string, err error) *DomainError {
	return NewError(ErrorTypePageSource, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(ErrorTypeIO, message, err)
}

// IsType reports whether err wraps a DomainError of the given type.
func IsType(err error, errType ErrorType) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Type == errType
	}
	return false
}

// ErrorKind classifies a failed transcription call.
type ErrorKind string

const (
	KindIOFailure         ErrorKind = "io_failure"
	KindNetworkFailure    ErrorKind = "network_failure"
	KindAPIError          ErrorKind = "api_error"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindEmptyResult       ErrorKind = "empty_result"
)

// TranscriptionError is the per-page failure produced by a transcription call.
// StatusCode and Body are only set for KindAPIError.
type TranscriptionError struct {
	Kind       ErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *TranscriptionError) Error() string {
	switch {
	case e.Kind == KindAPIError:
		return fmt.Sprintf("[%s] %s: status %d: %s", ErrorTypeTranscription, e.Kind, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("[%s] %s: %v", ErrorTypeTranscription, e.Kind, e.Err)
	default:
		return fmt.Sprintf("[%s] %s", ErrorTypeTranscription, e.Kind)
	}
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed.
func (e *TranscriptionError) Retryable() bool {
	switch e.Kind {
	case KindNetworkFailure:
		return true
	case KindAPIError:
		switch e.StatusCode {
		case http.StatusRequestTimeout, // 408
			http.StatusTooManyRequests,     // 429
			http.StatusInternalServerError, // 500
			http.StatusBadGateway,          // 502
			http.StatusServiceUnavailable,  // 503
			http.StatusGatewayTimeout:      // 504
			return true
		}
	}
	return false
}

func IOFailure(err error) *TranscriptionError {
	return &TranscriptionError{Kind: KindIOFailure, Err: err}
}

func NetworkFailure(err error) *TranscriptionError {
	return &TranscriptionError{Kind: KindNetworkFailure, Err: err}
}

func APIError(status int, body string) *TranscriptionError {
	return &TranscriptionError{Kind: KindAPIError, StatusCode: status, Body: body}
}

func MalformedResponse(err error) *TranscriptionError {
	return &TranscriptionError{Kind: KindMalformedResponse, Err: err}
}

func EmptyResult() *TranscriptionError {
	return &TranscriptionError{Kind: KindEmptyResult}
}

// KindOf extracts the ErrorKind of a transcription failure. Errors that are not
// TranscriptionErrors are reported as network failures; nil has no kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var te *TranscriptionError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindNetworkFailure
}
