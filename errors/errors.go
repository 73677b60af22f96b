package errors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the resolution engine.
var (
	// ErrInvalidPath indicates a malformed or unsafe path specifier.
	ErrInvalidPath = errors.New("invalid path")

	// ErrNotFound indicates the requested file or directory does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited indicates the remote API rate limit was exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrSizeLimitExceeded indicates an item exceeds a size limit.
	ErrSizeLimitExceeded = errors.New("size limit exceeded")

	// ErrUnsupportedFileType indicates an item that is never loaded by type.
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrDeadlineExceeded indicates the resolve deadline passed.
	ErrDeadlineExceeded = errors.New("deadline exceeded")

	// ErrBudgetAborted indicates a strict budget aborted the batch.
	ErrBudgetAborted = errors.New("budget aborted")

	// ErrUnauthorized indicates invalid or missing credentials.
	ErrUnauthorized = errors.New("authentication failed")

	// ErrForbidden indicates the token lacks access to the repository.
	ErrForbidden = errors.New("permission denied")

	// ErrBadRequest indicates the remote API rejected the request.
	ErrBadRequest = errors.New("bad request")

	// ErrServerError indicates a server-side failure.
	ErrServerError = errors.New("server error")
)

// InvalidPathError describes why a path specifier was rejected.
type InvalidPathError struct {
	// Input is the raw specifier as given by the caller.
	Input string

	// Reason explains the rejection.
	Reason string
}

// Error implements the error interface.
func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Input, e.Reason)
}

// Unwrap returns ErrInvalidPath.
func (e *InvalidPathError) Unwrap() error {
	return ErrInvalidPath
}

// NotFoundError reports a missing file or directory.
type NotFoundError struct {
	// Spec is the canonical specifier that was requested.
	Spec string

	// Source names the back end that reported the miss ("local", "github").
	Source string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s: %s not found", e.Source, e.Spec)
	}
	return e.Spec + " not found"
}

// Unwrap returns ErrNotFound.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// RateLimitError represents a rate limit being exceeded.
type RateLimitError struct {
	// Service is the remote that rate limited ("github", "gitlab").
	Service string

	// RetryAfter is how long to wait before retrying, if known.
	RetryAfter time.Duration

	// Limit is the rate limit that was exceeded (if known).
	Limit int

	// Remaining is how many requests remain (usually 0).
	Remaining int
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limit exceeded, retry after %s", e.Service, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limit exceeded", e.Service)
}

// Unwrap returns ErrRateLimited.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// APIError represents a non-2xx response from a remote repository API.
type APIError struct {
	// Service is the remote ("github", "gitlab").
	Service string

	// StatusCode is the HTTP status code returned.
	StatusCode int

	// Message is the error message from the API.
	Message string

	// Endpoint is the API endpoint that was called.
	Endpoint string

	// RequestID is the request ID for debugging (if available).
	RequestID string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("%s API error (%d) at %s [%s]: %s",
			e.Service, e.StatusCode, e.Endpoint, e.RequestID, e.Message)
	}
	return fmt.Sprintf("%s API error (%d) at %s: %s",
		e.Service, e.StatusCode, e.Endpoint, e.Message)
}

// Unwrap returns the sentinel error matching the status code.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case 400, 422:
		return ErrBadRequest
	case 401:
		return ErrUnauthorized
	case 403:
		return ErrForbidden
	case 404:
		return ErrNotFound
	case 429:
		return ErrRateLimited
	default:
		if e.StatusCode >= 500 {
			return ErrServerError
		}
		return nil
	}
}

// FetchError wraps the last error of a fetch that exhausted its retries.
type FetchError struct {
	// Spec is the canonical specifier being fetched.
	Spec string

	// Cause is the error returned by the final attempt.
	Cause error

	// Attempts is the total number of attempts made, including the first.
	Attempts int
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.Spec, e.Attempts, e.Cause)
}

// Unwrap returns the cause.
func (e *FetchError) Unwrap() error {
	return e.Cause
}

// SizeLimitError reports an item that exceeds a size limit.
type SizeLimitError struct {
	// Spec is the canonical specifier of the item.
	Spec string

	// Size is the item size in bytes.
	Size int64

	// Limit is the limit that was exceeded.
	Limit int64
}

// Error implements the error interface.
func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("%s is %d bytes, limit is %d", e.Spec, e.Size, e.Limit)
}

// Unwrap returns ErrSizeLimitExceeded.
func (e *SizeLimitError) Unwrap() error {
	return ErrSizeLimitExceeded
}
