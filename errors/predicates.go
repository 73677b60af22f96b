package errors

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// IsInvalidPath reports whether err indicates a rejected path specifier.
func IsInvalidPath(err error) bool {
	return errors.Is(err, ErrInvalidPath)
}

// IsNotFound reports whether err indicates a missing file or directory.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRateLimited reports whether err indicates rate limiting.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsSizeLimit reports whether err indicates an exceeded size limit.
func IsSizeLimit(err error) bool {
	return errors.Is(err, ErrSizeLimitExceeded)
}

// IsRetryable reports whether err is transient and the fetch should be retried.
//
// Network errors, 5xx responses and rate limits are retryable. Missing files,
// validation failures, size checks and caller cancellation are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidPath) ||
		errors.Is(err, ErrBadRequest) || errors.Is(err, ErrSizeLimitExceeded) ||
		errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServerError) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "broken pipe")
}
