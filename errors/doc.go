// Package errors defines the error taxonomy shared by the resolution engine.
//
// Sentinel errors identify a category and typed errors carry the details.
// Every typed error unwraps to its sentinel, so callers branch with the
// standard library:
//
//	if errors.Is(err, perrors.ErrNotFound) {
//	    // the file is missing; the batch continues
//	}
//
//	var fetchErr *perrors.FetchError
//	if errors.As(err, &fetchErr) {
//	    log.Printf("gave up after %d attempts", fetchErr.Attempts)
//	}
//
// Categories:
//   - ErrInvalidPath: malformed or unsafe path specifier, never retried
//   - ErrNotFound: remote or local file missing, reported per item
//   - ErrRateLimited: retried with backoff, then surfaced as FetchError
//   - ErrSizeLimitExceeded: item too large for the configured budget
//   - ErrUnsupportedFileType: item skipped by type, not a failure
//   - ErrDeadlineExceeded: the resolve deadline passed, partial result
//   - ErrBudgetAborted: a strict budget stopped the batch
package errors
