package resolver

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/randalmurphal/promptarena/budget"
	"github.com/randalmurphal/promptarena/fetch"
	"github.com/randalmurphal/promptarena/retry"
	"github.com/randalmurphal/promptarena/schedule"
)

// DefaultMaxDepth is how many directory levels below a top-level spec are
// expanded.
const DefaultMaxDepth = 3

// Options control one Resolve call. Zero fields take the defaults noted
// on each field; Limits is used as given.
type Options struct {
	// Concurrency bounds simultaneous fetches. Default schedule.DefaultWidth.
	Concurrency int

	// MaxRetries is the number of retries per fetch. Default
	// retry.DefaultMaxRetries; negative disables retries.
	MaxRetries int

	// RetryBaseDelay is the first backoff wait. Default retry.DefaultBaseDelay.
	RetryBaseDelay time.Duration

	// PerFetchTimeout bounds one fetch including retries. Default
	// fetch.DefaultTimeout.
	PerFetchTimeout time.Duration

	// MaxDepth is the number of directory levels expanded below a
	// top-level spec. A directory at depth d is expanded iff d < MaxDepth.
	// Default DefaultMaxDepth; negative expands nothing.
	MaxDepth int

	// MaxFilesPerDirectory bounds each directory listing. Default
	// fetch.DefaultMaxFilesPerDirectory.
	MaxFilesPerDirectory int

	// Include and Exclude filter directory entries by path.
	Include []*regexp.Regexp
	Exclude []*regexp.Regexp

	// Limits is the batch budget. The zero value has no hard limits.
	Limits budget.Limits

	// Deadline, if set, ends the call early with a partial bundle and
	// StatusDeadlineExceeded.
	Deadline time.Time

	// CacheTTL is the lifetime of content stored by this call. Default is
	// the cache's TTL.
	CacheTTL time.Duration

	// FailFast turns the first invalid spec or fetch error into a
	// call-level error.
	FailFast bool

	// AllowSensitive loads files whose names suggest credentials.
	AllowSensitive bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Concurrency:          schedule.DefaultWidth,
		MaxRetries:           retry.DefaultMaxRetries,
		RetryBaseDelay:       retry.DefaultBaseDelay,
		PerFetchTimeout:      fetch.DefaultTimeout,
		MaxDepth:             DefaultMaxDepth,
		MaxFilesPerDirectory: fetch.DefaultMaxFilesPerDirectory,
		Limits:               budget.DefaultLimits(),
	}
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = schedule.DefaultWidth
	}
	switch {
	case o.MaxDepth == 0:
		o.MaxDepth = DefaultMaxDepth
	case o.MaxDepth < 0:
		o.MaxDepth = 0
	}
	if o.MaxFilesPerDirectory <= 0 {
		o.MaxFilesPerDirectory = fetch.DefaultMaxFilesPerDirectory
	}
	return o
}

// fetchOptions maps o to per-fetch options. MaxBytes follows the batch byte
// limit so items that can never fit fail before transfer.
func (o Options) fetchOptions() fetch.Options {
	return fetch.Options{
		Retry: retry.Policy{
			MaxRetries: o.MaxRetries,
			BaseDelay:  o.RetryBaseDelay,
			Jitter:     0.2,
		},
		Timeout:  o.PerFetchTimeout,
		MaxBytes: o.Limits.MaxTotalBytes,
		MaxFiles: o.MaxFilesPerDirectory,
		Include:  o.Include,
		Exclude:  o.Exclude,
		TTL:      o.CacheTTL,
	}
}

// CompilePatterns compiles include or exclude patterns, skipping blanks.
func CompilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// flightKey identifies a fetch for single-flight purposes. Listings depend
// on the filters, so they are part of the key.
func flightKey(key string, o fetch.Options) string {
	var b strings.Builder
	b.WriteString(key)
	fmt.Fprintf(&b, "|%d|%d", o.MaxBytes, o.MaxFiles)
	for _, re := range o.Include {
		b.WriteString("|+")
		b.WriteString(re.String())
	}
	for _, re := range o.Exclude {
		b.WriteString("|-")
		b.WriteString(re.String())
	}
	return b.String()
}
