// Package retry runs an operation with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"time"

	perrors "github.com/randalmurphal/promptarena/errors"
)

// DefaultMaxRetries is the number of additional attempts after the first.
const DefaultMaxRetries = 2

// DefaultBaseDelay is the wait before the first retry.
const DefaultBaseDelay = 500 * time.Millisecond

// DefaultMaxDelay caps a single wait, including Retry-After hints.
const DefaultMaxDelay = 10 * time.Second

// Policy controls how many times and how long to wait between attempts.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt. Zero
	// means DefaultMaxRetries; a negative value disables retries.
	MaxRetries int

	// BaseDelay is the wait before the first retry. It doubles each retry.
	BaseDelay time.Duration

	// MaxDelay caps any single wait.
	MaxDelay time.Duration

	// Jitter is the fraction of each wait randomized, in [0, 1].
	Jitter float64

	// Retryable decides which errors are retried. Nil means
	// errors.IsRetryable.
	Retryable func(error) bool

	// OnRetry is called before each wait with the failed attempt number
	// (starting at 1), the error and the wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Default returns the default policy.
func Default() Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		Jitter:     0.2,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries == 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	if p.Retryable == nil {
		p.Retryable = perrors.IsRetryable
	}
	return p
}

// Backoff returns the wait before retry number retry (0 for the first
// retry), without jitter.
func (p Policy) Backoff(retry int) time.Duration {
	p = p.withDefaults()
	wait := p.BaseDelay
	for i := 0; i < retry && wait < p.MaxDelay; i++ {
		wait *= 2
	}
	return min(wait, p.MaxDelay)
}

// wait computes the delay after err, honoring a rate limit's RetryAfter.
func (p Policy) wait(retry int, err error) time.Duration {
	var rl *perrors.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return min(rl.RetryAfter, p.MaxDelay)
	}

	wait := p.Backoff(retry)
	if p.Jitter > 0 {
		spread := float64(wait) * p.Jitter
		wait = time.Duration(float64(wait) - spread + rand.Float64()*2*spread)
	}
	return wait
}

// Do calls fn until it succeeds, fails with a non-retryable error, or runs
// out of retries. It returns the number of attempts made and the last
// error. Context cancellation during a wait returns the context error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) (int, error) {
	p = p.withDefaults()

	attempts := 0
	for {
		attempts++
		err := fn(ctx)
		if err == nil {
			return attempts, nil
		}
		if attempts > p.MaxRetries || !p.Retryable(err) {
			return attempts, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempts, err
		}

		wait := p.wait(attempts-1, err)
		if p.OnRetry != nil {
			p.OnRetry(attempts, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempts, ctx.Err()
		case <-timer.C:
		}
	}
}

// ParseRetryAfter parses a Retry-After header given in seconds or as an
// HTTP date. It returns zero when the header is empty or malformed.
func ParseRetryAfter(header string, now time.Time) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
